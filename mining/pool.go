package mining

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/AGPFMiner/bmbminer/algorithms"
	"github.com/AGPFMiner/bmbminer/driver"
	"github.com/AGPFMiner/bmbminer/types"

	"github.com/remeh/sizedwaitgroup"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type assignment struct {
	job  *types.Job
	algo algorithms.Algorithm
	// users counts the workers holding algo
	users *sync.WaitGroup
}

func (a assignment) done() {
	a.users.Done()
}

type slot struct {
	id     int
	jobs   chan assignment
	hashes atomic.Uint64
	gpu    *driver.GPUWorker
}

// assign replaces any assignment the worker has not picked up yet.
func (s *slot) assign(a assignment) {
	a.users.Add(1)
	select {
	case old := <-s.jobs:
		old.done()
	default:
	}
	s.jobs <- a
}

// WorkerPool owns the workers, their hash counters and the epoch sequence.
type WorkerPool struct {
	args   PoolArgs
	logger *zap.Logger
	epochs types.EpochSource

	cpu []*slot
	gpu []*slot
	swg sizedwaitgroup.SizedWaitGroup

	// algo and users are only touched by the dispatcher
	algo     algorithms.Algorithm
	users    *sync.WaitGroup
	retiring sync.WaitGroup

	mu      sync.Mutex // protects current and loaded
	current *types.Job
	loaded  algorithms.Algorithm

	dropped atomic.Uint64
}

func NewWorkerPool(args PoolArgs) *WorkerPool {
	if args.Pause == nil {
		args.Pause = &PauseGate{}
	}
	if args.Logger == nil {
		args.Logger = zap.NewNop()
	}
	if args.Bus == nil {
		args.Bus = NewBus()
	}
	p := &WorkerPool{
		args:   args,
		logger: args.Logger.Named("workers"),
	}
	for i := 0; i < args.Threads; i++ {
		p.cpu = append(p.cpu, &slot{id: i, jobs: make(chan assignment, 1)})
	}
	for i, g := range args.GPUs {
		p.gpu = append(p.gpu, &slot{id: i, jobs: make(chan assignment, 1), gpu: g})
	}
	size := len(p.cpu) + len(p.gpu)
	if size == 0 {
		size = 1
	}
	p.swg = sizedwaitgroup.New(size)
	return p
}

// Run starts the workers and dispatches jobs until the job queue is closed
// or ctx is done. It returns after every worker exited.
func (p *WorkerPool) Run(ctx context.Context) {
	for _, s := range p.cpu {
		p.swg.Add()
		go func(s *slot) {
			defer p.swg.Done()
			p.cpuLoop(s)
		}(s)
	}
	for _, s := range p.gpu {
		p.swg.Add()
		go func(s *slot) {
			defer p.swg.Done()
			p.gpuLoop(s)
		}(s)
	}
	p.logger.Debug("Waiting for job", zap.Int("cpu", len(p.cpu)), zap.Int("gpu", len(p.gpu)))

	for {
		job, ok := p.args.Bus.Jobs.Pop(ctx)
		if !ok {
			break
		}
		p.Dispatch(job)
	}

	p.epochs.Cancel()
	for _, s := range p.cpu {
		close(s.jobs)
	}
	for _, s := range p.gpu {
		close(s.jobs)
	}
	p.swg.Wait()
	p.retiring.Wait()
	for _, s := range p.gpu {
		s.gpu.Release()
	}
	if p.algo != nil {
		p.algo.Close()
	}
	p.logger.Debug("Workers stopped")
}

// Dispatch retires the current epoch and hands job to every worker. Only the
// goroutine running Run may call it.
func (p *WorkerPool) Dispatch(job *types.Job) {
	epoch := p.epochs.Advance()
	if job.Kind == types.StopJob {
		p.setCurrent(nil)
		p.logger.Debug("Stop workers", zap.Uint64("epoch", epoch.Generation()))
		return
	}
	if job.Kind == types.NewJob {
		p.logger.Info("New "+job.Name,
			zap.String("id", job.ID),
			zap.Float64("difficulty", job.Difficulty),
			zap.String("algo", job.Algo))
	} else {
		p.logger.Debug("Restart job",
			zap.String("id", job.ID),
			zap.Float64("difficulty", job.Difficulty))
	}

	algo, err := p.load(job.Algo)
	if err != nil {
		p.setCurrent(nil)
		p.logger.Error("Algorithm unavailable, workers idle",
			zap.String("algo", job.Algo),
			zap.String("fault", string(types.KindOf(err))),
			zap.Error(err))
		return
	}

	bound := job.WithEpoch(epoch)
	p.setCurrent(bound)
	a := assignment{job: bound, algo: algo, users: p.users}
	for _, s := range p.cpu {
		s.assign(a)
	}
	for _, s := range p.gpu {
		s.assign(a)
	}
}

func (p *WorkerPool) load(name string) (algorithms.Algorithm, error) {
	if p.algo != nil && p.algo.Name() == name {
		return p.algo, nil
	}
	if p.algo != nil {
		p.retire(p.algo, p.users)
		p.algo, p.users = nil, nil
		p.setLoaded(nil)
	}
	if p.args.NewAlgorithm == nil {
		return nil, types.ComputeFault("load "+name, algorithms.ErrUnknownAlgorithm)
	}
	algo, err := p.args.NewAlgorithm(name)
	if err != nil {
		return nil, types.ComputeFault("load "+name, err)
	}
	p.algo, p.users = algo, &sync.WaitGroup{}
	p.setLoaded(algo)
	return algo, nil
}

// retire closes algo once no worker is inside it. The current epoch is
// already cancelled, so that happens at the workers' next check.
func (p *WorkerPool) retire(algo algorithms.Algorithm, users *sync.WaitGroup) {
	p.retiring.Add(1)
	go func() {
		defer p.retiring.Done()
		users.Wait()
		if err := algo.Close(); err != nil {
			p.logger.Warn("Close algorithm", zap.String("algo", algo.Name()), zap.Error(err))
		}
	}()
}

func (p *WorkerPool) cpuLoop(s *slot) {
	for a := range s.jobs {
		if !a.job.Epoch.Cancelled() && a.algo.SupportsCPU() {
			p.computeCPU(s, a)
		}
		a.done()
	}
}

func (p *WorkerPool) computeCPU(s *slot, a assignment) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("CPU worker fault",
				zap.Int("worker", s.id),
				zap.String("error", fmt.Sprint(r)),
				zap.String("stack", string(debug.Stack())))
		}
	}()
	a.algo.ComputeCPU(&algorithms.Work{
		WorkerID:   s.id,
		Job:        a.job,
		Epoch:      a.job.Epoch,
		Pause:      p.args.Pause,
		Hashes:     &s.hashes,
		CheckEvery: p.args.CheckEvery,
		Emit:       p.emitter(s.id, a.job),
	})
}

func (p *WorkerPool) gpuLoop(s *slot) {
	for a := range s.jobs {
		if !a.job.Epoch.Cancelled() {
			p.mineGPU(s, a)
		}
		a.done()
	}
}

func (p *WorkerPool) mineGPU(s *slot, a assignment) {
	if err := s.gpu.Prepare(a.algo); err != nil {
		err = types.ComputeFault("prepare "+a.algo.Name(), err)
		p.logger.Warn("GPU worker idle", zap.Int("gpu", s.id), zap.String("fault", string(types.KindOf(err))), zap.Error(err))
		return
	}
	if err := s.gpu.Mine(a.job, a.job.Epoch, p.args.Pause, p.emitter(s.id, a.job), p.drop); err != nil {
		err = types.ComputeFault("mine", err)
		p.logger.Error("GPU worker fault", zap.Int("gpu", s.id), zap.String("fault", string(types.KindOf(err))), zap.Error(err))
		s.gpu.Release()
	}
}

func (p *WorkerPool) emitter(worker int, job *types.Job) func([]byte) {
	return func(solution []byte) {
		if !p.epochs.IsCurrent(job.Epoch) {
			p.drop(1)
			return
		}
		p.args.Bus.Solutions.Push(types.JobSolution{
			Target:   job.Target,
			Solution: solution,
			Epoch:    job.Epoch.Generation(),
			WorkerID: worker,
		})
	}
}

func (p *WorkerPool) drop(n int) {
	if n <= 0 {
		return
	}
	total := p.dropped.Add(uint64(n))
	p.logger.Warn("Share dropped", zap.Int("count", n), zap.Uint64("dropped", total))
}

// Admit reports whether sol still belongs to the live epoch. Stale solutions
// are counted as dropped.
func (p *WorkerPool) Admit(sol types.JobSolution) bool {
	if sol.Epoch == p.epochs.Generation() && p.CurrentJob() != nil {
		return true
	}
	p.drop(1)
	return false
}

func (p *WorkerPool) Dropped() uint64 {
	return p.dropped.Load()
}

// Epoch is the generation of the newest epoch.
func (p *WorkerPool) Epoch() uint64 {
	return p.epochs.Generation()
}

func (p *WorkerPool) setCurrent(job *types.Job) {
	p.mu.Lock()
	p.current = job
	p.mu.Unlock()
}

func (p *WorkerPool) setLoaded(algo algorithms.Algorithm) {
	p.mu.Lock()
	p.loaded = algo
	p.mu.Unlock()
}

// CurrentJob is the job workers are mining, nil when idle.
func (p *WorkerPool) CurrentJob() *types.Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Algorithm is the loaded algorithm, nil before the first job.
func (p *WorkerPool) Algorithm() algorithms.Algorithm {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded
}

func (p *WorkerPool) CPUHashes() []uint64 {
	out := make([]uint64, len(p.cpu))
	for i, s := range p.cpu {
		out[i] = s.hashes.Load()
	}
	return out
}

func (p *WorkerPool) GPUHashes() []uint64 {
	out := make([]uint64, len(p.gpu))
	for i, s := range p.gpu {
		out[i] = s.gpu.Hashes.Load()
	}
	return out
}

// DeviceStates describes the GPU workers.
func (p *WorkerPool) DeviceStates() []types.DeviceStates {
	var algo string
	if a := p.Algorithm(); a != nil {
		algo = a.Name()
	}
	out := make([]types.DeviceStates, 0, len(p.gpu))
	for _, s := range p.gpu {
		out = append(out, types.DeviceStates{
			ID:       s.gpu.ID,
			Platform: s.gpu.Device.Platform,
			Name:     s.gpu.Device.Name,
			Status:   types.HardwareStats(s.gpu.Status.Load()),
			Hashes:   s.gpu.Hashes.Load(),
			Algo:     algo,
		})
	}
	return out
}
