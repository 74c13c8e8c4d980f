package driver

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/AGPFMiner/bmbminer/algorithms"
	"github.com/AGPFMiner/bmbminer/types"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// batchWaitLimit bounds a single completion wait.
const batchWaitLimit = 30 * time.Second

// GPUWorker runs batches for one device.
type GPUWorker struct {
	ID         int
	Device     Device
	GlobalSize int
	WorkSize   int

	Hashes atomic.Uint64
	Status atomic.Int32

	backend Backend
	ctx     Context
	algo    string
	logger  *zap.Logger
}

func NewGPUWorker(id int, dev Device, backend Backend, globalSize, workSize int, logger *zap.Logger) *GPUWorker {
	w := &GPUWorker{
		ID:         id,
		Device:     dev,
		GlobalSize: globalSize,
		WorkSize:   workSize,
		backend:    backend,
		logger:     logger.With(zap.Int("gpu", id), zap.String("device", dev.Name)),
	}
	w.Status.Store(int32(types.Idle))
	return w
}

// Prepare builds the kernel for algo, reusing the current context when the
// algorithm did not change.
func (w *GPUWorker) Prepare(algo algorithms.Algorithm) error {
	if w.ctx != nil && w.algo == algo.Name() {
		return nil
	}
	w.Release()
	gc, ok := algo.(algorithms.GPUCapable)
	if !algo.SupportsGPU() || !ok {
		return algorithms.ErrUnknownAlgorithm
	}
	w.Status.Store(int32(types.Building))
	ctx, err := w.backend.Build(w.Device, Kernel{
		Name:   algo.Name(),
		Source: gc.KernelSource(),
		Digest: gc.Digest(),
	})
	if err != nil {
		w.Status.Store(int32(types.Idle))
		return err
	}
	w.ctx = ctx
	w.algo = algo.Name()
	return nil
}

// Release frees the device context.
func (w *GPUWorker) Release() {
	if w.ctx != nil {
		if err := w.ctx.Release(); err != nil {
			w.logger.Warn("release context", zap.Error(err))
		}
		w.ctx = nil
		w.algo = ""
	}
	w.Status.Store(int32(types.Idle))
}

// Mine submits batches until the epoch is cancelled. A batch cannot be
// interrupted; hits from a batch that completes after cancellation are
// passed to drop instead of emit.
func (w *GPUWorker) Mine(job *types.Job, epoch *types.Epoch, pause algorithms.Pauser, emit func([]byte), drop func(n int)) error {
	if w.ctx == nil {
		return ErrNotBuilt
	}
	w.Status.Store(int32(types.Running))
	defer w.Status.Store(int32(types.Idle))

	bits := job.Bits()
	batch := &Batch{
		Concat:     algorithms.NewCandidate(job.Target, bits),
		GlobalSize: w.GlobalSize,
		WorkSize:   w.WorkSize,
		Difficulty: bits,
	}
	batch.Start = binary.LittleEndian.Uint64(batch.Concat[algorithms.NonceOffset:])

	for !epoch.Cancelled() {
		if err := w.ctx.Submit(batch); err != nil {
			return err
		}
		waitCtx, cancel := context.WithTimeout(context.Background(), batchWaitLimit)
		res, err := w.ctx.Wait(waitCtx)
		cancel()
		if err != nil {
			return err
		}
		w.Hashes.Add(batch.Size())

		if res.Count > 0 {
			if epoch.Cancelled() {
				drop(len(res.Found))
				return nil
			}
			for _, sol := range res.Found {
				emit(sol)
			}
		}
		batch.Start += batch.Size()

		if pause != nil && !pause.Wait(epoch.Done()) {
			return nil
		}
	}
	return nil
}
