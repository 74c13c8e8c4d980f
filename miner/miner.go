package miner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/AGPFMiner/bmbminer/algorithms"
	"github.com/AGPFMiner/bmbminer/algorithms/pufferfish2bmb"
	"github.com/AGPFMiner/bmbminer/algorithms/sha256bmb"
	"github.com/AGPFMiner/bmbminer/driver"
	"github.com/AGPFMiner/bmbminer/mining"
	"github.com/AGPFMiner/bmbminer/statistics"
	"github.com/AGPFMiner/bmbminer/types"

	"go.uber.org/zap/zapcore"

	"go.uber.org/zap"
)

var atom = zap.NewAtomicLevel()
var logger *zap.Logger

func selectZapLevel(loglevel string) zapcore.Level {
	var level zapcore.Level
	switch loglevel {
	case "debug":
		level = zap.DebugLevel
	case "info":
		level = zap.InfoLevel
	case "error":
		level = zap.ErrorLevel
	default:
		level = zap.InfoLevel
	}
	return level
}
func initLogger(loglevel string) *zap.Logger {
	level := selectZapLevel(loglevel)
	encoderCfg := zap.NewProductionEncoderConfig()
	logger = zap.New(zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.Lock(os.Stdout),
		atom,
	))
	defer logger.Sync()
	atom.SetLevel(level)
	return logger
}

const (
	ActionRetry    = "RETRY"
	ActionShutdown = "SHUTDOWN"
)

// Miner do everything
type Miner struct {
	Pools   []types.Pool
	Retries int
	// ActionAfterRetries is RETRY or SHUTDOWN.
	ActionAfterRetries string

	CPUEnabled    bool
	CPUThreads    int
	GPUEnabled    bool
	GPUDevices    string
	GPUWorkSize   int
	GPUGlobalSize int

	APIEnabled       bool
	APIPort          int
	APILocalhostOnly bool
	APIAccessToken   string

	DevFeeEnabled  bool
	DevFeeIdentity string
	DevFeeGrace    time.Duration
	DevFeePeriod   time.Duration

	ReportDelay    time.Duration
	ReportInterval time.Duration

	Hotkeys  bool
	Paused   bool
	LogLevel string
	Version  string

	mu          sync.RWMutex
	logger      *zap.Logger
	started     time.Time
	bus         *mining.Bus
	pause       *mining.PauseGate
	workers     *mining.WorkerPool
	tracker     *statistics.Tracker
	conns       *ConnectionManager
	submissions *SubmissionManager
	devfee      *DevFeeScheduler
	reports     *Reporter
}

func getAlgorithmByName(name string) (algorithms.Algorithm, error) {
	switch name {
	case sha256bmb.Name, "":
		return sha256bmb.New()
	case pufferfish2bmb.Name:
		return pufferfish2bmb.New()
	default:
		return nil, fmt.Errorf("%q: %w", name, algorithms.ErrUnknownAlgorithm)
	}
}

func (m *Miner) threads() int {
	if !m.CPUEnabled {
		return 0
	}
	if m.CPUThreads > 0 {
		return m.CPUThreads
	}
	return runtime.NumCPU()
}

func (m *Miner) setupGPUs() []*driver.GPUWorker {
	if !m.GPUEnabled {
		return nil
	}
	backend := driver.NewSoftwareBackend(0)
	available, err := backend.Devices()
	if err != nil {
		m.logger.Error("Listing devices failed", zap.Error(err))
		return nil
	}
	devices, err := driver.SelectDevices(available, strings.Split(m.GPUDevices, ","))
	if err != nil {
		m.logger.Error("No usable device", zap.String("selection", m.GPUDevices), zap.Error(err))
		return nil
	}
	workers := make([]*driver.GPUWorker, 0, len(devices))
	for i, dev := range devices {
		workers = append(workers, driver.NewGPUWorker(i, dev, backend, m.GPUGlobalSize, m.GPUWorkSize, m.logger))
	}
	return workers
}

func (m *Miner) feeFraction() float64 {
	if algo := m.workers.Algorithm(); algo != nil {
		return algo.DevFee()
	}
	return 0
}

// Update runs fn with the settings locked. Use it to change a running miner.
func (m *Miner) Update(fn func(m *Miner)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

// Reload applies the settings that can change without restarting.
func (m *Miner) Reload() {
	log.Print("Reloading miner")
	m.mu.RLock()
	defer m.mu.RUnlock()
	atom.SetLevel(selectZapLevel(m.LogLevel))
	if m.pause != nil {
		if m.Paused {
			m.pause.Pause()
		} else {
			m.pause.Resume()
		}
	}
	if m.reports != nil {
		m.reports.SetInterval(m.ReportInterval)
	}
	if m.conns != nil {
		m.conns.SetPools(m.Pools)
	}
}

// MinerMain starts the miner and blocks until ctx is done or every pool
// has given up.
func (m *Miner) MinerMain(ctx context.Context) error {
	log.SetOutput(os.Stdout)
	m.mu.Lock()
	m.logger = initLogger(m.LogLevel)
	m.started = time.Now()

	m.bus = mining.NewBus()
	m.pause = &mining.PauseGate{}
	if m.Paused {
		m.pause.Pause()
	}
	m.workers = mining.NewWorkerPool(mining.PoolArgs{
		Bus:          m.bus,
		Threads:      m.threads(),
		GPUs:         m.setupGPUs(),
		NewAlgorithm: getAlgorithmByName,
		Pause:        m.pause,
		Logger:       m.logger,
	})
	m.tracker = statistics.NewTracker(m.workers)
	m.conns = NewConnectionManager(ConnectionArgs{
		Pools:   m.Pools,
		Jobs:    m.bus.Jobs,
		Retries: m.Retries,
		Action:  m.ActionAfterRetries,
		Rates:   m.tracker,
		Agent:   "bmbminer/" + m.Version,
		Logger:  m.logger.Named("pool"),
	})
	m.submissions = NewSubmissionManager(m.bus.Solutions, m.workers.Admit, m.conns, m.logger.Named("submit"))
	m.reports = NewReporter(m, m.ReportDelay, m.ReportInterval, m.logger.Named("report"))
	if m.DevFeeEnabled && m.DevFeeIdentity != "" {
		m.devfee = NewDevFeeScheduler(DevFeeArgs{
			Identity: m.DevFeeIdentity,
			Grace:    m.DevFeeGrace,
			Period:   m.DevFeePeriod,
			Fraction: m.feeFraction,
			Clients:  m.conns,
			Logger:   m.logger.Named("devfee"),
		})
	}
	apiEnabled, hotkeys := m.APIEnabled, m.Hotkeys
	started := []zap.Field{
		zap.String("version", m.Version),
		zap.Int("threads", m.threads()),
		zap.Int("pools", len(m.Pools)),
	}
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	spawn := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}
	spawn(m.workers.Run)
	spawn(func(ctx context.Context) { m.tracker.Run(ctx, statistics.DefaultTick) })
	spawn(m.submissions.Run)
	spawn(m.reports.Run)
	if m.devfee != nil {
		spawn(m.devfee.Run)
	}
	if apiEnabled {
		spawn(func(ctx context.Context) {
			if err := m.serveAPI(ctx); err != nil {
				m.logger.Error("API server stopped", zap.Error(err))
			}
		})
	}
	if hotkeys {
		spawn(m.watchKeys)
	}

	m.logger.Info("Miner started", started...)

	err := m.conns.Run(ctx)
	cancel()
	m.bus.Close()
	wg.Wait()
	m.logger.Info("Miner stopped", zap.Error(err))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stats is the summary served by the API.
func (m *Miner) Stats() types.MinerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := types.MinerStats{Ver: m.Version}
	if !m.started.IsZero() {
		stats.Uptime = int64(time.Since(m.started).Seconds())
	}
	if m.workers != nil {
		for _, h := range m.workers.CPUHashes() {
			stats.Hashes += h
		}
		for _, h := range m.workers.GPUHashes() {
			stats.Hashes += h
		}
		stats.Dropped = m.workers.Dropped()
	}
	if m.submissions != nil {
		stats.Accepted = m.submissions.Accepted()
		stats.Rejected = m.submissions.Rejected()
	}
	return stats
}

// PoolsStats lists every pool the connection manager has tried.
func (m *Miner) PoolsStats() []types.PoolStates {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.conns == nil {
		return nil
	}
	return m.conns.Stats()
}

// HardwareStats lists every compute worker.
func (m *Miner) HardwareStats() []types.DeviceStates {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.workers == nil {
		return nil
	}
	return m.workers.DeviceStates()
}

// Hashrates returns the CPU, GPU and total rates over window.
func (m *Miner) Hashrates(window time.Duration) (cpu, gpu, total uint64) {
	m.mu.RLock()
	tracker, workers := m.tracker, m.workers
	m.mu.RUnlock()
	if tracker == nil {
		return 0, 0, 0
	}
	cpu = tracker.Rate(statistics.TypeCPU, 0, window)
	for id := range workers.GPUHashes() {
		gpu += tracker.Rate(statistics.TypeGPU, id, window)
	}
	total = tracker.Rate(statistics.TypeTotal, 0, window)
	return cpu, gpu, total
}
