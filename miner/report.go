package miner

import (
	"context"
	"sync"
	"time"

	"github.com/AGPFMiner/bmbminer/statistics"
	"github.com/AGPFMiner/bmbminer/types"

	"github.com/hako/durafmt"
	"go.uber.org/zap"
)

const (
	DefaultReportDelay    = 30 * time.Second
	DefaultReportInterval = 180 * time.Second

	reportWindow = time.Minute
)

type reportSource interface {
	Stats() types.MinerStats
	Hashrates(window time.Duration) (cpu, gpu, total uint64)
}

// Reporter logs a summary line after a delay and then on every interval.
type Reporter struct {
	source reportSource
	delay  time.Duration
	logger *zap.Logger

	mu       sync.Mutex
	interval time.Duration
}

func NewReporter(source reportSource, delay, interval time.Duration, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if delay == 0 {
		delay = DefaultReportDelay
	}
	if interval == 0 {
		interval = DefaultReportInterval
	}
	return &Reporter{
		source:   source,
		delay:    delay,
		interval: interval,
		logger:   logger,
	}
}

// SetInterval takes effect from the next report on.
func (r *Reporter) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	r.mu.Lock()
	r.interval = d
	r.mu.Unlock()
}

func (r *Reporter) currentInterval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}

func (r *Reporter) Run(ctx context.Context) {
	timer := time.NewTimer(r.delay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			r.Report()
			timer.Reset(r.currentInterval())
		}
	}
}

// Report logs one summary line.
func (r *Reporter) Report() {
	stats := r.source.Stats()
	cpu, gpu, total := r.source.Hashrates(reportWindow)
	uptime := time.Duration(stats.Uptime) * time.Second
	r.logger.Info("Report",
		zap.Uint64("accepted", stats.Accepted),
		zap.Uint64("dropped", stats.Dropped),
		zap.Uint64("rejected", stats.Rejected),
		zap.String("cpu", statistics.FormatHashrate(cpu)),
		zap.String("gpu", statistics.FormatHashrate(gpu)),
		zap.String("total", statistics.FormatHashrate(total)),
		zap.String("uptime", durafmt.Parse(uptime).LimitFirstN(2).String()),
	)
}
