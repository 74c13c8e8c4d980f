package miner

import (
	"context"
	"fmt"
	"time"

	"github.com/AGPFMiner/bmbminer/clients"
	"github.com/AGPFMiner/bmbminer/mining"
	"github.com/AGPFMiner/bmbminer/types"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// SubmissionManager forwards solutions to the active client one at a time.
type SubmissionManager struct {
	solutions *mining.Queue[types.JobSolution]
	admit     func(types.JobSolution) bool
	clients   ClientSource
	logger    *zap.Logger

	accepted atomic.Uint64
	rejected atomic.Uint64
	timeouts atomic.Uint64
	failed   atomic.Uint64
}

// NewSubmissionManager reads from solutions. admit may be nil, otherwise a
// solution it refuses is never sent.
func NewSubmissionManager(solutions *mining.Queue[types.JobSolution], admit func(types.JobSolution) bool, source ClientSource, logger *zap.Logger) *SubmissionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubmissionManager{
		solutions: solutions,
		admit:     admit,
		clients:   source,
		logger:    logger,
	}
}

func (sm *SubmissionManager) Run(ctx context.Context) {
	for {
		sol, ok := sm.solutions.Pop(ctx)
		if !ok {
			return
		}
		if sm.admit != nil && !sm.admit(sol) {
			continue
		}
		sm.submit(ctx, sol)
	}
}

func (sm *SubmissionManager) submit(ctx context.Context, sol types.JobSolution) {
	defer func() {
		if r := recover(); r != nil {
			sm.failed.Inc()
			sm.logger.Error("ERR_CONN_FAILED", zap.Error(fmt.Errorf("submit panicked: %v", r)))
		}
	}()

	client := sm.clients.Active()
	if client == nil {
		sm.failed.Inc()
		sm.logger.Error("ERR_CONN_FAILED", zap.Error(clients.ErrNotConnected))
		return
	}

	start := time.Now()
	result, err := client.Submit(ctx, sol)
	elapsed := zap.Int64("ms", time.Since(start).Milliseconds())
	if err != nil {
		sm.failed.Inc()
		sm.logger.Error("ERR_CONN_FAILED", zap.Error(err), elapsed)
		return
	}
	name := client.SolutionName()
	switch result {
	case types.Accepted:
		sm.accepted.Inc()
		sm.logger.Info(name+" accepted", elapsed, zap.Int("worker", sol.WorkerID))
	case types.Rejected:
		sm.rejected.Inc()
		sm.logger.Warn(name+" rejected", elapsed, zap.Int("worker", sol.WorkerID))
	case types.Timeout:
		sm.timeouts.Inc()
		sm.logger.Warn("ERR_ACK_TIMEOUT", elapsed)
	}
}

func (sm *SubmissionManager) Accepted() uint64 { return sm.accepted.Load() }
func (sm *SubmissionManager) Rejected() uint64 { return sm.rejected.Load() }
func (sm *SubmissionManager) Timeouts() uint64 { return sm.timeouts.Load() }
func (sm *SubmissionManager) Failed() uint64   { return sm.failed.Load() }
