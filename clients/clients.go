// Package clients provides the pool client interface and the session state
// every protocol implementation shares.
package clients

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/AGPFMiner/bmbminer/types"

	"github.com/jinzhu/copier"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	DefaultRetries = 5
	DefaultBackoff = time.Second
)

// Client defines the interface for a client towards a work provider
type Client interface {
	// Run serves sessions until the retry ceiling is reached or ctx is done.
	Run(ctx context.Context) error
	// Submit sends sol upstream and waits for the outcome. Timeout is a
	// result, not an error.
	Submit(ctx context.Context, sol types.JobSolution) (types.SubmitResult, error)
	// SwitchIdentity changes the payout identity and re-announces work for it.
	SwitchIdentity(user string)
	Identity() string
	SolutionName() string
	CurrentJob() *types.Job
	PoolConnectionStates() types.PoolConnectionStates
	GetPoolStats() types.PoolStates
}

// JobSink receives the jobs a client announces.
type JobSink interface {
	Push(job *types.Job) bool
}

// ClientArgs configures the shared part of a client.
type ClientArgs struct {
	Pool types.Pool
	Jobs JobSink
	// Retries is the ceiling of consecutive failed sessions, 0 for none.
	Retries int
	Backoff time.Duration
	// Tuner enables local difficulty control. Nil for pools that set it.
	Tuner *DifficultyController
	// Agent is announced to pools that ask for a user agent.
	Agent  string
	Logger *zap.Logger
}

// BaseClient implements the current job record, payout identity, retry
// counting and ack correlation for the protocol clients.
type BaseClient struct {
	pool    types.Pool
	jobs    JobSink
	retries int
	backoff time.Duration
	tuner   *DifficultyController
	logger  *zap.Logger

	mu        sync.Mutex // protects everything below
	job       *types.Job
	user      string
	diff      float64
	state     types.PoolConnectionStates
	conn      io.Closer
	forced    bool
	lastShare time.Time
	idle      *time.Timer

	failures     atomic.Uint32
	accepted     atomic.Uint64
	rejected     atomic.Uint64
	timeouts     atomic.Uint64
	lastAccepted atomic.Int64

	submitMu sync.Mutex
	acks     chan bool
}

func NewBaseClient(args ClientArgs) *BaseClient {
	if args.Logger == nil {
		args.Logger = zap.NewNop()
	}
	if args.Backoff <= 0 {
		args.Backoff = DefaultBackoff
	}
	diff := 0.0
	if args.Tuner != nil {
		diff = args.Tuner.Floor
	}
	return &BaseClient{
		pool:    args.Pool,
		jobs:    args.Jobs,
		retries: args.Retries,
		backoff: args.Backoff,
		tuner:   args.Tuner,
		logger:  args.Logger,
		user:    args.Pool.User,
		diff:    diff,
		acks:    make(chan bool, 1),
	}
}

func (b *BaseClient) Logger() *zap.Logger {
	return b.logger
}

func (b *BaseClient) Pool() types.Pool {
	return b.pool
}

// Backoff is the pause after a failed attempt.
func (b *BaseClient) Backoff() time.Duration {
	return b.backoff
}

func (b *BaseClient) Tuner() *DifficultyController {
	return b.tuner
}

func (b *BaseClient) Identity() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.user
}

// SetIdentity replaces the payout identity and reports whether it changed.
func (b *BaseClient) SetIdentity(user string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.user == user {
		return false
	}
	b.user = user
	return true
}

func (b *BaseClient) Difficulty() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.diff
}

func (b *BaseClient) SetDifficulty(diff float64) {
	b.mu.Lock()
	b.diff = diff
	b.mu.Unlock()
}

func (b *BaseClient) CurrentJob() *types.Job {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.job
}

func (b *BaseClient) PoolConnectionStates() types.PoolConnectionStates {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *BaseClient) SetState(state types.PoolConnectionStates) {
	b.mu.Lock()
	b.state = state
	b.mu.Unlock()
}

// SetConn registers the live connection so ForceReconnect can close it.
func (b *BaseClient) SetConn(c io.Closer) {
	b.mu.Lock()
	b.conn = c
	b.mu.Unlock()
}

// ForceReconnect closes the live connection. The session that ends because
// of it is not counted as a failure.
func (b *BaseClient) ForceReconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return
	}
	b.forced = true
	b.conn.Close()
}

// PublishJob makes job current and announces it.
func (b *BaseClient) PublishJob(job *types.Job) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.job = job
	b.diff = job.Difficulty
	b.jobs.Push(job)
	if job.Kind == types.NewJob {
		b.armIdle(job)
	}
}

// PublishStop clears the current job and idles the workers.
func (b *BaseClient) PublishStop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.job = nil
	if b.idle != nil {
		b.idle.Stop()
		b.idle = nil
	}
	b.jobs.Push(&types.Job{Kind: types.StopJob})
}

// Retarget reissues the current job as RESTART with diff. It returns false
// when there is no job.
func (b *BaseClient) Retarget(diff float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.diff = diff
	return b.restartLocked(func(j *types.Job) { j.Difficulty = diff })
}

// SwitchAlgorithm reissues the current job as RESTART under algo at diff.
func (b *BaseClient) SwitchAlgorithm(algo string, diff float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.diff = diff
	return b.restartLocked(func(j *types.Job) {
		j.Algo = algo
		j.Difficulty = diff
	})
}

// Reannounce reissues the current job unchanged as RESTART.
func (b *BaseClient) Reannounce() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.restartLocked(func(*types.Job) {})
}

func (b *BaseClient) restartLocked(modify func(*types.Job)) bool {
	if b.job == nil {
		return false
	}
	restart := &types.Job{}
	if err := copier.Copy(restart, b.job); err != nil {
		b.logger.Error("Derive restart job", zap.Error(err))
		return false
	}
	restart.Kind = types.RestartJob
	restart.Epoch = nil
	modify(restart)
	b.job = restart
	b.jobs.Push(restart)
	return true
}

func (b *BaseClient) armIdle(job *types.Job) {
	if b.tuner == nil || b.tuner.IdleAfter <= 0 {
		return
	}
	if b.idle != nil {
		b.idle.Stop()
	}
	started := time.Now()
	target := job.Target
	b.idle = time.AfterFunc(b.tuner.IdleAfter, func() {
		b.calibrate(started, target)
	})
}

// calibrate recomputes the difficulty when no share was submitted since the
// job began.
func (b *BaseClient) calibrate(started time.Time, target []byte) {
	next := b.tuner.Target()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.job == nil || string(b.job.Target) != string(target) || b.lastShare.After(started) {
		return
	}
	if next == b.diff {
		return
	}
	b.logger.Info("Idle calibration", zap.Float64("from", b.diff), zap.Float64("to", next))
	b.diff = next
	b.restartLocked(func(j *types.Job) { j.Difficulty = next })
}

// NoteShare records a submitted share and applies burst correction.
func (b *BaseClient) NoteShare(now time.Time) {
	b.mu.Lock()
	b.lastShare = now
	current := b.diff
	b.mu.Unlock()

	if b.tuner == nil {
		return
	}
	if next, ok := b.tuner.ObserveShare(now, current); ok {
		b.logger.Info("Share burst, raising difficulty", zap.Float64("from", current), zap.Float64("to", next))
		b.Retarget(next)
	}
}

// BeginSubmit serializes submissions and discards acks left over from an
// earlier, timed out one. Call the returned func when the outcome is known.
func (b *BaseClient) BeginSubmit() func() {
	b.submitMu.Lock()
	select {
	case <-b.acks:
	default:
	}
	return b.submitMu.Unlock
}

// Ack delivers an accept/reject to the pending submission. Acks nobody
// waits for are dropped.
func (b *BaseClient) Ack(ok bool) {
	select {
	case b.acks <- ok:
	default:
		b.logger.Debug("Unexpected ack", zap.Bool("accepted", ok))
	}
}

// AwaitAck waits up to timeout for the ack of the pending submission and
// records the outcome.
func (b *BaseClient) AwaitAck(ctx context.Context, timeout time.Duration) types.SubmitResult {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case ok := <-b.acks:
		if ok {
			return b.Settle(types.Accepted)
		}
		return b.Settle(types.Rejected)
	case <-t.C:
		return b.Settle(types.Timeout)
	case <-ctx.Done():
		return b.Settle(types.Timeout)
	}
}

// Settle counts a submission outcome and returns it.
func (b *BaseClient) Settle(r types.SubmitResult) types.SubmitResult {
	switch r {
	case types.Accepted:
		b.accepted.Inc()
		b.lastAccepted.Store(time.Now().Unix())
	case types.Rejected:
		b.rejected.Inc()
	case types.Timeout:
		b.timeouts.Inc()
	}
	return r
}

// ResetRetries is called whenever upstream proves alive.
func (b *BaseClient) ResetRetries() {
	b.failures.Store(0)
}

// Failure counts a failed attempt and reports whether the ceiling is reached.
func (b *BaseClient) Failure() bool {
	n := b.failures.Inc()
	return b.retries > 0 && int(n) >= b.retries
}

func (b *BaseClient) takeForced() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	forced := b.forced
	b.forced = false
	b.conn = nil
	return forced
}

// Sleep waits d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunSessions calls session until the retry ceiling is reached. After every
// session the workers are stopped; a session ended by ForceReconnect is
// restarted immediately without counting as a failure.
func (b *BaseClient) RunSessions(ctx context.Context, session func(ctx context.Context) error) error {
	for {
		b.SetState(types.Connecting)
		err := session(ctx)
		b.SetState(types.Disconnected)
		b.PublishStop()
		forced := b.takeForced()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if forced {
			b.logger.Info("Reconnecting", zap.String("user", b.Identity()))
			continue
		}
		exhausted := b.Failure()
		b.logger.Warn("ERR_CONN_FAILED",
			zap.String("pool", b.pool.URL),
			zap.Uint32("retries", b.failures.Load()),
			zap.String("fault", string(types.KindOf(err))),
			zap.Error(err))
		if exhausted {
			return fmt.Errorf("%s: %w", b.pool.URL, ErrRetriesExhausted)
		}
		if err := Sleep(ctx, b.backoff); err != nil {
			return err
		}
	}
}

func (b *BaseClient) GetPoolStats() types.PoolStates {
	b.mu.Lock()
	defer b.mu.Unlock()
	return types.PoolStates{
		Status:       b.state,
		User:         b.user,
		PoolAddr:     b.pool.URL,
		Algo:         b.algoLocked(),
		Accept:       b.accepted.Load(),
		Reject:       b.rejected.Load(),
		Discard:      b.timeouts.Load(),
		Retries:      b.failures.Load(),
		Diff:         b.diff,
		LastAccepted: b.lastAccepted.Load(),
		Active:       b.state == types.Active,
	}
}

func (b *BaseClient) algoLocked() string {
	if b.job != nil {
		return b.job.Algo
	}
	return b.pool.Algo
}
