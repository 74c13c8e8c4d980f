package miner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AGPFMiner/bmbminer/clients"
	"github.com/AGPFMiner/bmbminer/clients/bamboo"
	"github.com/AGPFMiner/bmbminer/mining"
	"github.com/AGPFMiner/bmbminer/types"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeClient struct {
	mu        sync.Mutex
	identity  string
	switches  []string
	results   []types.SubmitResult
	err       error
	submitted []types.JobSolution
}

func (c *fakeClient) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (c *fakeClient) Submit(ctx context.Context, sol types.JobSolution) (types.SubmitResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitted = append(c.submitted, sol)
	if c.err != nil {
		return types.Timeout, c.err
	}
	if len(c.results) == 0 {
		return types.Accepted, nil
	}
	r := c.results[0]
	c.results = c.results[1:]
	return r, nil
}

func (c *fakeClient) SwitchIdentity(user string) {
	c.mu.Lock()
	c.identity = user
	c.switches = append(c.switches, user)
	c.mu.Unlock()
}

func (c *fakeClient) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *fakeClient) switched() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.switches...)
}

func (c *fakeClient) sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.submitted)
}

func (c *fakeClient) SolutionName() string                             { return "Share" }
func (c *fakeClient) CurrentJob() *types.Job                           { return nil }
func (c *fakeClient) PoolConnectionStates() types.PoolConnectionStates { return types.Active }
func (c *fakeClient) GetPoolStats() types.PoolStates                   { return types.PoolStates{User: c.Identity()} }

type staticSource struct {
	client clients.Client
}

func (s staticSource) Active() clients.Client { return s.client }

func runSubmissions(t *testing.T, sm *SubmissionManager, q *mining.Queue[types.JobSolution]) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sm.Run(ctx)
		close(done)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for q.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	// the last popped solution may still be in flight
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done
}

func TestSubmissionOutcomes(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	client := &fakeClient{results: []types.SubmitResult{types.Accepted, types.Rejected, types.Timeout, types.Accepted}}
	q := mining.NewQueue[types.JobSolution]()
	admit := func(sol types.JobSolution) bool { return sol.Epoch != 0 }
	sm := NewSubmissionManager(q, admit, staticSource{client}, zap.New(core))

	for _, epoch := range []uint64{1, 1, 0, 1, 1} {
		q.Push(types.JobSolution{Epoch: epoch, Solution: []byte{1}})
	}
	runSubmissions(t, sm, q)

	if client.sent() != 4 {
		t.Fatalf("sent %d solutions, want 4", client.sent())
	}
	if sm.Accepted() != 2 || sm.Rejected() != 1 || sm.Timeouts() != 1 || sm.Failed() != 0 {
		t.Fatalf("accepted %d rejected %d timeouts %d failed %d",
			sm.Accepted(), sm.Rejected(), sm.Timeouts(), sm.Failed())
	}
	if n := logs.FilterMessage("Share accepted").Len(); n != 2 {
		t.Errorf("%d accepted lines", n)
	}
	if n := logs.FilterMessage("ERR_ACK_TIMEOUT").Len(); n != 1 {
		t.Errorf("%d timeout lines", n)
	}
}

func TestSubmissionFailuresKeepLoopAlive(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	q := mining.NewQueue[types.JobSolution]()

	sm := NewSubmissionManager(q, nil, staticSource{}, zap.New(core))
	q.Push(types.JobSolution{Epoch: 1})
	runSubmissions(t, sm, q)
	if sm.Failed() != 1 {
		t.Fatalf("failed %d, want 1", sm.Failed())
	}

	client := &fakeClient{err: errors.New("broken pipe")}
	sm = NewSubmissionManager(q, nil, staticSource{client}, zap.New(core))
	q.Push(types.JobSolution{Epoch: 1})
	q.Push(types.JobSolution{Epoch: 1})
	runSubmissions(t, sm, q)
	if sm.Failed() != 2 || client.sent() != 2 {
		t.Fatalf("failed %d sent %d", sm.Failed(), client.sent())
	}
	if n := logs.FilterMessage("ERR_CONN_FAILED").Len(); n != 3 {
		t.Errorf("%d connection failure lines, want 3", n)
	}
}

func TestUndeliveredBlockCountsAsRejected(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	node, err := bamboo.NewClient(clients.ClientArgs{
		Pool:   types.Pool{URL: "bamboo://127.0.0.1:1", User: strings.Repeat("0a", bamboo.WalletSize)},
		Jobs:   mining.NewQueue[*types.Job](),
		Logger: zap.New(core),
	})
	if err != nil {
		t.Fatal(err)
	}
	q := mining.NewQueue[types.JobSolution]()
	sm := NewSubmissionManager(q, nil, staticSource{node}, zap.New(core))
	q.Push(types.JobSolution{Epoch: 1, Solution: make([]byte, 32)})
	runSubmissions(t, sm, q)

	if sm.Rejected() != 1 || sm.Failed() != 0 {
		t.Fatalf("rejected %d failed %d", sm.Rejected(), sm.Failed())
	}
	if n := logs.FilterMessage("Block rejected").Len(); n != 1 {
		t.Errorf("%d rejected lines", n)
	}
	if n := logs.FilterMessage("Block submit failed").Len(); n != 1 {
		t.Errorf("%d submit failure lines", n)
	}
}
