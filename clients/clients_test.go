package clients

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AGPFMiner/bmbminer/types"

	"github.com/davecgh/go-spew/spew"
)

type jobLog struct {
	mu   sync.Mutex
	jobs []*types.Job
}

func (l *jobLog) Push(j *types.Job) bool {
	l.mu.Lock()
	l.jobs = append(l.jobs, j)
	l.mu.Unlock()
	return true
}

func (l *jobLog) kinds() []types.JobKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.JobKind, len(l.jobs))
	for i, j := range l.jobs {
		out[i] = j.Kind
	}
	return out
}

func (l *jobLog) last() *types.Job {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.jobs) == 0 {
		return nil
	}
	return l.jobs[len(l.jobs)-1]
}

func TestRetargetDerivesRestart(t *testing.T) {
	log := &jobLog{}
	b := NewBaseClient(ClientArgs{Jobs: log})
	if b.Retarget(40) {
		t.Fatal("retarget without a job")
	}

	job := &types.Job{Kind: types.NewJob, ID: "abcdef0", Name: "Job", Target: []byte{0xab, 0xcd}, Difficulty: 20, Algo: "sha256bmb"}
	b.PublishJob(job)
	if !b.Retarget(40) {
		t.Fatal("retarget failed")
	}
	restart := log.last()
	if restart.Kind != types.RestartJob || restart.Difficulty != 40 || restart.ID != job.ID ||
		string(restart.Target) != string(job.Target) || restart.Algo != job.Algo {
		t.Fatalf("unexpected restart job %s", spew.Sdump(restart))
	}
	if job.Difficulty != 20 || job.Kind != types.NewJob {
		t.Fatal("published job was mutated")
	}
	if b.CurrentJob() != restart || b.Difficulty() != 40 {
		t.Fatal("restart did not become current")
	}

	b.PublishStop()
	if b.CurrentJob() != nil || log.last().Kind != types.StopJob {
		t.Fatal("stop did not clear the job")
	}
}

func TestRetryCeiling(t *testing.T) {
	log := &jobLog{}
	b := NewBaseClient(ClientArgs{Pool: types.Pool{URL: "stratum+tcp://127.0.0.1:1"}, Jobs: log, Retries: 3, Backoff: time.Millisecond})

	attempts := 0
	err := b.RunSessions(context.Background(), func(context.Context) error {
		attempts++
		return types.TransportFault("dial", errors.New("connection refused"))
	})
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("err %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts %d, want 3", attempts)
	}
	kinds := log.kinds()
	if len(kinds) != 3 {
		t.Fatalf("jobs %v", kinds)
	}
	for _, k := range kinds {
		if k != types.StopJob {
			t.Fatalf("jobs %v", kinds)
		}
	}
	stats := b.GetPoolStats()
	if stats.Accept != 0 || stats.Reject != 0 || stats.Status != types.Disconnected {
		t.Fatalf("stats %s", spew.Sdump(stats))
	}
}

type closeSignal chan struct{}

func (c closeSignal) Close() error {
	close(c)
	return nil
}

func TestForcedReconnectIsFree(t *testing.T) {
	b := NewBaseClient(ClientArgs{Jobs: &jobLog{}, Retries: 1, Backoff: time.Millisecond})

	attempts := 0
	err := b.RunSessions(context.Background(), func(context.Context) error {
		attempts++
		if attempts == 1 {
			conn := make(closeSignal)
			b.SetConn(conn)
			go b.ForceReconnect()
			<-conn
			return errors.New("closed")
		}
		return errors.New("refused")
	})
	if !errors.Is(err, ErrRetriesExhausted) || attempts != 2 {
		t.Fatalf("err %v after %d attempts", err, attempts)
	}
}

func TestRunSessionsStopsOnCancel(t *testing.T) {
	b := NewBaseClient(ClientArgs{Jobs: &jobLog{}, Backoff: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := b.RunSessions(ctx, func(context.Context) error { return errors.New("refused") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err %v", err)
	}
}

func TestAckCorrelation(t *testing.T) {
	b := NewBaseClient(ClientArgs{Jobs: &jobLog{}})

	done := b.BeginSubmit()
	go b.Ack(true)
	if r := b.AwaitAck(context.Background(), time.Second); r != types.Accepted {
		t.Fatalf("got %s", r)
	}
	done()

	done = b.BeginSubmit()
	if r := b.AwaitAck(context.Background(), 10*time.Millisecond); r != types.Timeout {
		t.Fatalf("got %s", r)
	}
	done()
	// late ack for the timed out submission
	b.Ack(true)

	done = b.BeginSubmit()
	go b.Ack(false)
	if r := b.AwaitAck(context.Background(), time.Second); r != types.Rejected {
		t.Fatalf("late ack leaked into the next submission: %s", r)
	}
	done()

	stats := b.GetPoolStats()
	if stats.Accept != 1 || stats.Reject != 1 || stats.Discard != 1 || stats.LastAccepted == 0 {
		t.Fatalf("stats %s", spew.Sdump(stats))
	}
}

func TestIdleCalibration(t *testing.T) {
	tuner := NewDifficultyController(fixedRate(1000000))
	tuner.IdleAfter = 20 * time.Millisecond
	log := &jobLog{}
	b := NewBaseClient(ClientArgs{Jobs: log, Tuner: tuner})

	b.PublishJob(&types.Job{Kind: types.NewJob, Target: []byte{1}, Difficulty: b.Difficulty()})
	deadline := time.Now().Add(2 * time.Second)
	for len(log.kinds()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	last := log.last()
	if last.Kind != types.RestartJob || last.Difficulty != 25 {
		t.Fatalf("jobs %v, last %s", log.kinds(), spew.Sdump(last))
	}
}

func TestIdleCalibrationSkippedAfterShare(t *testing.T) {
	tuner := NewDifficultyController(fixedRate(1000000))
	tuner.IdleAfter = 20 * time.Millisecond
	log := &jobLog{}
	b := NewBaseClient(ClientArgs{Jobs: log, Tuner: tuner})

	b.PublishJob(&types.Job{Kind: types.NewJob, Target: []byte{1}, Difficulty: DefaultFloor})
	b.NoteShare(time.Now().Add(time.Millisecond))
	time.Sleep(60 * time.Millisecond)
	if kinds := log.kinds(); len(kinds) != 1 {
		t.Fatalf("jobs %v", kinds)
	}
}
