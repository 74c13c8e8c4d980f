package shifu

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/AGPFMiner/bmbminer/clients"
	"github.com/AGPFMiner/bmbminer/clients/stratum"
	"github.com/AGPFMiner/bmbminer/mining"
	"github.com/AGPFMiner/bmbminer/types"

	"go.uber.org/atomic"
)

var testUser = strings.Repeat("a", UserLength)

type settableRate struct {
	v atomic.Uint64
}

func (r *settableRate) Rate(string, int, time.Duration) uint64 { return r.v.Load() }

type fakePool struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func (p *fakePool) expect(typ string) map[string]interface{} {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := p.reader.ReadBytes('\n')
	if err != nil {
		p.t.Fatalf("waiting for %s: %v", typ, err)
	}
	var msg map[string]interface{}
	if err := stratum.Unmarshal(line, &msg); err != nil {
		p.t.Fatal(err)
	}
	if msg["type"] != typ {
		p.t.Fatalf("got %v, want %s", msg["type"], typ)
	}
	return msg
}

func (p *fakePool) send(format string, args ...interface{}) {
	p.t.Helper()
	if _, err := fmt.Fprintf(p.conn, format+"\n", args...); err != nil {
		p.t.Fatal(err)
	}
}

func startSession(t *testing.T, rates clients.RateSource) (*Client, *mining.Queue[*types.Job], *fakePool, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	tuner := clients.NewDifficultyController(rates)
	tuner.IdleAfter = 0
	jobs := mining.NewQueue[*types.Job]()
	sc, err := NewClient(clients.ClientArgs{
		Pool:  types.Pool{URL: "shifu://" + ln.Addr().String(), User: testUser},
		Jobs:  jobs,
		Tuner: tuner,
		Agent: "bmbminer/test",
	})
	if err != nil {
		t.Fatal(err)
	}
	sc.AckTimeout = 200 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	go sc.Run(ctx)

	conn, err := ln.Accept()
	if err != nil {
		t.Fatal(err)
	}
	pool := &fakePool{t: t, conn: conn, reader: bufio.NewReader(conn)}
	return sc, jobs, pool, func() {
		cancel()
		conn.Close()
		ln.Close()
	}
}

func nextJob(t *testing.T, q *mining.Queue[*types.Job]) *types.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	job, ok := q.Pop(ctx)
	if !ok {
		t.Fatal("no job announced")
	}
	return job
}

func TestValidateUser(t *testing.T) {
	if err := ValidateUser(testUser); err != nil {
		t.Fatal(err)
	}
	if err := ValidateUser(testUser + "b"); !errors.Is(err, clients.ErrInvalidUser) {
		t.Fatalf("51 chars: %v", err)
	}
	if _, err := NewClient(clients.ClientArgs{Pool: types.Pool{URL: "shifu://pool:1", User: "short"}}); !errors.Is(err, clients.ErrInvalidUser) {
		t.Fatalf("short user: %v", err)
	}
}

func TestShifuSession(t *testing.T) {
	sc, jobs, pool, stop := startSession(t, nil)
	defer stop()

	hello := pool.expect(typeInitialize)
	if hello["address"] != testUser || hello["useragent"] != "bmbminer/test" {
		t.Fatalf("initialize %v", hello)
	}

	pool.send(`{"type":"Ping"}`)
	pool.expect(typePong)
	pool.send(`{"type":"Notification","msg":"welcome"}`)

	pool.send(`{"type":"Work","blockhash":"abcd"}`)
	blockhash := strings.Repeat("ab", BlockhashSize)
	pool.send(`{"type":"Work","blockhash":"%s"}`, blockhash)
	job := nextJob(t, jobs)
	if job.Kind != types.NewJob || job.ID != "abababa" || len(job.Target) != BlockhashSize || job.Difficulty != clients.DefaultFloor {
		t.Fatalf("unexpected job %+v", job)
	}

	results := make(chan types.SubmitResult, 1)
	submitShare := func() {
		go func() {
			r, _ := sc.Submit(context.Background(), types.JobSolution{Target: job.Target, Solution: []byte{0x23, 0x0a}})
			results <- r
		}()
	}

	submitShare()
	if msg := pool.expect(typeSubmit); msg["pow"] != "230A" {
		t.Fatalf("submit %v", msg)
	}
	pool.send(`{"type":"Accept","pow":"230A"}`)
	if r := <-results; r != types.Accepted {
		t.Fatalf("got %s", r)
	}

	submitShare()
	pool.expect(typeSubmit)
	pool.send(`{"type":"Reject"}`)
	if r := <-results; r != types.Rejected {
		t.Fatalf("got %s", r)
	}

	submitShare()
	pool.expect(typeSubmit)
	if r := <-results; r != types.Timeout {
		t.Fatalf("got %s", r)
	}
}

func TestBurstRaisesDifficulty(t *testing.T) {
	rate := &settableRate{}
	sc, jobs, pool, stop := startSession(t, rate)
	defer stop()

	pool.expect(typeInitialize)
	pool.send(`{"type":"Work","blockhash":"%s"}`, strings.Repeat("01", BlockhashSize))
	job := nextJob(t, jobs)
	if job.Difficulty != clients.DefaultFloor {
		t.Fatalf("difficulty %v", job.Difficulty)
	}

	rate.v.Store(1 << 40)
	for i := 0; i < 6; i++ {
		done := make(chan struct{})
		go func() {
			sc.Submit(context.Background(), types.JobSolution{Target: job.Target, Solution: []byte{byte(i)}})
			close(done)
		}()
		pool.expect(typeSubmit)
		pool.send(`{"type":"Accept"}`)
		<-done
	}

	restart := nextJob(t, jobs)
	if restart.Kind != types.RestartJob || restart.Difficulty != 45 || string(restart.Target) != string(job.Target) {
		t.Fatalf("unexpected restart %+v", restart)
	}
	if jobs.Len() != 0 {
		t.Fatalf("%d extra jobs", jobs.Len())
	}
}
