package mining

import (
	"context"
	"testing"
	"time"

	"github.com/AGPFMiner/bmbminer/types"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue[int]()
	for i := 0; i < 5; i++ {
		q.Push(i)
	}
	for i := 0; i < 5; i++ {
		v, ok := q.Pop(context.Background())
		if !ok || v != i {
			t.Fatalf("pop %d: got %d %v", i, v, ok)
		}
	}
	if _, ok := q.TryPop(); ok {
		t.Fatal("queue should be empty")
	}
}

func TestQueueCloseDrains(t *testing.T) {
	q := NewQueue[string]()
	q.Push("a")
	q.Close()
	if q.Push("b") {
		t.Fatal("push after close accepted")
	}
	if v, ok := q.Pop(context.Background()); !ok || v != "a" {
		t.Fatalf("got %q %v", v, ok)
	}
	if _, ok := q.Pop(context.Background()); ok {
		t.Fatal("pop on closed empty queue succeeded")
	}
}

func TestQueuePopBlocks(t *testing.T) {
	q := NewQueue[int]()
	got := make(chan int, 1)
	go func() {
		v, _ := q.Pop(context.Background())
		got <- v
	}()
	select {
	case <-got:
		t.Fatal("pop returned before push")
	case <-time.After(20 * time.Millisecond):
	}
	q.Push(7)
	select {
	case v := <-got:
		if v != 7 {
			t.Fatalf("got %d", v)
		}
	case <-time.After(time.Second):
		t.Fatal("pop did not wake up")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, ok := q.Pop(ctx); ok {
		t.Fatal("pop should fail when ctx expires")
	}
}

func TestBusPreservesJobOrder(t *testing.T) {
	b := NewBus()
	defer b.Close()
	kinds := []types.JobKind{types.NewJob, types.RestartJob, types.StopJob, types.NewJob}
	for _, k := range kinds {
		b.Jobs.Push(&types.Job{Kind: k})
	}
	for _, want := range kinds {
		j, ok := b.Jobs.TryPop()
		if !ok || j.Kind != want {
			t.Fatalf("want %s got %+v", want, j)
		}
	}
}

func TestPauseGate(t *testing.T) {
	var g PauseGate
	if !g.Wait(nil) {
		t.Fatal("unpaused gate should pass")
	}
	g.Pause()
	if !g.Paused() {
		t.Fatal("gate not paused")
	}
	released := make(chan bool, 1)
	go func() { released <- g.Wait(nil) }()
	select {
	case <-released:
		t.Fatal("wait returned while paused")
	case <-time.After(20 * time.Millisecond):
	}
	g.Resume()
	select {
	case ok := <-released:
		if !ok {
			t.Fatal("wait reported done")
		}
	case <-time.After(time.Second):
		t.Fatal("resume did not release waiter")
	}

	g.Pause()
	done := make(chan struct{})
	close(done)
	if g.Wait(done) {
		t.Fatal("wait should give up when done is closed")
	}
}
