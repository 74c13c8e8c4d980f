package mining

import (
	"sync"

	"go.uber.org/atomic"
)

// PauseGate holds every worker while paused.
type PauseGate struct {
	paused atomic.Bool

	mu     sync.Mutex
	resume chan struct{}
}

func (g *PauseGate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused.Load() {
		g.resume = make(chan struct{})
		g.paused.Store(true)
	}
}

func (g *PauseGate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused.Load() {
		g.paused.Store(false)
		close(g.resume)
	}
}

func (g *PauseGate) Paused() bool {
	return g.paused.Load()
}

// Wait returns true once not paused, or false if done closes first.
func (g *PauseGate) Wait(done <-chan struct{}) bool {
	if !g.paused.Load() {
		return true
	}
	g.mu.Lock()
	ch := g.resume
	paused := g.paused.Load()
	g.mu.Unlock()
	if !paused {
		return true
	}
	select {
	case <-ch:
		return true
	case <-done:
		return false
	}
}
