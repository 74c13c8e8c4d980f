package types

import (
	"sync"

	"go.uber.org/atomic"
)

// Epoch is one cancellation generation. Workers capture it at dispatch and
// poll Cancelled at a bounded interval.
type Epoch struct {
	gen       uint64
	cancelled atomic.Bool
	done      chan struct{}
	once      sync.Once
}

func (e *Epoch) Generation() uint64 {
	return e.gen
}

func (e *Epoch) Cancelled() bool {
	return e.cancelled.Load()
}

// Done is closed when the epoch is cancelled.
func (e *Epoch) Done() <-chan struct{} {
	return e.done
}

func (e *Epoch) cancel() {
	e.once.Do(func() {
		e.cancelled.Store(true)
		close(e.done)
	})
}

// EpochSource hands out totally ordered epochs. Advance cancels the previous
// epoch before the new one becomes visible.
type EpochSource struct {
	mu      sync.Mutex
	gen     atomic.Uint64
	current *Epoch
}

func (s *EpochSource) Advance() *Epoch {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.cancel()
	}
	e := &Epoch{gen: s.gen.Inc(), done: make(chan struct{})}
	s.current = e
	return e
}

// Cancel retires the current epoch without minting a new one.
func (s *EpochSource) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.cancel()
	}
}

func (s *EpochSource) Generation() uint64 {
	return s.gen.Load()
}

// IsCurrent reports whether e is the live epoch.
func (s *EpochSource) IsCurrent(e *Epoch) bool {
	return e != nil && !e.Cancelled() && e.gen == s.gen.Load()
}
