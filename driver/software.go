package driver

import (
	"context"
	"encoding/binary"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/AGPFMiner/bmbminer/algorithms"
)

// MaxFound is the capacity of the found buffer; extra hits in a batch are
// counted but not returned.
const MaxFound = 64

// SoftwareBackend evaluates batches on host cores. It stands in for a
// device backend where none is available and backs the tests.
type SoftwareBackend struct {
	Lanes int
}

func NewSoftwareBackend(lanes int) *SoftwareBackend {
	if lanes <= 0 {
		lanes = runtime.NumCPU()
	}
	return &SoftwareBackend{Lanes: lanes}
}

func (sb *SoftwareBackend) Devices() ([]Device, error) {
	return []Device{{ID: 0, Platform: "software", Name: "host"}}, nil
}

func (sb *SoftwareBackend) Build(dev Device, k Kernel) (Context, error) {
	if k.Digest == nil {
		return nil, ErrNotBuilt
	}
	return &softContext{lanes: sb.Lanes, kernel: k}, nil
}

type softContext struct {
	lanes  int
	kernel Kernel

	mu      sync.Mutex
	pending chan *Result
}

func (sc *softContext) Submit(b *Batch) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.pending != nil {
		return ErrBatchPending
	}
	done := make(chan *Result, 1)
	sc.pending = done
	batch := *b
	go func() {
		done <- sc.run(&batch)
	}()
	return nil
}

func (sc *softContext) Wait(ctx context.Context) (*Result, error) {
	sc.mu.Lock()
	done := sc.pending
	sc.mu.Unlock()
	if done == nil {
		return nil, ErrNotBuilt
	}
	select {
	case res := <-done:
		sc.mu.Lock()
		sc.pending = nil
		sc.mu.Unlock()
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (sc *softContext) Release() error {
	return nil
}

func (sc *softContext) run(b *Batch) *Result {
	total := b.Size()
	lanes := uint64(sc.lanes)
	if lanes > total {
		lanes = total
	}
	if lanes == 0 {
		return &Result{}
	}

	res := &Result{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	per := total / lanes
	for l := uint64(0); l < lanes; l++ {
		from := l * per
		to := from + per
		if l == lanes-1 {
			to = total
		}
		wg.Add(1)
		go func(from, to uint64) {
			defer wg.Done()
			concat := b.Concat
			var hash [32]byte
			for i := from; i < to; i++ {
				binary.LittleEndian.PutUint64(concat[algorithms.NonceOffset:], b.Start+i)
				sc.kernel.Digest(&hash, concat[:])
				if !algorithms.CheckLeadingZeroBits(hash[:], b.Difficulty) {
					continue
				}
				mu.Lock()
				res.Count++
				if len(res.Found) < MaxFound {
					sol := make([]byte, algorithms.SolutionSize)
					copy(sol, concat[algorithms.TargetSize:])
					res.Found = append(res.Found, sol)
				}
				mu.Unlock()
			}
		}(from, to)
	}
	wg.Wait()
	return res
}

func matchDevice(dev Device, sel string) bool {
	sel = strings.TrimSpace(sel)
	if id, err := strconv.Atoi(sel); err == nil {
		return dev.ID == id
	}
	return strings.EqualFold(dev.Name, sel)
}
