// Package algorithms defines the compute capability workers run a job with.
package algorithms

import (
	"errors"

	"github.com/AGPFMiner/bmbminer/types"

	"go.uber.org/atomic"
)

var ErrUnknownAlgorithm = errors.New("unknown algorithm")

// Pauser blocks while mining is paused. Wait returns false if done closed
// first.
type Pauser interface {
	Wait(done <-chan struct{}) bool
}

// Work carries everything a worker hands the algorithm for one epoch.
type Work struct {
	WorkerID int
	Job      *types.Job
	Epoch    *types.Epoch
	Pause    Pauser
	Hashes   *atomic.Uint64
	// CheckEvery overrides the algorithm's cancellation polling interval.
	CheckEvery int
	Emit       func(solution []byte)
}

// Algorithm is one proof-of-work variant.
type Algorithm interface {
	Name() string
	SupportsCPU() bool
	SupportsGPU() bool
	// DevFee is the fraction of each hour the algorithm allots to the fee
	// identity when the fee schedule is enabled.
	DevFee() float64
	// ComputeCPU searches until w.Epoch is cancelled.
	ComputeCPU(w *Work)
	Close() error
}

// GPUCapable algorithms provide a kernel for the batch backend.
type GPUCapable interface {
	KernelSource() string
	Digest() DigestFunc
}

// DigestFunc hashes a 64 byte candidate into out.
type DigestFunc func(out *[32]byte, candidate []byte)
