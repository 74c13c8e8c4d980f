// Package driver hosts GPU compute backends and the batch worker that runs
// on them.
package driver

import (
	"context"
	"errors"

	"github.com/AGPFMiner/bmbminer/algorithms"
)

var (
	ErrNoDevice     = errors.New("no matching compute device")
	ErrNotBuilt     = errors.New("kernel not built")
	ErrBatchPending = errors.New("batch already in flight")
)

// Device is one compute device as reported by a backend.
type Device struct {
	ID       int
	Platform string
	Name     string
}

// Kernel names the program source a context is built from and the digest it
// evaluates.
type Kernel struct {
	Name   string
	Source string
	Digest algorithms.DigestFunc
}

// Batch is the candidate buffer handed to the device. Every work item i in
// [0, GlobalSize*WorkSize) hashes Concat with Start+i written little endian
// at algorithms.NonceOffset.
type Batch struct {
	Concat     [algorithms.CandidateSize]byte
	Start      uint64
	GlobalSize int
	WorkSize   int
	Difficulty int
}

// Size is the number of candidates in the batch.
func (b *Batch) Size() uint64 {
	return uint64(b.GlobalSize) * uint64(b.WorkSize)
}

// Result mirrors the found/count buffers read back after a batch.
type Result struct {
	Count int
	Found [][]byte
}

// Backend enumerates devices and builds contexts on them.
type Backend interface {
	Devices() ([]Device, error)
	Build(dev Device, k Kernel) (Context, error)
}

// Context is one built kernel on one device. A context runs one batch at a
// time.
type Context interface {
	Submit(b *Batch) error
	// Wait blocks until the submitted batch completes or ctx is done.
	Wait(ctx context.Context) (*Result, error)
	Release() error
}

// SelectDevices matches a list of ids or names against the available
// devices, in selector order.
func SelectDevices(available []Device, selectors []string) ([]Device, error) {
	var out []Device
	for _, sel := range selectors {
		for _, dev := range available {
			if matchDevice(dev, sel) {
				out = append(out, dev)
				break
			}
		}
	}
	if len(out) == 0 {
		return nil, ErrNoDevice
	}
	return out, nil
}
