// Package pufferfish2bmb wraps the memory-hard Pufferfish2 function. The
// function itself lives in a native library; a binding registers it with
// SetBackend before the algorithm can be instantiated.
package pufferfish2bmb

import (
	"errors"
	"sync"

	"github.com/AGPFMiner/bmbminer/algorithms"

	sha256 "github.com/minio/sha256-simd"
)

const (
	Name = "pufferfish2bmb"
	Fee  = 0.015

	checkInterval = 10
	costT         = 0
	costM         = 8
	outputSize    = 119
)

var ErrNoBackend = errors.New("pufferfish2 backend not registered")

// HashFunc computes Pufferfish2 of pass into out, which arrives pre-filled
// with the "$PF2$" setting string.
type HashFunc func(pass []byte, costT, costM int, out []byte) error

var (
	backendMu sync.RWMutex
	backend   HashFunc
)

// SetBackend registers the native implementation. Passing nil unregisters it.
func SetBackend(fn HashFunc) {
	backendMu.Lock()
	backend = fn
	backendMu.Unlock()
}

func currentBackend() HashFunc {
	backendMu.RLock()
	defer backendMu.RUnlock()
	return backend
}

var settingPrefix = []byte("$PF2$..e.....................$")

type Algorithm struct {
	hash HashFunc
}

func New() (*Algorithm, error) {
	fn := currentBackend()
	if fn == nil {
		return nil, ErrNoBackend
	}
	return &Algorithm{hash: fn}, nil
}

func (a *Algorithm) Name() string      { return Name }
func (a *Algorithm) SupportsCPU() bool { return true }
func (a *Algorithm) SupportsGPU() bool { return false }
func (a *Algorithm) DevFee() float64   { return Fee }
func (a *Algorithm) Close() error      { return nil }

func (a *Algorithm) ComputeCPU(w *algorithms.Work) {
	// each worker owns its scratch buffer
	buf := make([]byte, outputSize)
	digest := func(out *[32]byte, candidate []byte) {
		copy(buf, settingPrefix)
		for i := len(settingPrefix); i < len(buf); i++ {
			buf[i] = 0
		}
		if err := a.hash(candidate, costT, costM, buf); err != nil {
			// a failed hash can never satisfy the predicate
			for i := range out {
				out[i] = 0xff
			}
			return
		}
		*out = sha256.Sum256(buf)
	}
	algorithms.Search(w, digest, checkInterval)
}
