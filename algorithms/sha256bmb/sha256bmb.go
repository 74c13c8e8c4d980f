package sha256bmb

import (
	"github.com/AGPFMiner/bmbminer/algorithms"

	sha256 "github.com/minio/sha256-simd"
)

const (
	Name = "sha256bmb"
	Fee  = 0.01

	// checkInterval is how many hashes run between cancellation checks.
	checkInterval = 100000
	kernelSource  = "sha256bmb.cl"
)

type Algorithm struct{}

func New() (*Algorithm, error) {
	return &Algorithm{}, nil
}

func (a *Algorithm) Name() string      { return Name }
func (a *Algorithm) SupportsCPU() bool { return true }
func (a *Algorithm) SupportsGPU() bool { return true }
func (a *Algorithm) DevFee() float64   { return Fee }
func (a *Algorithm) Close() error      { return nil }

func (a *Algorithm) ComputeCPU(w *algorithms.Work) {
	algorithms.Search(w, Digest, checkInterval)
}

func (a *Algorithm) KernelSource() string { return kernelSource }

func (a *Algorithm) Digest() algorithms.DigestFunc { return Digest }

// Digest is a single SHA-256 over the candidate.
func Digest(out *[32]byte, candidate []byte) {
	*out = sha256.Sum256(candidate)
}
