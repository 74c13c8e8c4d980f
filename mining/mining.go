// Package mining runs the compute workers: it reads jobs off the bus, fans
// each one out to every worker under a fresh epoch and publishes the
// solutions they find.
package mining

import (
	"github.com/AGPFMiner/bmbminer/algorithms"
	"github.com/AGPFMiner/bmbminer/driver"

	"go.uber.org/zap"
)

// AlgorithmFactory instantiates the algorithm a job names.
type AlgorithmFactory func(name string) (algorithms.Algorithm, error)

// PoolArgs configures a WorkerPool.
type PoolArgs struct {
	Bus          *Bus
	Threads      int
	GPUs         []*driver.GPUWorker
	NewAlgorithm AlgorithmFactory
	Pause        *PauseGate
	// CheckEvery overrides every algorithm's cancellation polling interval.
	CheckEvery int
	Logger     *zap.Logger
}
