package miner

import (
	"context"
	"crypto/rand"
	"runtime"
	"sync"
	"time"

	"github.com/AGPFMiner/bmbminer/algorithms"
	"github.com/AGPFMiner/bmbminer/mining"
	"github.com/AGPFMiner/bmbminer/types"

	"go.uber.org/zap"
)

// benchmarkDifficulty is never reached, so workers hash for the whole run.
const benchmarkDifficulty = 255

// Benchmark runs the CPU search of algo on threads workers (0 for every
// core) for d and returns the hashrate in hashes per second.
func Benchmark(ctx context.Context, algo string, threads int, d time.Duration, logger *zap.Logger) (uint64, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	check, err := getAlgorithmByName(algo)
	if err != nil {
		return 0, err
	}
	check.Close()
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	target := make([]byte, algorithms.TargetSize)
	if _, err := rand.Read(target); err != nil {
		return 0, err
	}

	bus := mining.NewBus()
	pool := mining.NewWorkerPool(mining.PoolArgs{
		Bus:          bus,
		Threads:      threads,
		NewAlgorithm: getAlgorithmByName,
		Logger:       logger,
	})
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pool.Run(ctx)
	}()

	bus.Jobs.Push(&types.Job{
		Kind:       types.NewJob,
		ID:         types.ShortID(target),
		Name:       "Benchmark",
		Target:     target,
		Difficulty: benchmarkDifficulty,
		Algo:       algo,
	})
	logger.Info("Benchmark started", zap.String("algo", algo), zap.Int("threads", threads), zap.Duration("duration", d))

	start := time.Now()
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	timer.Stop()
	elapsed := time.Since(start)
	cancel()
	bus.Close()
	wg.Wait()

	var hashes uint64
	for _, h := range pool.CPUHashes() {
		hashes += h
	}

	if elapsed <= 0 {
		return 0, nil
	}
	return uint64(float64(hashes) / elapsed.Seconds()), nil
}
