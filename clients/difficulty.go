package clients

import (
	"math/bits"
	"sync"
	"time"

	"github.com/AGPFMiner/bmbminer/statistics"
)

const (
	DefaultFloor           = 35
	DefaultSharesPerWindow = 20
	DefaultRateWindow      = 30 * time.Second
	DefaultBurstSize       = 5
	DefaultBurstAge        = 15 * time.Second
	DefaultIdleAfter       = 30 * time.Second
)

// RateSource answers hashrate queries, in hashes per second.
type RateSource interface {
	Rate(typ string, id int, window time.Duration) uint64
}

// DifficultyController picks a difficulty from the tracked hashrate and
// watches the share stream for bursts.
type DifficultyController struct {
	Rates           RateSource
	Floor           float64
	SharesPerWindow uint64
	Window          time.Duration
	BurstSize       int
	BurstAge        time.Duration
	IdleAfter       time.Duration

	mu     sync.Mutex
	shares []time.Time
}

func NewDifficultyController(rates RateSource) *DifficultyController {
	return &DifficultyController{
		Rates:           rates,
		Floor:           DefaultFloor,
		SharesPerWindow: DefaultSharesPerWindow,
		Window:          DefaultRateWindow,
		BurstSize:       DefaultBurstSize,
		BurstAge:        DefaultBurstAge,
		IdleAfter:       DefaultIdleAfter,
	}
}

// TargetDifficulty is the bit length of hashes*perWindow, or floor when
// nothing has been measured.
func TargetDifficulty(hashes, perWindow uint64, floor float64) float64 {
	if hashes == 0 {
		return floor
	}
	return float64(bits.Len64(hashes * perWindow))
}

// Target computes the difficulty for the current total hashrate.
func (dc *DifficultyController) Target() float64 {
	var rate uint64
	if dc.Rates != nil {
		rate = dc.Rates.Rate(statistics.TypeTotal, 0, dc.Window)
	}
	return TargetDifficulty(rate, dc.SharesPerWindow, dc.Floor)
}

// ObserveShare records a submitted share. Once more than BurstSize shares
// are queued and the oldest is younger than BurstAge, the queue is cleared
// and a new difficulty is computed; it is returned with true only when it
// is strictly greater than current.
func (dc *DifficultyController) ObserveShare(now time.Time, current float64) (float64, bool) {
	dc.mu.Lock()
	dc.shares = append(dc.shares, now)
	if len(dc.shares) <= dc.BurstSize {
		dc.mu.Unlock()
		return current, false
	}
	oldest := dc.shares[0]
	dc.shares = dc.shares[1:]
	burst := now.Sub(oldest) < dc.BurstAge
	if burst {
		dc.shares = nil
	}
	dc.mu.Unlock()

	if !burst {
		return current, false
	}
	next := dc.Target()
	if next > current {
		return next, true
	}
	return current, false
}

// Pending is the number of queued share timestamps.
func (dc *DifficultyController) Pending() int {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return len(dc.shares)
}
