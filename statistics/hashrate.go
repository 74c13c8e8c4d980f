package statistics

import (
	"context"
	"sync"
	"time"
)

const (
	// TypeCPU is the aggregate of every CPU worker, always id 0.
	TypeCPU = "CPU"
	// TypeGPU series are kept per device id.
	TypeGPU = "GPU"
	// TypeTotal is the sum of all workers, always id 0.
	TypeTotal = "TOTAL"

	DefaultTick      = 10 * time.Second
	DefaultRetention = 30 * time.Minute
)

// Snapshot is the cumulative hash count of one series at one instant.
type Snapshot struct {
	Timestamp time.Time
	Type      string
	ID        int
	Hashes    uint64
}

// CounterSource exposes the monotonically increasing worker counters.
type CounterSource interface {
	CPUHashes() []uint64
	GPUHashes() []uint64
}

// Tracker keeps a pruned, time ordered snapshot log and answers rate
// queries over it.
type Tracker struct {
	source    CounterSource
	retention time.Duration

	mu        sync.Mutex // protects snapshots
	snapshots []Snapshot
}

func NewTracker(source CounterSource) *Tracker {
	return &Tracker{
		source:    source,
		retention: DefaultRetention,
	}
}

// SetRetention changes how far back snapshots are kept.
func (t *Tracker) SetRetention(d time.Duration) {
	t.mu.Lock()
	t.retention = d
	t.mu.Unlock()
}

// Run records a snapshot every interval until ctx is done.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.Collect(now)
		}
	}
}

// Collect reads the counters and appends one snapshot per active series
// plus TOTAL.
func (t *Tracker) Collect(now time.Time) {
	if t.source == nil {
		return
	}
	cpu := t.source.CPUHashes()
	gpu := t.source.GPUHashes()

	batch := make([]Snapshot, 0, len(gpu)+2)
	var total uint64
	if len(cpu) > 0 {
		var sum uint64
		for _, c := range cpu {
			sum += c
		}
		batch = append(batch, Snapshot{Timestamp: now, Type: TypeCPU, Hashes: sum})
		total += sum
	}
	for i, g := range gpu {
		batch = append(batch, Snapshot{Timestamp: now, Type: TypeGPU, ID: i, Hashes: g})
		total += g
	}
	batch = append(batch, Snapshot{Timestamp: now, Type: TypeTotal, Hashes: total})
	t.Add(now, batch...)
}

// Add appends snapshots taken at now and prunes expired entries. Snapshots
// older than the newest entry already in the log are ignored.
func (t *Tracker) Add(now time.Time, snaps ...Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	expired := now.Add(-t.retention)
	keep := t.snapshots[:0]
	for _, s := range t.snapshots {
		if s.Timestamp.After(expired) {
			keep = append(keep, s)
		}
	}
	t.snapshots = keep

	for _, s := range snaps {
		if n := len(t.snapshots); n > 0 && s.Timestamp.Before(t.snapshots[n-1].Timestamp) {
			continue
		}
		t.snapshots = append(t.snapshots, s)
	}
}

// Len returns the number of retained snapshots.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.snapshots)
}

// Rate returns hashes per second of the series over the trailing window.
func (t *Tracker) Rate(typ string, id int, window time.Duration) uint64 {
	return t.RateAt(time.Now(), typ, id, window)
}

// RateAt is Rate evaluated at a given instant.
//
// The start point is the oldest snapshot inside the window. If it carries
// the same count as the newest snapshot (no progress between ticks) the
// newest snapshot with a smaller count is used instead, so an idle tick
// does not read as zero.
func (t *Tracker) RateAt(now time.Time, typ string, id int, window time.Duration) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	from := now.Add(-window)
	var first, latest *Snapshot
	for i := range t.snapshots {
		s := &t.snapshots[i]
		if s.Type != typ || s.ID != id {
			continue
		}
		if !s.Timestamp.Before(from) && (first == nil || s.Timestamp.Before(first.Timestamp)) {
			first = s
		}
		if latest == nil || !s.Timestamp.Before(latest.Timestamp) {
			latest = s
		}
	}
	if first == nil || latest == nil {
		return 0
	}

	if first.Hashes == latest.Hashes {
		first = nil
		for i := range t.snapshots {
			s := &t.snapshots[i]
			if s.Type != typ || s.ID != id || s.Hashes >= latest.Hashes {
				continue
			}
			if first == nil || !s.Timestamp.Before(first.Timestamp) {
				first = s
			}
		}
		if first == nil {
			return 0
		}
	}

	elapsed := latest.Timestamp.Sub(first.Timestamp).Seconds()
	if elapsed <= 0 || latest.Hashes < first.Hashes {
		return 0
	}
	return uint64(float64(latest.Hashes-first.Hashes) / elapsed)
}
