package clients

import (
	"testing"
	"time"
)

type fixedRate uint64

func (r fixedRate) Rate(string, int, time.Duration) uint64 { return uint64(r) }

func TestTargetDifficulty(t *testing.T) {
	cases := []struct {
		hashes uint64
		want   float64
	}{
		{0, DefaultFloor},
		{1, 5},
		{1000000, 25},
		{1 << 20, 25},
	}
	for _, c := range cases {
		if got := TargetDifficulty(c.hashes, DefaultSharesPerWindow, DefaultFloor); got != c.want {
			t.Errorf("TargetDifficulty(%d) = %v, want %v", c.hashes, got, c.want)
		}
	}
}

func TestControllerTarget(t *testing.T) {
	dc := NewDifficultyController(nil)
	if dc.Target() != DefaultFloor {
		t.Fatalf("no rate source should give the floor, got %v", dc.Target())
	}
	dc.Rates = fixedRate(1000000)
	if dc.Target() != 25 {
		t.Fatalf("target %v", dc.Target())
	}
}

func TestBurstNeverLowersDifficulty(t *testing.T) {
	dc := NewDifficultyController(fixedRate(1000000))
	now := time.Now()
	for i := 0; i < 6; i++ {
		next, ok := dc.ObserveShare(now.Add(time.Duration(i)*2*time.Second), 30)
		if ok || next != 30 {
			t.Fatalf("share %d: retarget to %v", i, next)
		}
	}
	if dc.Pending() != 0 {
		t.Fatalf("burst should clear the queue, %d pending", dc.Pending())
	}
}

func TestBurstRaisesDifficulty(t *testing.T) {
	dc := NewDifficultyController(fixedRate(1000000))
	now := time.Now()
	var retargets []float64
	for i := 0; i < 6; i++ {
		if next, ok := dc.ObserveShare(now.Add(time.Duration(i)*time.Second), 20); ok {
			retargets = append(retargets, next)
		}
	}
	if len(retargets) != 1 || retargets[0] != 25 {
		t.Fatalf("retargets %v", retargets)
	}
}

func TestSlowSharesAreNotABurst(t *testing.T) {
	dc := NewDifficultyController(fixedRate(1000000))
	now := time.Now()
	for i := 0; i < 20; i++ {
		if _, ok := dc.ObserveShare(now.Add(time.Duration(i)*10*time.Second), 20); ok {
			t.Fatalf("share %d triggered a retarget", i)
		}
	}
	if dc.Pending() != DefaultBurstSize {
		t.Fatalf("pending %d", dc.Pending())
	}
}
