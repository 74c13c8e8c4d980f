package statistics

import (
	"testing"
	"time"
)

type fakeCounters struct {
	cpu []uint64
	gpu []uint64
}

func (f *fakeCounters) CPUHashes() []uint64 { return f.cpu }
func (f *fakeCounters) GPUHashes() []uint64 { return f.gpu }

func TestRateOverWindow(t *testing.T) {
	src := &fakeCounters{cpu: []uint64{0, 0}}
	tr := NewTracker(src)
	start := time.Unix(1600000000, 0)

	for i := 0; i < 4; i++ {
		src.cpu[0] = uint64(i) * 5000
		src.cpu[1] = uint64(i) * 5000
		tr.Collect(start.Add(time.Duration(i) * 10 * time.Second))
	}
	now := start.Add(30 * time.Second)
	if r := tr.RateAt(now, TypeCPU, 0, time.Minute); r != 1000 {
		t.Errorf("cpu rate = %d, want 1000", r)
	}
	if r := tr.RateAt(now, TypeTotal, 0, time.Minute); r != 1000 {
		t.Errorf("total rate = %d, want 1000", r)
	}
	if r := tr.RateAt(now, TypeGPU, 0, time.Minute); r != 0 {
		t.Errorf("gpu rate = %d, want 0", r)
	}
}

func TestRateNoProgressKeepsPreviousRate(t *testing.T) {
	tr := NewTracker(nil)
	start := time.Unix(1600000000, 0)
	tr.Add(start, Snapshot{Timestamp: start, Type: TypeTotal, Hashes: 0})
	tr.Add(start.Add(10*time.Second), Snapshot{Timestamp: start.Add(10 * time.Second), Type: TypeTotal, Hashes: 10000})
	tr.Add(start.Add(20*time.Second), Snapshot{Timestamp: start.Add(20 * time.Second), Type: TypeTotal, Hashes: 10000})

	// the window only sees the two equal snapshots
	now := start.Add(25 * time.Second)
	r := tr.RateAt(now, TypeTotal, 0, 15*time.Second)
	if r != 500 {
		t.Fatalf("rate = %d, want 500 from the earlier differing pair", r)
	}
}

func TestRateNoHistory(t *testing.T) {
	tr := NewTracker(nil)
	start := time.Unix(1600000000, 0)
	if r := tr.RateAt(start, TypeTotal, 0, time.Minute); r != 0 {
		t.Fatalf("empty tracker rate = %d", r)
	}
	tr.Add(start, Snapshot{Timestamp: start, Type: TypeTotal, Hashes: 500})
	tr.Add(start.Add(10*time.Second), Snapshot{Timestamp: start.Add(10 * time.Second), Type: TypeTotal, Hashes: 500})
	if r := tr.RateAt(start.Add(10*time.Second), TypeTotal, 0, time.Minute); r != 0 {
		t.Fatalf("flat history rate = %d, want 0", r)
	}
}

func TestPruneAndOrdering(t *testing.T) {
	tr := NewTracker(nil)
	tr.SetRetention(time.Minute)
	start := time.Unix(1600000000, 0)
	for i := 0; i < 10; i++ {
		ts := start.Add(time.Duration(i) * 10 * time.Second)
		tr.Add(ts, Snapshot{Timestamp: ts, Type: TypeTotal, Hashes: uint64(i)})
	}
	if n := tr.Len(); n != 6 {
		t.Errorf("retained %d snapshots, want 6", n)
	}
	// out of order append is ignored
	tr.Add(start.Add(95*time.Second), Snapshot{Timestamp: start, Type: TypeTotal, Hashes: 1})
	if n := tr.Len(); n != 6 {
		t.Errorf("after stale append %d snapshots, want 6", n)
	}
}

func TestFormatHashrate(t *testing.T) {
	cases := []struct {
		in   uint64
		want string
	}{
		{0, "0.00 H/s"},
		{999, "999.00 H/s"},
		{1500, "1.50 KH/s"},
		{2500000, "2.50 MH/s"},
		{3000000000000, "3.00 TH/s"},
	}
	for _, c := range cases {
		if got := FormatHashrate(c.in); got != c.want {
			t.Errorf("FormatHashrate(%d) = %q, want %q", c.in, got, c.want)
		}
	}
}
