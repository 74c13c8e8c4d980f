package types

import (
	"testing"
	"time"
)

func TestEpochAdvanceCancelsPrevious(t *testing.T) {
	var src EpochSource
	first := src.Advance()
	if !src.IsCurrent(first) {
		t.Fatal("fresh epoch should be current")
	}
	second := src.Advance()
	if !first.Cancelled() {
		t.Fatal("previous epoch not cancelled")
	}
	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed")
	}
	if second.Generation() <= first.Generation() {
		t.Fatalf("generations not increasing: %d then %d", first.Generation(), second.Generation())
	}
	if src.IsCurrent(first) || !src.IsCurrent(second) {
		t.Fatal("IsCurrent disagrees with Advance")
	}

	src.Cancel()
	if src.IsCurrent(second) || src.Generation() != second.Generation() {
		t.Fatal("cancel should retire the epoch without minting one")
	}
	if src.IsCurrent(nil) {
		t.Fatal("nil epoch is never current")
	}
}

func TestJobHelpers(t *testing.T) {
	j := &Job{Kind: NewJob, Difficulty: 20.9}
	if j.Bits() != 20 {
		t.Fatalf("bits %d", j.Bits())
	}
	if (&Job{Difficulty: -1}).Bits() != 0 {
		t.Fatal("negative difficulty should clamp to 0")
	}
	var src EpochSource
	bound := j.WithEpoch(src.Advance())
	if bound == j || j.Epoch != nil || bound.Epoch == nil {
		t.Fatal("WithEpoch must copy")
	}
	if got := ShortID([]byte{0xab, 0xcd, 0xef, 0x01, 0x23}); got != "abcdef0" {
		t.Fatalf("short id %q", got)
	}
}
