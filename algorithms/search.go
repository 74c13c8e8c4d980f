package algorithms

import (
	"crypto/rand"
	"encoding/binary"
)

const (
	// CandidateSize is target(32) + difficulty(1) + nonce(31).
	CandidateSize = 64
	TargetSize    = 32
	NonceOffset   = 33
	SolutionSize  = CandidateSize - TargetSize
)

// CheckLeadingZeroBits reports whether hash starts with difficulty zero bits.
func CheckLeadingZeroBits(hash []byte, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	return checkLeadingZeroBits(hash, difficulty/8, difficulty%8)
}

func checkLeadingZeroBits(hash []byte, challengeBytes, remainingBits int) bool {
	if challengeBytes > len(hash) {
		return false
	}
	for i := 0; i < challengeBytes; i++ {
		if hash[i] != 0 {
			return false
		}
	}
	if remainingBits > 0 {
		if challengeBytes >= len(hash) {
			return false
		}
		return hash[challengeBytes]>>(8-remainingBits) == 0
	}
	return true
}

// NewCandidate lays out target, difficulty byte and a random nonce tail.
func NewCandidate(target []byte, difficulty int) (c [CandidateSize]byte) {
	copy(c[:TargetSize], target)
	c[TargetSize] = byte(difficulty)
	rand.Read(c[NonceOffset:])
	return
}

// Search is the shared CPU loop: bump the 64 bit counter at NonceOffset,
// digest, test and emit the 32 byte tail on success. Hashes are credited and
// cancellation/pause are checked every `every` attempts.
func Search(w *Work, digest DigestFunc, every int) {
	if w.CheckEvery > 0 {
		every = w.CheckEvery
	}
	if every <= 0 {
		every = 1
	}
	bits := w.Job.Bits()
	challengeBytes, remainingBits := bits/8, bits%8
	concat := NewCandidate(w.Job.Target, bits)

	var hash [32]byte
	count := 0
	defer func() {
		if count > 0 {
			w.Hashes.Add(uint64(count))
		}
	}()

	for {
		if count == every {
			w.Hashes.Add(uint64(count))
			count = 0
			if w.Epoch.Cancelled() {
				return
			}
			if w.Pause != nil && !w.Pause.Wait(w.Epoch.Done()) {
				return
			}
		} else if count == 0 && w.Epoch.Cancelled() {
			return
		}

		n := binary.LittleEndian.Uint64(concat[NonceOffset:]) + 1
		binary.LittleEndian.PutUint64(concat[NonceOffset:], n)
		digest(&hash, concat[:])
		count++

		if checkLeadingZeroBits(hash[:], challengeBytes, remainingBits) {
			solution := make([]byte, SolutionSize)
			copy(solution, concat[TargetSize:])
			w.Emit(solution)
		}
	}
}
