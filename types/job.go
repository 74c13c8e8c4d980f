package types

import (
	"encoding/hex"
	"math"
)

type JobKind int

const (
	NewJob JobKind = iota
	RestartJob
	StopJob
)

func (k JobKind) String() string {
	switch k {
	case NewJob:
		return "NEW"
	case RestartJob:
		return "RESTART"
	case StopJob:
		return "STOP"
	}
	return "UNKNOWN"
}

// Job is a mining assignment. Jobs are never modified once published;
// derive a new one instead.
type Job struct {
	Kind       JobKind
	ID         string
	Name       string
	Target     []byte
	Difficulty float64
	Algo       string
	Epoch      *Epoch
}

// Bits is the leading-zero bit count workers search for.
func (j *Job) Bits() int {
	if j.Difficulty <= 0 {
		return 0
	}
	return int(math.Floor(j.Difficulty))
}

// WithEpoch returns a copy of j bound to e.
func (j *Job) WithEpoch(e *Epoch) *Job {
	cp := *j
	cp.Epoch = e
	return &cp
}

// ShortID returns the first 7 hex chars of target, used as display id.
func ShortID(target []byte) string {
	s := hex.EncodeToString(target)
	if len(s) > 7 {
		return s[:7]
	}
	return s
}

// JobSolution is a candidate found by a worker.
type JobSolution struct {
	Target   []byte
	Solution []byte
	Epoch    uint64
	WorkerID int
}

type SubmitResult int

const (
	Accepted SubmitResult = iota
	Rejected
	Timeout
)

func (r SubmitResult) String() string {
	switch r {
	case Accepted:
		return "ACCEPTED"
	case Rejected:
		return "REJECTED"
	case Timeout:
		return "TIMEOUT"
	}
	return "UNKNOWN"
}
