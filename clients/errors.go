package clients

import (
	"errors"
)

var (
	// ErrInvalidUser is returned before connecting when the identity is malformed.
	ErrInvalidUser = errors.New("invalid user")
	// ErrRetriesExhausted ends a client once the retry ceiling is reached.
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrNotConnected     = errors.New("not connected")
	ErrNoJob            = errors.New("no active job")
)
