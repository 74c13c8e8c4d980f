package types

import (
	"errors"
	"fmt"
)

// FaultKind classifies pipeline errors.
type FaultKind string

const (
	// FaultTransport covers connect, read and write failures. They are retried.
	FaultTransport FaultKind = "transport"
	// FaultProtocol covers malformed or unexpected messages. The message is dropped.
	FaultProtocol FaultKind = "protocol"
	// FaultCompute covers algorithm and backend failures. The affected
	// workers stay idle until the next job.
	FaultCompute FaultKind = "compute"
)

// Fault is an error tagged with its kind and the operation that failed.
type Fault struct {
	Kind FaultKind
	Op   string
	Err  error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s fault in %s: %v", f.Kind, f.Op, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

func newFault(kind FaultKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Fault{Kind: kind, Op: op, Err: err}
}

func TransportFault(op string, err error) error { return newFault(FaultTransport, op, err) }

func ProtocolFault(op string, err error) error { return newFault(FaultProtocol, op, err) }

func ComputeFault(op string, err error) error { return newFault(FaultCompute, op, err) }

// KindOf returns the kind of the first Fault in err's chain, or "" if none.
func KindOf(err error) FaultKind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}
