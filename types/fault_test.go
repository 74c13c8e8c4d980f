package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestFaultKind(t *testing.T) {
	err := TransportFault("read", errors.New("eof"))
	if KindOf(err) != FaultTransport {
		t.Fatalf("kind %q", KindOf(err))
	}
	wrapped := fmt.Errorf("load: %w", ComputeFault("prepare device", errors.New("out of memory")))
	if KindOf(wrapped) != FaultCompute {
		t.Fatalf("kind %q", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatal("plain errors have no kind")
	}
	if TransportFault("read", nil) != nil || ComputeFault("load", nil) != nil {
		t.Fatal("nil error should stay nil")
	}
}
