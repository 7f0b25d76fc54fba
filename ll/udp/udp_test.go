package udp

import (
	"errors"
	"fmt"
	"net"
	"os"
	"testing"
)

func TestIsTimeout(t *testing.T) {
	timeout := &net.OpError{Op: "read", Net: "udp4", Err: os.ErrDeadlineExceeded}
	if !isTimeout(timeout) {
		t.Fatalf("%v not recognized as timeout", timeout)
	}
	if !isTimeout(fmt.Errorf("cycle: %w", timeout)) {
		t.Fatalf("wrapped timeout not recognized")
	}
	if isTimeout(errors.New("connection refused")) || isTimeout(nil) {
		t.Fatalf("plain error taken for timeout")
	}
}

func TestNewFrame(t *testing.T) {
	f := &UDPFramer{}
	fr, err := f.New(maxDatagramsLen)
	if err != nil {
		t.Fatalf("new frame: %v", err)
	}
	if fr.Header.Type() != 1 || len(f.oframes) != 1 {
		t.Fatalf("frame type %d, %d frames queued", fr.Header.Type(), len(f.oframes))
	}
	if _, err := f.New(maxDatagramsLen + 1); err == nil {
		t.Fatalf("oversized frame accepted")
	}
}

func TestCloseUnopened(t *testing.T) {
	if err := (&UDPFramer{}).Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
