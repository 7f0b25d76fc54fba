package ecmd

import (
	"testing"

	"github.com/distributed/ecat/ecfr"
)

// countingFramer loops frames back and counts cycles.
type countingFramer struct {
	loopFramer
	cycles int
}

func (f *countingFramer) Cycle() ([]*ecfr.Frame, error) {
	f.cycles++
	return f.loopFramer.Cycle()
}

func TestExecuteWorkingCounterTries(t *testing.T) {
	f := &countingFramer{}
	c := NewCommandFramer(f)

	err := ExecuteWriteOptions(c, ecfr.FixedAddress(0x1001, 0x0120), []byte{2, 0}, 1, Options{WCTries: 4})
	if !IsWorkingCounterError(err) {
		t.Fatalf("error %v, want working counter error", err)
	}
	if f.cycles != 4 {
		t.Fatalf("%d cycles, want 4", f.cycles)
	}

	wc, err := WorkingCounter(c, ecfr.BroadcastAddress(0), 1)
	if err != nil || wc != 0 {
		t.Fatalf("working counter %d, %v", wc, err)
	}
}

func TestExecuteFrameLoss(t *testing.T) {
	f := &countingFramer{loopFramer: loopFramer{drop: map[int]bool{0: true}}}
	c := NewCommandFramer(f)

	_, err := ExecuteReadOptions(c, ecfr.FixedAddress(0x1001, 0x0130), 2, 1, Options{FramelossTries: 2})
	if !IsNoFrame(err) {
		t.Fatalf("error %v, want lost frame", err)
	}
	if f.cycles != 2 {
		t.Fatalf("%d cycles, want 2", f.cycles)
	}
}
