package ecfr

import (
	"bytes"
	"testing"

	"github.com/davecgh/go-spew/spew"
)

func TestFrameCommitOverlay(t *testing.T) {
	buf := make([]byte, 128)
	f, err := PointFrameTo(buf)
	if err != nil {
		t.Fatalf("PointFrameTo failed: %v", err)
	}
	f.Header.SetType(FrameTypeCommands)

	payloads := [][]byte{{0x01, 0x02, 0x03}, {0xaa, 0xbb, 0xcc, 0xdd, 0xee}}
	for i, pl := range payloads {
		dg, err := f.NewDatagram(len(pl))
		if err != nil {
			t.Fatalf("NewDatagram %d failed: %v", i, err)
		}
		copy(dg.Data(), pl)
		dg.Command = FPWR
		dg.Addr32 = FixedAddress(0x1001, 0x1000+uint16(i)).Addr32()
		dg.WorkingCounter = uint16(i)
		dg.SetLast(i == len(payloads)-1)
	}

	wire, err := f.Commit()
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if len(wire) != FrameOverheadLen+2*DatagramOverheadLength+8 {
		t.Fatalf("unexpected committed frame length %d", len(wire))
	}

	var in Frame
	_, err = in.Overlay(wire)
	if err != nil {
		t.Fatalf("Overlay failed: %v", err)
	}

	if in.Header.Type() != FrameTypeCommands {
		t.Fatalf("frame type %d, want %d", in.Header.Type(), FrameTypeCommands)
	}
	if len(in.Datagrams) != len(payloads) {
		t.Fatalf("expected %d datagrams, got %d:\n%s", len(payloads), len(in.Datagrams), in.MultilineSummary())
	}
	for i, dg := range in.Datagrams {
		if !bytes.Equal(dg.Data(), payloads[i]) {
			spew.Dump(dg)
			t.Fatalf("dgram %d: payload % x, want % x", i, dg.Data(), payloads[i])
		}
		if dg.Command != FPWR || dg.WorkingCounter != uint16(i) {
			t.Fatalf("dgram %d: got %s", i, dg.Summary())
		}
		if dg.OffsetAddr() != 0x1000+uint16(i) || dg.SlaveAddr() != 0x1001 {
			t.Fatalf("dgram %d: address %#08x", i, dg.Addr32)
		}
	}
}

func TestFrameNewDatagramTooLong(t *testing.T) {
	f, err := PointFrameTo(make([]byte, 32))
	if err != nil {
		t.Fatalf("PointFrameTo failed: %v", err)
	}
	if _, err := f.NewDatagram(32); err == nil {
		t.Fatalf("NewDatagram did not fail for a datagram larger than the frame")
	}
}

func TestPositionalAddressIncrement(t *testing.T) {
	a := PositionalAddress(2, 0x0130)
	for i := 0; i < 2; i++ {
		if a.PositionOrAddress() == 0 {
			t.Fatalf("addressed too early after %d increments", i)
		}
		a.IncrementSlaveAddr()
	}
	if a.PositionOrAddress() != 0 {
		t.Fatalf("position %#04x after 2 increments, want 0", a.PositionOrAddress())
	}
	if a.Offset() != 0x0130 {
		t.Fatalf("offset changed to %#04x", a.Offset())
	}

	back := DatagramAddressFromCommand(a.Addr32(), a.ReadCommand())
	if back.Type() != Positional || back.Addr32() != a.Addr32() {
		t.Fatalf("round trip via command lost the address: %v", back)
	}
}

func TestFixedAddressCommands(t *testing.T) {
	a := FixedAddress(0x1001, 0x0808)
	if a.ReadCommand() != FPRD || a.WriteCommand() != FPWR {
		t.Fatalf("fixed address commands %v/%v", a.ReadCommand(), a.WriteCommand())
	}
	a.IncrementSlaveAddr()
	if a.PositionOrAddress() != 0x1001 {
		t.Fatalf("fixed address must not auto increment")
	}
	a.SetOffset(0x080d)
	if a.Offset() != 0x080d || a.PositionOrAddress() != 0x1001 {
		t.Fatalf("SetOffset: got %v", a)
	}
}
