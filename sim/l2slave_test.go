package sim

import (
	"bytes"
	"testing"

	"github.com/distributed/ecat/ecad"
	"github.com/distributed/ecat/ecfr"
	"github.com/distributed/ecat/ecmd"
)

func TestWorkingCounterIncrement(t *testing.T) {
	cases := []struct {
		ct          ecfr.CommandType
		read, write bool
		want        uint16
	}{
		{ecfr.FPRD, true, true, 1},
		{ecfr.FPWR, true, true, 1},
		{ecfr.FPWR, true, false, 0},
		{ecfr.FPRW, true, true, 3},
		{ecfr.FPRW, true, false, 1},
		{ecfr.FPRW, false, true, 2},
		{ecfr.NOP, true, true, 0},
	}
	for _, c := range cases {
		if got := workingCounterIncrement(c.ct, c.read, c.write); got != c.want {
			t.Fatalf("%v read %v write %v: %d, want %d", c.ct, c.read, c.write, got, c.want)
		}
	}
}

func TestBusRing(t *testing.T) {
	bus := &L2Bus{Slaves: []FrameProcessor{NewL2Slave(), NewL2Slave(), NewL2Slave()}}
	c := ecmd.NewCommandFramer(bus)

	rb, err := ecmd.ExecuteRead(c, ecfr.BroadcastAddress(ecad.Type), 1, 3)
	if err != nil {
		t.Fatalf("broadcast read: %v", err)
	}
	if rb[0] != 0x11 {
		t.Fatalf("ESC type %#02x", rb[0])
	}

	for pos := uint16(0); pos < 3; pos++ {
		station := 0x1000 + pos
		err := ecmd.ExecuteWrite(c, ecfr.PositionalAddress(pos, ecad.ConfiguredStationAddress),
			[]byte{uint8(station), uint8(station >> 8)}, 1)
		if err != nil {
			t.Fatalf("position %d: %v", pos, err)
		}
	}
	for i, s := range bus.Slaves {
		if st := s.(*L2Slave).Station(); st != 0x1000+uint16(i) {
			t.Fatalf("slave %d has station %#04x", i, st)
		}
	}
}

func TestBusLostReply(t *testing.T) {
	s := NewL2Slave()
	var tapped int
	bus := &L2Bus{Slaves: []FrameProcessor{s}, DropReplies: 1, Tap: func(*ecfr.Frame) { tapped++ }}
	c := ecmd.NewCommandFramer(bus)

	data := []byte{1, 2, 3, 4}
	if err := ecmd.ExecuteWrite(c, ecfr.PositionalAddress(0, 0x0f80), data, 1); err != nil {
		t.Fatalf("write after lost reply: %v", err)
	}
	if bus.Frames != 2 || tapped != 1 {
		t.Fatalf("%d frames, %d replies", bus.Frames, tapped)
	}
	if !bytes.Equal(s.BackingMemory[0x0f80:0x0f84], data) {
		t.Fatalf("memory % x", s.BackingMemory[0x0f80:0x0f84])
	}
}

func TestALControl(t *testing.T) {
	s := NewL2Slave()
	c := ecmd.NewCommandFramer(&L2Bus{Slaves: []FrameProcessor{s}})
	al := ecfr.PositionalAddress(0, ecad.ALControl)

	// without the acknowledge bit the error stays
	if err := ecmd.ExecuteWrite(c, al, []byte{ecad.ALStatePreOp, 0}, 1); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !s.ALStatusControl.InError() {
		t.Fatalf("error cleared without acknowledge")
	}

	if err := ecmd.ExecuteWrite(c, al, []byte{ecad.ALStatePreOp | ecad.ALStateAckErr, 0}, 1); err != nil {
		t.Fatalf("write: %v", err)
	}
	if s.ALStatusControl.InError() || s.ALStatusControl.Store != ecad.ALStatePreOp {
		t.Fatalf("AL store %#04x", s.ALStatusControl.Store)
	}

	s.ALStatusControl.Refuse = map[uint8]uint16{ecad.ALStateOp: 0x001b}
	if err := ecmd.ExecuteWrite(c, al, []byte{ecad.ALStateOp, 0}, 1); err != nil {
		t.Fatalf("write: %v", err)
	}
	rb, err := ecmd.ExecuteRead(c, ecfr.PositionalAddress(0, ecad.ALStatus), 6, 1)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if rb[0] != ecad.ALStatePreOp|ecad.ALStateAckErr || rb[4] != 0x1b {
		t.Fatalf("AL status % x", rb)
	}
}

func TestEEPROMWriteProtect(t *testing.T) {
	s := NewL2Slave()
	ee := s.EEPROM.Reg()

	shadow := make([]byte, eeRegisterLength)
	mask := make([]bool, eeRegisterLength)
	shadow[3], mask[3] = eeCommandWrite, true
	ee.Latch(shadow, mask)
	if !s.EEPROM.ErrorWriteEnable || s.EEPROM.Writes != 0 {
		t.Fatalf("write without enable accepted")
	}

	shadow[2], mask[2] = eeWriteEnable, true
	shadow[8], mask[8] = 0x34, true
	shadow[9], mask[9] = 0x12, true
	ee.Latch(shadow, mask)
	if s.EEPROM.Array[0] != 0x1234 || s.EEPROM.WriteEnable {
		t.Fatalf("word %#04x, write enable %v", s.EEPROM.Array[0], s.EEPROM.WriteEnable)
	}
}
