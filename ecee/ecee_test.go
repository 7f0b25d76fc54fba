package ecee

import (
	"errors"
	"reflect"
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/distributed/ecat/ecfr"
	"github.com/distributed/ecat/ecmd"
	"github.com/distributed/ecat/sim"
)

func newEEPROM(t *testing.T) (EEPROM, *sim.L2Slave) {
	s := sim.NewL2Slave()
	c := ecmd.NewCommandFramer(&sim.L2Bus{Slaves: []sim.FrameProcessor{s}})
	ee, err := New(c, ecfr.PositionalAddress(0, 0))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return ee, s
}

func TestReadWords(t *testing.T) {
	ee, s := newEEPROM(t)
	s.EEPROM.BusyReads = 2

	words, err := ReadWords(ee, 0x18, 5)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := []uint16{0xee18, 0xee19, 0xee1a, 0xee1b, 0xee1c}
	if !reflect.DeepEqual(words, want) {
		t.Fatalf("words\n%s", spew.Sdump(words))
	}

	w, err := ee.ReadWord(0x0a)
	if err != nil || w != 0xee0a {
		t.Fatalf("word %#04x, %v", w, err)
	}
}

func TestWriteWord(t *testing.T) {
	ee, s := newEEPROM(t)

	if err := ee.WriteWord(0x20, 0xbeef); err != nil {
		t.Fatalf("write: %v", err)
	}
	if s.EEPROM.Array[0x20] != 0xbeef || s.EEPROM.Writes != 1 {
		t.Fatalf("word %#04x after %d writes", s.EEPROM.Array[0x20], s.EEPROM.Writes)
	}
	if w, err := ee.ReadWord(0x20); err != nil || w != 0xbeef {
		t.Fatalf("read back %#04x, %v", w, err)
	}
}

func TestBusy(t *testing.T) {
	ee, s := newEEPROM(t)
	s.EEPROM.Busy = true

	if _, err := ee.ReadWord(0); !errors.Is(err, ErrBusy) {
		t.Fatalf("error %v, want busy", err)
	}
}

func TestStatusError(t *testing.T) {
	ee, s := newEEPROM(t)
	s.EEPROM.EENotLoaded = true

	_, err := ee.ReadWord(0)
	var se *StatusError
	if !errors.As(err, &se) || se.Status&notLoaded == 0 {
		t.Fatalf("error %v", err)
	}
}

func TestClosed(t *testing.T) {
	ee, _ := newEEPROM(t)
	ee.Close()
	if _, err := ee.ReadWord(0); !errors.Is(err, ErrClosed) {
		t.Fatalf("read after close: %v", err)
	}
}
