// Package ecee accesses the SII EEPROM of a slave through the ESC EEPROM
// interface registers.
package ecee

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/distributed/ecat/ecad"
	"github.com/distributed/ecat/ecfr"
	"github.com/distributed/ecat/ecmd"
)

// ErrBusy is returned when the EEPROM interface stays busy.
var ErrBusy = errors.New("ecee: EEPROM interface busy")

var ErrClosed = errors.New("ecee: EEPROM is already closed")

const DefaultBusyTimeout = 250 * time.Millisecond

// control/status word
const (
	writeEnable     = 0x0001
	read8Bytes      = 0x0040
	commandRead     = 0x0100
	commandWrite    = 0x0200
	checksumError   = 0x0800
	notLoaded       = 0x1000
	missingAck      = 0x2000
	writeEnableErr  = 0x4000
	busy            = 0x8000
	statusErrorMask = missingAck | writeEnableErr | notLoaded
)

// StatusError carries the error bits of the control/status word after a
// command.
type StatusError struct {
	Status uint16
}

func (e *StatusError) Error() string {
	var bits []string
	for _, b := range []struct {
		mask uint16
		name string
	}{
		{checksumError, "checksum error"},
		{notLoaded, "not loaded"},
		{missingAck, "missing acknowledge"},
		{writeEnableErr, "write enable error"},
	} {
		if e.Status&b.mask != 0 {
			bits = append(bits, b.name)
		}
	}
	return fmt.Sprintf("ecee: status %#04x: %s", e.Status, strings.Join(bits, ", "))
}

type EEPROM interface {
	ReadWord(addr uint32) (word uint16, err error)
	WriteWord(addr uint32, word uint16) (err error)
	Close() error
}

// blindEEPROM drives the EEPROM interface with blocking commands, polling
// the busy flag.
type blindEEPROM struct {
	addr        ecfr.DatagramAddress
	commander   ecmd.Commander
	busyTimeout time.Duration
	// words delivered per read command, 2 or 4
	readWords int
	closed    bool
}

func New(commander ecmd.Commander, addr ecfr.DatagramAddress) (EEPROM, error) {
	ee := &blindEEPROM{
		addr:        addr,
		commander:   commander,
		busyTimeout: DefaultBusyTimeout,
	}

	status, err := ee.waitForIdle()
	if err != nil {
		return nil, err
	}
	ee.readWords = 2
	if status&read8Bytes != 0 {
		ee.readWords = 4
	}

	return ee, nil
}

func (ee *blindEEPROM) at(offset uint16) ecfr.DatagramAddress {
	a := ee.addr
	a.SetOffset(offset)
	return a
}

func (ee *blindEEPROM) status() (uint16, error) {
	rb, err := ecmd.ExecuteRead(ee.commander, ee.at(ecad.EEPROMControlStatus), 2, 1)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(rb), nil
}

func (ee *blindEEPROM) waitForIdle() (uint16, error) {
	deadline := time.Now().Add(ee.busyTimeout)
	for {
		status, err := ee.status()
		if err != nil {
			return 0, err
		}
		if status&busy == 0 {
			return status, nil
		}
		if time.Now().After(deadline) {
			return status, ErrBusy
		}
	}
}

// command issues cmd for the word address addr, with data written to the
// data register first if not nil, and waits for its completion.
func (ee *blindEEPROM) command(cmd uint16, addr uint32, data []byte) error {
	if ee.closed {
		return ErrClosed
	}
	if _, err := ee.waitForIdle(); err != nil {
		return err
	}

	wb := make([]byte, 4)
	binary.LittleEndian.PutUint32(wb, addr)
	if err := ecmd.ExecuteWrite(ee.commander, ee.at(ecad.EEPROMAddress), wb, 1); err != nil {
		return err
	}
	if data != nil {
		if err := ecmd.ExecuteWrite(ee.commander, ee.at(ecad.EEPROMData), data, 1); err != nil {
			return err
		}
	}

	wb = wb[:2]
	binary.LittleEndian.PutUint16(wb, cmd)
	if err := ecmd.ExecuteWrite(ee.commander, ee.at(ecad.EEPROMControlStatus), wb, 1); err != nil {
		return err
	}

	status, err := ee.waitForIdle()
	if err != nil {
		return err
	}
	if status&statusErrorMask != 0 {
		return &StatusError{status}
	}
	return nil
}

// read fetches the words delivered by one read command.
func (ee *blindEEPROM) read(addr uint32) ([]uint16, error) {
	if err := ee.command(commandRead, addr, nil); err != nil {
		return nil, err
	}
	rb, err := ecmd.ExecuteRead(ee.commander, ee.at(ecad.EEPROMData), 2*ee.readWords, 1)
	if err != nil {
		return nil, err
	}
	words := make([]uint16, ee.readWords)
	for i := range words {
		words[i] = binary.LittleEndian.Uint16(rb[2*i:])
	}
	return words, nil
}

func (ee *blindEEPROM) ReadWord(addr uint32) (uint16, error) {
	words, err := ee.read(addr)
	if err != nil {
		return 0, err
	}
	return words[0], nil
}

func (ee *blindEEPROM) WriteWord(addr uint32, word uint16) error {
	return ee.command(commandWrite|writeEnable, addr, []byte{uint8(word), uint8(word >> 8)})
}

func (ee *blindEEPROM) Close() error {
	ee.closed = true
	return nil
}

// ReadWords reads n consecutive words starting at word address addr, using
// every word a read command delivers.
func ReadWords(ee EEPROM, addr uint32, n int) ([]uint16, error) {
	words := make([]uint16, 0, n)
	for len(words) < n {
		at := addr + uint32(len(words))
		var (
			got []uint16
			err error
		)
		if b, ok := ee.(*blindEEPROM); ok {
			got, err = b.read(at)
		} else {
			var w uint16
			w, err = ee.ReadWord(at)
			got = []uint16{w}
		}
		if err != nil {
			return nil, fmt.Errorf("reading SII word %#04x: %w", at, err)
		}
		words = append(words, got...)
	}
	return words[:n], nil
}
