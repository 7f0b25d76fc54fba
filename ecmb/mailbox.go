// Package ecmb moves mailbox messages between the master and a slave's
// mailbox sync managers through cycle bound datagram slots.
package ecmb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/distributed/ecat/ecad"
	"github.com/distributed/ecat/ecmd"
)

const HeaderSize = 6

// Type is the protocol type field of the mailbox header.
type Type uint8

const (
	TypeError Type = 0x00
	TypeAoE   Type = 0x01
	TypeEoE   Type = 0x02
	TypeCoE   Type = 0x03
	TypeFoE   Type = 0x04
	TypeSoE   Type = 0x05
	TypeVoE   Type = 0x0f
)

var typeName = map[Type]string{
	TypeError: "ERR",
	TypeAoE:   "AoE",
	TypeEoE:   "EoE",
	TypeCoE:   "CoE",
	TypeFoE:   "FoE",
	TypeSoE:   "SoE",
	TypeVoE:   "VoE",
}

func (t Type) String() string {
	if s, ok := typeName[t]; ok {
		return s
	}
	return fmt.Sprintf("Type(%#x)", uint8(t))
}

// Protocols is the capability mask a slave advertises in its SII. The bit
// values are unrelated to the Type numbers.
type Protocols uint16

const (
	ProtocolAoE Protocols = 0x01
	ProtocolEoE Protocols = 0x02
	ProtocolCoE Protocols = 0x04
	ProtocolFoE Protocols = 0x08
	ProtocolSoE Protocols = 0x10
	ProtocolVoE Protocols = 0x20
)

func (p Protocols) Has(q Protocols) bool { return p&q == q }

func (p Protocols) String() string {
	var names []string
	for _, e := range []struct {
		bit  Protocols
		name string
	}{{ProtocolAoE, "AoE"}, {ProtocolEoE, "EoE"}, {ProtocolCoE, "CoE"}, {ProtocolFoE, "FoE"}, {ProtocolSoE, "SoE"}, {ProtocolVoE, "VoE"}} {
		if p.Has(e.bit) {
			names = append(names, e.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// Header is the 6 byte mailbox header.
type Header struct {
	Length   uint16
	Address  uint16
	Channel  uint8
	Priority uint8
	Type     Type
	Counter  uint8
}

func (h Header) Put(b []byte) {
	binary.LittleEndian.PutUint16(b[0:], h.Length)
	binary.LittleEndian.PutUint16(b[2:], h.Address)
	b[4] = h.Channel&0x3f | h.Priority<<6
	b[5] = uint8(h.Type)&0x0f | (h.Counter&0x07)<<4
}

func ParseHeader(b []byte) (h Header, err error) {
	if len(b) < HeaderSize {
		err = fmt.Errorf("mailbox header needs %d bytes, have %d", HeaderSize, len(b))
		return
	}
	h.Length = binary.LittleEndian.Uint16(b[0:])
	h.Address = binary.LittleEndian.Uint16(b[2:])
	h.Channel = b[4] & 0x3f
	h.Priority = b[4] >> 6
	h.Type = Type(b[5] & 0x0f)
	h.Counter = (b[5] >> 4) & 0x07
	return
}

// Config locates the standard mailbox sync managers of a slave.
type Config struct {
	RxOffset  uint16    `yaml:"rx_offset"` // master to slave, SM0
	RxSize    uint16    `yaml:"rx_size"`
	TxOffset  uint16    `yaml:"tx_offset"` // slave to master, SM1
	TxSize    uint16    `yaml:"tx_size"`
	Protocols Protocols `yaml:"protocols"`
}

func (c Config) Valid() bool {
	return c.RxSize > HeaderSize && c.TxSize > HeaderSize
}

var ErrNoMailbox = errors.New("slave has no mailbox configured")

// SizeError is returned when a message does not fit the mailbox.
type SizeError struct {
	Need, Have int
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("mailbox message of %d bytes exceeds mailbox size %d", e.Need, e.Have)
}

// Mailbox is the master side of one slave's standard mailbox.
type Mailbox struct {
	Station uint16
	Config

	counter uint8
}

// Prepare turns the slot into a mailbox write of the whole receive mailbox
// and returns the size bytes following the header for the caller to fill.
func (m *Mailbox) Prepare(s *ecmd.Slot, t Type, size int) ([]byte, error) {
	if !m.Valid() {
		return nil, ErrNoMailbox
	}
	total := HeaderSize + size
	if total > int(m.RxSize) {
		return nil, &SizeError{total, int(m.RxSize)}
	}

	data := s.FPWR(m.Station, m.RxOffset, int(m.RxSize))

	m.counter = m.counter%7 + 1
	Header{
		Length:  uint16(size),
		Type:    t,
		Counter: m.counter,
	}.Put(data)

	return data[HeaderSize:total], nil
}

// PrepareCheck reads the status of the send mailbox sync manager.
func (m *Mailbox) PrepareCheck(s *ecmd.Slot) {
	s.FPRD(m.Station, ecad.SyncManager(1), ecad.SyncManagerChannelLen)
}

// Check reports whether the slave has put a message into its send mailbox.
// The slot must hold the received result of PrepareCheck.
func Check(s *ecmd.Slot) bool {
	d := s.Data()
	if len(d) <= ecad.SyncManagerStatusOffset {
		return false
	}
	return d[ecad.SyncManagerStatusOffset]&ecad.SyncManagerStatusMailboxFull != 0
}

// PrepareFetch reads the whole send mailbox.
func (m *Mailbox) PrepareFetch(s *ecmd.Slot) {
	s.FPRD(m.Station, m.TxOffset, int(m.TxSize))
}

// Fetch decodes a fetched message. A mailbox error reply from the slave is
// returned as *MailboxError.
func (m *Mailbox) Fetch(s *ecmd.Slot) (Type, []byte, error) {
	d := s.Data()
	h, err := ParseHeader(d)
	if err != nil {
		return 0, nil, err
	}

	if h.Type == TypeError {
		if len(d) < HeaderSize+4 {
			return h.Type, nil, &MailboxError{}
		}
		return h.Type, nil, &MailboxError{Code: binary.LittleEndian.Uint16(d[HeaderSize+2:])}
	}

	if int(h.Length)+HeaderSize > int(m.TxSize) || int(h.Length)+HeaderSize > len(d) {
		return h.Type, nil, fmt.Errorf("corrupt mailbox response: length %d exceeds mailbox size %d", h.Length, m.TxSize)
	}

	return h.Type, d[HeaderSize : HeaderSize+int(h.Length)], nil
}
