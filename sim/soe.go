package sim

import (
	"encoding/binary"

	"github.com/distributed/ecat/ecmb"
)

const (
	soeReadRequest   = 0x01
	soeReadResponse  = 0x02
	soeWriteRequest  = 0x03
	soeWriteResponse = 0x04

	soeIncomplete    = 0x08
	soeError         = 0x10
	soeValueIncluded = 0x40

	soeHeaderSize   = 4
	soeDriveNoShift = 5

	SoeErrNoIDN    = 0x1001
	SoeErrReadOnly = 0x7004
	SoeErrGeneral  = 0x800B
)

type soeKey struct {
	drive uint8
	idn   uint16
}

// SoeServer holds the IDNs of the drives behind one slave.
type SoeServer struct {
	IDNs     map[soeKey][]byte
	ReadOnly map[soeKey]bool

	// OmitValue answers reads without the value included flag.
	OmitValue bool
	// WriteIDNs records the IDN field of every write request fragment.
	WriteIDNs []uint16

	wbuf []byte
}

func NewSoeServer() *SoeServer {
	return &SoeServer{
		IDNs:     make(map[soeKey][]byte),
		ReadOnly: make(map[soeKey]bool),
	}
}

func (s *SoeServer) Set(drive uint8, idn uint16, value []byte) {
	s.IDNs[soeKey{drive, idn}] = append([]byte(nil), value...)
}

func (s *SoeServer) Get(drive uint8, idn uint16) ([]byte, bool) {
	v, ok := s.IDNs[soeKey{drive, idn}]
	return v, ok
}

func (s *SoeServer) SetReadOnly(drive uint8, idn uint16) {
	s.ReadOnly[soeKey{drive, idn}] = true
}

func (s *SoeServer) HandleMailbox(mb *Mailbox, p []byte) {
	if len(p) < soeHeaderSize {
		return
	}
	op := p[0] & 0x07
	incomplete := p[0]&soeIncomplete != 0
	drive := p[0] >> soeDriveNoShift
	idn := binary.LittleEndian.Uint16(p[2:])
	key := soeKey{drive, idn}

	switch op {
	case soeReadRequest:
		v, ok := s.IDNs[key]
		if !ok {
			s.replyError(mb, soeReadResponse, drive, idn, SoeErrNoIDN)
			return
		}
		s.sendValue(mb, drive, idn, v)

	case soeWriteRequest:
		s.WriteIDNs = append(s.WriteIDNs, idn)
		s.wbuf = append(s.wbuf, p[soeHeaderSize:]...)
		if incomplete {
			return
		}
		v := s.wbuf
		s.wbuf = nil
		if s.ReadOnly[key] {
			s.replyError(mb, soeWriteResponse, drive, idn, SoeErrReadOnly)
			return
		}
		s.IDNs[key] = v
		s.reply(mb, soeWriteResponse, drive, 0, idn, nil)

	default:
		s.replyError(mb, op+1, drive, idn, SoeErrGeneral)
	}
}

// sendValue answers a read, split into incomplete fragments carrying the
// number of fragments left when the value exceeds the mailbox.
func (s *SoeServer) sendValue(mb *Mailbox, drive uint8, idn uint16, v []byte) {
	var flags uint8
	if !s.OmitValue {
		flags = soeValueIncluded
	}

	capacity := int(mb.TxSize) - ecmb.HeaderSize - soeHeaderSize
	left := (len(v)+capacity-1)/capacity - 1
	for len(v) > capacity {
		s.reply(mb, soeReadResponse|soeIncomplete, drive, flags, uint16(left), v[:capacity])
		v = v[capacity:]
		left--
	}
	s.reply(mb, soeReadResponse, drive, flags, idn, v)
}

func (s *SoeServer) reply(mb *Mailbox, header uint8, drive uint8, flags uint8, idn uint16, data []byte) {
	p := make([]byte, soeHeaderSize+len(data))
	p[0] = header | drive<<soeDriveNoShift
	p[1] = flags
	binary.LittleEndian.PutUint16(p[2:], idn)
	copy(p[soeHeaderSize:], data)
	mb.Reply(ecmb.TypeSoE, p)
}

func (s *SoeServer) replyError(mb *Mailbox, op uint8, drive uint8, idn uint16, code uint16) {
	var ec [2]byte
	binary.LittleEndian.PutUint16(ec[:], code)
	s.reply(mb, op|soeError, drive, 0, idn, ec[:])
}
