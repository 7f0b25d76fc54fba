package sim

import (
	"encoding/binary"

	"github.com/distributed/ecat/ecmb"
)

const (
	coeHeaderSize = 2
	sdoHeaderSize = 8

	coeServiceSdoRequest  = 0x2
	coeServiceSdoResponse = 0x3

	SdoAbortToggle       = 0x05030000
	SdoAbortCommand      = 0x05040001
	SdoAbortNoObject     = 0x06020000
	SdoAbortReadOnly     = 0x06010002
	SdoAbortLengthTooLow = 0x06070013
)

type sdoKey struct {
	index    uint16
	subindex uint8
}

// CoeServer serves SDO transfers on an object store.
type CoeServer struct {
	Objects  map[sdoKey][]byte
	ReadOnly map[sdoKey]bool

	// Requests counts the SDO requests received.
	Requests int

	down     bool
	downKey  sdoKey
	downBuf  []byte
	downSize int
	up       []byte
	toggle   uint8
}

func NewCoeServer() *CoeServer {
	return &CoeServer{
		Objects:  make(map[sdoKey][]byte),
		ReadOnly: make(map[sdoKey]bool),
	}
}

func (c *CoeServer) Set(index uint16, subindex uint8, value []byte) {
	c.Objects[sdoKey{index, subindex}] = append([]byte(nil), value...)
}

func (c *CoeServer) Get(index uint16, subindex uint8) ([]byte, bool) {
	v, ok := c.Objects[sdoKey{index, subindex}]
	return v, ok
}

func (c *CoeServer) SetReadOnly(index uint16, subindex uint8) {
	c.ReadOnly[sdoKey{index, subindex}] = true
}

func (c *CoeServer) HandleMailbox(mb *Mailbox, p []byte) {
	if len(p) < coeHeaderSize+1 {
		return
	}
	if binary.LittleEndian.Uint16(p)>>12 != coeServiceSdoRequest {
		return
	}
	c.Requests++

	sdo := p[coeHeaderSize:]
	cmd := sdo[0]
	switch cmd >> 5 {
	case 1:
		c.initiateDownload(mb, sdo)
	case 0:
		c.downloadSegment(mb, sdo)
	case 2:
		c.initiateUpload(mb, sdo)
	case 3:
		c.uploadSegment(mb, sdo)
	case 4:
		c.down = false
		c.up = nil
	default:
		c.abort(mb, sdoKey{}, SdoAbortCommand)
	}
}

func keyOf(sdo []byte) sdoKey {
	if len(sdo) < 4 {
		return sdoKey{}
	}
	return sdoKey{binary.LittleEndian.Uint16(sdo[1:]), sdo[3]}
}

func (c *CoeServer) initiateDownload(mb *Mailbox, sdo []byte) {
	if len(sdo) < sdoHeaderSize {
		c.abort(mb, sdoKey{}, SdoAbortCommand)
		return
	}
	key := keyOf(sdo)
	if _, ok := c.Objects[key]; !ok {
		c.abort(mb, key, SdoAbortNoObject)
		return
	}
	if c.ReadOnly[key] {
		c.abort(mb, key, SdoAbortReadOnly)
		return
	}

	cmd := sdo[0]
	if cmd&0x02 != 0 {
		// expedited
		n := 4
		if cmd&0x01 != 0 {
			n = 4 - int(cmd>>2&0x03)
		}
		c.Objects[key] = append([]byte(nil), sdo[4:4+n]...)
		c.replyInitiate(mb, 0x60, key, nil)
		return
	}

	size := int(binary.LittleEndian.Uint32(sdo[4:]))
	data := sdo[sdoHeaderSize:]
	if len(data) > size {
		data = data[:size]
	}
	c.downKey = key
	c.downSize = size
	c.downBuf = append([]byte(nil), data...)
	c.toggle = 0
	c.down = len(c.downBuf) < size
	if !c.down {
		c.Objects[key] = c.downBuf
	}
	c.replyInitiate(mb, 0x60, key, nil)
}

func (c *CoeServer) downloadSegment(mb *Mailbox, sdo []byte) {
	if !c.down {
		c.abort(mb, c.downKey, SdoAbortCommand)
		return
	}
	cmd := sdo[0]
	toggle := cmd >> 4 & 0x01
	if toggle != c.toggle {
		c.down = false
		c.abort(mb, c.downKey, SdoAbortToggle)
		return
	}

	data := sdo[1:]
	if len(sdo) == sdoHeaderSize {
		data = data[:7-int(cmd>>1&0x07)]
	}
	c.downBuf = append(c.downBuf, data...)
	last := cmd&0x01 != 0

	c.segmentReply(mb, 0x20|toggle<<4, nil)
	c.toggle ^= 1

	if last {
		c.down = false
		if len(c.downBuf) > c.downSize {
			c.downBuf = c.downBuf[:c.downSize]
		}
		c.Objects[c.downKey] = c.downBuf
	}
}

func (c *CoeServer) initiateUpload(mb *Mailbox, sdo []byte) {
	key := keyOf(sdo)
	v, ok := c.Objects[key]
	if !ok {
		c.abort(mb, key, SdoAbortNoObject)
		return
	}

	if len(v) > 0 && len(v) <= 4 {
		var d [4]byte
		copy(d[:], v)
		cmd := 0x43 | uint8(4-len(v))<<2
		c.replyInitiate(mb, cmd, key, d[:])
		return
	}

	capacity := int(mb.TxSize) - ecmb.HeaderSize - coeHeaderSize - sdoHeaderSize
	n := len(v)
	if n > capacity {
		n = capacity
	}
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(len(v)))
	c.replyInitiate(mb, 0x41, key, append(size[:], v[:n]...))
	c.up = v[n:]
	c.toggle = 0
}

func (c *CoeServer) uploadSegment(mb *Mailbox, sdo []byte) {
	if c.up == nil {
		c.abort(mb, sdoKey{}, SdoAbortCommand)
		return
	}
	toggle := sdo[0] >> 4 & 0x01
	if toggle != c.toggle {
		c.up = nil
		c.abort(mb, sdoKey{}, SdoAbortToggle)
		return
	}

	capacity := int(mb.TxSize) - ecmb.HeaderSize - coeHeaderSize - 1
	n := len(c.up)
	if n > capacity {
		n = capacity
	}
	data := c.up[:n]
	c.up = c.up[n:]

	cmd := toggle << 4
	if len(c.up) == 0 {
		cmd |= 0x01
		c.up = nil
	}
	if n < 7 {
		cmd |= uint8(7-n) << 1
		pad := make([]byte, 7)
		copy(pad, data)
		data = pad
	}
	c.segmentReply(mb, cmd, data)
	c.toggle ^= 1
}

func (c *CoeServer) replyInitiate(mb *Mailbox, cmd uint8, key sdoKey, data []byte) {
	p := make([]byte, coeHeaderSize+4, coeHeaderSize+sdoHeaderSize+len(data))
	binary.LittleEndian.PutUint16(p, coeServiceSdoResponse<<12)
	p[2] = cmd
	binary.LittleEndian.PutUint16(p[3:], key.index)
	p[5] = key.subindex
	p = append(p, data...)
	for len(p) < coeHeaderSize+sdoHeaderSize {
		p = append(p, 0)
	}
	mb.Reply(ecmb.TypeCoE, p)
}

func (c *CoeServer) segmentReply(mb *Mailbox, cmd uint8, data []byte) {
	p := make([]byte, coeHeaderSize+1, coeHeaderSize+sdoHeaderSize+len(data))
	binary.LittleEndian.PutUint16(p, coeServiceSdoResponse<<12)
	p[2] = cmd
	p = append(p, data...)
	for len(p) < coeHeaderSize+sdoHeaderSize {
		p = append(p, 0)
	}
	mb.Reply(ecmb.TypeCoE, p)
}

func (c *CoeServer) abort(mb *Mailbox, key sdoKey, code uint32) {
	var d [4]byte
	binary.LittleEndian.PutUint32(d[:], code)
	c.replyInitiate(mb, 0x80, key, d[:])
}
