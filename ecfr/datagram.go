package ecfr

import (
	"errors"
	"fmt"

	"github.com/davecgh/go-spew/spew"
)

const (
	datagramHeaderByteLen = 10
	workingCounterByteLen = 2

	DatagramOverheadLength = datagramHeaderByteLen + workingCounterByteLen

	// MaxDatagramDataLength is the largest payload the 11 bit length field holds.
	MaxDatagramDataLength = (1 << 11) - 1
)

type Datagram struct {
	DatagramHeader
	WorkingCounter uint16

	// header, data and working counter, in wire layout
	buffer []byte
}

// PointDatagramTo returns an empty datagram that will be committed into d.
func PointDatagramTo(d []byte) (dg Datagram, err error) {
	if len(d) < DatagramOverheadLength {
		err = fmt.Errorf("need %d bytes for an empty dgram, have %d", DatagramOverheadLength, len(d))
		return
	}

	for i := 0; i < DatagramOverheadLength; i++ {
		d[i] = 0
	}
	dg.buffer = d
	return
}

func (dg *Datagram) Overlay(d []byte) (b []byte, err error) {
	b, err = dg.DatagramHeader.Overlay(d)
	if err != nil {
		return
	}

	n := int(dg.DataLength())
	if len(b) < n {
		err = fmt.Errorf("overlaying ecat dgram: need %d bytes of data, have %d", n, len(b))
		return
	}
	b = b[n:]

	if len(b) < workingCounterByteLen {
		err = fmt.Errorf("overlaying ecat dgram: need 2 bytes for working counter, got %d", len(b))
		return
	}

	// guarded by condition above
	dg.WorkingCounter, b = getUint16(b)
	dg.buffer = d[:datagramHeaderByteLen+n+workingCounterByteLen]
	return
}

func (dg *Datagram) SetDataLen(n int) error {
	if n < 0 || n > MaxDatagramDataLength {
		return fmt.Errorf("dgram data length %d out of range", n)
	}
	if n+DatagramOverheadLength > len(dg.buffer) {
		return fmt.Errorf("dgram buffer too small for %d bytes of data, have room for %d", n, len(dg.buffer)-DatagramOverheadLength)
	}

	dg.LenWord &^= MaxDatagramDataLength
	dg.LenWord |= uint16(n)
	return nil
}

// Data is the payload, backed by the datagram buffer.
func (dg *Datagram) Data() []byte {
	if dg.buffer == nil {
		return nil
	}
	return dg.buffer[datagramHeaderByteLen : datagramHeaderByteLen+int(dg.DataLength())]
}

func (dg *Datagram) ByteLen() int {
	return DatagramOverheadLength + int(dg.DataLength())
}

// SetLast clears the "more datagrams follow" bit for the last datagram of a frame.
func (dg *Datagram) SetLast(last bool) {
	if last {
		dg.LenWord &^= 1 << lastindicatorBit
	} else {
		dg.LenWord |= 1 << lastindicatorBit
	}
}

func (dg *Datagram) Commit() (d []byte, err error) {
	if dg.buffer == nil {
		err = errors.New("dgram is not pointed to a buffer")
		return
	}
	if dg.ByteLen() > len(dg.buffer) {
		err = fmt.Errorf("dgram needs %d bytes, buffer has %d", dg.ByteLen(), len(dg.buffer))
		return
	}

	b := dg.DatagramHeader.commit(dg.buffer)
	b = b[dg.DataLength():]
	putUint16(b, dg.WorkingCounter)

	d = dg.buffer[:dg.ByteLen()]
	return
}

func (dg *Datagram) Summary() string {
	return fmt.Sprintf("%v idx %d addr %#08x len %d wc %d last %v", dg.Command, dg.Index,
		dg.Addr32, dg.DataLength(), dg.WorkingCounter, dg.Last())
}

// Dump is a verbose multiline rendition for debug logs.
func (dg *Datagram) Dump() string {
	return dg.Summary() + "\n" + spew.Sdump(dg.Data())
}

type DatagramHeader struct {
	Command   CommandType
	Index     uint8
	Addr32    uint32
	LenWord   uint16
	Interrupt uint16
}

func (dh *DatagramHeader) Overlay(d []byte) (b []byte, err error) {
	b = d
	if len(b) < datagramHeaderByteLen {
		err = fmt.Errorf("need %d bytes for dgram header, have %d", datagramHeaderByteLen, len(b))
		return
	}

	var c8 uint8
	c8, b = getUint8(b)
	dh.Command = CommandType(c8)
	dh.Index, b = getUint8(b)
	dh.Addr32, b = getUint32(b)
	dh.LenWord, b = getUint16(b)
	dh.Interrupt, b = getUint16(b)

	return
}

// bounds need to be checked already
func (dh *DatagramHeader) commit(b []byte) []byte {
	b = putUint8(b, uint8(dh.Command))
	b = putUint8(b, dh.Index)
	b = putUint32(b, dh.Addr32)
	b = putUint16(b, dh.LenWord)
	b = putUint16(b, dh.Interrupt)
	return b
}

func (dh *DatagramHeader) SlaveAddr() uint16 {
	return uint16(dh.Addr32)
}

func (dh *DatagramHeader) OffsetAddr() uint16 {
	return uint16(dh.Addr32 >> 16)
}

func (dh *DatagramHeader) LogicalAddr() uint32 {
	return dh.Addr32
}

func (dh *DatagramHeader) DataLength() uint16 {
	return dh.LenWord & MaxDatagramDataLength
}

func (dh *DatagramHeader) Roundtrip() bool {
	return (dh.LenWord & (1 << roundtripBit)) != 0
}

func (dh *DatagramHeader) Last() bool {
	return (dh.LenWord & (1 << lastindicatorBit)) == 0
}

const (
	roundtripBit     = 14
	lastindicatorBit = 15
)

type CommandType uint8

func (ct CommandType) String() string {
	if cts, ok := commandTypeName[ct]; ok {
		return cts
	}
	return fmt.Sprintf("CommandType(%d)", uint(ct))
}

func (ct CommandType) DoesRead() bool {
	switch ct {
	case APRD, FPRD, BRD, LRD, APRW, FPRW, BRW, LRW, ARMW, FRMW:
		return true
	}
	return false
}

func (ct CommandType) DoesWrite() bool {
	switch ct {
	case APWR, FPWR, BWR, LWR, APRW, FPRW, BRW, LRW:
		return true
	}
	return false
}

const (
	NOP  CommandType = 0
	APRD CommandType = 1
	APWR CommandType = 2
	APRW CommandType = 3
	FPRD CommandType = 4
	FPWR CommandType = 5
	FPRW CommandType = 6
	BRD  CommandType = 7
	BWR  CommandType = 8
	BRW  CommandType = 9
	LRD  CommandType = 10
	LWR  CommandType = 11
	LRW  CommandType = 12
	ARMW CommandType = 13
	FRMW CommandType = 14
)

var commandTypeName = map[CommandType]string{
	NOP:  "NOP",
	APRD: "APRD",
	APWR: "APWR",
	APRW: "APRW",
	FPRD: "FPRD",
	FPWR: "FPWR",
	FPRW: "FPRW",
	BRD:  "BRD",
	BWR:  "BWR",
	BRW:  "BRW",
	LRD:  "LRD",
	LWR:  "LWR",
	LRW:  "LRW",
	ARMW: "ARMW",
	FRMW: "FRMW",
}
