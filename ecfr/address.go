package ecfr

import (
	"fmt"
)

type AddressType uint8

const (
	Positional AddressType = iota
	Fixed
	Broadcast
	Logical
)

func (t AddressType) String() string {
	switch t {
	case Positional:
		return "positional"
	case Fixed:
		return "fixed"
	case Broadcast:
		return "broadcast"
	case Logical:
		return "logical"
	}
	return fmt.Sprintf("AddressType(%d)", uint(t))
}

// DatagramAddress is the 32 bit datagram address together with the
// addressing mode it has to be interpreted in. For physical modes the low
// word is the position or station address and the high word the offset
// into the ESC memory.
type DatagramAddress struct {
	typ    AddressType
	addr32 uint32
}

// PositionalAddress addresses the slave at ring position pos. On the wire
// the position is sent negated, every slave increments it and the one
// seeing 0 is addressed.
func PositionalAddress(pos uint16, offset uint16) DatagramAddress {
	return DatagramAddress{Positional, uint32(offset)<<16 | uint32(uint16(-int32(pos)))}
}

func FixedAddress(station uint16, offset uint16) DatagramAddress {
	return DatagramAddress{Fixed, uint32(offset)<<16 | uint32(station)}
}

func BroadcastAddress(offset uint16) DatagramAddress {
	return DatagramAddress{Broadcast, uint32(offset) << 16}
}

func LogicalAddress(addr uint32) DatagramAddress {
	return DatagramAddress{Logical, addr}
}

func DatagramAddressFromCommand(addr32 uint32, ct CommandType) DatagramAddress {
	var t AddressType
	switch ct {
	case APRD, APWR, APRW, ARMW:
		t = Positional
	case FPRD, FPWR, FPRW, FRMW:
		t = Fixed
	case BRD, BWR, BRW:
		t = Broadcast
	case LRD, LWR, LRW:
		t = Logical
	}
	return DatagramAddress{t, addr32}
}

func (a DatagramAddress) Type() AddressType { return a.typ }

func (a DatagramAddress) Addr32() uint32 { return a.addr32 }

func (a DatagramAddress) IsPhysical() bool { return a.typ != Logical }

func (a DatagramAddress) PositionOrAddress() uint16 { return uint16(a.addr32) }

func (a DatagramAddress) Offset() uint16 { return uint16(a.addr32 >> 16) }

func (a *DatagramAddress) SetOffset(offset uint16) {
	if a.typ == Logical {
		panic("SetOffset on logical address")
	}
	a.addr32 = uint32(offset)<<16 | (a.addr32 & 0xffff)
}

// IncrementSlaveAddr is what every slave does to auto increment addresses
// when passing the datagram on.
func (a *DatagramAddress) IncrementSlaveAddr() {
	if a.typ != Positional && a.typ != Broadcast {
		return
	}
	a.addr32 = (a.addr32 & 0xffff0000) | uint32(uint16(a.addr32)+1)
}

func (a DatagramAddress) ReadCommand() CommandType {
	return [...]CommandType{APRD, FPRD, BRD, LRD}[a.typ]
}

func (a DatagramAddress) WriteCommand() CommandType {
	return [...]CommandType{APWR, FPWR, BWR, LWR}[a.typ]
}

func (a DatagramAddress) String() string {
	if a.typ == Logical {
		return fmt.Sprintf("logical %#08x", a.addr32)
	}
	return fmt.Sprintf("%v %#04x:%#04x", a.typ, a.PositionOrAddress(), a.Offset())
}
