package sim

import (
	"github.com/distributed/ecat/ecad"
	"github.com/distributed/ecat/ecfr"
)

const (
	memLength = 1 << 16
)

type FrameProcessor interface {
	ProcessFrame(*ecfr.Frame) *ecfr.Frame
}

type L2Slave struct {
	BackingMemory [memLength]byte

	// writes of the current frame, latched into mapped devices at its end
	registerShadow          [memLength]byte
	registerShadowWriteMask [memLength]bool

	regMappings []MMapping

	ALStatusControl *ALStatusControl
	EEPROM          *L2EEPROM
}

func NewL2Slave() *L2Slave {
	s := &L2Slave{}

	// ET1100 signature
	copy(s.BackingMemory[:0x10], []byte{0x11, 0x00, 0x02, 0x00, 0x08, 0x08, 0x08, 0x0b, 0xfc})

	s.ALStatusControl = NewALStatusControl()
	s.regMappings = append(s.regMappings, DevMapping{ecad.ALControl, 0x02, s.ALStatusControl.ControlReg()})
	s.regMappings = append(s.regMappings, DevMapping{ecad.ALStatus, 0x06, s.ALStatusControl.StatusReg()})

	s.EEPROM = NewL2EEPROM()
	s.regMappings = append(s.regMappings, DevMapping{ecad.ESIEEPROMInterface, 0x10, s.EEPROM.Reg()})

	return s
}

// Station returns the configured station address.
func (s *L2Slave) Station() uint16 {
	return uint16(s.BackingMemory[ecad.ConfiguredStationAddress]) |
		uint16(s.BackingMemory[ecad.ConfiguredStationAddress+1])<<8
}

// Map adds a device mapping. Mappings may cover registers as well as
// process memory.
func (s *L2Slave) Map(m MMapping) {
	s.regMappings = append(s.regMappings, m)
}

// returns true if interaction happened
func (s *L2Slave) llread8p(addr uint16, dp *uint8) bool {
	m := s.addrToMapping(addr)
	if m != nil {
		return m.Device().Read(addr-m.Start(), dp)
	}

	*dp = s.BackingMemory[addr]
	return true
}

// returns true if interaction happened.
func (s *L2Slave) llwrite8(addr uint16, d uint8) bool {
	m := s.addrToMapping(addr)
	if m != nil {
		if !m.Device().WriteInteract(addr - m.Start()) {
			return false
		}
		s.registerShadow[addr] = d
		s.registerShadowWriteMask[addr] = true
		return true
	}

	s.BackingMemory[addr] = d
	return true
}

func (s *L2Slave) addrToMapping(addr uint16) MMapping {
	for _, m := range s.regMappings {
		if contains(m, addr) {
			return m
		}
	}

	return nil
}

func (s *L2Slave) ProcessFrame(infr *ecfr.Frame) (ofr *ecfr.Frame) {
	ofr = infr

	for _, dg := range infr.Datagrams {
		if s.isPhysicalAddr(dg.Command, dg.Addr32) {
			dga := ecfr.DatagramAddressFromCommand(dg.Addr32, dg.Command)
			physaddressed := s.isPhysicallyAdressed(dga)
			dga.IncrementSlaveAddr()
			dg.Addr32 = dga.Addr32()
			if !physaddressed {
				continue
			}

			readUnmasked := true
			if dg.Command.DoesRead() {
				physbase := dga.Offset()
				for i := uint16(0); i < dg.DataLength(); i++ {
					readUnmasked = s.llread8p(physbase+i, &(dg.Data()[i])) && readUnmasked
				}
			}

			writeUnmasked := true
			if dg.Command.DoesWrite() {
				physbase := dga.Offset()
				for i := uint16(0); i < dg.DataLength(); i++ {
					writeUnmasked = s.llwrite8(physbase+i, dg.Data()[i]) && writeUnmasked
				}
			}

			dg.WorkingCounter += workingCounterIncrement(dg.Command, readUnmasked, writeUnmasked)
		}
		// no support for logical addresses
	}

	// latch register shadow into registers
	s.latchRegs()
	// frame is processed

	return
}

// workingCounterIncrement follows the ESC rules: a read counts one, a write
// one, and a combined read/write counts one for the read and two for the
// write.
func workingCounterIncrement(ct ecfr.CommandType, read, write bool) uint16 {
	switch {
	case ct.DoesRead() && ct.DoesWrite():
		var inc uint16
		if read {
			inc++
		}
		if write {
			inc += 2
		}
		return inc
	case ct.DoesRead() && read, ct.DoesWrite() && write:
		return 1
	}
	return 0
}

func (s *L2Slave) latchRegs() {
	for _, m := range s.regMappings {
		start := m.Start()
		end := start + m.Length()
		mask := s.registerShadowWriteMask[start:end]
		m.Device().Latch(s.registerShadow[start:end], mask)
		for i := range mask {
			mask[i] = false
		}
	}
}

func (s *L2Slave) isPhysicalAddr(ct ecfr.CommandType, addr32 uint32) bool {
	dga := ecfr.DatagramAddressFromCommand(addr32, ct)
	return dga.IsPhysical()
}

func (s *L2Slave) isPhysicallyAdressed(addr ecfr.DatagramAddress) bool {
	if addr.Type() == ecfr.Broadcast {
		return true
	}

	if addr.Type() == ecfr.Positional {
		return addr.PositionOrAddress() == 0
	}

	if addr.Type() == ecfr.Fixed {
		return addr.PositionOrAddress() == s.Station()
	}

	return false
}

// NewALStatusControl returns the AL registers after power on: Init with
// the error flag set.
func NewALStatusControl() *ALStatusControl {
	return &ALStatusControl{Store: 0x0011}
}

type ALStatusControl struct {
	Store uint16
	// StatusCode is the AL status code reported along with the error flag.
	StatusCode uint16
	// Refuse maps requested states to the status code they are refused
	// with.
	Refuse map[uint8]uint16
}

// Fail sets the error flag with an AL status code, as a slave refusing a
// state change does.
func (a *ALStatusControl) Fail(code uint16) {
	a.SetError(true)
	a.StatusCode = code
}

func (a *ALStatusControl) IsECATWritable() bool {
	return true
}

func (a *ALStatusControl) InError() bool {
	return (a.Store & 0x10) != 0
}

func (a *ALStatusControl) SetError(seterr bool) {
	if seterr {
		a.Store |= 0x10
	} else {
		a.Store &^= 0x10
	}
}

type ALControl struct{ *ALStatusControl }

func (sc *ALStatusControl) ControlReg() ALControl { return ALControl{sc} }

func (c ALControl) Read(offs uint16, dp *uint8) bool {
	switch offs {
	case 0:
		*dp = uint8(c.Store)
	case 1:
		*dp = uint8(c.Store >> 8)
	default:
		panic("invalid mapping for ALControl exceeds possible length")
	}

	return true
}

func (c ALControl) WriteInteract(offs uint16) bool {
	return c.IsECATWritable()
}

func (c ALControl) Latch(shadow []byte, shadowWriteMask []bool) {
	if shadowWriteMask[0] {
		if (c.InError() && (shadow[0]&0x10) != 0) || !c.InError() {
			requested := shadow[0] & 0x0f
			if code, ok := c.Refuse[requested]; ok {
				c.Fail(code)
				return
			}
			c.Store &^= 0x1f
			c.Store |= uint16(requested)
			c.StatusCode = 0
		}
	}
}

type ALStatus struct{ *ALStatusControl }

func (sc *ALStatusControl) StatusReg() ALStatus { return ALStatus{sc} }

func (s ALStatus) Read(offs uint16, dp *uint8) bool {
	switch offs {
	case 0:
		*dp = uint8(s.Store)
	case 1:
		*dp = uint8(s.Store >> 8)
	case 4:
		*dp = uint8(s.StatusCode)
	case 5:
		*dp = uint8(s.StatusCode >> 8)
	default:
		*dp = 0x00
	}
	return true
}

func (s ALStatus) WriteInteract(offs uint16) bool {
	return false
}

func (s ALStatus) Latch(shadow []byte, shadowWriteMask []bool) {}
