package sim

// SII EEPROM interface control/status bits, as seen in the second byte of
// the control/status word.
const (
	eeCommandMask        = 0x07
	eeCommandNop         = 0x00
	eeCommandRead        = 0x01
	eeCommandWrite       = 0x02
	eeCommandReload      = 0x04
	eeChecksumError      = 1 << (11 - 8)
	eeNotLoaded          = 1 << (12 - 8)
	eeMissingAcknowledge = 1 << (13 - 8)
	eeErrorWriteEnable   = 1 << (14 - 8)
	eeBusy               = 1 << (15 - 8)

	// first byte: write enable, 8 byte reads, 2 address bytes
	eeWriteEnable = 0x01
	eeRead8Bytes  = 0x40
	eeTwoAddrByte = 0x80

	eeRegisterLength = 0x10
)

// L2EEPROM simulates the SII EEPROM behind the ESC EEPROM interface. Reads
// fill four words into the data register.
type L2EEPROM struct {
	Array [8 * 1024]uint16

	Addr        uint32
	DataScratch [8]byte // already in wire encoding

	PDIControl         bool
	WriteEnable        bool
	ChecksumError      bool
	EENotLoaded        bool
	MissingAcknowledge bool
	ErrorWriteEnable   bool
	Busy               bool

	// BusyReads is the number of status reads a command keeps the
	// interface busy for.
	BusyReads int
	busyLeft  int

	// Writes counts the words written through the interface.
	Writes int
}

func NewL2EEPROM() *L2EEPROM {
	ee := &L2EEPROM{}

	for i := 0; i < len(ee.Array); i++ {
		ee.Array[i] = 0xee00 + uint16(i)
	}

	return ee
}

func (ee *L2EEPROM) Reg() *L2EEPROMRegisterSet {
	return &L2EEPROMRegisterSet{ee}
}

func (ee *L2EEPROM) status() (b uint8) {
	flags := []struct {
		set bool
		bit uint8
	}{
		{ee.ChecksumError, eeChecksumError},
		{ee.EENotLoaded, eeNotLoaded},
		{ee.MissingAcknowledge, eeMissingAcknowledge},
		{ee.ErrorWriteEnable, eeErrorWriteEnable},
		{ee.Busy || ee.busyLeft > 0, eeBusy},
	}
	for _, f := range flags {
		if f.set {
			b |= f.bit
		}
	}
	return
}

type L2EEPROMRegisterSet struct{ *L2EEPROM }

func (ee *L2EEPROMRegisterSet) Read(offs uint16, dp *uint8) bool {
	switch {
	case offs == 0:
		*dp = 0
		if ee.PDIControl {
			*dp = 0x01
		}
	case offs == 1:
		*dp = 0x00
	case offs == 2:
		*dp = eeRead8Bytes | eeTwoAddrByte
		if ee.WriteEnable {
			*dp |= eeWriteEnable
		}
	case offs == 3:
		*dp = ee.status()
		if ee.busyLeft > 0 {
			ee.busyLeft--
		}
	case offs >= 4 && offs < 8:
		*dp = uint8(ee.Addr >> (8 * (offs - 4)))
	case offs >= 8 && offs < eeRegisterLength:
		*dp = ee.DataScratch[offs-8]
	default:
		panic("invalid use of ee reg area, read past end")
	}

	return true
}

func (ee *L2EEPROMRegisterSet) WriteInteract(offs uint16) bool {
	if offs == 2 || offs == 3 {
		return !ee.Busy && ee.busyLeft == 0
	}
	return true
}

func (ee L2EEPROMRegisterSet) Latch(shadow []byte, shadowWriteMask []bool) {
	if shadowWriteMask[0] {
		ee.PDIControl = shadow[0]&0x01 != 0
	}
	// offset 1 is the PDI access state, not simulated

	for offs := 4; offs < 8; offs++ {
		if shadowWriteMask[offs] {
			shift := 8 * uint(offs-4)
			ee.Addr &^= 0xff << shift
			ee.Addr |= uint32(shadow[offs]) << shift
		}
	}
	for offs := 8; offs < eeRegisterLength; offs++ {
		if shadowWriteMask[offs] {
			ee.DataScratch[offs-8] = shadow[offs]
		}
	}

	// the command is executed after address and data took effect
	if shadowWriteMask[2] {
		ee.WriteEnable = shadow[2]&eeWriteEnable != 0
	}
	if shadowWriteMask[3] {
		ee.command(shadow[3] & eeCommandMask)
	}
}

func (ee *L2EEPROM) command(cmd uint8) {
	switch cmd {
	case eeCommandNop:
		ee.ChecksumError = false
		ee.EENotLoaded = false
		ee.MissingAcknowledge = false
		ee.ErrorWriteEnable = false
		return
	case eeCommandRead:
		ee.readIntoScratch()
	case eeCommandWrite:
		if !ee.WriteEnable {
			ee.ErrorWriteEnable = true
			return
		}
		ee.Array[int(ee.Addr)%len(ee.Array)] = uint16(ee.DataScratch[0]) | uint16(ee.DataScratch[1])<<8
		ee.Writes++
		ee.WriteEnable = false
	case eeCommandReload:
		ee.EENotLoaded = false
	default:
		ee.MissingAcknowledge = true
		return
	}
	ee.busyLeft = ee.BusyReads
}

func (ee *L2EEPROM) readIntoScratch() {
	for i := 0; i < 4; i++ {
		w16 := ee.Array[(int(ee.Addr)+i)%len(ee.Array)]
		ee.DataScratch[i*2] = uint8(w16)
		ee.DataScratch[i*2+1] = uint8(w16 >> 8)
	}
}
