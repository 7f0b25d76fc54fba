package sim

// MMDevice is a register block of a simulated ESC. Reads are served
// directly, writes are collected in a shadow copy per frame and latched at
// the end of the frame, the way an ESC applies register writes.
type MMDevice interface {
	// Read reports whether the byte at offs took part in the access.
	Read(offs uint16, dp *uint8) bool
	// WriteInteract reports whether a write to offs is accepted.
	WriteInteract(offs uint16) bool
	// Latch applies the written bytes of shadow, as marked in
	// shadowWriteMask. Both start at the device's first register.
	Latch(shadow []byte, shadowWriteMask []bool)
}

type MMapping interface {
	Start() uint16
	Length() uint16
	Device() MMDevice
}

type DevMapping struct {
	StartAddr   uint16
	LengthField uint16
	DeviceField MMDevice
}

func (d DevMapping) Start() uint16    { return d.StartAddr }
func (d DevMapping) Length() uint16   { return d.LengthField }
func (d DevMapping) Device() MMDevice { return d.DeviceField }

func contains(m MMapping, addr uint16) bool {
	return addr >= m.Start() && uint32(addr) < uint32(m.Start())+uint32(m.Length())
}
