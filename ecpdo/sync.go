package ecpdo

import (
	"encoding/binary"
	"fmt"
)

// SyncPageSize is the size of a sync manager register page.
const SyncPageSize = 8

// Sync is a sync manager of a slave as described by its SII or ESI, with
// the PDOs currently assigned to it.
type Sync struct {
	PhysicalStartAddress uint16
	DefaultLength        uint16
	ControlRegister      uint8
	Enable               uint8

	Pdos PdoList
}

func (s *Sync) Copy() *Sync {
	c := *s
	c.Pdos = PdoList{}
	c.Pdos.Copy(&s.Pdos)
	return &c
}

// Virtual sync managers have no buffer and are never enabled.
func (s *Sync) Virtual() bool {
	return s.Enable&0x04 != 0
}

// AddPdo assigns a copy of p.
func (s *Sync) AddPdo(p *Pdo) *Pdo {
	return s.Pdos.AddCopy(p)
}

// DefaultDirection derives the direction from the control register.
func (s *Sync) DefaultDirection() Direction {
	switch (s.ControlRegister & 0x0c) >> 2 {
	case 0x0:
		return DirInput
	case 0x1:
		return DirOutput
	}
	return DirInvalid
}

// Page renders the sync manager register page. sc, if not nil, overrides
// direction and watchdog of the control byte. pdoXfer enables a sync
// manager carrying process data regardless of its default enable bit.
func (s *Sync) Page(dataSize uint16, sc *SyncConfig, pdoXfer bool) [SyncPageSize]byte {
	control := s.ControlRegister

	if sc != nil {
		switch sc.Dir {
		case DirOutput, DirInput:
			control = setBit(control, 2, sc.Dir == DirOutput)
			control = setBit(control, 3, false)
		}

		switch sc.WatchdogMode {
		case WatchdogEnable, WatchdogDisable:
			control = setBit(control, 6, sc.WatchdogMode == WatchdogEnable)
		}
	}

	var enable uint16
	if (s.Enable&0x01 != 0 || pdoXfer) && dataSize > 0 && !s.Virtual() {
		enable = 1
	}

	var page [SyncPageSize]byte
	binary.LittleEndian.PutUint16(page[0:], s.PhysicalStartAddress)
	binary.LittleEndian.PutUint16(page[2:], dataSize)
	page[4] = control
	page[5] = 0x00 // status, read only
	binary.LittleEndian.PutUint16(page[6:], enable)
	return page
}

func (s *Sync) String() string {
	return fmt.Sprintf("start %#04x len %d ctrl %#02x enable %#02x pdos %d",
		s.PhysicalStartAddress, s.DefaultLength, s.ControlRegister, s.Enable, s.Pdos.Count())
}

func setBit(b uint8, bit uint, v bool) uint8 {
	if v {
		return b | 1<<bit
	}
	return b &^ (1 << bit)
}

type WatchdogMode int

const (
	WatchdogDefault WatchdogMode = iota
	WatchdogEnable
	WatchdogDisable
)

// SyncConfig is the desired configuration of a sync manager.
type SyncConfig struct {
	Dir          Direction
	WatchdogMode WatchdogMode
	Pdos         PdoList
}
