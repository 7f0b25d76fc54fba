package ecpdo

import (
	"encoding/binary"
	"fmt"
)

const FmmuPageSize = 16

// Domain is a contiguous logical process image built from FMMUs of any
// number of slaves.
type Domain struct {
	Index    int
	DataSize uint32
	Fmmus    []*FmmuConfig
}

func (d *Domain) addFmmu(f *FmmuConfig) {
	d.Fmmus = append(d.Fmmus, f)
	d.DataSize += uint32(f.DataSize)
}

// FmmuConfig maps the process data of one sync manager of one slave into a
// domain.
type FmmuConfig struct {
	SyncIndex           int
	Dir                 Direction
	LogicalStartAddress uint32
	DataSize            uint16
	Domain              *Domain
}

// NewFmmuConfig places the PDOs of a sync manager at the current end of
// domain and appends the FMMU to it. Construction order is layout order.
func NewFmmuConfig(domain *Domain, syncIndex int, dir Direction, pdos *PdoList) *FmmuConfig {
	f := &FmmuConfig{
		SyncIndex:           syncIndex,
		Dir:                 dir,
		LogicalStartAddress: domain.DataSize,
		DataSize:            uint16(pdos.TotalSize()),
		Domain:              domain,
	}
	domain.addFmmu(f)
	return f
}

// Page renders the FMMU register page; sync is the sync manager the FMMU
// maps.
func (f *FmmuConfig) Page(sync *Sync) [FmmuPageSize]byte {
	var page [FmmuPageSize]byte
	binary.LittleEndian.PutUint32(page[0:], f.LogicalStartAddress)
	binary.LittleEndian.PutUint16(page[4:], f.DataSize)
	page[6] = 0x00 // logical start bit
	page[7] = 0x07 // logical end bit
	binary.LittleEndian.PutUint16(page[8:], sync.PhysicalStartAddress)
	page[10] = 0x00 // physical start bit
	if f.Dir == DirInput {
		page[11] = 0x01
	} else {
		page[11] = 0x02
	}
	binary.LittleEndian.PutUint16(page[12:], 0x0001)
	binary.LittleEndian.PutUint16(page[14:], 0x0000)
	return page
}

func (f *FmmuConfig) String() string {
	return fmt.Sprintf("sm%d %v logical %#08x size %d", f.SyncIndex, f.Dir, f.LogicalStartAddress, f.DataSize)
}
