// Package ecpdo computes process data layouts: PDO mappings, the sync
// managers they are assigned to and the FMMUs that map them into a domain's
// logical address space.
package ecpdo

import (
	"fmt"
	"strings"
)

type Direction int

const (
	DirInvalid Direction = iota
	DirOutput
	DirInput
)

func (d Direction) String() string {
	switch d {
	case DirOutput:
		return "output"
	case DirInput:
		return "input"
	}
	return "invalid"
}

// PdoEntry is one mapped process variable.
type PdoEntry struct {
	Index     uint16
	Subindex  uint8
	BitLength uint8
	Name      string
}

func (e PdoEntry) String() string {
	return fmt.Sprintf("%#04x:%02x/%d", e.Index, e.Subindex, e.BitLength)
}

// NoSync marks a PDO that is not assigned to a sync manager.
const NoSync = -1

// Pdo is a process data object. The order of Entries is the mapping order
// and determines the layout in the process image.
type Pdo struct {
	Index     uint16
	SyncIndex int
	Name      string
	Entries   []PdoEntry
}

func NewPdo(index uint16) *Pdo {
	return &Pdo{Index: index, SyncIndex: NoSync}
}

func (p *Pdo) AddEntry(index uint16, subindex uint8, bitLength uint8) *PdoEntry {
	p.Entries = append(p.Entries, PdoEntry{Index: index, Subindex: subindex, BitLength: bitLength})
	return &p.Entries[len(p.Entries)-1]
}

func (p *Pdo) Copy() *Pdo {
	c := *p
	c.Entries = append([]PdoEntry(nil), p.Entries...)
	return &c
}

// EqualEntries compares the mappings, entry names aside.
func (p *Pdo) EqualEntries(other *Pdo) bool {
	if len(p.Entries) != len(other.Entries) {
		return false
	}
	for i, e := range p.Entries {
		o := other.Entries[i]
		if e.Index != o.Index || e.Subindex != o.Subindex || e.BitLength != o.BitLength {
			return false
		}
	}
	return true
}

func (p *Pdo) BitSize() int {
	n := 0
	for _, e := range p.Entries {
		n += int(e.BitLength)
	}
	return n
}

func (p *Pdo) String() string {
	es := make([]string, len(p.Entries))
	for i, e := range p.Entries {
		es[i] = e.String()
	}
	return fmt.Sprintf("%#04x[%s]", p.Index, strings.Join(es, " "))
}

// PdoList is an ordered set of PDOs.
type PdoList struct {
	Pdos []*Pdo
}

// Add appends a new empty PDO.
func (l *PdoList) Add(index uint16) *Pdo {
	p := NewPdo(index)
	l.Pdos = append(l.Pdos, p)
	return p
}

// AddCopy appends a copy of p.
func (l *PdoList) AddCopy(p *Pdo) *Pdo {
	c := p.Copy()
	l.Pdos = append(l.Pdos, c)
	return c
}

// Copy replaces the contents of l by copies of the PDOs in other.
func (l *PdoList) Copy(other *PdoList) {
	l.Pdos = nil
	for _, p := range other.Pdos {
		l.AddCopy(p)
	}
}

// Equal compares the PDO assignment, i.e. the indices in order.
func (l *PdoList) Equal(other *PdoList) bool {
	if len(l.Pdos) != len(other.Pdos) {
		return false
	}
	for i, p := range l.Pdos {
		if p.Index != other.Pdos[i].Index {
			return false
		}
	}
	return true
}

func (l *PdoList) Find(index uint16) *Pdo {
	for _, p := range l.Pdos {
		if p.Index == index {
			return p
		}
	}
	return nil
}

func (l *PdoList) At(pos int) *Pdo {
	if pos < 0 || pos >= len(l.Pdos) {
		return nil
	}
	return l.Pdos[pos]
}

func (l *PdoList) Count() int { return len(l.Pdos) }

// MaxDataSize is the largest process data size of a sync manager or FMMU.
const MaxDataSize = 0xffff

// TotalSize is the size of all mapped entries in whole bytes.
func (l *PdoList) TotalSize() int {
	bits := 0
	for _, p := range l.Pdos {
		bits += p.BitSize()
	}
	if bits%8 != 0 {
		return bits/8 + 1
	}
	return bits / 8
}
