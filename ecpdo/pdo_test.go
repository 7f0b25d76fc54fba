package ecpdo

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
)

func listOf(bitLengths ...uint8) *PdoList {
	l := &PdoList{}
	p := l.Add(0x1a00)
	for i, bl := range bitLengths {
		p.AddEntry(0x6000, uint8(i+1), bl)
	}
	return l
}

func TestPdoListTotalSize(t *testing.T) {
	cases := []struct {
		bits []uint8
		want int
	}{
		{[]uint8{10, 6}, 2},
		{[]uint8{7}, 1},
		{nil, 0},
		{[]uint8{1, 1, 1, 1, 1, 1, 1, 1, 1}, 2},
		{[]uint8{32, 16}, 6},
	}

	for i, c := range cases {
		if got := listOf(c.bits...).TotalSize(); got != c.want {
			t.Fatalf("case %d: TotalSize of %v = %d, want %d", i, c.bits, got, c.want)
		}
	}

	if got := (&PdoList{}).TotalSize(); got != 0 {
		t.Fatalf("TotalSize of empty list = %d", got)
	}
}

func TestPdoListSpansPdos(t *testing.T) {
	l := &PdoList{}
	l.Add(0x1600).AddEntry(0x7000, 1, 4)
	l.Add(0x1601).AddEntry(0x7010, 1, 5)
	if got := l.TotalSize(); got != 2 {
		t.Fatalf("TotalSize across pdos = %d, want 2", got)
	}
}

func TestFmmuAddressAssignment(t *testing.T) {
	d := &Domain{}
	sizes := []*PdoList{listOf(32), listOf(), listOf(32, 32)}
	wantAddr := []uint32{0, 4, 4}
	wantSize := []uint16{4, 0, 8}

	for i, pdos := range sizes {
		f := NewFmmuConfig(d, i+2, DirOutput, pdos)
		if f.LogicalStartAddress != wantAddr[i] || f.DataSize != wantSize[i] {
			t.Fatalf("fmmu %d: %v, want address %d size %d", i, f, wantAddr[i], wantSize[i])
		}
	}

	if d.DataSize != 12 {
		t.Fatalf("domain size %d, want 12", d.DataSize)
	}
	if len(d.Fmmus) != 3 {
		t.Fatalf("domain holds %d fmmus, want 3", len(d.Fmmus))
	}
}

func TestFmmuPage(t *testing.T) {
	d := &Domain{DataSize: 0x10}
	f := NewFmmuConfig(d, 3, DirInput, listOf(16, 8))
	sync := &Sync{PhysicalStartAddress: 0x1180}

	got := f.Page(sync)
	want := [FmmuPageSize]byte{
		0x10, 0x00, 0x00, 0x00, // logical start
		0x03, 0x00, // size
		0x00, 0x07, // start/end bit
		0x80, 0x11, // physical start
		0x00, 0x01, // physical bit, read
		0x01, 0x00, // enable
		0x00, 0x00,
	}
	if got != want {
		t.Fatalf("fmmu page\n%s\nwant\n%s", spew.Sdump(got), spew.Sdump(want))
	}

	f.Dir = DirOutput
	if page := f.Page(sync); page[11] != 0x02 {
		t.Fatalf("output fmmu type %#02x, want 0x02", page[11])
	}
}

func TestSyncPage(t *testing.T) {
	cases := []struct {
		name    string
		sync    Sync
		size    uint16
		sc      *SyncConfig
		pdoXfer bool
		control uint8
		enable  uint16
	}{
		{"default enabled", Sync{PhysicalStartAddress: 0x1000, ControlRegister: 0x64, Enable: 0x01}, 8, nil, false, 0x64, 1},
		{"disabled without pdo transfer", Sync{PhysicalStartAddress: 0x1100, ControlRegister: 0x20}, 8, nil, false, 0x20, 0},
		{"pdo transfer enables", Sync{PhysicalStartAddress: 0x1100, ControlRegister: 0x20}, 8, nil, true, 0x20, 1},
		{"empty never enabled", Sync{ControlRegister: 0x20, Enable: 0x01}, 0, nil, true, 0x20, 0},
		{"virtual never enabled", Sync{ControlRegister: 0x20, Enable: 0x05}, 4, nil, true, 0x20, 0},
		{"output override", Sync{ControlRegister: 0x28, Enable: 0x01}, 4,
			&SyncConfig{Dir: DirOutput, WatchdogMode: WatchdogEnable}, false, 0x64, 1},
		{"input override", Sync{ControlRegister: 0x64, Enable: 0x01}, 4,
			&SyncConfig{Dir: DirInput, WatchdogMode: WatchdogDisable}, false, 0x20, 1},
		{"default watchdog keeps bit", Sync{ControlRegister: 0x44, Enable: 0x01}, 4,
			&SyncConfig{Dir: DirInvalid, WatchdogMode: WatchdogDefault}, false, 0x44, 1},
	}

	for _, c := range cases {
		page := c.sync.Page(c.size, c.sc, c.pdoXfer)
		if uint16(page[0])|uint16(page[1])<<8 != c.sync.PhysicalStartAddress {
			t.Fatalf("%s: start address bytes % x", c.name, page[0:2])
		}
		if uint16(page[2])|uint16(page[3])<<8 != c.size {
			t.Fatalf("%s: length bytes % x", c.name, page[2:4])
		}
		if page[4] != c.control {
			t.Fatalf("%s: control %#02x, want %#02x", c.name, page[4], c.control)
		}
		if page[5] != 0 {
			t.Fatalf("%s: status byte %#02x", c.name, page[5])
		}
		if en := uint16(page[6]) | uint16(page[7])<<8; en != c.enable {
			t.Fatalf("%s: enable %d, want %d", c.name, en, c.enable)
		}
	}
}

func TestSyncDefaultDirection(t *testing.T) {
	if d := (&Sync{ControlRegister: 0x64}).DefaultDirection(); d != DirOutput {
		t.Fatalf("control 0x64: %v", d)
	}
	if d := (&Sync{ControlRegister: 0x20}).DefaultDirection(); d != DirInput {
		t.Fatalf("control 0x20: %v", d)
	}
	if d := (&Sync{ControlRegister: 0x2c}).DefaultDirection(); d != DirInvalid {
		t.Fatalf("control 0x2c: %v", d)
	}
}

func TestPdoCopyIsDeep(t *testing.T) {
	var src PdoList
	src.Add(0x1600).AddEntry(0x7000, 1, 16)

	var dst PdoList
	dst.Copy(&src)
	dst.Pdos[0].Entries[0].BitLength = 8

	if src.Pdos[0].Entries[0].BitLength != 16 {
		t.Fatalf("copy shares entries with source")
	}
	if !dst.Equal(&src) {
		t.Fatalf("assignment equality must only consider indices")
	}
	if dst.Pdos[0].EqualEntries(src.Pdos[0]) {
		t.Fatalf("mappings differ but compare equal")
	}
}
