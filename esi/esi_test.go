package esi

import (
	"strings"
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/distributed/ecat/ecmb"
)

// Latin-1 encoded, as many vendors ship them.
const sample = "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?>\n" + `<EtherCATInfo>
  <Vendor><Id>#x00000002</Id><Name>Beckhoff Automation GmbH</Name></Vendor>
  <Descriptions>
    <Groups><Group><Type>DriveAxisTerminals</Type><Name LcId="1031">Antriebs` + "\xfc" + `bersicht</Name></Group></Groups>
    <Devices>
      <Device Physics="YY">
        <Type ProductCode="#x1b813052" RevisionNo="#x00120000">EL7041</Type>
        <Name LcId="1033">EL7041 Stepper motor terminal</Name>
        <Sm MinSize="34" MaxSize="256" DefaultSize="128" StartAddress="#x1000" ControlByte="#x26" Enable="1">MBoxOut</Sm>
        <Sm MinSize="34" MaxSize="256" DefaultSize="128" StartAddress="#x1080" ControlByte="#x22" Enable="1">MBoxIn</Sm>
        <Sm StartAddress="#x1100" ControlByte="#x64" Enable="1">Outputs</Sm>
        <Sm StartAddress="#x1180" ControlByte="#x20" Enable="1">Inputs</Sm>
        <RxPdo Fixed="1" Sm="2">
          <Index>#x1600</Index><Name>ENC Control</Name>
          <Entry><Index>#x7000</Index><SubIndex>1</SubIndex><BitLen>1</BitLen><Name>Enable latch</Name><DataType>BOOL</DataType></Entry>
          <Entry><Index>#x0</Index><BitLen>15</BitLen></Entry>
          <Entry><Index>#x7000</Index><SubIndex>#x11</SubIndex><BitLen>32</BitLen><Name>Set counter value</Name><DataType>UDINT</DataType></Entry>
        </RxPdo>
        <TxPdo Fixed="1" Sm="3">
          <Index>#x1a00</Index><Name>ENC Status</Name>
          <Entry><Index>#x6000</Index><SubIndex>#x11</SubIndex><BitLen>32</BitLen><Name>Counter value</Name><DataType>UDINT</DataType></Entry>
        </TxPdo>
        <TxPdo>
          <Index>#x1a01</Index><Name>unassigned</Name>
        </TxPdo>
        <Mailbox DataLinkLayer="true"><CoE SdoInfo="true"/><FoE/></Mailbox>
        <Eeprom><ByteSize>2048</ByteSize><ConfigData>080C00CC</ConfigData></Eeprom>
      </Device>
    </Devices>
  </Descriptions>
</EtherCATInfo>
`

func read(t *testing.T) EtherCATInfo {
	eci, err := ReadEtherCATInfo(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("decoding: %v", err)
	}
	return eci
}

func TestReadEtherCATInfo(t *testing.T) {
	eci := read(t)

	if eci.Vendor.Id() != 2 {
		t.Fatalf("vendor\n%s", spew.Sdump(eci.Vendor))
	}
	if name := eci.Descriptions.Groups[0].Names[0].String; name != "Antriebsübersicht" {
		t.Fatalf("group name %q, charset not converted", name)
	}

	dev, ok := eci.Descriptions.FindDevice(0x1b813052, 0)
	if !ok {
		t.Fatalf("device not found")
	}
	if dev.Type.RevisionNo() != 0x00120000 || dev.Type.Name != "EL7041" {
		t.Fatalf("device type\n%s", spew.Sdump(dev.Type))
	}
	if _, ok := eci.Descriptions.FindDevice(0x1b813052, 1); ok {
		t.Fatalf("found device with wrong revision")
	}
}

func TestMailbox(t *testing.T) {
	eci := read(t)
	dev := &eci.Descriptions.Devices[0]

	cfg, ok := dev.MailboxConfig()
	want := ecmb.Config{
		RxOffset:  0x1000,
		RxSize:    128,
		TxOffset:  0x1080,
		TxSize:    128,
		Protocols: ecmb.ProtocolCoE | ecmb.ProtocolFoE,
	}
	if !ok || cfg != want {
		t.Fatalf("mailbox config\n%s", spew.Sdump(cfg))
	}
}

func TestSyncs(t *testing.T) {
	eci := read(t)
	syncs, err := eci.Descriptions.Devices[0].Syncs()
	if err != nil {
		t.Fatalf("%v", err)
	}

	if len(syncs) != 4 {
		t.Fatalf("%d sync managers", len(syncs))
	}
	if syncs[2].PhysicalStartAddress != 0x1100 || syncs[2].ControlRegister != 0x64 || syncs[2].Enable != 1 {
		t.Fatalf("sm2\n%s", spew.Sdump(syncs[2]))
	}
	if syncs[2].Pdos.TotalSize() != 6 || syncs[3].Pdos.TotalSize() != 4 {
		t.Fatalf("pdo sizes %d, %d", syncs[2].Pdos.TotalSize(), syncs[3].Pdos.TotalSize())
	}
	if syncs[0].Pdos.Count() != 0 || syncs[1].Pdos.Count() != 0 {
		t.Fatalf("PDOs assigned to mailbox sync managers")
	}

	pdo := syncs[2].Pdos.At(0)
	if pdo.Index != 0x1600 || pdo.SyncIndex != 2 || len(pdo.Entries) != 3 {
		t.Fatalf("rx pdo\n%s", spew.Sdump(pdo))
	}
	if e := pdo.Entries[2]; e.Index != 0x7000 || e.Subindex != 0x11 || e.BitLength != 32 || e.Name != "Set counter value" {
		t.Fatalf("entry\n%s", spew.Sdump(e))
	}
}

func TestBh2i(t *testing.T) {
	for s, want := range map[string]uint64{
		"#x1A00": 0x1a00,
		"17":     17,
		" #x10 ": 0x10,
		"#xZZ":   0,
		"":       0,
	} {
		if got := bh2i(s); got != want {
			t.Fatalf("bh2i(%q) = %d, want %d", s, got, want)
		}
	}
}
