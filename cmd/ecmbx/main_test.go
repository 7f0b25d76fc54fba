package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"

	"github.com/distributed/ecat/ecad"
	"github.com/distributed/ecat/eccf"
	"github.com/distributed/ecat/ecmb"
	"github.com/distributed/ecat/ecmd"
	"github.com/distributed/ecat/ecms"
	"github.com/distributed/ecat/ecpdo"
	"github.com/distributed/ecat/sim"
)

const deviceESI = `<?xml version="1.0" encoding="ISO-8859-1"?>
<EtherCATInfo>
  <Vendor><Id>#x00000539</Id></Vendor>
  <Descriptions>
    <Devices>
      <Device>
        <Type ProductCode="#x00000042" RevisionNo="#x00000001">Drive</Type>
        <Sm DefaultSize="128" StartAddress="#x1000" ControlByte="#x26" Enable="1">MBoxOut</Sm>
        <Sm DefaultSize="128" StartAddress="#x1080" ControlByte="#x22" Enable="1">MBoxIn</Sm>
        <Sm StartAddress="#x1100" ControlByte="#x64" Enable="1">Outputs</Sm>
        <Sm StartAddress="#x1180" ControlByte="#x20" Enable="1">Inputs</Sm>
        <RxPdo Sm="2"><Index>#x1600</Index><Entry><Index>#x6040</Index><BitLen>16</BitLen></Entry></RxPdo>
        <TxPdo Sm="3"><Index>#x1a00</Index><Entry><Index>#x6041</Index><BitLen>16</BitLen></Entry></TxPdo>
        <Mailbox><CoE/><FoE/><SoE/></Mailbox>
      </Device>
    </Devices>
  </Descriptions>
</EtherCATInfo>
`

func newMaster(t *testing.T) (*ecms.Master, *sim.FoeServer) {
	l2 := sim.NewL2Slave()
	mb := sim.NewMailbox(sim.DefaultMailbox)
	foe := sim.NewFoeServer()
	mb.Handle(ecmb.TypeFoE, foe)
	l2.AttachMailbox(mb)

	m := ecms.New(ecmd.NewCommandFramer(&sim.L2Bus{Slaves: []sim.FrameProcessor{l2}}), ecms.Options{})
	if _, err := m.Scan(ecms.DefaultStationBase); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return m, foe
}

func TestSetup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drive.xml")
	if err := os.WriteFile(path, []byte(deviceESI), 0o644); err != nil {
		t.Fatalf("writing esi: %v", err)
	}

	domain := 0
	cfg := &eccf.Config{
		Domains: 1,
		Slaves: []eccf.SlaveConfig{{
			ESI:         path,
			ProductCode: 0x42,
			Syncs: []eccf.SyncConfig{
				{Index: 2, Domain: &domain, Pdos: []eccf.PdoConfig{{
					Index:   0x1601,
					Entries: []eccf.EntryConfig{{Index: 0x607a, BitLength: 32}},
				}}},
				{Index: 3, Domain: &domain},
			},
		}},
	}

	m, _ := newMaster(t)
	if err := setup(m, cfg); err != nil {
		t.Fatalf("setup: %v", err)
	}

	sl, _ := m.Slave(0)
	if len(sl.Config.Syncs) != 4 || len(sl.Config.Fmmus) != 2 {
		t.Fatalf("slave config\n%s", spew.Sdump(sl.Config))
	}
	if sl.Config.Fmmus[0].DataSize != 4 || sl.Config.Fmmus[1].DataSize != 2 {
		t.Fatalf("fmmus\n%s", spew.Sdump(sl.Config.Fmmus))
	}
	if sl.Config.Fmmus[1].Dir != ecpdo.DirInput || sl.Config.Fmmus[1].LogicalStartAddress != 4 {
		t.Fatalf("input fmmu %v", sl.Config.Fmmus[1])
	}
	if sl.Mailbox.Config != sim.DefaultMailbox {
		t.Fatalf("mailbox from SII replaced\n%s", spew.Sdump(sl.Mailbox.Config))
	}
}

func TestSetupErrors(t *testing.T) {
	m, _ := newMaster(t)

	err := setup(m, &eccf.Config{Slaves: []eccf.SlaveConfig{{Position: 3}}})
	if err == nil || !strings.Contains(err.Error(), "no slave at position 3") {
		t.Fatalf("error %v", err)
	}

	err = setup(m, &eccf.Config{Slaves: []eccf.SlaveConfig{{Syncs: []eccf.SyncConfig{{Index: 2}}}}})
	if err == nil || !strings.Contains(err.Error(), "sm2 configured") {
		t.Fatalf("error %v", err)
	}

	err = setup(m, &eccf.Config{Slaves: []eccf.SlaveConfig{{ESI: filepath.Join(t.TempDir(), "missing.xml")}}})
	if err == nil {
		t.Fatalf("missing ESI file accepted")
	}
}

func TestMailboxOverride(t *testing.T) {
	m, _ := newMaster(t)
	cfg := &eccf.Config{Slaves: []eccf.SlaveConfig{{
		Mailbox: &eccf.MailboxConfig{RxOffset: 0x1000, RxSize: 64, TxOffset: 0x1080, TxSize: 64, Protocols: []string{"foe"}},
	}}}
	if err := setup(m, cfg); err != nil {
		t.Fatalf("setup: %v", err)
	}
	sl, _ := m.Slave(0)
	if sl.Mailbox.RxSize != 64 || sl.Mailbox.Protocols != ecmb.ProtocolFoE || sl.Config.Syncs[1].DefaultLength != 64 {
		t.Fatalf("mailbox\n%s", spew.Sdump(sl.Mailbox.Config, sl.Config.Syncs))
	}
}

func TestParseIDN(t *testing.T) {
	for s, want := range map[string]uint16{
		"S-0-0015": 0x000f,
		"P-0-0016": 0x8010,
		"s-7-0001": 0x7001,
		"0x8010":   0x8010,
		"24":       24,
	} {
		got, err := ParseIDN(s)
		if err != nil || got != want {
			t.Fatalf("ParseIDN(%q) = %#04x, %v, want %#04x", s, got, err, want)
		}
	}
	for _, s := range []string{"X-0-0001", "S-8-0001", "S-0-4096", "idn"} {
		if _, err := ParseIDN(s); err == nil {
			t.Fatalf("ParseIDN(%q) accepted", s)
		}
	}
}

func TestOperationParse(t *testing.T) {
	cases := []struct {
		op   operation
		want string
	}{
		{operation{}, "no operation"},
		{operation{Name: "foe-erase"}, "unknown operation"},
		{operation{Name: "foe-read"}, "needs -file"},
		{operation{Name: "soe-read", IDN: "S-0-0001", Drive: 8}, "drive number"},
		{operation{Name: "sdo-upload", Index: 0x10000}, "out of range"},
		{operation{Name: "reg-write", Address: 0x120, Data: "zz"}, "data"},
	}
	for _, c := range cases {
		err := c.op.parse()
		if err == nil || !strings.Contains(err.Error(), c.want) {
			t.Fatalf("%+v: error %v, want %q", c.op, err, c.want)
		}
	}

	op := operation{Name: "sdo-download", Index: 0x6060, Data: "08 00"}
	if err := op.parse(); err != nil || !bytes.Equal(op.data, []byte{8, 0}) {
		t.Fatalf("data % x, %v", op.data, err)
	}
}

func TestRun(t *testing.T) {
	m, foe := newMaster(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.RequestState(ctx, 0, ecad.ALStatePreOp); err != nil {
		t.Fatalf("request state: %v", err)
	}
	m.Start()
	defer m.Stop()

	write := &operation{Name: "foe-write", File: "fw.bin", Data: "0102030405"}
	if err := write.parse(); err != nil {
		t.Fatalf("parse: %v", err)
	}
	var out bytes.Buffer
	if err := write.run(ctx, m, &out); err != nil {
		t.Fatalf("foe write: %v", err)
	}
	if !bytes.Equal(foe.Files["fw.bin"], []byte{1, 2, 3, 4, 5}) || !strings.Contains(out.String(), "wrote 5 bytes") {
		t.Fatalf("output %q, file % x", out.String(), foe.Files["fw.bin"])
	}

	dst := filepath.Join(t.TempDir(), "fw.bin")
	read := &operation{Name: "foe-read", File: "fw.bin", MaxSize: 64, Out: dst}
	if err := read.parse(); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := read.run(ctx, m, &out); err != nil {
		t.Fatalf("foe read: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil || !bytes.Equal(got, []byte{1, 2, 3, 4, 5}) {
		t.Fatalf("read back % x, %v", got, err)
	}

	reg := &operation{Name: "reg-read", Address: ecad.ConfiguredStationAddress, Size: 2}
	out.Reset()
	if err := reg.run(ctx, m, &out); err != nil {
		t.Fatalf("reg read: %v", err)
	}
	if !strings.Contains(out.String(), "2 bytes") {
		t.Fatalf("output %q", out.String())
	}
}
