// Package esi reads EtherCAT Slave Information files, the XML device
// descriptions vendors ship with their slaves.
package esi

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/distributed/ecat/ecmb"
	"github.com/distributed/ecat/ecpdo"
)

func ReadEtherCATInfoFromFile(filename string) (eci EtherCATInfo, err error) {
	f, err := os.Open(filename)
	if err != nil {
		return
	}
	defer f.Close()

	return ReadEtherCATInfo(f)
}

// ReadEtherCATInfo decodes an ESI document. Besides UTF-8, the ISO-8859-1
// encoding common in ESI files is understood.
func ReadEtherCATInfo(r io.Reader) (eci EtherCATInfo, err error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel

	err = dec.Decode(&eci)
	if err != nil {
		err = fmt.Errorf("esi: %w", err)
	}
	return
}

type EtherCATInfo struct {
	Vendor       Vendor
	Descriptions Descriptions
}

type Vendor struct {
	IdRaw string `xml:"Id"`
	Name  string
}

func (v Vendor) Id() uint32 { return uint32(bh2i(v.IdRaw)) }

type Descriptions struct {
	Groups  []Group  `xml:"Groups>Group"`
	Devices []Device `xml:"Devices>Device"`
}

// FindDevice returns the device with the given product code and revision.
// A revision of 0 matches any.
func (d Descriptions) FindDevice(productCode, revisionNo uint32) (*Device, bool) {
	for i := range d.Devices {
		t := d.Devices[i].Type
		if t.ProductCode() == productCode && (revisionNo == 0 || t.RevisionNo() == revisionNo) {
			return &d.Devices[i], true
		}
	}
	return nil, false
}

type Group struct {
	Type  string
	Names []GroupName `xml:"Name"`
}

type GroupName struct {
	LcIdentifiedName
}

type LcIdentifiedName struct {
	String string `xml:",chardata"`
	LcId   uint   `xml:",attr"`
}

type Device struct {
	Type    DeviceType
	Names   []LcIdentifiedName `xml:"Name"`
	Sms     []Sm               `xml:"Sm"`
	RxPdos  []Pdo              `xml:"RxPdo"`
	TxPdos  []Pdo              `xml:"TxPdo"`
	Mailbox *Mailbox
	Eeprom  Eeprom
}

type DeviceType struct {
	Name           string `xml:",chardata"`
	ProductCodeRaw string `xml:"ProductCode,attr"`
	RevisionNoRaw  string `xml:"RevisionNo,attr"`
}

func (d DeviceType) ProductCode() uint32 {
	return uint32(bh2i(d.ProductCodeRaw))
}

func (d DeviceType) RevisionNo() uint32 {
	return uint32(bh2i(d.RevisionNoRaw))
}

type Sm struct {
	Name                          string `xml:",chardata"`
	MinSize, MaxSize, DefaultSize uint   `xml:",attr"`
	StartAddressRaw               string `xml:"StartAddress,attr"`
	ControlByteRaw                string `xml:"ControlByte,attr"`
	Enable                        uint8  `xml:",attr"`
}

func (s Sm) StartAddress() uint16 {
	return uint16(bh2i(s.StartAddressRaw))
}

func (s Sm) ControlByte() uint8 {
	return uint8(bh2i(s.ControlByteRaw))
}

type Pdo struct {
	SmRaw    string `xml:"Sm,attr"`
	Fixed    bool   `xml:",attr"`
	IndexRaw string `xml:"Index"`
	Name     string
	Entries  []PdoEntry `xml:"Entry"`
}

func (p Pdo) Index() uint16 { return uint16(bh2i(p.IndexRaw)) }

// Sm returns the sync manager the PDO is assigned to by default.
func (p Pdo) Sm() (int, bool) {
	if p.SmRaw == "" {
		return ecpdo.NoSync, false
	}
	return int(bh2i(p.SmRaw)), true
}

type PdoEntry struct {
	IndexRaw    string `xml:"Index"`
	SubIndexRaw string `xml:"SubIndex"`
	BitLen      uint8
	Name        string
	DataType    string
}

func (e PdoEntry) Index() uint16 { return uint16(bh2i(e.IndexRaw)) }

func (e PdoEntry) SubIndex() uint8 { return uint8(bh2i(e.SubIndexRaw)) }

// Mailbox lists the supported mailbox protocols, each present as an empty
// or attributed element.
type Mailbox struct {
	AoE *struct{}
	EoE *struct{}
	CoE *struct{}
	FoE *struct{}
	SoE *struct{}
	VoE *struct{}
}

type Eeprom struct {
	ByteSize      uint
	ConfigDataRaw string `xml:"ConfigData"`
}

// Protocols returns the mailbox protocols of the device.
func (d *Device) Protocols() ecmb.Protocols {
	var p ecmb.Protocols
	mb := d.Mailbox
	if mb == nil {
		return p
	}
	for _, e := range []struct {
		present bool
		bit     ecmb.Protocols
	}{
		{mb.AoE != nil, ecmb.ProtocolAoE},
		{mb.EoE != nil, ecmb.ProtocolEoE},
		{mb.CoE != nil, ecmb.ProtocolCoE},
		{mb.FoE != nil, ecmb.ProtocolFoE},
		{mb.SoE != nil, ecmb.ProtocolSoE},
		{mb.VoE != nil, ecmb.ProtocolVoE},
	} {
		if e.present {
			p |= e.bit
		}
	}
	return p
}

// MailboxConfig returns the standard mailbox layout, taken from the first
// two sync managers.
func (d *Device) MailboxConfig() (ecmb.Config, bool) {
	if d.Mailbox == nil || len(d.Sms) < 2 {
		return ecmb.Config{}, false
	}
	rx, tx := d.Sms[0], d.Sms[1]
	return ecmb.Config{
		RxOffset:  rx.StartAddress(),
		RxSize:    uint16(rx.DefaultSize),
		TxOffset:  tx.StartAddress(),
		TxSize:    uint16(tx.DefaultSize),
		Protocols: d.Protocols(),
	}, true
}

// Syncs converts the sync managers of the device together with the default
// PDO assignment.
func (d *Device) Syncs() ([]ecpdo.Sync, error) {
	syncs := make([]ecpdo.Sync, len(d.Sms))
	for i, sm := range d.Sms {
		syncs[i] = ecpdo.Sync{
			PhysicalStartAddress: sm.StartAddress(),
			DefaultLength:        uint16(sm.DefaultSize),
			ControlRegister:      sm.ControlByte(),
			Enable:               sm.Enable,
		}
	}

	pdos := append(append([]Pdo(nil), d.RxPdos...), d.TxPdos...)
	for _, p := range pdos {
		i, ok := p.Sm()
		if !ok {
			continue
		}
		if i >= len(syncs) {
			return nil, fmt.Errorf("pdo %#04x assigned to missing sync manager %d", p.Index(), i)
		}
		pdo := ecpdo.NewPdo(p.Index())
		pdo.Name = p.Name
		pdo.SyncIndex = i
		for _, e := range p.Entries {
			entry := pdo.AddEntry(e.Index(), e.SubIndex(), e.BitLen)
			entry.Name = e.Name
		}
		syncs[i].AddPdo(pdo)
	}
	return syncs, nil
}

// beckhoff hex string to integer, 0 on failure
func bh2i(s string) uint64 {
	var (
		n   uint64
		err error
	)

	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "#x") {
		// as s has 2 byte prefix, indexing is OK
		n, err = strconv.ParseUint(s[2:], 16, 64)
	} else {
		n, err = strconv.ParseUint(s, 10, 64)
	}

	if err != nil {
		return 0
	}

	return n
}
