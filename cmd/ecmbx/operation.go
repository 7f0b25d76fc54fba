package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/davecgh/go-spew/spew"

	"github.com/distributed/ecat/ecms"
	"github.com/distributed/ecat/ecsoe"
)

// operation is the request given on the command line.
type operation struct {
	Name  string
	Slave int

	File    string
	MaxSize int

	Drive uint
	IDN   string
	idn   uint16

	Index    uint
	Subindex uint

	Address uint
	Size    int

	Data string
	data []byte
	Out  string
}

func (op *operation) writes() bool {
	return strings.HasSuffix(op.Name, "-write") || op.Name == "sdo-download"
}

func (op *operation) parse() error {
	switch op.Name {
	case "foe-read", "foe-write":
		if op.File == "" {
			return fmt.Errorf("%s needs -file", op.Name)
		}
	case "soe-read", "soe-write":
		idn, err := ParseIDN(op.IDN)
		if err != nil {
			return err
		}
		op.idn = idn
		if op.Drive > 7 {
			return fmt.Errorf("drive number %d out of range", op.Drive)
		}
	case "sdo-upload", "sdo-download":
		if op.Index > 0xffff || op.Subindex > 0xff {
			return fmt.Errorf("object %#x:%#x out of range", op.Index, op.Subindex)
		}
	case "reg-read", "reg-write":
		if op.Address > 0xffff {
			return fmt.Errorf("register address %#x out of range", op.Address)
		}
	case "":
		return fmt.Errorf("no operation given")
	default:
		return fmt.Errorf("unknown operation %q", op.Name)
	}

	if !op.writes() {
		return nil
	}
	var err error
	if path, ok := strings.CutPrefix(op.Data, "@"); ok {
		op.data, err = os.ReadFile(path)
	} else {
		op.data, err = hex.DecodeString(strings.ReplaceAll(op.Data, " ", ""))
	}
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	return nil
}

// ParseIDN accepts drive manual notation like S-0-0015 and P-0-0016 as well
// as plain numbers.
func ParseIDN(s string) (uint16, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		n, err := strconv.ParseUint(s, 0, 16)
		if err != nil {
			return 0, fmt.Errorf("idn %q: %w", s, err)
		}
		return uint16(n), nil
	}

	var idn uint16
	switch parts[0] {
	case "S", "s":
	case "P", "p":
		idn = 0x8000
	default:
		return 0, fmt.Errorf("idn %q: unknown kind %q", s, parts[0])
	}
	set, err := strconv.ParseUint(parts[1], 10, 3)
	if err != nil {
		return 0, fmt.Errorf("idn %q: parameter set: %w", s, err)
	}
	no, err := strconv.ParseUint(parts[2], 10, 12)
	if err != nil {
		return 0, fmt.Errorf("idn %q: number: %w", s, err)
	}
	return idn | uint16(set)<<12 | uint16(no), nil
}

func (op *operation) run(ctx context.Context, m *ecms.Master, w io.Writer) error {
	var (
		data []byte
		err  error
	)

	switch op.Name {
	case "foe-read":
		data, err = m.FoeRead(ctx, op.Slave, op.File, op.MaxSize)
	case "foe-write":
		err = m.FoeWrite(ctx, op.Slave, op.File, op.data)
	case "soe-read":
		data, err = m.SoeRead(ctx, op.Slave, uint8(op.Drive), op.idn)
	case "soe-write":
		err = m.SoeWrite(ctx, op.Slave, uint8(op.Drive), op.idn, op.data)
	case "sdo-upload":
		data, err = m.SdoUpload(ctx, op.Slave, uint16(op.Index), uint8(op.Subindex))
	case "sdo-download":
		err = m.SdoDownload(ctx, op.Slave, uint16(op.Index), uint8(op.Subindex), op.data)
	case "reg-read":
		data, err = m.RegRead(ctx, op.Slave, uint16(op.Address), op.Size)
	case "reg-write":
		err = m.RegWrite(ctx, op.Slave, uint16(op.Address), op.data)
	}
	if err != nil {
		return err
	}

	if op.writes() {
		fmt.Fprintf(w, "%s: wrote %d bytes\n", op.describe(), len(op.data))
		return nil
	}
	if op.Out != "" {
		return os.WriteFile(op.Out, data, 0o644)
	}
	fmt.Fprintf(w, "%s: %d bytes\n", op.describe(), len(data))
	spew.Fdump(w, data)
	return nil
}

func (op *operation) describe() string {
	switch op.Name {
	case "foe-read", "foe-write":
		return fmt.Sprintf("slave %d file %q", op.Slave, op.File)
	case "soe-read", "soe-write":
		return fmt.Sprintf("slave %d drive %d %s", op.Slave, op.Drive, ecsoe.FormatIDN(op.idn))
	case "sdo-upload", "sdo-download":
		return fmt.Sprintf("slave %d sdo %04X:%02X", op.Slave, op.Index, op.Subindex)
	}
	return fmt.Sprintf("slave %d register %#04x", op.Slave, op.Address)
}
