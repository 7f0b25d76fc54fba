// Ecmbx brings up the slaves of an EtherCAT/UDP segment and runs one mailbox
// or register request against one of them.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/distributed/ecat/ecad"
	"github.com/distributed/ecat/eccf"
	"github.com/distributed/ecat/ecmd"
	"github.com/distributed/ecat/ecms"
	"github.com/distributed/ecat/ll/udp"
)

func main() {
	var op operation

	configPath := flag.String("config", "ecmbx.yaml", "Path to configuration file")
	verbose := flag.Bool("v", false, "Log protocol steps")
	state := flag.String("state", "preop", "AL state to request before the operation: init, preop, safeop or op")
	timeout := flag.Duration("timeout", 30*time.Second, "Time allowed for the operation")
	flag.IntVar(&op.Slave, "slave", 0, "Ring position of the slave")
	flag.StringVar(&op.Name, "op", "", "Operation: foe-read, foe-write, soe-read, soe-write, sdo-upload, sdo-download, reg-read, reg-write")
	flag.StringVar(&op.File, "file", "", "FoE file name")
	flag.IntVar(&op.MaxSize, "max", 1<<20, "Largest file accepted by foe-read")
	flag.UintVar(&op.Drive, "drive", 0, "SoE drive number")
	flag.StringVar(&op.IDN, "idn", "", "SoE IDN, S-0-0015, P-0-0016 or a number")
	flag.UintVar(&op.Index, "index", 0, "SDO index")
	flag.UintVar(&op.Subindex, "subindex", 0, "SDO subindex")
	flag.UintVar(&op.Address, "addr", 0, "ESC register address")
	flag.IntVar(&op.Size, "size", 2, "Register bytes to read")
	flag.StringVar(&op.Data, "data", "", "Hex data to write, or @path to read it from a file")
	flag.StringVar(&op.Out, "out", "", "Write read data to this file instead of stdout")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	if err := run(*configPath, *state, *timeout, &op); err != nil {
		fmt.Fprintf(os.Stderr, "ecmbx: %v\n", err)
		os.Exit(1)
	}
}

var stateNames = map[string]uint8{
	"init":   ecad.ALStateInit,
	"preop":  ecad.ALStatePreOp,
	"safeop": ecad.ALStateSafeOp,
	"op":     ecad.ALStateOp,
}

func run(configPath, stateName string, timeout time.Duration, op *operation) error {
	state, ok := stateNames[stateName]
	if !ok {
		return fmt.Errorf("unknown AL state %q", stateName)
	}
	if err := op.parse(); err != nil {
		return err
	}

	cfg, err := eccf.Load(configPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	if err := eccf.Validate(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	eccf.Normalize(cfg)
	ecmd.FSMRetries = cfg.Timeouts.Retries

	framer, err := openLink(cfg)
	if err != nil {
		return fmt.Errorf("opening link: %w", err)
	}

	m := ecms.New(ecmd.NewCommandFramer(framer), ecms.Options{
		CycleTime:    cfg.CycleTime,
		FoeTimeout:   cfg.Timeouts.Foe,
		SoeTimeout:   cfg.Timeouts.Soe,
		SdoTimeout:   cfg.Timeouts.Sdo,
		IssueTimeout: cfg.Timeouts.Issue,
	})
	defer m.Close()

	count, err := m.Scan(cfg.StationBase)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	if op.Slave >= count {
		return fmt.Errorf("slave %d requested, %d slaves found", op.Slave, count)
	}

	if err := setup(m, cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := m.RequestState(ctx, op.Slave, state); err != nil {
		return err
	}

	m.Start()
	return op.run(ctx, m, os.Stdout)
}

func openLink(cfg *eccf.Config) (*udp.UDPFramer, error) {
	var iface *net.Interface
	if cfg.Link.Interface != "" {
		var err error
		iface, err = net.InterfaceByName(cfg.Link.Interface)
		if err != nil {
			return nil, err
		}
	}
	log.Infof("link %q group %s, cycle time %v", cfg.Link.Interface, cfg.Link.Group, cfg.CycleTime)
	return udp.NewUDPFramer(iface, net.ParseIP(cfg.Link.Group), cfg.CycleTime)
}
