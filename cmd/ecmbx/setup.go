package main

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/distributed/ecat/eccf"
	"github.com/distributed/ecat/ecms"
	"github.com/distributed/ecat/ecpdo"
	"github.com/distributed/ecat/ecsl"
	"github.com/distributed/ecat/esi"
)

// setup applies the slave configuration to the scanned slaves and writes
// their sync manager and FMMU pages.
func setup(m *ecms.Master, cfg *eccf.Config) error {
	domains := make([]*ecpdo.Domain, cfg.Domains)
	for i := range domains {
		domains[i] = m.AddDomain()
	}

	for i := range cfg.Slaves {
		sc := &cfg.Slaves[i]
		sl, err := m.Slave(sc.Position)
		if err != nil {
			return fmt.Errorf("configured %w", err)
		}
		if err := applySlave(sl, sc, domains); err != nil {
			return fmt.Errorf("%v: %w", sl, err)
		}
		if err := m.Configure(sc.Position); err != nil {
			return err
		}
	}

	for _, d := range domains {
		log.Infof("domain %d: %d bytes", d.Index, d.DataSize)
	}
	return nil
}

func applySlave(sl *ecsl.Slave, sc *eccf.SlaveConfig, domains []*ecpdo.Domain) error {
	if sc.ESI != "" {
		if err := applyESI(sl, sc); err != nil {
			return err
		}
	}

	if sc.Mailbox != nil {
		sl.Mailbox.Config = sc.Mailbox.Config()
		syncs := ecms.MailboxSyncs(sl.Mailbox.Config)
		if len(sl.Config.Syncs) < len(syncs) {
			sl.Config.Syncs = syncs
		} else {
			copy(sl.Config.Syncs, syncs)
		}
	}

	for i := range sc.Syncs {
		syc := &sc.Syncs[i]
		if syc.Index >= len(sl.Config.Syncs) {
			return fmt.Errorf("sm%d configured, slave has %d sync managers", syc.Index, len(sl.Config.Syncs))
		}
		if sl.Config.SyncConfigs == nil {
			sl.Config.SyncConfigs = make(map[int]*ecpdo.SyncConfig)
		}
		c := syc.SyncConfig()
		if len(syc.Pdos) == 0 {
			c.Pdos.Copy(&sl.Config.Syncs[syc.Index].Pdos)
		}
		sl.Config.SyncConfigs[syc.Index] = c

		if syc.Domain == nil {
			continue
		}
		f, err := sl.Config.AddFmmu(domains[*syc.Domain], syc.Index)
		if err != nil {
			return err
		}
		sl.Log.Infof("mapped %v", f)
	}
	return nil
}

// applyESI takes sync managers and PDOs from the slave description, and the
// mailbox layout if SII carried none.
func applyESI(sl *ecsl.Slave, sc *eccf.SlaveConfig) error {
	eci, err := esi.ReadEtherCATInfoFromFile(sc.ESI)
	if err != nil {
		return err
	}
	dev, ok := eci.Descriptions.FindDevice(sc.ProductCode, sc.RevisionNo)
	if !ok {
		return fmt.Errorf("%s: no device with product code %#08x revision %#08x", sc.ESI, sc.ProductCode, sc.RevisionNo)
	}

	syncs, err := dev.Syncs()
	if err != nil {
		return fmt.Errorf("%s: %w", sc.ESI, err)
	}
	sl.Config.Syncs = syncs

	if !sl.Mailbox.Valid() {
		if mb, ok := dev.MailboxConfig(); ok {
			sl.Mailbox.Config = mb
		}
	}
	sl.Log.Infof("%s: %d sync managers, mailbox %v", sc.ESI, len(syncs), sl.Mailbox.Protocols)
	return nil
}
