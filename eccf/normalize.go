package eccf

import (
	"github.com/distributed/ecat/ecmb"
	"github.com/distributed/ecat/ecmd"
	"github.com/distributed/ecat/ecms"
	"github.com/distributed/ecat/ecpdo"
	"github.com/distributed/ecat/ecrq"
)

const (
	DefaultCycleTime   = ecms.DefaultCycleTime
	DefaultStationBase = ecms.DefaultStationBase
	DefaultGroup       = "239.255.0.1"
)

// Normalize fills in defaults. It must be called after Validate.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.CycleTime == 0 {
		cfg.CycleTime = DefaultCycleTime
	}
	if cfg.StationBase == 0 {
		cfg.StationBase = DefaultStationBase
	}
	if cfg.Link.Group == "" {
		cfg.Link.Group = DefaultGroup
	}
	if cfg.Timeouts.Foe == 0 {
		cfg.Timeouts.Foe = ecrq.DefaultFoeResponseTimeout
	}
	if cfg.Timeouts.Soe == 0 {
		cfg.Timeouts.Soe = ecrq.DefaultSoeResponseTimeout
	}
	if cfg.Timeouts.Sdo == 0 {
		cfg.Timeouts.Sdo = ecrq.DefaultSdoResponseTimeout
	}
	if cfg.Timeouts.Retries == 0 {
		cfg.Timeouts.Retries = ecmd.DefaultFSMRetries
	}
}

// Config converts the mailbox override.
func (mb *MailboxConfig) Config() ecmb.Config {
	c := ecmb.Config{
		RxOffset: mb.RxOffset,
		RxSize:   mb.RxSize,
		TxOffset: mb.TxOffset,
		TxSize:   mb.TxSize,
	}
	for _, p := range mb.Protocols {
		c.Protocols |= protocolNames[p]
	}
	return c
}

// SyncConfig converts the desired configuration of a sync manager.
func (sc *SyncConfig) SyncConfig() *ecpdo.SyncConfig {
	c := &ecpdo.SyncConfig{}
	switch sc.Direction {
	case "input":
		c.Dir = ecpdo.DirInput
	case "output":
		c.Dir = ecpdo.DirOutput
	}
	switch sc.Watchdog {
	case "enable":
		c.WatchdogMode = ecpdo.WatchdogEnable
	case "disable":
		c.WatchdogMode = ecpdo.WatchdogDisable
	}
	for _, p := range sc.Pdos {
		pdo := c.Pdos.Add(p.Index)
		pdo.SyncIndex = sc.Index
		for _, e := range p.Entries {
			pdo.AddEntry(e.Index, e.Subindex, e.BitLength).Name = e.Name
		}
	}
	return c
}
