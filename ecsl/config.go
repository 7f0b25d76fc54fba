package ecsl

import (
	"fmt"

	"github.com/distributed/ecat/ecpdo"
	"github.com/distributed/ecat/ecrq"
)

// Config is the configuration the master applies to a slave.
type Config struct {
	// Syncs are the sync managers as described by SII or ESI.
	Syncs []ecpdo.Sync
	// SyncConfigs override direction, watchdog and PDO assignment of the
	// sync manager with the same index.
	SyncConfigs map[int]*ecpdo.SyncConfig
	Fmmus       []*ecpdo.FmmuConfig

	// RegRequests are register requests owned by the configuration. A queued
	// one is served before any application register request.
	RegRequests []*ecrq.RegRequest
}

// pdos returns the PDO assignment of sync manager i.
func (c *Config) pdos(i int) *ecpdo.PdoList {
	if sc, ok := c.SyncConfigs[i]; ok {
		return &sc.Pdos
	}
	return &c.Syncs[i].Pdos
}

func (c *Config) direction(i int) ecpdo.Direction {
	if sc, ok := c.SyncConfigs[i]; ok && sc.Dir != ecpdo.DirInvalid {
		return sc.Dir
	}
	return c.Syncs[i].DefaultDirection()
}

// AddFmmu maps the process data of sync manager i into domain.
func (c *Config) AddFmmu(domain *ecpdo.Domain, i int) (*ecpdo.FmmuConfig, error) {
	if i < 0 || i >= len(c.Syncs) {
		return nil, fmt.Errorf("no sync manager %d", i)
	}
	dir := c.direction(i)
	if dir == ecpdo.DirInvalid {
		return nil, fmt.Errorf("sync manager %d has no process data direction", i)
	}
	if err := c.checkSize(i); err != nil {
		return nil, err
	}
	f := ecpdo.NewFmmuConfig(domain, i, dir, c.pdos(i))
	c.Fmmus = append(c.Fmmus, f)
	return f, nil
}

func (c *Config) checkSize(i int) error {
	if n := c.pdos(i).TotalSize(); n > ecpdo.MaxDataSize {
		return fmt.Errorf("sync manager %d maps %d bytes, at most %d possible", i, n, ecpdo.MaxDataSize)
	}
	return nil
}

func (c *Config) mapped(i int) bool {
	for _, f := range c.Fmmus {
		if f.SyncIndex == i {
			return true
		}
	}
	return false
}

// SyncPages renders the register pages of all sync managers. The first two
// carry the mailbox when mailboxSizes is not nil.
func (c *Config) SyncPages(mailboxSizes []uint16) ([][ecpdo.SyncPageSize]byte, error) {
	pages := make([][ecpdo.SyncPageSize]byte, len(c.Syncs))
	for i := range c.Syncs {
		sync := &c.Syncs[i]
		if i < len(mailboxSizes) {
			pages[i] = sync.Page(mailboxSizes[i], nil, false)
			continue
		}
		if err := c.checkSize(i); err != nil {
			return nil, err
		}
		size := uint16(c.pdos(i).TotalSize())
		pages[i] = sync.Page(size, c.SyncConfigs[i], c.mapped(i))
	}
	return pages, nil
}

// FmmuPages renders the register pages of the configured FMMUs in order.
func (c *Config) FmmuPages() [][ecpdo.FmmuPageSize]byte {
	pages := make([][ecpdo.FmmuPageSize]byte, len(c.Fmmus))
	for i, f := range c.Fmmus {
		pages[i] = f.Page(&c.Syncs[f.SyncIndex])
	}
	return pages
}
