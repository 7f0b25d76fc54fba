// Package eccf loads the YAML configuration of the master tool.
package eccf

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	CycleTime time.Duration `yaml:"cycle_time"`
	Link      LinkConfig    `yaml:"link"`
	Timeouts  Timeouts      `yaml:"timeouts"`
	// StationBase is the station address of the first slave, the others
	// follow in ring order.
	StationBase uint16        `yaml:"station_base"`
	Domains     int           `yaml:"domains"`
	Slaves      []SlaveConfig `yaml:"slaves"`
}

// ---- LINK ----

type LinkConfig struct {
	Interface string `yaml:"interface"`
	// Group is the IPv4 multicast group EtherCAT frames are sent to.
	Group string `yaml:"group"`
}

// ---- TIMEOUTS ----

type Timeouts struct {
	Foe   time.Duration `yaml:"foe"`
	Soe   time.Duration `yaml:"soe"`
	Sdo   time.Duration `yaml:"sdo"`
	Issue time.Duration `yaml:"issue"`
	// Retries is how often a lost datagram is repeated.
	Retries int `yaml:"retries"`
}

// ---- SLAVES ----

type SlaveConfig struct {
	Position int    `yaml:"position"`
	Name     string `yaml:"name"`

	// ESI file describing the slave, with product code and revision
	// selecting the device in it.
	ESI         string `yaml:"esi"`
	ProductCode uint32 `yaml:"product_code"`
	RevisionNo  uint32 `yaml:"revision_no"`

	// Mailbox overrides the mailbox layout read from SII or ESI.
	Mailbox *MailboxConfig `yaml:"mailbox"`
	Syncs   []SyncConfig   `yaml:"syncs"`
}

type MailboxConfig struct {
	RxOffset  uint16   `yaml:"rx_offset"`
	RxSize    uint16   `yaml:"rx_size"`
	TxOffset  uint16   `yaml:"tx_offset"`
	TxSize    uint16   `yaml:"tx_size"`
	Protocols []string `yaml:"protocols"`
}

type SyncConfig struct {
	Index int `yaml:"index"`
	// Direction is "input" or "output", empty keeps the default.
	Direction string `yaml:"direction"`
	// Watchdog is "enable" or "disable", empty keeps the default.
	Watchdog string `yaml:"watchdog"`
	// Pdos replaces the default PDO assignment, none keeps it.
	Pdos []PdoConfig `yaml:"pdos"`
	// Domain is the index of the domain the process data is mapped into,
	// nil leaves the sync manager unmapped.
	Domain *int `yaml:"domain"`
}

type PdoConfig struct {
	Index   uint16        `yaml:"index"`
	Entries []EntryConfig `yaml:"entries"`
}

type EntryConfig struct {
	Index     uint16 `yaml:"index"`
	Subindex  uint8  `yaml:"subindex"`
	BitLength uint8  `yaml:"bit_length"`
	Name      string `yaml:"name"`
}

// Load reads and decodes the configuration file. Unknown keys are errors.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := &Config{}
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
