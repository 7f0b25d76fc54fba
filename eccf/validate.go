package eccf

import (
	"fmt"
	"net"

	"github.com/distributed/ecat/ecmb"
)

var protocolNames = map[string]ecmb.Protocols{
	"aoe": ecmb.ProtocolAoE,
	"eoe": ecmb.ProtocolEoE,
	"coe": ecmb.ProtocolCoE,
	"foe": ecmb.ProtocolFoE,
	"soe": ecmb.ProtocolSoE,
	"voe": ecmb.ProtocolVoE,
}

// Validate checks configuration correctness.
// It performs declarative validation only and does not mutate cfg.
func Validate(cfg *Config) error {
	if cfg.CycleTime < 0 {
		return fmt.Errorf("cycle_time %v is negative", cfg.CycleTime)
	}
	if cfg.Link.Group != "" {
		ip := net.ParseIP(cfg.Link.Group)
		if ip == nil || ip.To4() == nil || !ip.IsMulticast() {
			return fmt.Errorf("link group %q is not an IPv4 multicast address", cfg.Link.Group)
		}
	}
	for name, d := range map[string]int64{
		"foe":   int64(cfg.Timeouts.Foe),
		"soe":   int64(cfg.Timeouts.Soe),
		"sdo":   int64(cfg.Timeouts.Sdo),
		"issue": int64(cfg.Timeouts.Issue),
	} {
		if d < 0 {
			return fmt.Errorf("timeouts: %s is negative", name)
		}
	}
	if cfg.Timeouts.Retries < 0 {
		return fmt.Errorf("timeouts: retries %d is negative", cfg.Timeouts.Retries)
	}
	if cfg.Domains < 0 {
		return fmt.Errorf("domains %d is negative", cfg.Domains)
	}

	positions := make(map[int]bool)
	for _, s := range cfg.Slaves {
		if s.Position < 0 {
			return fmt.Errorf("slave %q: position %d is negative", s.Name, s.Position)
		}
		if positions[s.Position] {
			return fmt.Errorf("slave position %d configured twice", s.Position)
		}
		positions[s.Position] = true

		if s.Mailbox != nil {
			mb := s.Mailbox
			if !(ecmb.Config{RxSize: mb.RxSize, TxSize: mb.TxSize}).Valid() {
				return fmt.Errorf("slave %d: mailbox sizes %d/%d too small", s.Position, mb.RxSize, mb.TxSize)
			}
			for _, p := range mb.Protocols {
				if _, ok := protocolNames[p]; !ok {
					return fmt.Errorf("slave %d: unknown mailbox protocol %q", s.Position, p)
				}
			}
		}

		syncs := make(map[int]bool)
		for _, sc := range s.Syncs {
			if sc.Index < 0 || sc.Index >= 16 {
				return fmt.Errorf("slave %d: sync manager index %d out of range", s.Position, sc.Index)
			}
			if syncs[sc.Index] {
				return fmt.Errorf("slave %d: sync manager %d configured twice", s.Position, sc.Index)
			}
			syncs[sc.Index] = true

			switch sc.Direction {
			case "", "input", "output":
			default:
				return fmt.Errorf("slave %d sm%d: direction %q", s.Position, sc.Index, sc.Direction)
			}
			switch sc.Watchdog {
			case "", "enable", "disable":
			default:
				return fmt.Errorf("slave %d sm%d: watchdog %q", s.Position, sc.Index, sc.Watchdog)
			}
			if sc.Domain != nil && (*sc.Domain < 0 || *sc.Domain >= cfg.Domains) {
				return fmt.Errorf("slave %d sm%d: domain %d not configured", s.Position, sc.Index, *sc.Domain)
			}
			for _, p := range sc.Pdos {
				for _, e := range p.Entries {
					if e.BitLength == 0 {
						return fmt.Errorf("slave %d pdo %#04x: entry %#04x:%02x has no bit length", s.Position, p.Index, e.Index, e.Subindex)
					}
				}
			}
		}
	}
	return nil
}
