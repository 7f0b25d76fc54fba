package ecms

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/distributed/ecat/ecad"
	"github.com/distributed/ecat/ecee"
	"github.com/distributed/ecat/ecfr"
	"github.com/distributed/ecat/ecmb"
	"github.com/distributed/ecat/ecmd"
	"github.com/distributed/ecat/ecpdo"
	"github.com/distributed/ecat/ecsl"
)

const (
	DefaultStationBase = 0x1001

	// sync manager control bytes of the standard mailbox
	mailboxWriteControl = 0x26
	mailboxReadControl  = 0x22

	stateTimeout = 5 * time.Second
)

// countSlaves broadcasts a read, every slave increments its working counter.
func countSlaves(c ecmd.Commander) (int, error) {
	wc, err := ecmd.WorkingCounter(c, ecfr.BroadcastAddress(ecad.Type), 1)
	return int(wc), err
}

// Scan finds the slaves on the bus, assigns station addresses from base on in
// ring order and reads their mailbox configuration and AL state. Slaves found
// by an earlier scan are replaced. Scan must not run while cycling.
func (m *Master) Scan(base uint16) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count, err := countSlaves(m.commander)
	if err != nil {
		return 0, fmt.Errorf("counting slaves: %w", err)
	}
	m.log.Infof("[MASTER] %d slaves on the bus", count)

	nodes := make([]*node, 0, count)
	for pos := 0; pos < count; pos++ {
		station := base + uint16(pos)
		sl, err := m.scanSlave(uint16(pos), station)
		if err != nil {
			return 0, fmt.Errorf("slave %d: %w", pos, err)
		}
		n := &node{slave: sl, d: ecsl.NewDispatcher(sl, m.clock)}
		n.d.Ready()
		nodes = append(nodes, n)
	}
	m.nodes = nodes
	return count, nil
}

func (m *Master) scanSlave(pos, station uint16) (*ecsl.Slave, error) {
	c := m.commander

	err := ecmd.ExecuteWrite(c, ecfr.PositionalAddress(pos, ecad.ConfiguredStationAddress),
		[]byte{uint8(station), uint8(station >> 8)}, 1)
	if err != nil {
		return nil, fmt.Errorf("assigning station address: %w", err)
	}

	sl := ecsl.NewSlave(pos, station)

	ee, err := ecee.New(c, ecfr.FixedAddress(station, 0))
	if err != nil {
		return nil, err
	}
	defer ee.Close()

	words, err := ecee.ReadWords(ee, ecad.SIIStdRxMailboxOffset, 5)
	if err != nil {
		return nil, err
	}
	sl.Mailbox.Config = ecmb.Config{
		RxOffset:  words[0],
		RxSize:    words[1],
		TxOffset:  words[2],
		TxSize:    words[3],
		Protocols: ecmb.Protocols(words[4]),
	}
	if sl.Mailbox.Valid() {
		sl.Config.Syncs = MailboxSyncs(sl.Mailbox.Config)
	}

	if err = m.readALState(sl); err != nil {
		return nil, err
	}

	sl.Log.Infof("[MASTER] %v mailbox %v, AL state %#02x", sl, sl.Mailbox.Protocols, sl.ALState)
	return sl, nil
}

// MailboxSyncs returns the sync managers 0 and 1 of a standard mailbox.
func MailboxSyncs(cfg ecmb.Config) []ecpdo.Sync {
	return []ecpdo.Sync{
		{PhysicalStartAddress: cfg.RxOffset, DefaultLength: cfg.RxSize, ControlRegister: mailboxWriteControl, Enable: 0x01},
		{PhysicalStartAddress: cfg.TxOffset, DefaultLength: cfg.TxSize, ControlRegister: mailboxReadControl, Enable: 0x01},
	}
}

func (m *Master) readALState(sl *ecsl.Slave) error {
	rb, err := ecmd.ExecuteRead(m.commander, ecfr.FixedAddress(sl.Station, ecad.ALStatus), 6, 1)
	if err != nil {
		return fmt.Errorf("reading AL status: %w", err)
	}
	sl.ALState = rb[0]
	sl.ALStatusCode = binary.LittleEndian.Uint16(rb[ecad.ALStatusCode-ecad.ALStatus:])
	return nil
}

// Configure writes the sync manager and FMMU pages of the slave at pos.
func (m *Master) Configure(pos int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.node(pos)
	if err != nil {
		return err
	}
	sl := n.slave

	var mailboxSizes []uint16
	if sl.Mailbox.Valid() {
		mailboxSizes = []uint16{sl.Mailbox.RxSize, sl.Mailbox.TxSize}
	}

	syncPages, err := sl.Config.SyncPages(mailboxSizes)
	if err != nil {
		return fmt.Errorf("%v: %w", sl, err)
	}
	for i, page := range syncPages {
		err = ecmd.ExecuteWrite(m.commander, ecfr.FixedAddress(sl.Station, ecad.SyncManager(i)), page[:], 1)
		if err != nil {
			return fmt.Errorf("%v: writing sync manager %d: %w", sl, i, err)
		}
		sl.Log.Debugf("[MASTER] sm%d page % x", i, page)
	}
	for i, page := range sl.Config.FmmuPages() {
		err = ecmd.ExecuteWrite(m.commander, ecfr.FixedAddress(sl.Station, ecad.FMMU(i)), page[:], 1)
		if err != nil {
			return fmt.Errorf("%v: writing fmmu %d: %w", sl, i, err)
		}
		sl.Log.Debugf("[MASTER] fmmu%d page % x", i, page)
	}
	return nil
}

// RequestState requests an AL state of the slave at pos and waits until
// the slave reports it. A pending error is acknowledged with the request.
func (m *Master) RequestState(ctx context.Context, pos int, state uint8) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, stateTimeout)
		defer cancel()
	}

	m.mu.Lock()
	n, err := m.node(pos)
	if err == nil {
		control := state & ecad.ALStateMask
		if n.slave.AckErr() {
			control |= ecad.ALStateAckErr
		}
		err = ecmd.ExecuteWrite(m.commander, ecfr.FixedAddress(n.slave.Station, ecad.ALControl), []byte{control, 0}, 1)
	}
	m.mu.Unlock()
	if err != nil {
		return err
	}

	for {
		m.mu.Lock()
		err = m.readALState(n.slave)
		al := n.slave.ALState
		if err == nil && al&ecad.ALStateAckErr == 0 {
			n.d.Ready()
		}
		m.mu.Unlock()
		if err != nil {
			return err
		}
		if al&ecad.ALStateMask == state && al&ecad.ALStateAckErr == 0 {
			return nil
		}
		if al&ecad.ALStateAckErr != 0 && n.slave.ALStatusCode != 0 {
			return &ecsl.ALStateError{Slave: n.slave.String(), Requested: state, State: al, Code: n.slave.ALStatusCode}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%v: AL state %#02x, requested %#02x: %w", n.slave, al, state, ctx.Err())
		case <-time.After(m.opts.CycleTime):
		}
	}
}
