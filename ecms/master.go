// Package ecms is the master: it owns the datagram transport and the slaves
// on it, runs the cyclic task that drives every slave's dispatcher and
// offers blocking request functions to applications.
package ecms

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/tomb.v1"

	"github.com/distributed/ecat/ecmd"
	"github.com/distributed/ecat/ecpdo"
	"github.com/distributed/ecat/ecrq"
	"github.com/distributed/ecat/ecsl"
)

const DefaultCycleTime = time.Millisecond

// Options tune a Master. Zero values select defaults.
type Options struct {
	CycleTime time.Duration
	Clock     ecmd.Clock
	Log       *log.Entry

	// Response timeouts per protocol, and the time a request may wait for
	// its turn. Zero keeps the protocol defaults and waits forever.
	FoeTimeout   time.Duration
	SoeTimeout   time.Duration
	SdoTimeout   time.Duration
	IssueTimeout time.Duration
}

type node struct {
	slave *ecsl.Slave
	d     *ecsl.Dispatcher
	slot  ecmd.Slot
}

type Master struct {
	log       *log.Entry
	commander ecmd.Commander
	clock     ecmd.Clock
	opts      Options

	// mu serializes use of the commander and access to the slaves.
	mu      sync.Mutex
	nodes   []*node
	domains []*ecpdo.Domain

	tomb *tomb.Tomb
}

func New(c ecmd.Commander, opts Options) *Master {
	if opts.CycleTime <= 0 {
		opts.CycleTime = DefaultCycleTime
	}
	if opts.Clock == nil {
		opts.Clock = ecmd.SystemClock
	}
	if opts.Log == nil {
		opts.Log = log.NewEntry(log.StandardLogger())
	}
	return &Master{
		log:       opts.Log,
		commander: c,
		clock:     opts.Clock,
		opts:      opts,
	}
}

// SlaveCount is the number of slaves found by Scan.
func (m *Master) SlaveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.nodes)
}

func (m *Master) node(pos int) (*node, error) {
	if pos < 0 || pos >= len(m.nodes) {
		return nil, fmt.Errorf("no slave at position %d, %d slaves", pos, len(m.nodes))
	}
	return m.nodes[pos], nil
}

// Slave returns the slave at ring position pos. Its configuration may only
// be changed while the cyclic task is stopped.
func (m *Master) Slave(pos int) (*ecsl.Slave, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.node(pos)
	if err != nil {
		return nil, err
	}
	return n.slave, nil
}

// AddDomain returns a new empty process image.
func (m *Master) AddDomain() *ecpdo.Domain {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := &ecpdo.Domain{Index: len(m.domains)}
	m.domains = append(m.domains, d)
	return d
}

// Cycle runs one step of every dispatcher and exchanges the datagrams they
// prepared in one commander cycle.
func (m *Master) Cycle() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	for _, n := range m.nodes {
		if !n.d.Exec(&n.slot) {
			continue
		}
		err := n.slot.Queue(m.commander, now)
		if err != nil {
			n.slave.Log.Warnf("[MASTER] queueing %v: %v", &n.slot, err)
		}
	}

	err := m.commander.Cycle()

	now = m.clock.Now()
	for _, n := range m.nodes {
		n.slot.Settle(now)
	}
	return err
}

// Start runs Cycle every cycle time until Stop.
func (m *Master) Start() {
	if m.tomb != nil {
		return
	}
	m.tomb = &tomb.Tomb{}
	go m.loop(m.tomb)
}

// Stop ends the cyclic task and waits for it.
func (m *Master) Stop() error {
	if m.tomb == nil {
		return nil
	}
	t := m.tomb
	m.tomb = nil
	t.Kill(nil)
	return t.Wait()
}

func (m *Master) loop(t *tomb.Tomb) {
	defer t.Done()

	ticker := time.NewTicker(m.opts.CycleTime)
	defer ticker.Stop()

	m.log.Debugf("[MASTER] cycling every %v", m.opts.CycleTime)
	for {
		select {
		case <-t.Dying():
			return
		case <-ticker.C:
			if err := m.Cycle(); err != nil {
				m.log.Warnf("[MASTER] cycle: %v", err)
			}
		}
	}
}

// Close stops cycling and closes the commander.
func (m *Master) Close() error {
	if err := m.Stop(); err != nil {
		m.log.Warnf("[MASTER] cyclic task: %v", err)
	}
	return m.commander.Close()
}

func (m *Master) applyTimeouts(r *ecrq.Request, response time.Duration) {
	if response > 0 {
		r.ResponseTimeout = response
	}
	r.IssueTimeout = m.opts.IssueTimeout
}
