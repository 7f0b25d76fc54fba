package sim

import (
	"time"

	"github.com/distributed/ecat/ecad"
	"github.com/distributed/ecat/ecmb"
	"github.com/distributed/ecat/ecmd"
)

// Clock is an ecmd.Clock that only moves when told to.
type Clock struct {
	T time.Time
}

func (c *Clock) Now() time.Time { return c.T }

func (c *Clock) Advance(d time.Duration) { c.T = c.T.Add(d) }

// DefaultMailbox is the mailbox layout of simulated slaves.
var DefaultMailbox = ecmb.Config{
	RxOffset:  0x1000,
	RxSize:    128,
	TxOffset:  0x1080,
	TxSize:    128,
	Protocols: ecmb.ProtocolCoE | ecmb.ProtocolFoE | ecmb.ProtocolSoE,
}

// Rig connects one simulated slave with a mailbox to a command framer and
// runs cycle driven state machines against it on a simulated clock.
type Rig struct {
	Bus       *L2Bus
	Slave     *L2Slave
	Mailbox   *Mailbox
	Commander *ecmd.CommandFramer
	Clock     *Clock
	Slot      ecmd.Slot

	// CycleTime is the clock advance per cycle.
	CycleTime time.Duration
	Cycles    int
}

// NewRig returns a rig whose slave has the given station address and
// mailbox. The mailbox serves no protocol until handlers are registered.
func NewRig(station uint16, cfg ecmb.Config) *Rig {
	s := NewL2Slave()
	s.BackingMemory[ecad.ConfiguredStationAddress] = uint8(station)
	s.BackingMemory[ecad.ConfiguredStationAddress+1] = uint8(station >> 8)

	mb := NewMailbox(cfg)
	s.AttachMailbox(mb)

	bus := &L2Bus{Slaves: []FrameProcessor{s}}
	return &Rig{
		Bus:       bus,
		Slave:     s,
		Mailbox:   mb,
		Commander: ecmd.NewCommandFramer(bus),
		Clock:     &Clock{T: time.Unix(1000, 0)},
		CycleTime: time.Millisecond,
	}
}

// Cycle lets exec use the slot, exchanges it if used and settles the
// outcome.
func (r *Rig) Cycle(exec func(*ecmd.Slot) bool) error {
	if exec(&r.Slot) {
		err := r.Slot.Queue(r.Commander, r.Clock.Now())
		if err != nil {
			return err
		}
	}

	err := r.Commander.Cycle()
	r.Clock.Advance(r.CycleTime)
	r.Slot.Settle(r.Clock.Now())
	r.Cycles++
	return err
}

// Run cycles until done reports true, at most max times. It returns the
// number of cycles run.
func (r *Rig) Run(exec func(*ecmd.Slot) bool, done func() bool, max int) (n int, err error) {
	for n = 0; n < max && !done(); n++ {
		err = r.Cycle(exec)
		if err != nil {
			return
		}
	}
	return
}
