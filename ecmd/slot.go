package ecmd

import (
	"fmt"
	"time"

	"github.com/distributed/ecat/ecfr"
)

// Clock is the monotonic time source for protocol timeouts.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the wall clock, which carries a monotonic reading.
var SystemClock Clock = systemClock{}

type SlotState int

const (
	SlotInit SlotState = iota
	SlotQueued
	SlotSent
	SlotReceived
	SlotTimedOut
	SlotError
)

var slotStateName = [...]string{"init", "queued", "sent", "received", "timed out", "error"}

func (s SlotState) String() string {
	if int(s) < len(slotStateName) {
		return slotStateName[s]
	}
	return fmt.Sprintf("SlotState(%d)", int(s))
}

// Slot is a datagram that lives across cycles. A state machine prepares it,
// the cyclic task queues it on a Commander, and after the cycle the outcome
// is settled back into it for the state machine to inspect on its next step.
type Slot struct {
	Command ecfr.CommandType
	Address ecfr.DatagramAddress

	State          SlotState
	WorkingCounter uint16
	SentAt         time.Time
	ReceivedAt     time.Time
	Err            error

	data []byte
	buf  []byte
	ec   *ExecutingCommand
}

func (s *Slot) prepare(addr ecfr.DatagramAddress, ct ecfr.CommandType, n int) []byte {
	if cap(s.buf) < n {
		s.buf = make([]byte, n)
	}
	s.data = s.buf[:n]
	for i := range s.data {
		s.data[i] = 0
	}

	s.Command = ct
	s.Address = addr
	s.State = SlotInit
	s.WorkingCounter = 0
	s.Err = nil
	s.ec = nil
	return s.data
}

// FPRD prepares a configured address read of n bytes.
func (s *Slot) FPRD(station, offset uint16, n int) []byte {
	return s.prepare(ecfr.FixedAddress(station, offset), ecfr.FPRD, n)
}

// FPWR prepares a configured address write of n bytes and returns the
// buffer to fill.
func (s *Slot) FPWR(station, offset uint16, n int) []byte {
	return s.prepare(ecfr.FixedAddress(station, offset), ecfr.FPWR, n)
}

func (s *Slot) Data() []byte { return s.data }

// Repeat makes the slot go out again unchanged.
func (s *Slot) Repeat() {
	s.State = SlotInit
	s.WorkingCounter = 0
	s.Err = nil
	s.ec = nil
}

// InFlight reports whether the outcome of the last queueing is pending.
func (s *Slot) InFlight() bool {
	return s.State == SlotQueued || s.State == SlotSent
}

// Queue allocates a datagram on c carrying the slot contents.
func (s *Slot) Queue(c Commander, now time.Time) error {
	ec, err := c.New(len(s.data))
	if err != nil {
		s.State = SlotError
		s.Err = err
		return err
	}

	dgo := ec.DatagramOut
	err = dgo.SetDataLen(len(s.data))
	if err != nil {
		s.State = SlotError
		s.Err = err
		return err
	}
	copy(dgo.Data(), s.data)
	dgo.Command = s.Command
	dgo.Addr32 = s.Address.Addr32()

	s.ec = ec
	s.State = SlotQueued
	s.SentAt = now
	return nil
}

// Settle takes the outcome of the cycle the slot was queued in.
func (s *Slot) Settle(now time.Time) {
	if s.ec == nil {
		return
	}
	ec := s.ec
	s.ec = nil
	s.ReceivedAt = now

	err := ChooseDefaultError(ec)
	switch {
	case err == nil:
		s.State = SlotReceived
		s.WorkingCounter = ec.DatagramIn.WorkingCounter
		if s.Command.DoesRead() {
			copy(s.data, ec.DatagramIn.Data())
		}
	case IsNoFrame(err):
		s.State = SlotTimedOut
		s.Err = err
	default:
		s.State = SlotError
		s.Err = err
	}
}

// FSMRetries is the number of times a cycle driven state machine repeats a
// lost datagram or one with the wrong working counter. It is set once at
// start up, before any state machine runs.
var FSMRetries = DefaultFSMRetries

const DefaultFSMRetries = 3

type Outcome int

const (
	OutcomeOK Outcome = iota
	// OutcomeRepeated means the slot was set up to go out again.
	OutcomeRepeated
	OutcomeReceiveError
	OutcomeWorkingCounterError
)

// Verify classifies the settled slot. A lost datagram or a working counter
// other than expwc is repeated as long as *retries is positive.
func (s *Slot) Verify(expwc uint16, retries *int) Outcome {
	switch {
	case s.State == SlotTimedOut && *retries > 0:
		*retries--
		s.Repeat()
		return OutcomeRepeated
	case s.State != SlotReceived:
		return OutcomeReceiveError
	case s.WorkingCounter != expwc && *retries > 0:
		*retries--
		s.Repeat()
		return OutcomeRepeated
	case s.WorkingCounter != expwc:
		return OutcomeWorkingCounterError
	}
	return OutcomeOK
}

func (s *Slot) String() string {
	return fmt.Sprintf("%v %v len %d %v wc %d", s.Command, s.Address, len(s.data), s.State, s.WorkingCounter)
}
