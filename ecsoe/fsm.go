// Package ecsoe implements Servo drive profile over EtherCAT (Sercos IDN
// access) as a cycle driven state machine.
package ecsoe

import (
	"encoding/binary"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/distributed/ecat/ecmb"
	"github.com/distributed/ecat/ecmd"
	"github.com/distributed/ecat/ecrq"
)

const (
	OpcodeReadRequest   = 0x01
	OpcodeReadResponse  = 0x02
	OpcodeWriteRequest  = 0x03
	OpcodeWriteResponse = 0x04

	HeaderSize = 4
	// Size is the overhead of a SoE message in the mailbox.
	Size = ecmb.HeaderSize + HeaderSize

	flagIncomplete    = 0x08
	flagError         = 0x10
	flagValueIncluded = 0x40
	driveNoShift      = 5
)

type state int

const (
	stateIdle state = iota
	stateReadStart
	stateReadRequest
	stateReadCheck
	stateReadResponse
	stateWriteStart
	stateWriteRequest
	stateWriteCheck
	stateWriteResponse
	stateEnd
	stateError
)

var stateName = [...]string{
	stateIdle:          "idle",
	stateReadStart:     "read start",
	stateReadRequest:   "read request",
	stateReadCheck:     "read check",
	stateReadResponse:  "read response",
	stateWriteStart:    "write start",
	stateWriteRequest:  "write request",
	stateWriteCheck:    "write check",
	stateWriteResponse: "write response",
	stateEnd:           "end",
	stateError:         "error",
}

func (s state) String() string { return stateName[s] }

// FSM reads or writes one IDN at a time.
type FSM struct {
	log *log.Entry

	mbox    *ecmb.Mailbox
	req     *ecrq.SoeRequest
	state   state
	retries int
	start   time.Time
	timeout time.Duration

	offset int
}

func New(logger *log.Entry) *FSM {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &FSM{log: logger}
}

func (f *FSM) Transfer(mbox *ecmb.Mailbox, req *ecrq.SoeRequest) {
	f.mbox = mbox
	f.req = req
	f.timeout = req.ResponseTimeoutOr(ecrq.DefaultSoeResponseTimeout)
	req.ErrorCode = 0

	if req.Dir == ecrq.Output {
		f.state = stateWriteStart
	} else {
		f.state = stateReadStart
	}
}

// Exec advances the state machine using s and reports whether s has to be
// sent.
func (f *FSM) Exec(s *ecmd.Slot) bool {
	if s.InFlight() || f.state == stateIdle || f.Done() {
		return false
	}

	switch f.state {
	case stateReadStart:
		f.readStart(s)
	case stateReadRequest:
		f.sent(s, stateReadCheck)
	case stateReadCheck:
		f.check(s, stateReadResponse)
	case stateReadResponse:
		f.readResponse(s)
	case stateWriteStart:
		f.writeStart(s)
	case stateWriteRequest:
		f.writeRequest(s)
	case stateWriteCheck:
		f.check(s, stateWriteResponse)
	case stateWriteResponse:
		f.writeResponse(s)
	}

	return !f.Done()
}

func (f *FSM) Done() bool { return f.state == stateEnd || f.state == stateError }

func (f *FSM) Success() bool { return f.state == stateEnd }

func (f *FSM) fail(format string, args ...interface{}) {
	f.log.WithFields(log.Fields{
		"drive": f.req.DriveNo,
		"idn":   FormatIDN(f.req.IDN),
		"state": f.state,
	}).Errorf("[SOE] "+format, args...)
	f.state = stateError
}

func (f *FSM) verify(s *ecmd.Slot) bool {
	switch s.Verify(1, &f.retries) {
	case ecmd.OutcomeOK:
		return true
	case ecmd.OutcomeRepeated:
		f.log.Debugf("[SOE] repeating %v", s)
	case ecmd.OutcomeReceiveError:
		f.fail("datagram failed: %v", s.Err)
	case ecmd.OutcomeWorkingCounterError:
		f.fail("working counter %d on %v", s.WorkingCounter, s)
	}
	return false
}

func (f *FSM) supported() bool {
	if !f.mbox.Protocols.Has(ecmb.ProtocolSoE) {
		f.fail("slave does not support SoE, protocols %v", f.mbox.Protocols)
		return false
	}
	return true
}

func (f *FSM) prepare(s *ecmd.Slot, header uint8, idn uint16, data []byte) bool {
	p, err := f.mbox.Prepare(s, ecmb.TypeSoE, HeaderSize+len(data))
	if err != nil {
		f.fail("preparing request: %v", err)
		return false
	}
	p[0] = header | (f.req.DriveNo&0x07)<<driveNoShift
	p[1] = flagValueIncluded
	binary.LittleEndian.PutUint16(p[2:], idn)
	copy(p[HeaderSize:], data)
	f.retries = ecmd.FSMRetries
	return true
}

func (f *FSM) pollResponse(s *ecmd.Slot, next state) {
	f.start = s.SentAt
	f.mbox.PrepareCheck(s)
	f.retries = ecmd.FSMRetries
	f.state = next
}

func (f *FSM) sent(s *ecmd.Slot, next state) {
	if !f.verify(s) {
		return
	}
	f.pollResponse(s, next)
}

func (f *FSM) check(s *ecmd.Slot, next state) {
	if !f.verify(s) {
		return
	}

	if !ecmb.Check(s) {
		if s.ReceivedAt.Sub(f.start) >= f.timeout {
			f.fail("no response within %v", f.timeout)
			return
		}
		f.mbox.PrepareCheck(s)
		f.retries = ecmd.FSMRetries
		return
	}

	f.mbox.PrepareFetch(s)
	f.retries = ecmd.FSMRetries
	f.state = next
}

// response decodes a SoE reply. A reply with the error flag fails the
// transfer with the code from its last two bytes.
func (f *FSM) response(s *ecmd.Slot, opcode uint8) (header uint8, p []byte, ok bool) {
	if !f.verify(s) {
		return
	}

	t, p, err := f.mbox.Fetch(s)
	if err != nil {
		f.fail("fetching response: %v", err)
		return
	}
	if t != ecmb.TypeSoE {
		f.fail("received %v message", t)
		return
	}
	if len(p) < HeaderSize {
		f.fail("response of %d bytes", len(p))
		return
	}

	header = p[0]
	if header&0x07 != opcode {
		f.fail("received opcode %d, expected %d", header&0x07, opcode)
		return
	}
	if header&flagError != 0 {
		if len(p) >= HeaderSize+2 {
			f.req.ErrorCode = binary.LittleEndian.Uint16(p[len(p)-2:])
		}
		f.fail("drive reported error %#04x: %s", f.req.ErrorCode, ErrorText(f.req.ErrorCode))
		return
	}

	ok = true
	return
}

func (f *FSM) readStart(s *ecmd.Slot) {
	if !f.supported() {
		return
	}
	f.req.Read()

	if !f.prepare(s, OpcodeReadRequest, f.req.IDN, nil) {
		return
	}
	f.state = stateReadRequest
}

func (f *FSM) readResponse(s *ecmd.Slot) {
	header, p, ok := f.response(s, OpcodeReadResponse)
	if !ok {
		return
	}
	if p[1]&flagValueIncluded == 0 {
		f.fail("no value included")
		return
	}

	f.req.AppendData(p[HeaderSize:])

	if header&flagIncomplete != 0 {
		f.log.Debugf("[SOE] %d fragments left", binary.LittleEndian.Uint16(p[2:]))
		f.pollResponse(s, stateReadCheck)
		return
	}

	f.log.Debugf("[SOE] read %s, %d bytes", FormatIDN(f.req.IDN), f.req.DataSize())
	f.state = stateEnd
}

func (f *FSM) writeStart(s *ecmd.Slot) {
	if !f.supported() {
		return
	}
	if int(f.mbox.RxSize) <= Size {
		f.fail("mailbox of %d bytes too small", f.mbox.RxSize)
		return
	}

	f.offset = 0
	f.writeNextFragment(s)
}

// writeNextFragment sends the data from the current offset. Fragments but
// the last carry the number of fragments left instead of the IDN.
func (f *FSM) writeNextFragment(s *ecmd.Slot) {
	maxFragment := int(f.mbox.RxSize) - Size
	remaining := f.req.DataSize() - f.offset

	fragment := remaining
	incomplete := remaining > maxFragment
	if incomplete {
		fragment = maxFragment
	}
	fragmentsLeft := (remaining+maxFragment-1)/maxFragment - 1

	header := uint8(OpcodeWriteRequest)
	idn := f.req.IDN
	if incomplete {
		header |= flagIncomplete
		idn = uint16(fragmentsLeft)
	}

	if !f.prepare(s, header, idn, f.req.Data()[f.offset:f.offset+fragment]) {
		return
	}
	f.offset += fragment
	f.state = stateWriteRequest
}

func (f *FSM) writeRequest(s *ecmd.Slot) {
	if !f.verify(s) {
		return
	}

	if f.offset < f.req.DataSize() {
		f.writeNextFragment(s)
		return
	}
	f.pollResponse(s, stateWriteCheck)
}

func (f *FSM) writeResponse(s *ecmd.Slot) {
	_, p, ok := f.response(s, OpcodeWriteResponse)
	if !ok {
		return
	}

	if idn := binary.LittleEndian.Uint16(p[2:]); idn != f.req.IDN {
		f.fail("response for %s", FormatIDN(idn))
		return
	}

	f.log.Debugf("[SOE] wrote %s, %d bytes", FormatIDN(f.req.IDN), f.req.DataSize())
	f.state = stateEnd
}
