// Package ecfoe implements File access over EtherCAT as a cycle driven state
// machine on top of a slave's mailbox.
package ecfoe

import (
	"encoding/binary"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/distributed/ecat/ecmb"
	"github.com/distributed/ecat/ecmd"
	"github.com/distributed/ecat/ecrq"
)

const (
	OpcodeRRQ  = 0x01
	OpcodeWRQ  = 0x02
	OpcodeData = 0x03
	OpcodeAck  = 0x04
	OpcodeErr  = 0x05
	OpcodeBusy = 0x06

	HeaderSize = 6
)

type state int

const (
	stateIdle state = iota
	stateWriteStart
	stateWrqSent
	stateAckCheck
	stateAckRead
	stateDataSent
	stateReadStart
	stateRrqSent
	stateDataCheck
	stateDataRead
	stateSentAck
	stateEnd
	stateError
)

var stateName = [...]string{
	stateIdle:       "idle",
	stateWriteStart: "write start",
	stateWrqSent:    "wrq sent",
	stateAckCheck:   "ack check",
	stateAckRead:    "ack read",
	stateDataSent:   "data sent",
	stateReadStart:  "read start",
	stateRrqSent:    "rrq sent",
	stateDataCheck:  "data check",
	stateDataRead:   "data read",
	stateSentAck:    "sent ack",
	stateEnd:        "end",
	stateError:      "error",
}

func (s state) String() string { return stateName[s] }

// FSM transfers one FoE request at a time.
type FSM struct {
	log *log.Entry

	mbox    *ecmb.Mailbox
	req     *ecrq.FoeRequest
	state   state
	retries int
	start   time.Time
	timeout time.Duration

	txPacketNo uint32
	txOffset   int
	txCurrent  int
	txLast     bool
	wrqAcked   bool

	rxExpected uint32
	rxLast     bool
	ackRepeat  bool
}

// New returns an idle state machine. Timeouts are measured with the
// timestamps of the exchanged datagrams.
func New(logger *log.Entry) *FSM {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &FSM{log: logger}
}

// Transfer starts req, reading or writing depending on its direction. The
// request is driven by subsequent calls to Exec.
func (f *FSM) Transfer(mbox *ecmb.Mailbox, req *ecrq.FoeRequest) {
	f.mbox = mbox
	f.req = req
	f.timeout = req.ResponseTimeoutOr(ecrq.DefaultFoeResponseTimeout)
	req.Result = ecrq.FoeBusy
	req.ErrorCode = 0
	req.ErrorText = ""

	if req.Dir == ecrq.Output {
		f.state = stateWriteStart
	} else {
		f.state = stateReadStart
	}
}

// Exec advances the state machine using s and reports whether s has to be
// sent. While the last exchange is pending nothing happens.
func (f *FSM) Exec(s *ecmd.Slot) bool {
	if s.InFlight() {
		return false
	}
	if f.state == stateEnd || f.state == stateError || f.state == stateIdle {
		return false
	}

	switch f.state {
	case stateWriteStart:
		f.writeStart(s)
	case stateWrqSent, stateDataSent:
		f.sent(s, stateAckCheck)
	case stateAckCheck:
		f.check(s, stateAckRead)
	case stateAckRead:
		f.ackRead(s)
	case stateReadStart:
		f.readStart(s)
	case stateRrqSent:
		f.sent(s, stateDataCheck)
	case stateDataCheck:
		f.check(s, stateDataRead)
	case stateDataRead:
		f.dataRead(s)
	case stateSentAck:
		f.sentAck(s)
	}

	return f.state != stateEnd && f.state != stateError
}

// Done reports whether the transfer reached a terminal state.
func (f *FSM) Done() bool { return f.state == stateEnd || f.state == stateError }

func (f *FSM) Success() bool { return f.state == stateEnd }

func (f *FSM) fail(r ecrq.FoeResult) {
	f.log.Errorf("[FOE] %s %q failed in state %v: %v", f.req.Dir, f.req.FileName, f.state, r)
	f.req.Result = r
	f.state = stateError
}

func (f *FSM) end() {
	f.req.Result = ecrq.FoeReady
	f.state = stateEnd
	f.log.Debugf("[FOE] %s %q done, %d bytes", f.req.Dir, f.req.FileName, f.req.DataSize())
}

// verify checks the outcome of the last exchange. It returns false if the
// slot was repeated or the transfer failed.
func (f *FSM) verify(s *ecmd.Slot) bool {
	switch s.Verify(1, &f.retries) {
	case ecmd.OutcomeOK:
		return true
	case ecmd.OutcomeRepeated:
		f.log.Debugf("[FOE] repeating %v", s)
	case ecmd.OutcomeReceiveError:
		f.log.Warnf("[FOE] datagram failed: %v", s.Err)
		f.fail(ecrq.FoeReceiveError)
	case ecmd.OutcomeWorkingCounterError:
		f.log.Warnf("[FOE] working counter %d on %v", s.WorkingCounter, s)
		f.fail(ecrq.FoeWcError)
	}
	return false
}

func (f *FSM) prepare(s *ecmd.Slot, opcode uint8, arg uint32, data []byte) bool {
	p, err := f.mbox.Prepare(s, ecmb.TypeFoE, HeaderSize+len(data))
	if err != nil {
		f.log.Warnf("[FOE] preparing opcode %d: %v", opcode, err)
		return false
	}
	binary.LittleEndian.PutUint16(p[0:], uint16(opcode))
	binary.LittleEndian.PutUint32(p[2:], arg)
	copy(p[HeaderSize:], data)
	f.retries = ecmd.FSMRetries
	return true
}

func (f *FSM) prepareCheck(s *ecmd.Slot) {
	f.mbox.PrepareCheck(s)
	f.retries = ecmd.FSMRetries
}

// sent waits for the request message to arrive and starts polling for the
// answer.
func (f *FSM) sent(s *ecmd.Slot, next state) {
	if !f.verify(s) {
		return
	}
	f.start = s.SentAt
	f.prepareCheck(s)
	f.state = next
}

func (f *FSM) check(s *ecmd.Slot, next state) {
	if !f.verify(s) {
		return
	}

	if !ecmb.Check(s) {
		if s.ReceivedAt.Sub(f.start) >= f.timeout {
			f.log.Warnf("[FOE] no response within %v", f.timeout)
			f.fail(ecrq.FoeTimeoutError)
			return
		}
		f.prepareCheck(s)
		return
	}

	f.mbox.PrepareFetch(s)
	f.retries = ecmd.FSMRetries
	f.state = next
}

// fetch decodes the FoE reply in s.
func (f *FSM) fetch(s *ecmd.Slot) (opcode uint8, arg uint32, data []byte, ok bool) {
	t, p, err := f.mbox.Fetch(s)
	if err != nil {
		f.log.Warnf("[FOE] fetching response: %v", err)
		f.fail(ecrq.FoeMboxFetchError)
		return
	}
	if t != ecmb.TypeFoE {
		f.log.Warnf("[FOE] received %v message", t)
		f.fail(ecrq.FoeMboxProtError)
		return
	}
	if len(p) < HeaderSize {
		f.log.Warnf("[FOE] response of %d bytes", len(p))
		f.fail(ecrq.FoeProtError)
		return
	}

	opcode = p[0]
	arg = binary.LittleEndian.Uint32(p[2:])
	data = p[HeaderSize:]
	ok = true
	return
}

func (f *FSM) storeError(code uint32, text []byte) {
	f.req.ErrorCode = code
	for i, c := range text {
		if c == 0 {
			text = text[:i]
			break
		}
	}
	f.req.ErrorText = string(text)
	f.log.Errorf("[FOE] slave reported error %#08x %q", code, f.req.ErrorText)
}

func (f *FSM) writeStart(s *ecmd.Slot) {
	if !f.mbox.Protocols.Has(ecmb.ProtocolFoE) {
		f.log.Warnf("[FOE] slave does not support FoE, protocols %v", f.mbox.Protocols)
		f.fail(ecrq.FoeMboxProtError)
		return
	}

	f.txPacketNo = 0
	f.txOffset = 0
	f.txCurrent = 0
	f.txLast = false
	f.wrqAcked = false

	if !f.prepare(s, OpcodeWRQ, 0, []byte(f.req.FileName)) {
		f.fail(ecrq.FoeProtError)
		return
	}
	f.state = stateWrqSent
}

func (f *FSM) capacity() int {
	return int(f.mbox.RxSize) - ecmb.HeaderSize - HeaderSize
}

// sendData sends the fragment at the current offset. The fragment that
// reaches the end of the file is the last one.
func (f *FSM) sendData(s *ecmd.Slot) {
	remaining := f.req.DataSize() - f.txOffset
	current := remaining
	f.txLast = true
	if c := f.capacity(); remaining > c {
		current = c
		f.txLast = false
	}

	if !f.prepare(s, OpcodeData, f.txPacketNo, f.req.Data()[f.txOffset:f.txOffset+current]) {
		f.fail(ecrq.FoeProtError)
		return
	}
	f.txCurrent = current
	f.state = stateDataSent
}

func (f *FSM) ackRead(s *ecmd.Slot) {
	if !f.verify(s) {
		return
	}
	opcode, arg, data, ok := f.fetch(s)
	if !ok {
		return
	}

	switch opcode {
	case OpcodeBusy:
		f.log.Debugf("[FOE] slave busy, resending")
		if !f.wrqAcked {
			if !f.prepare(s, OpcodeWRQ, 0, []byte(f.req.FileName)) {
				f.fail(ecrq.FoeProtError)
				return
			}
			f.state = stateWrqSent
			return
		}
		f.sendData(s)

	case OpcodeAck:
		if f.wrqAcked {
			f.txOffset += f.txCurrent
			if f.txLast {
				f.end()
				return
			}
		}
		f.wrqAcked = true
		f.txPacketNo++
		f.log.Debugf("[FOE] ack %d, sending packet %d at offset %d", arg, f.txPacketNo, f.txOffset)
		f.sendData(s)

	case OpcodeErr:
		f.storeError(arg, data)
		f.fail(ecrq.FoeAckError)

	default:
		f.log.Warnf("[FOE] expected ack, got opcode %d", opcode)
		f.fail(ecrq.FoeAckError)
	}
}

func (f *FSM) readStart(s *ecmd.Slot) {
	if !f.mbox.Protocols.Has(ecmb.ProtocolFoE) {
		f.log.Warnf("[FOE] slave does not support FoE, protocols %v", f.mbox.Protocols)
		f.fail(ecrq.FoeMboxProtError)
		return
	}

	f.req.SetDataSize(0)
	f.rxExpected = 1
	f.rxLast = false
	f.ackRepeat = false

	if !f.prepare(s, OpcodeRRQ, f.req.Password, []byte(f.req.FileName)) {
		f.fail(ecrq.FoeProtError)
		return
	}
	f.state = stateRrqSent
}

func (f *FSM) sendAck(s *ecmd.Slot, packetNo uint32) {
	if !f.prepare(s, OpcodeAck, packetNo, nil) {
		f.fail(ecrq.FoeProtError)
		return
	}
	f.state = stateSentAck
}

func (f *FSM) dataRead(s *ecmd.Slot) {
	if !f.verify(s) {
		return
	}
	opcode, arg, data, ok := f.fetch(s)
	if !ok {
		return
	}

	switch opcode {
	case OpcodeData:
	case OpcodeBusy:
		f.log.Debugf("[FOE] slave busy, acknowledging packet %d again", f.rxExpected-1)
		f.ackRepeat = true
		f.sendAck(s, f.rxExpected-1)
		return
	case OpcodeErr:
		f.storeError(arg, data)
		f.fail(ecrq.FoeOpcodeError)
		return
	default:
		f.log.Warnf("[FOE] expected data, got opcode %d", opcode)
		f.fail(ecrq.FoeOpcodeError)
		return
	}

	if arg != f.rxExpected {
		f.log.Warnf("[FOE] received packet %d, expected %d", arg, f.rxExpected)
		f.fail(ecrq.FoePacketnoError)
		return
	}

	size := f.req.DataSize()
	if size+len(data) > f.req.BufferSize() {
		f.log.Warnf("[FOE] packet %d of %d bytes exceeds buffer of %d bytes holding %d",
			arg, len(data), f.req.BufferSize(), size)
		f.fail(ecrq.FoeNodataError)
		return
	}
	copy(f.req.Buffer()[size:], data)
	f.req.SetDataSize(size + len(data))

	// data arrives through the send mailbox, a short packet is the last one
	f.rxLast = len(data)+ecmb.HeaderSize+HeaderSize < int(f.mbox.TxSize)
	f.sendAck(s, f.rxExpected)
}

func (f *FSM) sentAck(s *ecmd.Slot) {
	if !f.verify(s) {
		return
	}

	if f.ackRepeat {
		f.ackRepeat = false
	} else if f.rxLast {
		f.end()
		return
	} else {
		f.rxExpected++
	}

	f.start = s.SentAt
	f.prepareCheck(s)
	f.state = stateDataCheck
}

// Error is a failed FoE request as a Go error.
type Error struct {
	FileName string
	Result   ecrq.FoeResult
	Code     uint32
	Text     string
}

func (e *Error) Error() string {
	if e.Code != 0 || e.Text != "" {
		return fmt.Sprintf("foe %q: %v, slave error %#08x %q", e.FileName, e.Result, e.Code, e.Text)
	}
	return fmt.Sprintf("foe %q: %v", e.FileName, e.Result)
}

// RequestError returns the error of a failed request, nil otherwise.
func RequestError(req *ecrq.FoeRequest) error {
	if req.State != ecrq.Failure {
		return nil
	}
	return &Error{req.FileName, req.Result, req.ErrorCode, req.ErrorText}
}
