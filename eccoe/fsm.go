// Package eccoe implements SDO transfers of CANopen over EtherCAT as a cycle
// driven state machine.
package eccoe

import (
	"encoding/binary"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/distributed/ecat/ecmb"
	"github.com/distributed/ecat/ecmd"
	"github.com/distributed/ecat/ecrq"
)

const (
	HeaderSize = 2
	// SdoHeaderSize is command, index, subindex and the 4 data bytes of an
	// initiate message.
	SdoHeaderSize = 8

	ServiceSdoRequest  = 0x2
	ServiceSdoResponse = 0x3

	segmentHeaderSize = 1
	minSegmentData    = 7
)

// command specifiers, bits 5 to 7 of the command byte
const (
	ccsDownloadSegment  = 0
	ccsInitiateDownload = 1
	ccsInitiateUpload   = 2
	ccsUploadSegment    = 3
	csAbort             = 4

	scsUploadSegment    = 0
	scsDownloadSegment  = 1
	scsInitiateUpload   = 2
	scsInitiateDownload = 3
)

type state int

const (
	stateIdle state = iota
	stateDownStart
	stateDownRequest
	stateDownCheck
	stateDownResponse
	stateDownSegRequest
	stateDownSegCheck
	stateDownSegResponse
	stateUpStart
	stateUpRequest
	stateUpCheck
	stateUpResponse
	stateUpSegRequest
	stateUpSegCheck
	stateUpSegResponse
	stateEnd
	stateError
)

var stateName = [...]string{
	stateIdle:            "idle",
	stateDownStart:       "download start",
	stateDownRequest:     "download request",
	stateDownCheck:       "download check",
	stateDownResponse:    "download response",
	stateDownSegRequest:  "download segment request",
	stateDownSegCheck:    "download segment check",
	stateDownSegResponse: "download segment response",
	stateUpStart:         "upload start",
	stateUpRequest:       "upload request",
	stateUpCheck:         "upload check",
	stateUpResponse:      "upload response",
	stateUpSegRequest:    "upload segment request",
	stateUpSegCheck:      "upload segment check",
	stateUpSegResponse:   "upload segment response",
	stateEnd:             "end",
	stateError:           "error",
}

func (s state) String() string { return stateName[s] }

// FSM downloads or uploads one object dictionary entry at a time.
type FSM struct {
	log *log.Entry

	mbox    *ecmb.Mailbox
	req     *ecrq.SdoRequest
	state   state
	retries int
	start   time.Time
	timeout time.Duration

	offset   int
	complete int
	toggle   uint8
	last     bool
}

func New(logger *log.Entry) *FSM {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &FSM{log: logger}
}

func (f *FSM) Transfer(mbox *ecmb.Mailbox, req *ecrq.SdoRequest) {
	f.mbox = mbox
	f.req = req
	f.timeout = req.ResponseTimeoutOr(ecrq.DefaultSdoResponseTimeout)
	req.AbortCode = 0

	if req.Dir == ecrq.Output {
		f.state = stateDownStart
	} else {
		f.state = stateUpStart
	}
}

// Exec advances the state machine using s and reports whether s has to be
// sent.
func (f *FSM) Exec(s *ecmd.Slot) bool {
	if s.InFlight() || f.state == stateIdle || f.Done() {
		return false
	}

	switch f.state {
	case stateDownStart:
		f.downStart(s)
	case stateDownRequest:
		f.sent(s, stateDownCheck)
	case stateDownCheck:
		f.check(s, stateDownResponse)
	case stateDownResponse:
		f.downResponse(s)
	case stateDownSegRequest:
		f.sent(s, stateDownSegCheck)
	case stateDownSegCheck:
		f.check(s, stateDownSegResponse)
	case stateDownSegResponse:
		f.downSegResponse(s)
	case stateUpStart:
		f.upStart(s)
	case stateUpRequest:
		f.sent(s, stateUpCheck)
	case stateUpCheck:
		f.check(s, stateUpResponse)
	case stateUpResponse:
		f.upResponse(s)
	case stateUpSegRequest:
		f.sent(s, stateUpSegCheck)
	case stateUpSegCheck:
		f.check(s, stateUpSegResponse)
	case stateUpSegResponse:
		f.upSegResponse(s)
	}

	return !f.Done()
}

func (f *FSM) Done() bool { return f.state == stateEnd || f.state == stateError }

func (f *FSM) Success() bool { return f.state == stateEnd }

func (f *FSM) fail(format string, args ...interface{}) {
	f.log.WithFields(log.Fields{
		"index":    f.req.Index,
		"subindex": f.req.Subindex,
		"state":    f.state,
	}).Errorf("[SDO] "+format, args...)
	f.state = stateError
}

// abort fails the transfer with a master side abort code.
func (f *FSM) abort(code uint32, format string, args ...interface{}) {
	f.req.AbortCode = code
	f.fail(format, args...)
}

func (f *FSM) verify(s *ecmd.Slot) bool {
	switch s.Verify(1, &f.retries) {
	case ecmd.OutcomeOK:
		return true
	case ecmd.OutcomeRepeated:
		f.log.Debugf("[SDO] repeating %v", s)
	case ecmd.OutcomeReceiveError:
		f.fail("datagram failed: %v", s.Err)
	case ecmd.OutcomeWorkingCounterError:
		f.fail("working counter %d on %v", s.WorkingCounter, s)
	}
	return false
}

func (f *FSM) supported() bool {
	if !f.mbox.Protocols.Has(ecmb.ProtocolCoE) {
		f.fail("slave does not support CoE, protocols %v", f.mbox.Protocols)
		return false
	}
	return true
}

// prepare writes the CoE header and the command byte and returns the bytes
// following the command for the caller to fill.
func (f *FSM) prepare(s *ecmd.Slot, cmd uint8, size int) []byte {
	p, err := f.mbox.Prepare(s, ecmb.TypeCoE, HeaderSize+size)
	if err != nil {
		f.fail("preparing request: %v", err)
		return nil
	}
	binary.LittleEndian.PutUint16(p, ServiceSdoRequest<<12)
	p[HeaderSize] = cmd
	f.retries = ecmd.FSMRetries
	return p[HeaderSize+1:]
}

// prepareInitiate prepares an initiate message addressing the request's
// object. data is placed after the subindex.
func (f *FSM) prepareInitiate(s *ecmd.Slot, cmd uint8, data []byte) bool {
	size := SdoHeaderSize
	if len(data) > 4 {
		size += len(data) - 4
	}
	p := f.prepare(s, cmd, size)
	if p == nil {
		return false
	}
	binary.LittleEndian.PutUint16(p, f.req.Index)
	p[2] = f.req.Subindex
	copy(p[3:], data)
	return true
}

func (f *FSM) sent(s *ecmd.Slot, next state) {
	if !f.verify(s) {
		return
	}
	f.start = s.SentAt
	f.mbox.PrepareCheck(s)
	f.retries = ecmd.FSMRetries
	f.state = next
}

func (f *FSM) check(s *ecmd.Slot, next state) {
	if !f.verify(s) {
		return
	}

	if !ecmb.Check(s) {
		if s.ReceivedAt.Sub(f.start) >= f.timeout {
			f.abort(AbortTimeout, "no response within %v", f.timeout)
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

// response decodes an SDO reply and returns the bytes from the command byte
// on. An abort from the slave fails the transfer with its code.
func (f *FSM) response(s *ecmd.Slot) ([]byte, bool) {
	if !f.verify(s) {
		return nil, false
	}

	t, p, err := f.mbox.Fetch(s)
	if err != nil {
		f.fail("fetching response: %v", err)
		return nil, false
	}
	if t != ecmb.TypeCoE {
		f.fail("received %v message", t)
		return nil, false
	}
	if len(p) < HeaderSize+SdoHeaderSize {
		f.abort(AbortGeneral, "response of %d bytes", len(p))
		return nil, false
	}
	if service := binary.LittleEndian.Uint16(p) >> 12; service != ServiceSdoResponse {
		f.abort(AbortGeneral, "received CoE service %d", service)
		return nil, false
	}

	sdo := p[HeaderSize:]
	if sdo[0]>>5 == csAbort {
		f.req.AbortCode = binary.LittleEndian.Uint32(sdo[4:])
		f.fail("slave aborted with %#08x: %s", f.req.AbortCode, AbortText(f.req.AbortCode))
		return nil, false
	}
	return sdo, true
}

// initiateResponse checks the reply to an initiate request.
func (f *FSM) initiateResponse(s *ecmd.Slot, scs uint8) ([]byte, bool) {
	sdo, ok := f.response(s)
	if !ok {
		return nil, false
	}
	if sdo[0]>>5 != scs {
		f.abort(AbortCommand, "received command %#02x", sdo[0])
		return nil, false
	}
	index, subindex := binary.LittleEndian.Uint16(sdo[1:]), sdo[3]
	if index != f.req.Index || subindex != f.req.Subindex {
		f.abort(AbortGeneral, "response for %04X:%02X", index, subindex)
		return nil, false
	}
	return sdo, true
}

// segmentResponse checks the reply to a segment request.
func (f *FSM) segmentResponse(s *ecmd.Slot, scs uint8) ([]byte, bool) {
	sdo, ok := f.response(s)
	if !ok {
		return nil, false
	}
	if sdo[0]>>5 != scs {
		f.abort(AbortCommand, "received command %#02x", sdo[0])
		return nil, false
	}
	if sdo[0]>>4&0x01 != f.toggle {
		f.abort(AbortToggle, "toggle bit not alternated")
		return nil, false
	}
	return sdo, true
}

func (f *FSM) downStart(s *ecmd.Slot) {
	if !f.supported() {
		return
	}

	size := f.req.DataSize()
	if size > 0 && size <= 4 {
		cmd := uint8(ccsInitiateDownload<<5 | 0x03 | (4-size)<<2)
		if !f.prepareInitiate(s, cmd, f.req.Data()) {
			return
		}
		f.offset = size
		f.state = stateDownRequest
		return
	}

	capacity := int(f.mbox.RxSize) - ecmb.HeaderSize - HeaderSize - SdoHeaderSize
	if capacity < 0 {
		f.fail("mailbox of %d bytes too small", f.mbox.RxSize)
		return
	}
	n := size
	if n > capacity {
		n = capacity
	}
	data := make([]byte, 4+n)
	binary.LittleEndian.PutUint32(data, uint32(size))
	copy(data[4:], f.req.Data()[:n])
	if !f.prepareInitiate(s, ccsInitiateDownload<<5|0x01, data) {
		return
	}
	f.offset = n
	f.state = stateDownRequest
}

func (f *FSM) downResponse(s *ecmd.Slot) {
	if _, ok := f.initiateResponse(s, scsInitiateDownload); !ok {
		return
	}
	if f.offset >= f.req.DataSize() {
		f.downloaded()
		return
	}
	f.toggle = 0
	f.downSegment(s)
}

func (f *FSM) downSegment(s *ecmd.Slot) {
	capacity := int(f.mbox.RxSize) - ecmb.HeaderSize - HeaderSize - segmentHeaderSize
	n := f.req.DataSize() - f.offset
	if n > capacity {
		n = capacity
	}
	f.last = f.offset+n == f.req.DataSize()

	cmd := uint8(ccsDownloadSegment<<5) | f.toggle<<4
	if f.last {
		cmd |= 0x01
	}
	size := n
	if n < minSegmentData {
		cmd |= uint8(minSegmentData-n) << 1
		size = minSegmentData
	}

	p := f.prepare(s, cmd, size)
	if p == nil {
		return
	}
	copy(p, f.req.Data()[f.offset:f.offset+n])
	f.offset += n
	f.state = stateDownSegRequest
}

func (f *FSM) downSegResponse(s *ecmd.Slot) {
	if _, ok := f.segmentResponse(s, scsDownloadSegment); !ok {
		return
	}
	if f.last {
		f.downloaded()
		return
	}
	f.toggle ^= 1
	f.downSegment(s)
}

func (f *FSM) downloaded() {
	f.log.Debugf("[SDO] downloaded %04X:%02X, %d bytes", f.req.Index, f.req.Subindex, f.req.DataSize())
	f.state = stateEnd
}

func (f *FSM) upStart(s *ecmd.Slot) {
	if !f.supported() {
		return
	}
	f.req.Reset()

	if !f.prepareInitiate(s, ccsInitiateUpload<<5, nil) {
		return
	}
	f.state = stateUpRequest
}

func (f *FSM) upResponse(s *ecmd.Slot) {
	sdo, ok := f.initiateResponse(s, scsInitiateUpload)
	if !ok {
		return
	}

	cmd := sdo[0]
	if cmd&0x02 != 0 {
		n := 4
		if cmd&0x01 != 0 {
			n = 4 - int(cmd>>2&0x03)
		}
		f.req.AppendData(sdo[4 : 4+n])
		f.uploaded()
		return
	}

	f.complete = int(binary.LittleEndian.Uint32(sdo[4:]))
	data := sdo[SdoHeaderSize:]
	if len(data) > f.complete {
		data = data[:f.complete]
	}
	f.req.AppendData(data)

	if f.req.DataSize() >= f.complete {
		f.uploaded()
		return
	}
	f.toggle = 0
	f.upSegment(s)
}

func (f *FSM) upSegment(s *ecmd.Slot) {
	p := f.prepare(s, uint8(ccsUploadSegment<<5)|f.toggle<<4, minSegmentData)
	if p == nil {
		return
	}
	f.state = stateUpSegRequest
}

func (f *FSM) upSegResponse(s *ecmd.Slot) {
	sdo, ok := f.segmentResponse(s, scsUploadSegment)
	if !ok {
		return
	}

	cmd := sdo[0]
	data := sdo[segmentHeaderSize:]
	if len(sdo) == segmentHeaderSize+minSegmentData {
		data = data[:minSegmentData-int(cmd>>1&0x07)]
	}
	if f.req.DataSize()+len(data) > f.complete {
		f.abort(AbortLengthTooHigh, "segment exceeds announced size %d", f.complete)
		return
	}
	f.req.AppendData(data)

	if cmd&0x01 != 0 {
		if f.req.DataSize() != f.complete {
			f.abort(AbortLengthMismatch, "received %d bytes, announced %d", f.req.DataSize(), f.complete)
			return
		}
		f.uploaded()
		return
	}
	f.toggle ^= 1
	f.upSegment(s)
}

func (f *FSM) uploaded() {
	f.log.Debugf("[SDO] uploaded %04X:%02X, %d bytes", f.req.Index, f.req.Subindex, f.req.DataSize())
	f.state = stateEnd
}
