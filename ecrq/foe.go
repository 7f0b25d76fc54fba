package ecrq

import (
	"fmt"
	"time"
)

// FoeResult is the outcome of a file access transfer.
type FoeResult int

const (
	FoeBusy FoeResult = iota
	FoeReady
	FoeIdle
	FoeWcError
	FoeReceiveError
	FoeProtError
	FoeNodataError
	FoePacketnoError
	FoeOpcodeError
	FoeTimeoutError
	FoeSendRxDataError
	FoeRxDataAckError
	FoeAckError
	FoeMboxFetchError
	FoeReadNodataError
	FoeMboxProtError
)

var foeResultName = [...]string{
	FoeBusy:            "busy",
	FoeReady:           "ready",
	FoeIdle:            "idle",
	FoeWcError:         "working counter error",
	FoeReceiveError:    "receive error",
	FoeProtError:       "protocol error",
	FoeNodataError:     "no data error",
	FoePacketnoError:   "packet number error",
	FoeOpcodeError:     "opcode error",
	FoeTimeoutError:    "timeout error",
	FoeSendRxDataError: "send rx data error",
	FoeRxDataAckError:  "rx data ack error",
	FoeAckError:        "ack error",
	FoeMboxFetchError:  "mailbox fetch error",
	FoeReadNodataError: "read no data error",
	FoeMboxProtError:   "mailbox protocol error",
}

func (r FoeResult) String() string {
	if r >= 0 && int(r) < len(foeResultName) {
		return foeResultName[r]
	}
	return fmt.Sprintf("FoeResult(%d)", int(r))
}

// DefaultFoeResponseTimeout applies when a FoE request sets none.
const DefaultFoeResponseTimeout = 3000 * time.Millisecond

// FoeRequest reads or writes one file through File access over EtherCAT.
type FoeRequest struct {
	Request

	FileName string
	Password uint32

	// Result is set by the state machine; ErrorCode and ErrorText hold what
	// the slave reported in an error reply.
	Result    FoeResult
	ErrorCode uint32
	ErrorText string

	buf buffer
}

func NewFoeRequest(fileName string) *FoeRequest {
	return &FoeRequest{
		Request:  Request{ResponseTimeout: DefaultFoeResponseTimeout},
		FileName: fileName,
	}
}

// Read sets up the request to fetch a file of at most size bytes.
func (r *FoeRequest) Read(size int) {
	r.Dir = Input
	r.buf.alloc(size)
	r.buf.size = 0
}

// Write sets up the request to store data as the file.
func (r *FoeRequest) Write(data []byte) {
	r.Dir = Output
	r.buf.set(data)
}

// Alloc guarantees a buffer of at least size bytes. A larger buffer is a
// fresh allocation, the old contents are dropped.
func (r *FoeRequest) Alloc(size int) {
	r.buf.alloc(size)
}

func (r *FoeRequest) BufferSize() int { return len(r.buf.mem) }

func (r *FoeRequest) DataSize() int { return r.buf.size }

// Data returns the valid part of the buffer.
func (r *FoeRequest) Data() []byte { return r.buf.data() }

// Buffer returns the whole buffer.
func (r *FoeRequest) Buffer() []byte { return r.buf.mem }

// SetDataSize marks the first n buffer bytes valid.
func (r *FoeRequest) SetDataSize(n int) {
	if n > len(r.buf.mem) {
		panic(fmt.Sprintf("foe data size %d exceeds buffer size %d", n, len(r.buf.mem)))
	}
	r.buf.size = n
}
