package ecrq

import (
	"time"
)

const DefaultSoeResponseTimeout = 1000 * time.Millisecond

// SoeRequest reads or writes one IDN of a Sercos drive.
type SoeRequest struct {
	Request

	DriveNo uint8
	IDN     uint16
	// ALState is the application layer state the request belongs to.
	ALState uint8

	ErrorCode uint16

	buf buffer
}

func NewSoeRequest(driveNo uint8, idn uint16) *SoeRequest {
	return &SoeRequest{
		Request: Request{ResponseTimeout: DefaultSoeResponseTimeout},
		DriveNo: driveNo & 0x07,
		IDN:     idn,
	}
}

// Read clears the data for a read transfer.
func (r *SoeRequest) Read() {
	r.Dir = Input
	r.buf.size = 0
}

// Write stores data for a write transfer.
func (r *SoeRequest) Write(data []byte) {
	r.Dir = Output
	r.buf.set(data)
}

func (r *SoeRequest) Alloc(size int) { r.buf.alloc(size) }

// AppendData adds a received fragment, growing the buffer when needed.
func (r *SoeRequest) AppendData(d []byte) { r.buf.append(d) }

func (r *SoeRequest) Data() []byte { return r.buf.data() }

func (r *SoeRequest) DataSize() int { return r.buf.size }

func (r *SoeRequest) MemSize() int { return len(r.buf.mem) }
