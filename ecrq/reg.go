package ecrq

import (
	"fmt"
)

// RegRequest reads or writes a range of ESC registers or memory.
type RegRequest struct {
	Request

	Address uint16

	buf buffer
}

// NewRegRequest returns a register request with room for size bytes.
func NewRegRequest(size int) *RegRequest {
	r := &RegRequest{}
	r.buf.alloc(size)
	return r
}

// Read sets up a read of size bytes at address.
func (r *RegRequest) Read(address uint16, size int) {
	r.check(size)
	r.Dir = Input
	r.Address = address
	r.buf.size = size
}

// Write sets up a write of data at address.
func (r *RegRequest) Write(address uint16, data []byte) {
	r.check(len(data))
	r.Dir = Output
	r.Address = address
	copy(r.buf.mem, data)
	r.buf.size = len(data)
}

func (r *RegRequest) check(size int) {
	if size > len(r.buf.mem) {
		panic(fmt.Sprintf("register transfer of %d bytes exceeds request memory of %d", size, len(r.buf.mem)))
	}
}

func (r *RegRequest) TransferSize() int { return r.buf.size }

func (r *RegRequest) Data() []byte { return r.buf.data() }
