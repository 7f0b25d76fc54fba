package ecrq

import (
	"time"
)

const DefaultSdoResponseTimeout = 1000 * time.Millisecond

// SdoRequest uploads (Input) or downloads (Output) one object dictionary
// entry through CoE.
type SdoRequest struct {
	Request

	Index    uint16
	Subindex uint8

	// AbortCode is the CoE abort code of a failed transfer, from the slave
	// or from the master itself.
	AbortCode uint32

	buf buffer
}

func NewSdoRequest(index uint16, subindex uint8) *SdoRequest {
	return &SdoRequest{
		Request:  Request{ResponseTimeout: DefaultSdoResponseTimeout},
		Index:    index,
		Subindex: subindex,
	}
}

func (r *SdoRequest) Read() {
	r.Dir = Input
	r.buf.size = 0
}

func (r *SdoRequest) Write(data []byte) {
	r.Dir = Output
	r.buf.set(data)
}

// Reset drops received data before a new upload.
func (r *SdoRequest) Reset() { r.buf.size = 0 }

func (r *SdoRequest) AppendData(d []byte) { r.buf.append(d) }

func (r *SdoRequest) Data() []byte { return r.buf.data() }

func (r *SdoRequest) DataSize() int { return r.buf.size }
