package eccoe

import (
	"fmt"

	"github.com/distributed/ecat/ecrq"
)

// Abort codes the master itself raises.
const (
	AbortToggle         = 0x05030000
	AbortTimeout        = 0x05040000
	AbortCommand        = 0x05040001
	AbortLengthMismatch = 0x06070010
	AbortLengthTooHigh  = 0x06070012
	AbortGeneral        = 0x08000000
)

var abortText = map[uint32]string{
	0x05030000: "toggle bit not alternated",
	0x05040000: "SDO protocol timeout",
	0x05040001: "command specifier invalid or unknown",
	0x05040002: "invalid block size",
	0x05040003: "invalid sequence number",
	0x05040004: "CRC error",
	0x05040005: "out of memory",
	0x06010000: "unsupported access to object",
	0x06010001: "attempt to read a write-only object",
	0x06010002: "attempt to write a read-only object",
	0x06010003: "subindex cannot be written, SI0 must be 0 for write access",
	0x06010004: "complete access not supported for variable length objects",
	0x06010005: "object length exceeds mailbox size",
	0x06010006: "object mapped to RxPDO, SDO download blocked",
	0x06020000: "object does not exist",
	0x06040041: "object cannot be mapped to PDO",
	0x06040042: "PDO length exceeded",
	0x06040043: "general parameter incompatibility",
	0x06040047: "internal incompatibility in device",
	0x06060000: "hardware error",
	0x06070010: "data type does not match (length)",
	0x06070012: "data type does not match (length too high)",
	0x06070013: "data type does not match (length too low)",
	0x06090011: "sub-index does not exist",
	0x06090030: "value range exceeded",
	0x06090031: "value range exceeded (max)",
	0x06090032: "value range exceeded (min)",
	0x06090036: "maximum value is less than minimum value",
	0x08000000: "general error",
	0x08000020: "data cannot be transferred/stored",
	0x08000021: "local control",
	0x08000022: "device state",
	0x08000023: "OD dynamic generation fails",
}

// AbortText returns the description of a CoE abort code.
func AbortText(code uint32) string {
	if s, ok := abortText[code]; ok {
		return s
	}
	return "unknown abort code"
}

// AbortError is a failed SDO transfer. Code is zero if the transfer failed
// below the CoE layer.
type AbortError struct {
	Index    uint16
	Subindex uint8
	Code     uint32
}

func (e *AbortError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("sdo %04X:%02X: transfer failed", e.Index, e.Subindex)
	}
	return fmt.Sprintf("sdo abort %#08x @ %04X:%02X: %s", e.Code, e.Index, e.Subindex, AbortText(e.Code))
}

// RequestError returns the error of a failed request, nil otherwise.
func RequestError(req *ecrq.SdoRequest) error {
	if req.State != ecrq.Failure {
		return nil
	}
	return &AbortError{req.Index, req.Subindex, req.AbortCode}
}
