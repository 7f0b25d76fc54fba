package ecsoe

import (
	"fmt"

	"github.com/distributed/ecat/ecrq"
)

var errorText = map[uint16]string{
	0x1001: "No IDN",
	0x1009: "Invalid access to element 1",
	0x2001: "No name",
	0x2002: "Name transmission too short",
	0x2003: "Name transmission too long",
	0x2004: "Name cannot be changed, read only",
	0x2005: "Name is write-protected at this time",
	0x3002: "Attribute transmission too short",
	0x3003: "Attribute transmission too long",
	0x3004: "Attribute cannot be changed, read only",
	0x3005: "Attribute is write-protected at this time",
	0x4001: "No units",
	0x4002: "Unit transmission too short",
	0x4003: "Unit transmission too long",
	0x4004: "Unit cannot be changed, read only",
	0x4005: "Unit is write-protected at this time",
	0x5001: "No minimum input value",
	0x5002: "Minimum input value transmission too short",
	0x5003: "Minimum input value transmission too long",
	0x5004: "Minimum input value cannot be changed, read only",
	0x5005: "Minimum input value is write-protected at this time",
	0x6001: "No maximum input value",
	0x6002: "Maximum input value transmission too short",
	0x6003: "Maximum input value transmission too long",
	0x6004: "Maximum input value cannot be changed, read only",
	0x6005: "Maximum input value is write-protected at this time",
	0x7002: "Operation data transmission too short",
	0x7003: "Operation data transmission too long",
	0x7004: "Operation data cannot be changed, read only",
	0x7005: "Operation data is write-protected at this time (state)",
	0x7006: "Operation data is smaller than the minimum input value",
	0x7007: "Operation data is greater than the maximum input value",
	0x7008: "Invalid operation data: configured IDN will not be supported",
	0x7009: "Operation data write protected by a password",
	0x700A: "Operation data is write protected, it is configured cyclically",
	0x700B: "Invalid indirect addressing (data container, list handling)",
	0x700C: "Operation data is write protected, due to other settings",
	0x700D: "Reserved",
	0x7010: "Procedure command already active",
	0x7011: "Procedure command not interruptible",
	0x7012: "Procedure command at this time not executable (state)",
	0x7013: "Procedure command not executable (invalid or false parameters)",
	0x7014: "No data state",
	0x8001: "No default value",
	0x8002: "Default value transmission too long",
	0x8004: "Default value cannot be changed, read only",
	0x800A: "Invalid drive number",
	0x800B: "General error",
	0x800C: "No element addressed",
}

// ErrorText returns the description of a Sercos error code.
func ErrorText(code uint16) string {
	if s, ok := errorText[code]; ok {
		return s
	}
	return "unknown error"
}

// FormatIDN renders an IDN the way drive manuals do, e.g. S-0-0015.
func FormatIDN(idn uint16) string {
	kind := 'S'
	if idn&0x8000 != 0 {
		kind = 'P'
	}
	return fmt.Sprintf("%c-%d-%04d", kind, idn>>12&0x07, idn&0x0fff)
}

// Error is a failed SoE request.
type Error struct {
	DriveNo uint8
	IDN     uint16
	// Code is the Sercos error code the drive answered with, zero if the
	// transfer failed for another reason.
	Code uint16
}

func (e *Error) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("soe drive %d %s: transfer failed", e.DriveNo, FormatIDN(e.IDN))
	}
	return fmt.Sprintf("soe drive %d %s: error %#04x: %s", e.DriveNo, FormatIDN(e.IDN), e.Code, ErrorText(e.Code))
}

// RequestError returns the error of a failed request, nil otherwise.
func RequestError(req *ecrq.SoeRequest) error {
	if req.State != ecrq.Failure {
		return nil
	}
	return &Error{req.DriveNo, req.IDN, req.ErrorCode}
}
