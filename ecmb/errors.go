package ecmb

import (
	"fmt"
)

// MailboxError is a mailbox error reply (type 0) sent by a slave that could
// not process a message.
type MailboxError struct {
	Code uint16
}

var mailboxErrorText = map[uint16]string{
	0x0001: "MBXERR_SYNTAX",
	0x0002: "MBXERR_UNSUPPORTEDPROTOCOL",
	0x0003: "MBXERR_INVALIDCHANNEL",
	0x0004: "MBXERR_SERVICENOTSUPPORTED",
	0x0005: "MBXERR_INVALIDHEADER",
	0x0006: "MBXERR_SIZETOOSHORT",
	0x0007: "MBXERR_NOMOREMEMORY",
	0x0008: "MBXERR_INVALIDSIZE",
}

func (e *MailboxError) Error() string {
	if msg, ok := mailboxErrorText[e.Code]; ok {
		return fmt.Sprintf("mailbox error reply %#04x: %s", e.Code, msg)
	}
	return fmt.Sprintf("mailbox error reply %#04x", e.Code)
}
