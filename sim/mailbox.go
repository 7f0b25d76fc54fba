package sim

import (
	"encoding/binary"

	"github.com/distributed/ecat/ecad"
	"github.com/distributed/ecat/ecmb"
)

// MailboxHandler serves one mailbox protocol. It answers through
// Mailbox.Reply.
type MailboxHandler interface {
	HandleMailbox(mb *Mailbox, payload []byte)
}

type reply struct {
	msg     []byte
	visible int
}

// Mailbox emulates the standard mailbox of a slave: SM0 receives messages
// from the master, SM1 holds replies until the master reads them.
type Mailbox struct {
	ecmb.Config

	Handlers map[ecmb.Type]MailboxHandler

	// Delay is the number of frames a reply stays invisible to the master.
	Delay int
	// Mute drops all replies.
	Mute bool

	// Received counts the messages written by the master.
	Received int

	frame   int
	replies []reply
	sm      [2 * ecad.SyncManagerChannelLen]byte
}

func NewMailbox(cfg ecmb.Config) *Mailbox {
	mb := &Mailbox{
		Config:   cfg,
		Handlers: make(map[ecmb.Type]MailboxHandler),
	}

	binary.LittleEndian.PutUint16(mb.sm[0:], cfg.RxOffset)
	binary.LittleEndian.PutUint16(mb.sm[2:], cfg.RxSize)
	mb.sm[4] = 0x26
	mb.sm[6] = 0x01
	binary.LittleEndian.PutUint16(mb.sm[8:], cfg.TxOffset)
	binary.LittleEndian.PutUint16(mb.sm[10:], cfg.TxSize)
	mb.sm[12] = 0x22
	mb.sm[14] = 0x01

	return mb
}

// Handle registers h for messages of type t.
func (mb *Mailbox) Handle(t ecmb.Type, h MailboxHandler) {
	mb.Handlers[t] = h
}

// Reply queues a message for the master.
func (mb *Mailbox) Reply(t ecmb.Type, payload []byte) {
	if mb.Mute {
		return
	}

	msg := make([]byte, mb.TxSize)
	n := copy(msg[ecmb.HeaderSize:], payload)
	ecmb.Header{Length: uint16(n), Type: t, Counter: 1}.Put(msg)
	mb.replies = append(mb.replies, reply{msg, mb.frame + mb.Delay})
}

// Pending is the number of replies not yet read by the master.
func (mb *Mailbox) Pending() int { return len(mb.replies) }

func (mb *Mailbox) full() bool {
	return len(mb.replies) > 0 && mb.replies[0].visible <= mb.frame
}

func (mb *Mailbox) deliver(msg []byte) {
	mb.Received++

	h, err := ecmb.ParseHeader(msg)
	if err != nil || int(h.Length)+ecmb.HeaderSize > len(msg) {
		mb.replyError(0x0005)
		return
	}

	handler, ok := mb.Handlers[h.Type]
	if !ok {
		mb.replyError(0x0002)
		return
	}

	payload := make([]byte, h.Length)
	copy(payload, msg[ecmb.HeaderSize:])
	handler.HandleMailbox(mb, payload)
}

func (mb *Mailbox) replyError(code uint16) {
	p := make([]byte, 4)
	binary.LittleEndian.PutUint16(p[0:], 0x01)
	binary.LittleEndian.PutUint16(p[2:], code)
	mb.Reply(ecmb.TypeError, p)
}

// protocols derives the SII capability mask from the registered handlers.
func (mb *Mailbox) protocols() ecmb.Protocols {
	if mb.Config.Protocols != 0 {
		return mb.Config.Protocols
	}

	var p ecmb.Protocols
	for t := range mb.Handlers {
		switch t {
		case ecmb.TypeCoE:
			p |= ecmb.ProtocolCoE
		case ecmb.TypeFoE:
			p |= ecmb.ProtocolFoE
		case ecmb.TypeSoE:
			p |= ecmb.ProtocolSoE
		}
	}
	return p
}

// AttachMailbox maps the mailbox buffers and sync manager pages into the
// slave and describes the mailbox in its SII.
func (s *L2Slave) AttachMailbox(mb *Mailbox) {
	s.Map(DevMapping{ecad.SyncManager(0), uint16(len(mb.sm)), mailboxSyncManagers{mb}})
	s.Map(DevMapping{mb.RxOffset, mb.RxSize, mailboxRx{mb}})
	s.Map(DevMapping{mb.TxOffset, mb.TxSize, mailboxTx{mb}})

	s.EEPROM.Array[ecad.SIIStdRxMailboxOffset] = mb.RxOffset
	s.EEPROM.Array[ecad.SIIStdRxMailboxSize] = mb.RxSize
	s.EEPROM.Array[ecad.SIIStdTxMailboxOffset] = mb.TxOffset
	s.EEPROM.Array[ecad.SIIStdTxMailboxSize] = mb.TxSize
	s.EEPROM.Array[ecad.SIIMailboxProtocols] = uint16(mb.protocols())
}

type mailboxSyncManagers struct{ *Mailbox }

func (m mailboxSyncManagers) Read(offs uint16, dp *uint8) bool {
	switch offs {
	case ecad.SyncManagerStatusOffset:
		// handlers consume messages on arrival, SM0 is never full
		*dp = 0x00
	case ecad.SyncManagerChannelLen + ecad.SyncManagerStatusOffset:
		*dp = 0x00
		if m.full() {
			*dp = ecad.SyncManagerStatusMailboxFull
		}
	default:
		*dp = m.sm[offs]
	}
	return true
}

func (m mailboxSyncManagers) WriteInteract(offs uint16) bool { return true }

func (m mailboxSyncManagers) Latch(shadow []byte, shadowWriteMask []bool) {
	for i := range shadow {
		if shadowWriteMask[i] && i%ecad.SyncManagerChannelLen != ecad.SyncManagerStatusOffset {
			m.sm[i] = shadow[i]
		}
	}
}

type mailboxRx struct{ *Mailbox }

func (m mailboxRx) Read(offs uint16, dp *uint8) bool { return false }

func (m mailboxRx) WriteInteract(offs uint16) bool { return true }

// Latch delivers the message once the last byte of the buffer was written.
func (m mailboxRx) Latch(shadow []byte, shadowWriteMask []bool) {
	if !shadowWriteMask[len(shadowWriteMask)-1] {
		return
	}
	msg := make([]byte, len(shadow))
	copy(msg, shadow)
	m.deliver(msg)
}

type mailboxTx struct{ *Mailbox }

// Read of an empty mailbox does not count; reading the last byte frees the
// buffer for the next reply.
func (m mailboxTx) Read(offs uint16, dp *uint8) bool {
	if !m.full() {
		return false
	}
	*dp = m.replies[0].msg[offs]
	if int(offs) == len(m.replies[0].msg)-1 {
		m.replies = m.replies[1:]
	}
	return true
}

func (m mailboxTx) WriteInteract(offs uint16) bool { return false }

func (m mailboxTx) Latch(shadow []byte, shadowWriteMask []bool) {
	m.frame++
}
