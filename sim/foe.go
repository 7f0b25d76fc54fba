package sim

import (
	"encoding/binary"

	"github.com/distributed/ecat/ecmb"
)

const (
	foeRRQ  = 0x01
	foeWRQ  = 0x02
	foeDATA = 0x03
	foeACK  = 0x04
	foeERR  = 0x05
	foeBUSY = 0x06

	foeHeaderSize = 6

	FoeErrNotFound   = 0x8001
	FoeErrPacketNo   = 0x8002
	FoeErrIllegal    = 0x8004
	FoeErrNotDefined = 0x8000
)

// FoeServer is a file store behind the FoE protocol. Written files become
// visible fragment by fragment.
type FoeServer struct {
	Files map[string][]byte

	// BusyFirst answers every data packet (write) or acknowledge (read)
	// with Busy once before processing it.
	BusyFirst bool
	// CorruptPacketNo, if not zero, is the read packet number that is sent
	// with a wrong number.
	CorruptPacketNo uint32

	// AcceptedPackets lists the packet numbers of the data packets stored,
	// in order.
	AcceptedPackets []uint32
	// Busies counts the Busy replies.
	Busies int

	writing string
	wbuf    []byte
	wpacket uint32
	reading []byte
	rActive bool
	roffset int
	rpacket uint32
	rdone   bool
	busied  uint32
	hasBusy bool
}

func NewFoeServer() *FoeServer {
	return &FoeServer{Files: make(map[string][]byte)}
}

func (f *FoeServer) HandleMailbox(mb *Mailbox, p []byte) {
	if len(p) < foeHeaderSize {
		f.replyError(mb, FoeErrIllegal, "short")
		return
	}
	op := p[0]
	arg := binary.LittleEndian.Uint32(p[2:])
	data := p[foeHeaderSize:]

	switch op {
	case foeWRQ:
		f.writing = string(data)
		f.wbuf = nil
		f.wpacket = 0
		f.hasBusy = false
		f.Files[f.writing] = []byte{}
		f.reply(mb, foeACK, 0, nil)

	case foeDATA:
		if f.writing == "" {
			f.replyError(mb, FoeErrIllegal, "no write in progress")
			return
		}
		if arg != f.wpacket+1 {
			f.replyError(mb, FoeErrPacketNo, "packet number")
			return
		}
		if f.busyOnce(mb, arg) {
			return
		}
		f.wpacket = arg
		f.wbuf = append(f.wbuf, data...)
		f.Files[f.writing] = append([]byte(nil), f.wbuf...)
		f.AcceptedPackets = append(f.AcceptedPackets, arg)
		f.reply(mb, foeACK, arg, nil)

	case foeRRQ:
		file, ok := f.Files[string(data)]
		if !ok {
			f.replyError(mb, FoeErrNotFound, "file not found")
			return
		}
		f.reading = file
		f.rActive = true
		f.roffset = 0
		f.rpacket = 0
		f.rdone = false
		f.hasBusy = false
		if f.busyOnce(mb, 0) {
			return
		}
		f.sendNext(mb)

	case foeACK:
		if !f.rActive {
			f.replyError(mb, FoeErrIllegal, "no read in progress")
			return
		}
		if arg != f.rpacket {
			f.replyError(mb, FoeErrPacketNo, "ack number")
			return
		}
		if f.rdone {
			f.rActive = false
			return
		}
		if f.busyOnce(mb, arg) {
			return
		}
		f.sendNext(mb)

	default:
		f.replyError(mb, FoeErrIllegal, "opcode")
	}
}

// busyOnce answers Busy the first time it sees packet n.
func (f *FoeServer) busyOnce(mb *Mailbox, n uint32) bool {
	if !f.BusyFirst || (f.hasBusy && f.busied == n) {
		return false
	}
	f.hasBusy = true
	f.busied = n
	f.Busies++
	f.reply(mb, foeBUSY, 0, nil)
	return true
}

// sendNext sends the next chunk of the file being read. A chunk shorter than
// the mailbox capacity ends the file, so a file filling the last chunk
// exactly is followed by an empty one.
func (f *FoeServer) sendNext(mb *Mailbox) {
	capacity := int(mb.TxSize) - ecmb.HeaderSize - foeHeaderSize
	n := len(f.reading) - f.roffset
	if n > capacity {
		n = capacity
	}
	chunk := f.reading[f.roffset : f.roffset+n]
	f.roffset += n
	f.rpacket++
	f.rdone = n < capacity

	no := f.rpacket
	if f.CorruptPacketNo != 0 && no == f.CorruptPacketNo {
		no++
	}
	f.reply(mb, foeDATA, no, chunk)
}

func (f *FoeServer) reply(mb *Mailbox, op uint8, arg uint32, data []byte) {
	p := make([]byte, foeHeaderSize+len(data))
	p[0] = op
	binary.LittleEndian.PutUint32(p[2:], arg)
	copy(p[foeHeaderSize:], data)
	mb.Reply(ecmb.TypeFoE, p)
}

func (f *FoeServer) replyError(mb *Mailbox, code uint32, text string) {
	f.reply(mb, foeERR, code, []byte(text))
}
