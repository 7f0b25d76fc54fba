package ecmd

import (
	"errors"
	"io"

	log "github.com/sirupsen/logrus"

	"github.com/distributed/ecat/ecfr"
)

const (
	CommandFramerMaxDatagramsLen = 1470
)

var ErrDatagramTooLong = errors.New("datalen exceeds maximum datagram length")

// Framer moves whole frames. Cycle sends the frames created since the last
// cycle and returns the frames received in return, in any order.
type Framer interface {
	New(maxdatalen int) (*ecfr.Frame, error)
	Cycle() ([]*ecfr.Frame, error)
}

// FramerStats counts frames over the lifetime of a CommandFramer.
type FramerStats struct {
	Sent     uint64
	Received uint64
	Lost     uint64
	// Unmatched are received frames that fit no frame sent in the cycle.
	Unmatched uint64
}

// pendingFrame is a frame handed to the framer together with the commands
// whose datagrams it carries, in datagram order.
type pendingFrame struct {
	frame *ecfr.Frame
	cmds  []*ExecutingCommand
}

// CommandFramer packs the datagrams of commands into as few frames as
// possible and matches the returning frames to them.
type CommandFramer struct {
	framer Framer
	index  uint8

	open    *pendingFrame
	free    uint16
	pending []pendingFrame

	stats FramerStats
}

func NewCommandFramer(framer Framer) *CommandFramer {
	return &CommandFramer{framer: framer}
}

// New reserves a datagram with datalen bytes of data in the frame being
// filled, opening a new frame if it does not fit.
func (cf *CommandFramer) New(datalen int) (*ExecutingCommand, error) {
	need := datalen + ecfr.DatagramOverheadLength
	if need > CommandFramerMaxDatagramsLen {
		return nil, ErrDatagramTooLong
	}

	if cf.open != nil && need > int(cf.free) {
		cf.close()
	}
	if cf.open == nil {
		frame, err := cf.framer.New(CommandFramerMaxDatagramsLen)
		if err != nil {
			return nil, err
		}
		cf.open = &pendingFrame{frame: frame}
		cf.free = CommandFramerMaxDatagramsLen
	}

	dg, err := cf.open.frame.NewDatagram(datalen)
	if err != nil {
		return nil, err
	}
	cf.free -= uint16(need)

	cmd := &ExecutingCommand{DatagramOut: dg}
	cf.open.cmds = append(cf.open.cmds, cmd)
	return cmd, nil
}

// close stamps the frame index into the datagrams of the open frame, marks
// the last one and queues the frame.
func (cf *CommandFramer) close() {
	f := cf.open
	cf.open = nil
	cf.free = 0

	dgs := f.frame.Datagrams
	if len(dgs) == 0 {
		return
	}
	for i := range dgs {
		dgs[i].Index = cf.index
		dgs[i].SetLast(i == len(dgs)-1)
	}
	cf.pending = append(cf.pending, *f)
	cf.index++
}

// Cycle sends all queued frames and marks the commands whose datagrams came
// back. Commands in lost frames are left not Arrived.
func (cf *CommandFramer) Cycle() error {
	if cf.open != nil {
		cf.close()
	}
	pending := cf.pending
	cf.pending = nil
	cf.stats.Sent += uint64(len(pending))

	in, err := cf.framer.Cycle()
	if err != nil {
		cf.stats.Lost += uint64(len(pending))
		return err
	}
	cf.stats.Received += uint64(len(in))

	// replies arrive in send order, so the search resumes after the last
	// match.
	next := 0
	for _, infr := range in {
		i := matchFrame(pending[next:], infr)
		if i < 0 {
			cf.stats.Unmatched++
			log.Debugf("[FRAMER] no frame sent matches reply of %d datagrams, %d bytes",
				len(infr.Datagrams), infr.Header.FrameLength())
			if log.IsLevelEnabled(log.TraceLevel) {
				for _, dg := range infr.Datagrams {
					log.Tracef("[FRAMER] unmatched %s", dg.Dump())
				}
			}
			continue
		}
		pending[next+i].arrived(infr)
		next += i + 1
		if next == len(pending) {
			break
		}
	}

	for _, p := range pending {
		if len(p.cmds) > 0 && !p.cmds[0].Arrived {
			cf.stats.Lost++
		}
	}
	return nil
}

func matchFrame(pending []pendingFrame, infr *ecfr.Frame) int {
	for i, p := range pending {
		out := p.frame
		if infr.Header.FrameLength() != out.Header.FrameLength() {
			continue
		}
		if len(infr.Datagrams) == 0 || len(infr.Datagrams) != len(out.Datagrams) {
			continue
		}
		if infr.Datagrams[0].Index != out.Datagrams[0].Index {
			continue
		}
		return i
	}
	return -1
}

// arrived hands the datagrams of the reply to the commands. A datagram whose
// command or length changed on the way is not taken.
func (p *pendingFrame) arrived(infr *ecfr.Frame) {
	for j, cmd := range p.cmds {
		out, in := cmd.DatagramOut, infr.Datagrams[j]
		if out.Command != in.Command || out.DataLength() != in.DataLength() {
			continue
		}
		cmd.DatagramIn = in
		cmd.Arrived = true
		cmd.Overlayed = true
		cmd.Error = nil
	}
}

// Stats returns the frame counters.
func (cf *CommandFramer) Stats() FramerStats { return cf.stats }

// Close closes the framer if it holds resources.
func (cf *CommandFramer) Close() error {
	if c, ok := cf.framer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
