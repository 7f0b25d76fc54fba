// Package ecmd executes EtherCAT commands: single blocking reads and writes
// for bring-up, and slots that cycle driven state machines fill once per
// cycle.
package ecmd

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/distributed/ecat/ecfr"
)

// Commander hands out datagrams and exchanges all handed out datagrams in
// one cycle.
type Commander interface {
	New(datalen int) (*ExecutingCommand, error)
	Cycle() error
	Close() error
}

// ExecutingCommand is one datagram on its way through a cycle. DatagramIn
// is valid once Arrived and Overlayed are set.
type ExecutingCommand struct {
	DatagramOut *ecfr.Datagram

	DatagramIn *ecfr.Datagram
	Arrived    bool
	Overlayed  bool
	Error      error
}

var NoFrame = errors.New("frame did not arrive")
var NoOverlay = errors.New("failed to overlay")

type WorkingCounterError struct {
	Command    ecfr.CommandType
	Addr32     uint32
	Want, Have uint16
}

func (e WorkingCounterError) Error() string {
	return fmt.Sprintf("working counter error, want %d, have %d on %v %#08x",
		e.Want, e.Have, e.Command, e.Addr32)
}

// ChooseDefaultError returns the transport error of a cycled command, nil
// if its datagram came back.
func ChooseDefaultError(cmd *ExecutingCommand) error {
	switch {
	case !cmd.Arrived:
		return NoFrame
	case !cmd.Overlayed:
		return NoOverlay
	}
	return cmd.Error
}

func IsNoFrame(err error) bool {
	return errors.Is(err, NoFrame)
}

func IsWorkingCounterError(err error) bool {
	var wce WorkingCounterError
	return errors.As(err, &wce)
}

func ChooseWorkingCounterError(ec *ExecutingCommand, expwc uint16) error {
	if have := ec.DatagramIn.WorkingCounter; have != expwc {
		return WorkingCounterError{ec.DatagramOut.Command, ec.DatagramOut.Addr32, expwc, have}
	}
	return nil
}

const (
	DefaultFramelossTries = 3
)

// Options tune the blocking execute functions. Zero values select the
// defaults.
type Options struct {
	// FramelossTries is the number of cycles a lost frame is sent in.
	FramelossTries int
	// WCTries is the number of cycles a command is repeated in while the
	// working counter is wrong, 1 if zero.
	WCTries int
}

func (o Options) framelossTries() int {
	if o.FramelossTries <= 0 {
		return DefaultFramelossTries
	}
	return o.FramelossTries
}

func (o Options) wcTries() int {
	if o.WCTries <= 0 {
		return 1
	}
	return o.WCTries
}

func ExecuteRead(c Commander, addr ecfr.DatagramAddress, n int, expwc uint16) (d []byte, err error) {
	return ExecuteReadOptions(c, addr, n, expwc, Options{})
}

func ExecuteReadOptions(c Commander, addr ecfr.DatagramAddress, n int, expwc uint16, opts Options) (d []byte, err error) {
	ec, err := execute(c, addr.ReadCommand(), addr, n, nil, &expwc, opts)
	if err != nil {
		return
	}

	d = make([]byte, n)
	copy(d, ec.DatagramIn.Data())
	return
}

func ExecuteWrite(c Commander, addr ecfr.DatagramAddress, w []byte, expwc uint16) (err error) {
	return ExecuteWriteOptions(c, addr, w, expwc, Options{})
}

func ExecuteWriteOptions(c Commander, addr ecfr.DatagramAddress, w []byte, expwc uint16, opts Options) (err error) {
	_, err = execute(c, addr.WriteCommand(), addr, len(w), w, &expwc, opts)
	return
}

// WorkingCounter reads n bytes at addr and returns the working counter, for
// counting the slaves a broadcast reaches.
func WorkingCounter(c Commander, addr ecfr.DatagramAddress, n int) (uint16, error) {
	ec, err := execute(c, addr.ReadCommand(), addr, n, nil, nil, Options{})
	if err != nil {
		return 0, err
	}
	return ec.DatagramIn.WorkingCounter, nil
}

// execute runs one datagram through its own cycles until it arrives with the
// expected working counter or the tries run out. A nil expwc takes any
// working counter.
func execute(c Commander, ct ecfr.CommandType, addr ecfr.DatagramAddress, n int, w []byte, expwc *uint16, opts Options) (ec *ExecutingCommand, err error) {
	lost, wrong := 0, 0

	for {
		ec, err = c.New(n)
		if err != nil {
			return
		}

		dgo := ec.DatagramOut
		if err = dgo.SetDataLen(n); err != nil {
			return
		}
		copy(dgo.Data(), w)
		dgo.Command = ct
		dgo.Addr32 = addr.Addr32()

		if err = c.Cycle(); err != nil {
			return
		}

		err = ChooseDefaultError(ec)
		if IsNoFrame(err) {
			lost++
			if lost < opts.framelossTries() {
				log.Debugf("[CMD] %v %#08x: frame lost, try %d", ct, addr.Addr32(), lost+1)
				continue
			}
		}
		if err != nil || expwc == nil {
			return
		}

		err = ChooseWorkingCounterError(ec, *expwc)
		if err != nil {
			wrong++
			if wrong < opts.wcTries() {
				continue
			}
		}
		return
	}
}
