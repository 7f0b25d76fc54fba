// Package ecsl holds the master's view of one slave and the dispatcher that
// serves its acyclic requests.
package ecsl

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/distributed/ecat/ecad"
	"github.com/distributed/ecat/ecmb"
	"github.com/distributed/ecat/ecrq"
)

// Slave is the master side state of one slave.
type Slave struct {
	Position uint16
	Station  uint16
	// ALState is the last read AL status, including the error acknowledge
	// flag.
	ALState uint8
	// ALStatusCode explains a set error flag.
	ALStatusCode uint16

	Mailbox ecmb.Mailbox
	Config  *Config

	Log *log.Entry

	sdoRequests queue[*ecrq.SdoRequest]
	regRequests queue[*ecrq.RegRequest]
	foeRequests queue[*ecrq.FoeRequest]
	soeRequests queue[*ecrq.SoeRequest]
}

func NewSlave(position, station uint16) *Slave {
	return &Slave{
		Position: position,
		Station:  station,
		Mailbox:  ecmb.Mailbox{Station: station},
		Config:   &Config{},
		Log:      log.WithField("slave", station),
	}
}

func (sl *Slave) String() string {
	return fmt.Sprintf("slave %d (station %#04x)", sl.Position, sl.Station)
}

// AckErr reports whether the slave signals an unacknowledged error.
func (sl *Slave) AckErr() bool { return sl.ALState&ecad.ALStateAckErr != 0 }

// InInit reports whether the slave is in the Init state, where its mailbox
// is unusable.
func (sl *Slave) InInit() bool { return sl.ALState&ecad.ALStateMask == ecad.ALStateInit }

func (sl *Slave) QueueSdo(req *ecrq.SdoRequest, now time.Time) {
	req.MarkQueued(now)
	sl.sdoRequests.push(req)
}

func (sl *Slave) QueueReg(req *ecrq.RegRequest, now time.Time) {
	req.MarkQueued(now)
	sl.regRequests.push(req)
}

func (sl *Slave) QueueFoe(req *ecrq.FoeRequest, now time.Time) {
	req.MarkQueued(now)
	sl.foeRequests.push(req)
}

func (sl *Slave) QueueSoe(req *ecrq.SoeRequest, now time.Time) {
	req.MarkQueued(now)
	sl.soeRequests.push(req)
}

// Cancel removes a request that was not yet claimed. It reports false if the
// request is not queued on sl, busy requests have to be waited for.
func (sl *Slave) Cancel(req interface{}) bool {
	switch r := req.(type) {
	case *ecrq.SdoRequest:
		return sl.sdoRequests.remove(r)
	case *ecrq.RegRequest:
		return sl.regRequests.remove(r)
	case *ecrq.FoeRequest:
		return sl.foeRequests.remove(r)
	case *ecrq.SoeRequest:
		return sl.soeRequests.remove(r)
	}
	return false
}

// Pending is the number of application requests waiting to be claimed.
func (sl *Slave) Pending() int {
	return sl.sdoRequests.len() + sl.regRequests.len() + sl.foeRequests.len() + sl.soeRequests.len()
}

// queue is a FIFO of requests.
type queue[T comparable] struct {
	items []T
}

func (q *queue[T]) push(v T) { q.items = append(q.items, v) }

func (q *queue[T]) pop() (v T, ok bool) {
	if len(q.items) == 0 {
		return
	}
	v = q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

func (q *queue[T]) remove(v T) bool {
	for i, e := range q.items {
		if e == v {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

func (q *queue[T]) len() int { return len(q.items) }
