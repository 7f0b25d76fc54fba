package ecsl

import (
	"fmt"
	"time"

	"github.com/distributed/ecat/eccoe"
	"github.com/distributed/ecat/ecfoe"
	"github.com/distributed/ecat/ecmd"
	"github.com/distributed/ecat/ecrq"
	"github.com/distributed/ecat/ecsoe"
)

type dispatchState int

const (
	dispatchIdle dispatchState = iota
	dispatchReady
	dispatchSdo
	dispatchReg
	dispatchFoe
	dispatchSoe
)

var dispatchStateName = [...]string{"idle", "ready", "sdo", "reg", "foe", "soe"}

func (s dispatchState) String() string {
	if int(s) < len(dispatchStateName) {
		return dispatchStateName[s]
	}
	return fmt.Sprintf("dispatchState(%d)", int(s))
}

// Dispatcher runs the acyclic requests of one slave, one at a time. Queued
// requests are claimed by kind in the order SDO, register, FoE, SoE, and in
// FIFO order within a kind.
type Dispatcher struct {
	slave *Slave
	clock ecmd.Clock
	state dispatchState

	coe *eccoe.FSM
	foe *ecfoe.FSM
	soe *ecsoe.FSM
	reg regFSM

	sdoReq *ecrq.SdoRequest
	regReq *ecrq.RegRequest
	foeReq *ecrq.FoeRequest
	soeReq *ecrq.SoeRequest
}

// NewDispatcher returns an idle dispatcher for sl. It claims requests once
// the master calls Ready.
func NewDispatcher(sl *Slave, clock ecmd.Clock) *Dispatcher {
	return &Dispatcher{
		slave: sl,
		clock: clock,
		coe:   eccoe.New(sl.Log),
		foe:   ecfoe.New(sl.Log),
		soe:   ecsoe.New(sl.Log),
		reg:   regFSM{log: sl.Log},
	}
}

// Ready lets an idle dispatcher claim requests.
func (d *Dispatcher) Ready() {
	if d.state == dispatchIdle {
		d.state = dispatchReady
	}
}

// Idle reports whether the dispatcher stopped claiming requests.
func (d *Dispatcher) Idle() bool { return d.state == dispatchIdle }

// Busy reports whether a request is in progress.
func (d *Dispatcher) Busy() bool { return d.state > dispatchReady }

// Exec runs one step of the current request or claims the next one. It
// reports whether s has to be sent.
func (d *Dispatcher) Exec(s *ecmd.Slot) bool {
	if s.InFlight() {
		return false
	}

	switch d.state {
	case dispatchReady:
		return d.claim(s)
	case dispatchSdo:
		if d.coe.Exec(s) {
			return true
		}
		d.finish(&d.sdoReq.Request, d.coe.Success(), "sdo")
		d.sdoReq = nil
	case dispatchReg:
		if d.reg.exec(s) {
			return true
		}
		d.finish(&d.regReq.Request, d.reg.success, "reg")
		d.regReq = nil
	case dispatchFoe:
		if d.foe.Exec(s) {
			return true
		}
		d.finish(&d.foeReq.Request, d.foe.Success(), "foe")
		d.foeReq = nil
	case dispatchSoe:
		if d.soe.Exec(s) {
			return true
		}
		d.finish(&d.soeReq.Request, d.soe.Success(), "soe")
		d.soeReq = nil
	default:
		return false
	}

	return d.claim(s)
}

func (d *Dispatcher) finish(r *ecrq.Request, ok bool, kind string) {
	if ok {
		d.slave.Log.Debugf("[DISPATCH] %s request done", kind)
	} else {
		d.slave.Log.Warnf("[DISPATCH] %s request failed", kind)
	}
	r.Complete(ok)
	d.state = dispatchReady
}

// reject fails a request that was never started.
func (d *Dispatcher) reject(r *ecrq.Request, kind, reason string) {
	d.slave.Log.Warnf("[DISPATCH] aborting %s request, %s", kind, reason)
	r.Complete(false)
}

// claim starts the next request by priority. With the slave signalling an
// unacknowledged error, every pending request fails and the dispatcher
// stops.
func (d *Dispatcher) claim(s *ecmd.Slot) bool {
	sl := d.slave
	now := d.clock.Now()

	if sl.AckErr() && (sl.Pending() > 0 || d.internalRegRequest() != nil) {
		d.abortAll()
		d.state = dispatchIdle
		return false
	}

	for {
		req, ok := sl.sdoRequests.pop()
		if !ok {
			break
		}
		if req.IssueExpired(now) {
			d.reject(&req.Request, "sdo", "issue timeout expired")
			continue
		}
		if sl.InInit() {
			d.reject(&req.Request, "sdo", "slave in INIT")
			continue
		}
		req.MarkBusy(now)
		d.sdoReq = req
		d.coe.Transfer(&sl.Mailbox, req)
		d.state = dispatchSdo
		return d.Exec(s)
	}

	if req := d.nextRegRequest(now); req != nil {
		req.MarkBusy(now)
		d.regReq = req
		d.reg.transfer(sl.Station, req)
		d.state = dispatchReg
		return d.Exec(s)
	}

	for {
		req, ok := sl.foeRequests.pop()
		if !ok {
			break
		}
		if req.IssueExpired(now) {
			d.reject(&req.Request, "foe", "issue timeout expired")
			continue
		}
		req.MarkBusy(now)
		d.foeReq = req
		d.foe.Transfer(&sl.Mailbox, req)
		d.state = dispatchFoe
		return d.Exec(s)
	}

	for {
		req, ok := sl.soeRequests.pop()
		if !ok {
			break
		}
		if req.IssueExpired(now) {
			d.reject(&req.Request, "soe", "issue timeout expired")
			continue
		}
		if sl.InInit() {
			d.reject(&req.Request, "soe", "slave in INIT")
			continue
		}
		req.MarkBusy(now)
		req.ALState = sl.ALState
		d.soeReq = req
		d.soe.Transfer(&sl.Mailbox, req)
		d.state = dispatchSoe
		return d.Exec(s)
	}

	return false
}

func (d *Dispatcher) internalRegRequest() *ecrq.RegRequest {
	for _, req := range d.slave.Config.RegRequests {
		if req.State == ecrq.Queued {
			return req
		}
	}
	return nil
}

// nextRegRequest returns the first queued request of the slave
// configuration, or else the oldest application register request.
func (d *Dispatcher) nextRegRequest(now time.Time) *ecrq.RegRequest {
	if req := d.internalRegRequest(); req != nil {
		return req
	}
	for {
		req, ok := d.slave.regRequests.pop()
		if !ok {
			return nil
		}
		if req.IssueExpired(now) {
			d.reject(&req.Request, "reg", "issue timeout expired")
			continue
		}
		return req
	}
}

func (d *Dispatcher) abortAll() {
	sl := d.slave
	for req, ok := sl.sdoRequests.pop(); ok; req, ok = sl.sdoRequests.pop() {
		d.reject(&req.Request, "sdo", "slave has error flag set")
	}
	for req := d.internalRegRequest(); req != nil; req = d.internalRegRequest() {
		d.reject(&req.Request, "reg", "slave has error flag set")
	}
	for req, ok := sl.regRequests.pop(); ok; req, ok = sl.regRequests.pop() {
		d.reject(&req.Request, "reg", "slave has error flag set")
	}
	for req, ok := sl.foeRequests.pop(); ok; req, ok = sl.foeRequests.pop() {
		d.reject(&req.Request, "foe", "slave has error flag set")
	}
	for req, ok := sl.soeRequests.pop(); ok; req, ok = sl.soeRequests.pop() {
		d.reject(&req.Request, "soe", "slave has error flag set")
	}
}
