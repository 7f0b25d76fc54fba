package ecsl

import (
	"bytes"
	"testing"
	"time"

	"github.com/distributed/ecat/ecad"
	"github.com/distributed/ecat/ecmb"
	"github.com/distributed/ecat/ecrq"
	"github.com/distributed/ecat/sim"
)

const station = 0x0200

type fixture struct {
	r   *sim.Rig
	sl  *Slave
	d   *Dispatcher
	coe *sim.CoeServer
	foe *sim.FoeServer
	soe *sim.SoeServer
}

func newFixture() *fixture {
	r := sim.NewRig(station, sim.DefaultMailbox)
	fx := &fixture{
		r:   r,
		coe: sim.NewCoeServer(),
		foe: sim.NewFoeServer(),
		soe: sim.NewSoeServer(),
	}
	r.Mailbox.Handle(ecmb.TypeCoE, fx.coe)
	r.Mailbox.Handle(ecmb.TypeFoE, fx.foe)
	r.Mailbox.Handle(ecmb.TypeSoE, fx.soe)

	fx.sl = NewSlave(0, station)
	fx.sl.Mailbox.Config = sim.DefaultMailbox
	fx.sl.ALState = ecad.ALStatePreOp
	fx.d = NewDispatcher(fx.sl, r.Clock)
	fx.d.Ready()
	return fx
}

func (fx *fixture) runUntil(t *testing.T, done func() bool) {
	_, err := fx.r.Run(fx.d.Exec, done, 10000)
	if err != nil {
		t.Fatalf("cycling: %v", err)
	}
	if !done() {
		t.Fatalf("not done after %d cycles, dispatcher %v", fx.r.Cycles, fx.d.state)
	}
}

func TestSdoBeforeFoe(t *testing.T) {
	fx := newFixture()
	fx.coe.Set(0x1018, 1, []byte{0x9a, 0x00, 0x00, 0x00})

	now := fx.r.Clock.Now()
	foe := ecrq.NewFoeRequest("fw.bin")
	foe.Write(bytes.Repeat([]byte{0x55}, 300))
	fx.sl.QueueFoe(foe, now)
	sdo := ecrq.NewSdoRequest(0x1018, 1)
	sdo.Read()
	fx.sl.QueueSdo(sdo, now)

	for i := 0; i < 10000 && !foe.Terminal(); i++ {
		if err := fx.r.Cycle(fx.d.Exec); err != nil {
			t.Fatalf("cycling: %v", err)
		}
		if foe.State != ecrq.Queued && !sdo.Terminal() {
			t.Fatalf("cycle %d: foe request %v while sdo request %v", i, foe.State, sdo.State)
		}
		if (sdo.State == ecrq.Busy || foe.State == ecrq.Busy) != fx.d.Busy() {
			t.Fatalf("cycle %d: dispatcher busy %v, sdo %v, foe %v", i, fx.d.Busy(), sdo.State, foe.State)
		}
	}
	if fx.d.Busy() || fx.d.Idle() {
		t.Fatalf("dispatcher %v after all requests finished", fx.d.state)
	}

	if sdo.State != ecrq.Success || foe.State != ecrq.Success {
		t.Fatalf("sdo %v, foe %v", sdo.State, foe.State)
	}
	if !foe.SentAt.After(sdo.SentAt) {
		t.Fatalf("foe claimed at %v, sdo at %v", foe.SentAt, sdo.SentAt)
	}
	if !bytes.Equal(sdo.Data(), []byte{0x9a, 0, 0, 0}) {
		t.Fatalf("sdo data % x", sdo.Data())
	}
	select {
	case <-foe.Done():
	default:
		t.Fatalf("done channel of finished request not closed")
	}
}

func TestIdleDispatcherClaimsNothing(t *testing.T) {
	fx := newFixture()
	fx.d = NewDispatcher(fx.sl, fx.r.Clock)

	req := ecrq.NewSoeRequest(0, 1)
	req.Read()
	fx.sl.QueueSoe(req, fx.r.Clock.Now())

	for i := 0; i < 5; i++ {
		fx.r.Cycle(fx.d.Exec)
	}
	if req.State != ecrq.Queued || fx.r.Bus.Frames != 0 {
		t.Fatalf("request %v, %d frames", req.State, fx.r.Bus.Frames)
	}

	fx.soe.Set(0, 1, []byte{1, 2})
	fx.d.Ready()
	fx.runUntil(t, req.Terminal)
	if req.State != ecrq.Success || req.ALState != ecad.ALStatePreOp {
		t.Fatalf("request %v, al state %#x", req.State, req.ALState)
	}
}

func TestAckErrAbortsAllRequests(t *testing.T) {
	fx := newFixture()
	fx.sl.ALState |= ecad.ALStateAckErr
	now := fx.r.Clock.Now()

	sdo := ecrq.NewSdoRequest(0x1000, 0)
	sdo.Read()
	fx.sl.QueueSdo(sdo, now)
	reg := ecrq.NewRegRequest(2)
	reg.Read(ecad.ALStatus, 2)
	fx.sl.QueueReg(reg, now)
	internal := ecrq.NewRegRequest(2)
	internal.Read(ecad.ALStatusCode, 2)
	internal.MarkQueued(now)
	fx.sl.Config.RegRequests = append(fx.sl.Config.RegRequests, internal)
	foe := ecrq.NewFoeRequest("a")
	foe.Read(10)
	fx.sl.QueueFoe(foe, now)
	soe := ecrq.NewSoeRequest(0, 1)
	soe.Read()
	fx.sl.QueueSoe(soe, now)

	if fx.d.Exec(&fx.r.Slot) {
		t.Fatalf("dispatcher used the slot of a faulted slave")
	}
	for _, r := range []*ecrq.Request{&sdo.Request, &reg.Request, &internal.Request, &foe.Request, &soe.Request} {
		if r.State != ecrq.Failure {
			t.Fatalf("request %v after abort", r.State)
		}
	}
	if !fx.d.Idle() || fx.sl.Pending() != 0 {
		t.Fatalf("dispatcher %v, %d pending", fx.d.state, fx.sl.Pending())
	}
}

func TestIssueTimeout(t *testing.T) {
	fx := newFixture()
	fx.soe.Set(0, 1, []byte{1, 2})

	stale := ecrq.NewSoeRequest(0, 1)
	stale.Read()
	stale.IssueTimeout = 10 * time.Millisecond
	fx.sl.QueueSoe(stale, fx.r.Clock.Now())
	fresh := ecrq.NewSoeRequest(0, 1)
	fresh.Read()
	fresh.IssueTimeout = time.Second
	fx.sl.QueueSoe(fresh, fx.r.Clock.Now())

	fx.r.Clock.Advance(20 * time.Millisecond)
	fx.runUntil(t, fresh.Terminal)
	if stale.State != ecrq.Failure || fresh.State != ecrq.Success {
		t.Fatalf("stale %v, fresh %v", stale.State, fresh.State)
	}
}

func TestInitRejectsMailboxRequests(t *testing.T) {
	fx := newFixture()
	fx.sl.ALState = ecad.ALStateInit
	now := fx.r.Clock.Now()

	sdo := ecrq.NewSdoRequest(0x1000, 0)
	sdo.Read()
	fx.sl.QueueSdo(sdo, now)
	soe := ecrq.NewSoeRequest(0, 1)
	soe.Read()
	fx.sl.QueueSoe(soe, now)
	reg := ecrq.NewRegRequest(2)
	reg.Read(ecad.ConfiguredStationAddress, 2)
	fx.sl.QueueReg(reg, now)

	fx.runUntil(t, reg.Terminal)
	if sdo.State != ecrq.Failure || soe.State != ecrq.Failure {
		t.Fatalf("sdo %v, soe %v in INIT", sdo.State, soe.State)
	}
	if reg.State != ecrq.Success || !bytes.Equal(reg.Data(), []byte{0x00, 0x02}) {
		t.Fatalf("register request %v, data % x", reg.State, reg.Data())
	}
	if fx.d.Idle() {
		t.Fatalf("dispatcher went idle")
	}
}

func TestInternalRegisterRequestsFirst(t *testing.T) {
	fx := newFixture()
	now := fx.r.Clock.Now()

	read := ecrq.NewRegRequest(4)
	read.Read(0x0f80, 4)
	fx.sl.QueueReg(read, now)

	write := ecrq.NewRegRequest(4)
	write.Write(0x0f80, []byte{1, 2, 3, 4})
	write.MarkQueued(now)
	fx.sl.Config.RegRequests = []*ecrq.RegRequest{write}

	fx.runUntil(t, read.Terminal)
	if write.State != ecrq.Success || read.State != ecrq.Success {
		t.Fatalf("write %v, read %v", write.State, read.State)
	}
	if !bytes.Equal(read.Data(), []byte{1, 2, 3, 4}) {
		t.Fatalf("read % x, internal write not served first", read.Data())
	}
}

func TestRegisterRequestLost(t *testing.T) {
	fx := newFixture()
	fx.r.Bus.DropFrames = 10

	req := ecrq.NewRegRequest(2)
	req.Read(ecad.ALStatus, 2)
	fx.sl.QueueReg(req, fx.r.Clock.Now())
	fx.runUntil(t, req.Terminal)
	if req.State != ecrq.Failure {
		t.Fatalf("request %v", req.State)
	}
	if fx.r.Bus.Frames != 1+3 {
		t.Fatalf("%d frames, want one and three retries", fx.r.Bus.Frames)
	}
}

func TestCancel(t *testing.T) {
	fx := newFixture()
	now := fx.r.Clock.Now()

	a := ecrq.NewFoeRequest("a")
	a.Read(10)
	b := ecrq.NewFoeRequest("b")
	b.Read(10)
	fx.sl.QueueFoe(a, now)
	fx.sl.QueueFoe(b, now)

	if !fx.sl.Cancel(b) || fx.sl.Cancel(b) {
		t.Fatalf("cancel of queued request")
	}
	if fx.sl.Pending() != 1 {
		t.Fatalf("%d pending", fx.sl.Pending())
	}
	if fx.sl.Cancel(ecrq.NewSoeRequest(0, 1)) {
		t.Fatalf("canceled a request that was never queued")
	}
}
