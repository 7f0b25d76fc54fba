package ecsl

import (
	log "github.com/sirupsen/logrus"

	"github.com/distributed/ecat/ecmd"
	"github.com/distributed/ecat/ecrq"
)

// regFSM reads or writes registers of one slave with a single datagram.
type regFSM struct {
	log     *log.Entry
	station uint16
	req     *ecrq.RegRequest
	retries int
	sent    bool
	done    bool
	success bool
}

func (f *regFSM) transfer(station uint16, req *ecrq.RegRequest) {
	f.station = station
	f.req = req
	f.sent = false
	f.done = false
	f.success = false
}

func (f *regFSM) exec(s *ecmd.Slot) bool {
	if s.InFlight() || f.done {
		return false
	}

	if !f.sent {
		n := f.req.TransferSize()
		if f.req.Dir == ecrq.Output {
			copy(s.FPWR(f.station, f.req.Address, n), f.req.Data())
		} else {
			s.FPRD(f.station, f.req.Address, n)
		}
		f.retries = ecmd.FSMRetries
		f.sent = true
		return true
	}

	switch s.Verify(1, &f.retries) {
	case ecmd.OutcomeRepeated:
		return true
	case ecmd.OutcomeReceiveError:
		f.log.Errorf("[REG] %s %#04x failed: %v", f.req.Dir, f.req.Address, s.Err)
	case ecmd.OutcomeWorkingCounterError:
		f.log.Errorf("[REG] %s %#04x: working counter %d", f.req.Dir, f.req.Address, s.WorkingCounter)
	case ecmd.OutcomeOK:
		if f.req.Dir == ecrq.Input {
			copy(f.req.Data(), s.Data())
		}
		f.success = true
	}
	f.done = true
	return false
}
