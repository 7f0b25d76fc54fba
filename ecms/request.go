package ecms

import (
	"context"
	"fmt"

	"github.com/distributed/ecat/eccoe"
	"github.com/distributed/ecat/ecfoe"
	"github.com/distributed/ecat/ecrq"
	"github.com/distributed/ecat/ecsoe"
)

// queue hands a request to the slave at pos through enqueue.
func (m *Master) queue(pos int, enqueue func(n *node)) (*node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.node(pos)
	if err != nil {
		return nil, err
	}
	enqueue(n)
	return n, nil
}

// wait blocks until done is closed. If ctx ends first and the request was
// not yet claimed it is withdrawn. A claimed request runs to completion.
func (m *Master) wait(ctx context.Context, n *node, req interface{}, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	m.mu.Lock()
	withdrawn := n.slave.Cancel(req)
	m.mu.Unlock()
	if withdrawn {
		return ctx.Err()
	}

	n.slave.Log.Debugf("[MASTER] waiting for busy request after %v", ctx.Err())
	<-done
	return nil
}

func slaveError(n *node, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%v: %w", n.slave, err)
}

// FoeRead reads a file of at most maxSize bytes.
func (m *Master) FoeRead(ctx context.Context, pos int, name string, maxSize int) ([]byte, error) {
	req := ecrq.NewFoeRequest(name)
	req.Read(maxSize)
	m.applyTimeouts(&req.Request, m.opts.FoeTimeout)

	var done <-chan struct{}
	n, err := m.queue(pos, func(n *node) {
		n.slave.QueueFoe(req, m.clock.Now())
		done = req.Done()
	})
	if err != nil {
		return nil, err
	}
	if err := m.wait(ctx, n, req, done); err != nil {
		return nil, err
	}
	if err := ecfoe.RequestError(req); err != nil {
		return nil, slaveError(n, err)
	}
	return append([]byte(nil), req.Data()...), nil
}

func (m *Master) FoeWrite(ctx context.Context, pos int, name string, data []byte) error {
	req := ecrq.NewFoeRequest(name)
	req.Write(data)
	m.applyTimeouts(&req.Request, m.opts.FoeTimeout)

	var done <-chan struct{}
	n, err := m.queue(pos, func(n *node) {
		n.slave.QueueFoe(req, m.clock.Now())
		done = req.Done()
	})
	if err != nil {
		return err
	}
	if err := m.wait(ctx, n, req, done); err != nil {
		return err
	}
	return slaveError(n, ecfoe.RequestError(req))
}

// SoeRead reads an IDN of drive driveNo.
func (m *Master) SoeRead(ctx context.Context, pos int, driveNo uint8, idn uint16) ([]byte, error) {
	req := ecrq.NewSoeRequest(driveNo, idn)
	req.Read()
	m.applyTimeouts(&req.Request, m.opts.SoeTimeout)

	var done <-chan struct{}
	n, err := m.queue(pos, func(n *node) {
		n.slave.QueueSoe(req, m.clock.Now())
		done = req.Done()
	})
	if err != nil {
		return nil, err
	}
	if err := m.wait(ctx, n, req, done); err != nil {
		return nil, err
	}
	if err := ecsoe.RequestError(req); err != nil {
		return nil, slaveError(n, err)
	}
	return append([]byte(nil), req.Data()...), nil
}

func (m *Master) SoeWrite(ctx context.Context, pos int, driveNo uint8, idn uint16, data []byte) error {
	req := ecrq.NewSoeRequest(driveNo, idn)
	req.Write(data)
	m.applyTimeouts(&req.Request, m.opts.SoeTimeout)

	var done <-chan struct{}
	n, err := m.queue(pos, func(n *node) {
		n.slave.QueueSoe(req, m.clock.Now())
		done = req.Done()
	})
	if err != nil {
		return err
	}
	if err := m.wait(ctx, n, req, done); err != nil {
		return err
	}
	return slaveError(n, ecsoe.RequestError(req))
}

// SdoUpload reads an object dictionary entry.
func (m *Master) SdoUpload(ctx context.Context, pos int, index uint16, subindex uint8) ([]byte, error) {
	req := ecrq.NewSdoRequest(index, subindex)
	req.Read()
	m.applyTimeouts(&req.Request, m.opts.SdoTimeout)

	var done <-chan struct{}
	n, err := m.queue(pos, func(n *node) {
		n.slave.QueueSdo(req, m.clock.Now())
		done = req.Done()
	})
	if err != nil {
		return nil, err
	}
	if err := m.wait(ctx, n, req, done); err != nil {
		return nil, err
	}
	if err := eccoe.RequestError(req); err != nil {
		return nil, slaveError(n, err)
	}
	return append([]byte(nil), req.Data()...), nil
}

func (m *Master) SdoDownload(ctx context.Context, pos int, index uint16, subindex uint8, data []byte) error {
	req := ecrq.NewSdoRequest(index, subindex)
	req.Write(data)
	m.applyTimeouts(&req.Request, m.opts.SdoTimeout)

	var done <-chan struct{}
	n, err := m.queue(pos, func(n *node) {
		n.slave.QueueSdo(req, m.clock.Now())
		done = req.Done()
	})
	if err != nil {
		return err
	}
	if err := m.wait(ctx, n, req, done); err != nil {
		return err
	}
	return slaveError(n, eccoe.RequestError(req))
}

// RegRead reads size bytes of ESC memory at address.
func (m *Master) RegRead(ctx context.Context, pos int, address uint16, size int) ([]byte, error) {
	req := ecrq.NewRegRequest(size)
	req.Read(address, size)
	m.applyTimeouts(&req.Request, 0)

	var done <-chan struct{}
	n, err := m.queue(pos, func(n *node) {
		n.slave.QueueReg(req, m.clock.Now())
		done = req.Done()
	})
	if err != nil {
		return nil, err
	}
	if err := m.wait(ctx, n, req, done); err != nil {
		return nil, err
	}
	if req.State != ecrq.Success {
		return nil, slaveError(n, fmt.Errorf("register read of %d bytes at %#04x failed", size, address))
	}
	return append([]byte(nil), req.Data()...), nil
}

func (m *Master) RegWrite(ctx context.Context, pos int, address uint16, data []byte) error {
	req := ecrq.NewRegRequest(len(data))
	req.Write(address, data)
	m.applyTimeouts(&req.Request, 0)

	var done <-chan struct{}
	n, err := m.queue(pos, func(n *node) {
		n.slave.QueueReg(req, m.clock.Now())
		done = req.Done()
	})
	if err != nil {
		return err
	}
	if err := m.wait(ctx, n, req, done); err != nil {
		return err
	}
	if req.State != ecrq.Success {
		return slaveError(n, fmt.Errorf("register write of %d bytes at %#04x failed", len(data), address))
	}
	return nil
}
