// Package ecrq holds the request objects the application hands to a slave's
// dispatcher. Requests own their transfer buffers; they carry no protocol
// logic.
package ecrq

import (
	"fmt"
	"time"
)

type State int

const (
	Init State = iota
	Queued
	Busy
	Success
	Failure
)

var stateName = [...]string{"init", "queued", "busy", "success", "failure"}

func (s State) String() string {
	if int(s) < len(stateName) {
		return stateName[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Direction is seen from the master: Input reads from the slave, Output
// writes to it.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Output {
		return "output"
	}
	return "input"
}

// Request is the part common to all request kinds.
type Request struct {
	State State
	Dir   Direction

	// IssueTimeout bounds the time a request may wait in its queue before
	// the dispatcher claims it. Zero waits forever.
	IssueTimeout time.Duration
	// ResponseTimeout bounds the time a slave may take to answer a
	// mailbox message. Zero selects the protocol default.
	ResponseTimeout time.Duration

	IssuedAt time.Time
	SentAt   time.Time

	done   chan struct{}
	closed bool
}

// MarkQueued is called when the request enters a slave queue.
func (r *Request) MarkQueued(now time.Time) {
	r.State = Queued
	r.IssuedAt = now
	r.done = make(chan struct{})
	r.closed = false
}

// MarkBusy is called when the dispatcher claims the request.
func (r *Request) MarkBusy(now time.Time) {
	r.State = Busy
	r.SentAt = now
}

// Complete stores the terminal state and wakes waiters.
func (r *Request) Complete(ok bool) {
	if ok {
		r.State = Success
	} else {
		r.State = Failure
	}
	if r.done != nil && !r.closed {
		close(r.done)
		r.closed = true
	}
}

// Done is closed when the request reached a terminal state. It is nil for
// a request that was never queued.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

func (r *Request) Terminal() bool {
	return r.State == Success || r.State == Failure
}

func (r *Request) IssueExpired(now time.Time) bool {
	return r.IssueTimeout > 0 && now.Sub(r.IssuedAt) > r.IssueTimeout
}

// ResponseTimeoutOr returns the response timeout, or def if none is set.
func (r *Request) ResponseTimeoutOr(def time.Duration) time.Duration {
	if r.ResponseTimeout > 0 {
		return r.ResponseTimeout
	}
	return def
}

// buffer is a byte store whose capacity only changes by reallocation.
type buffer struct {
	mem  []byte
	size int
}

// alloc makes room for n bytes, discarding the contents when it has to
// reallocate.
func (b *buffer) alloc(n int) {
	if n <= len(b.mem) {
		return
	}
	b.mem = make([]byte, n)
	b.size = 0
}

// grow makes room for n bytes keeping the contents.
func (b *buffer) grow(n int) {
	if n <= len(b.mem) {
		return
	}
	mem := make([]byte, n)
	copy(mem, b.mem[:b.size])
	b.mem = mem
}

func (b *buffer) set(d []byte) {
	b.alloc(len(d))
	copy(b.mem, d)
	b.size = len(d)
}

func (b *buffer) append(d []byte) {
	b.grow(b.size + len(d))
	copy(b.mem[b.size:], d)
	b.size += len(d)
}

func (b *buffer) data() []byte { return b.mem[:b.size] }
