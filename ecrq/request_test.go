package ecrq

import (
	"bytes"
	"testing"
	"time"
)

func TestFoeRequestAllocReallocates(t *testing.T) {
	r := NewFoeRequest("fw.bin")
	r.Write([]byte{1, 2, 3, 4})
	if r.DataSize() != 4 || r.BufferSize() != 4 {
		t.Fatalf("after Write: data size %d, buffer size %d", r.DataSize(), r.BufferSize())
	}

	old := r.Buffer()
	r.Alloc(2)
	if &r.Buffer()[0] != &old[0] || r.DataSize() != 4 {
		t.Fatalf("Alloc of a smaller size must keep the buffer")
	}

	r.Alloc(16)
	if r.BufferSize() != 16 {
		t.Fatalf("buffer size %d after Alloc(16)", r.BufferSize())
	}
	if r.DataSize() != 0 {
		t.Fatalf("data size %d after reallocation, want 0", r.DataSize())
	}
	if r.DataSize() > r.BufferSize() {
		t.Fatalf("data size exceeds buffer size")
	}
}

func TestFoeRequestSetDataSizePanicsBeyondBuffer(t *testing.T) {
	r := NewFoeRequest("x")
	r.Read(8)
	defer func() {
		if recover() == nil {
			t.Fatalf("SetDataSize beyond the buffer did not panic")
		}
	}()
	r.SetDataSize(9)
}

func TestSoeRequestAppendGrows(t *testing.T) {
	r := NewSoeRequest(9, 0x0020)
	if r.DriveNo != 1 {
		t.Fatalf("drive number not masked to 3 bits: %d", r.DriveNo)
	}
	r.Read()
	r.AppendData([]byte("ab"))
	r.AppendData([]byte("cde"))
	if !bytes.Equal(r.Data(), []byte("abcde")) {
		t.Fatalf("appended data %q", r.Data())
	}
	if r.MemSize() < r.DataSize() {
		t.Fatalf("mem size %d below data size %d", r.MemSize(), r.DataSize())
	}
}

func TestRequestCompleteWakesWaiters(t *testing.T) {
	r := NewSdoRequest(0x1018, 1)
	now := time.Unix(100, 0)
	r.MarkQueued(now)
	done := r.Done()

	select {
	case <-done:
		t.Fatalf("done closed before completion")
	default:
	}

	r.MarkBusy(now)
	r.Complete(true)
	r.Complete(true)

	select {
	case <-done:
	default:
		t.Fatalf("done not closed after completion")
	}
	if r.State != Success {
		t.Fatalf("state %v, want success", r.State)
	}
}

func TestRequestIssueExpired(t *testing.T) {
	var r Request
	now := time.Unix(100, 0)
	r.MarkQueued(now)
	if r.IssueExpired(now.Add(time.Hour)) {
		t.Fatalf("request without issue timeout expired")
	}
	r.IssueTimeout = 100 * time.Millisecond
	if r.IssueExpired(now.Add(50 * time.Millisecond)) {
		t.Fatalf("expired too early")
	}
	if !r.IssueExpired(now.Add(150 * time.Millisecond)) {
		t.Fatalf("did not expire")
	}
}

func TestRegRequestWrite(t *testing.T) {
	r := NewRegRequest(4)
	r.Write(0x0120, []byte{0x02, 0x00})
	if r.Dir != Output || r.TransferSize() != 2 || r.Address != 0x0120 {
		t.Fatalf("unexpected register request %+v", r)
	}
}
