package xfer_test

import (
	"testing"

	"github.com/ksort/distsort/pool"
	"github.com/ksort/distsort/xfer"
)

type fakeHandle struct {
	done bool
	err  error
}

func (h *fakeHandle) Done() bool { return h.done }
func (h *fakeHandle) Err() error { return h.err }

func TestDrainReleasesCompletedRuns(t *testing.T) {
	p := pool.New(4, 8)
	idx, _ := p.AcquireEmpty()
	f := xfer.NewInFlight(p)
	f.Add(xfer.MsgRecord{Run: pool.Run{Start: idx, Count: 1}, Handle: &fakeHandle{done: true}})

	reaped, errs := f.Drain(false, 0)
	if reaped != 1 {
		t.Fatalf("reaped = %d, want 1", reaped)
	}
	if len(errs) != 0 {
		t.Fatalf("unexpected errs: %v", errs)
	}
	if p.NumEmpty() != 4 {
		t.Fatalf("NumEmpty = %d, want 4 after release", p.NumEmpty())
	}
	if f.Len() != 0 {
		t.Fatalf("Len = %d, want 0", f.Len())
	}
}

func TestDrainKeepsPendingRecords(t *testing.T) {
	p := pool.New(4, 8)
	idx, _ := p.AcquireEmpty()
	f := xfer.NewInFlight(p)
	f.Add(xfer.MsgRecord{Run: pool.Run{Start: idx, Count: 1}, Handle: &fakeHandle{done: false}})

	reaped, _ := f.Drain(false, 0)
	if reaped != 0 {
		t.Fatalf("reaped = %d, want 0", reaped)
	}
	if f.Len() != 1 {
		t.Fatalf("Len = %d, want 1 (still pending)", f.Len())
	}
}

func TestDrainCollectsHandleErrors(t *testing.T) {
	p := pool.New(4, 8)
	idx, _ := p.AcquireEmpty()
	f := xfer.NewInFlight(p)
	boom := &fakeHandle{done: true, err: errBoom}
	f.Add(xfer.MsgRecord{Run: pool.Run{Start: idx, Count: 1}, Handle: boom})

	_, errs := f.Drain(false, 0)
	if len(errs) != 1 || errs[0] != errBoom {
		t.Fatalf("errs = %v, want [errBoom]", errs)
	}
}

var errBoom = &testErr{"boom"}

type testErr struct{ s string }

func (e *testErr) Error() string { return e.s }
