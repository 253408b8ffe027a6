// Package xfer implements the Transferrer-side bookkeeping from spec §3/§4.4:
// the in-flight message list and the drainInFlight backpressure mechanism
// that keeps the Transferrer from outrunning the Buffer Pool.
/*
 * Copyright (c) 2024, distsort authors.
 */
package xfer

import (
	"sync"

	"github.com/ksort/distsort/pool"
	"github.com/ksort/distsort/stats"
)

// Handle is whatever the transport layer hands back for a send it has not
// yet confirmed complete (spec Glossary "MsgRecord. A coalesced buffer-index
// list plus its transport handle").
type Handle interface {
	// Done reports whether the send has completed (successfully or not).
	Done() bool
	// Err returns the terminal error, if the send failed.
	Err() error
}

// MsgRecord pairs one outbound message's buffer run with the transport
// handle tracking its delivery.
type MsgRecord struct {
	Run    pool.Run
	Handle Handle
}

// InFlight is the list of sent-but-not-yet-confirmed messages a Transferrer
// is holding, plus the pool those messages' buffers return to once
// confirmed.
type InFlight struct {
	mu      sync.Mutex
	records []MsgRecord
	pool    *pool.Pool

	Stats *stats.Registry // optional; nil means no metrics are recorded
}

func NewInFlight(p *pool.Pool) *InFlight {
	return &InFlight{pool: p}
}

func (f *InFlight) Add(rec MsgRecord) {
	f.mu.Lock()
	f.records = append(f.records, rec)
	n := len(f.records)
	f.mu.Unlock()
	if f.Stats != nil {
		f.Stats.InFlightDepth.Set(float64(n))
	}
}

func (f *InFlight) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// Drain reaps completed records, releasing their buffer runs back to the
// pool as empty. If block is true, it waits (busy-polling) until at least
// one record completes or the in-flight count drops at or below waterMark —
// whichever comes first — mirroring the original drainInFlight's dual
// "drain what's done" / "wait until below the high-water mark" behavior
// (spec §4.4 "watermark backpressure").
func (f *InFlight) Drain(block bool, waterMark int) (reaped int, errs []error) {
	for {
		f.mu.Lock()
		kept := f.records[:0:0]
		for _, rec := range f.records {
			if rec.Handle.Done() {
				if err := rec.Handle.Err(); err != nil {
					errs = append(errs, err)
				}
				f.pool.ReleaseEmpty(rec.Run)
				reaped++
				continue
			}
			kept = append(kept, rec)
		}
		f.records = kept
		remaining := len(f.records)
		f.mu.Unlock()
		if f.Stats != nil {
			f.Stats.InFlightDepth.Set(float64(remaining))
		}

		if !block || remaining <= waterMark || reaped > 0 {
			return reaped, errs
		}
		// Nothing reaped yet and still above the water mark: yield briefly
		// and retry rather than spin-locking the mutex.
		spinWait()
	}
}

// DrainAll blocks until every in-flight record completes, so that no buffer
// is released back into the pool's empty list late. Nothing in this module
// calls it.
func (f *InFlight) DrainAll() []error {
	var all []error
	for {
		f.mu.Lock()
		n := len(f.records)
		f.mu.Unlock()
		if n == 0 {
			return all
		}
		_, errs := f.Drain(false, 0)
		all = append(all, errs...)
		if n == f.Len() {
			spinWait()
		}
	}
}
