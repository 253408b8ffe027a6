// Package pool implements the Buffer Pool described in spec §3/§4.1: a
// fixed set of B fixed-capacity buffers shared between the Reader and the
// Transferrer, managed as two index lists (empty/full) under one mutex, with
// contiguous-index coalescing on the drain side.
/*
 * Copyright (c) 2024, distsort authors.
 */
package pool

import (
	"sync"

	"github.com/ksort/distsort/cmn/debug"
	"github.com/ksort/distsort/stats"
)

// Buffer is one fixed-capacity byte array slot, addressed by its index in
// the pool (spec §3 "Buffer. Fixed-capacity byte array of size FileSizeMax").
type Buffer struct {
	Data []byte
	N    int // bytes actually filled by the Reader
}

// Pool is the shared empty/full index-list structure (spec §3 "BufferPool").
// All mutation goes through the single mutex; there is no per-index locking.
type Pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	bufs   []*Buffer
	empty  []int // indices available for the Reader to fill
	full   []int // indices filled, awaiting drain by the Transferrer
	cap    int // capacity of each buffer in bytes
	closed bool

	Stats *stats.Registry // optional; nil means no metrics are recorded
}

// New allocates B buffers of the given capacity, all initially empty.
func New(numBuffers, bufCap int) *Pool {
	debug.Assert(numBuffers > 0)
	p := &Pool{
		bufs:  make([]*Buffer, numBuffers),
		empty: make([]int, numBuffers),
		cap:   bufCap,
	}
	p.cond = sync.NewCond(&p.mu)
	for i := range p.bufs {
		p.bufs[i] = &Buffer{Data: make([]byte, bufCap)}
		p.empty[i] = i
	}
	return p
}

func (p *Pool) NumBuffers() int { return len(p.bufs) }
func (p *Pool) BufCap() int     { return p.cap }

func (p *Pool) Buffer(idx int) *Buffer { return p.bufs[idx] }

// reportGauges pushes the current empty/full list lengths to Stats. Callers
// must hold mu.
func (p *Pool) reportGauges() {
	if p.Stats == nil {
		return
	}
	p.Stats.BufPoolEmpty.Set(float64(len(p.empty)))
	p.Stats.BufPoolFull.Set(float64(len(p.full)))
}

// AcquireEmpty blocks until an empty buffer index is available, then
// removes it from the front of the empty list and returns it (spec §4.1
// "removes and returns the front of empty"). Returns ok=false only if the
// pool was closed while waiting.
func (p *Pool) AcquireEmpty() (idx int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.empty) == 0 {
		if p.closed {
			return 0, false
		}
		p.cond.Wait()
	}
	idx = p.empty[0]
	p.empty = p.empty[1:]
	p.reportGauges()
	return idx, true
}

// TryAcquireEmpty is the non-blocking variant the Reader uses to back off
// with a bounded retry loop instead of stalling (spec §4.2 "bounded backoff
// while waiting for an empty buffer").
func (p *Pool) TryAcquireEmpty() (idx int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.empty) == 0 {
		return 0, false
	}
	idx = p.empty[0]
	p.empty = p.empty[1:]
	p.reportGauges()
	return idx, true
}

// ReleaseFull marks idx as filled and ready for the Transferrer to drain.
func (p *Pool) ReleaseFull(idx int) {
	p.mu.Lock()
	p.full = append(p.full, idx)
	p.reportGauges()
	p.mu.Unlock()
	p.cond.Broadcast()
}

// PeekFullPrefix removes up to max indices from the front of the full list,
// coalescing them into a single contiguous run when possible (spec §3
// "coalescing contiguous indices under lock"). It returns the coalesced runs
// as a slice of [start,count] pairs so the caller can build one transport
// message per run instead of one per buffer.
func (p *Pool) PeekFullPrefix(max int) []Run {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.full) == 0 {
		return nil
	}
	n := len(p.full)
	if n > max {
		n = max
	}
	take := append([]int(nil), p.full[:n]...)
	p.full = p.full[n:]
	p.reportGauges()
	return coalesce(take)
}

// Run is a contiguous range of buffer indices, [Start, Start+Count).
type Run struct {
	Start int
	Count int
}

// coalesce groups a list of indices (order preserved, possibly out of
// numeric order) into maximal contiguous ascending runs without reordering
// across non-adjacent groups — mirrors the pool-drain coalescing in the
// original read_data.cpp buffer accounting.
func coalesce(idxs []int) []Run {
	if len(idxs) == 0 {
		return nil
	}
	runs := make([]Run, 0, len(idxs))
	start := idxs[0]
	count := 1
	for i := 1; i < len(idxs); i++ {
		if idxs[i] == idxs[i-1]+1 {
			count++
			continue
		}
		runs = append(runs, Run{Start: start, Count: count})
		start = idxs[i]
		count = 1
	}
	runs = append(runs, Run{Start: start, Count: count})
	return runs
}

// ReleaseEmpty returns a run of buffer indices to the empty list after the
// Transferrer has finished sending them (spec §3 "releaseEmpty").
func (p *Pool) ReleaseEmpty(run Run) {
	p.mu.Lock()
	for i := 0; i < run.Count; i++ {
		p.empty = append(p.empty, run.Start+i)
	}
	p.reportGauges()
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *Pool) NumFull() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.full)
}

func (p *Pool) NumEmpty() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.empty)
}

// Close unblocks every pending AcquireEmpty call (used during shutdown and
// global abort).
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
}
