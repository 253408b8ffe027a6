// Package shmem implements the per-host Shared-Memory Channel from spec
// §4.5: a POSIX shared region with a two-word sync header (state, size)
// followed by a data area of one message. The Sorter-master creates the
// region, writes each batch that arrives on its /v1/batch handler into it,
// and its receive loop consumes from it; the Transferrer never maps the
// region. The original used
// boost::interprocess::shared_memory_object + mapped_region; here the same
// region is backed by a file under /dev/shm, mapped with
// golang.org/x/sys/unix.Mmap (spec §9 DESIGN NOTES: "a lock-free atomic
// pair... or a mutex+condvar pair are both acceptable. The key contract is
// 'one slot, alternating ownership'").
/*
 * Copyright (c) 2024, distsort authors.
 */
package shmem

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ksort/distsort/cmn"
	"github.com/ksort/distsort/stats"
)

// state values for the sync header (spec §3 "SharedSync").
const (
	StateEmpty int32 = 0
	StateFull  int32 = 1
)

const headerWords = 2 // (state, size), spec §4.5 "a fixed-size header (two integers)"

// pollInterval and maxWait realize spec §4.5 "polls state at ≈100µs
// cadence, up to a bounded total wait (≈200s)".
const (
	pollInterval = 100 * time.Microsecond
	maxWait      = 200 * time.Second
)

// Region is one mapped shared-memory channel: a 2-word header plus a data
// area sized for one maximum batch (spec §6 "rawData: byte array sized to
// hold one maximum batch").
type Region struct {
	path string
	file *os.File
	mem  []byte

	header *[headerWords]int32
	data   []byte

	Stats *stats.Registry // optional; nil means no metrics are recorded
}

// Create maps a fresh region of dataCap bytes, named for the given host.
// Called by the Sorter-master before its listener starts, so the region
// exists before any batch arrives.
func Create(name string, dataCap int) (*Region, error) {
	path := shmPath(name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, cmn.NewAbortError(cmn.KindIOOpen, -1, "shmem: create %q: %v", path, err)
	}
	size := headerWords*4 + dataCap
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, cmn.NewAbortError(cmn.KindIOOpen, -1, "shmem: truncate %q: %v", path, err)
	}
	return mapRegion(path, f, size)
}

// Open maps an already-created region for read-write access. Nothing in
// this module calls it: the Sorter-master maps its region with Create.
func Open(name string, dataCap int) (*Region, error) {
	path := shmPath(name)
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, cmn.NewAbortError(cmn.KindIOOpen, -1, "shmem: open %q: %v", path, err)
	}
	size := headerWords*4 + dataCap
	return mapRegion(path, f, size)
}

func shmPath(name string) string { return fmt.Sprintf("/dev/shm/distsort-%s", name) }

func mapRegion(path string, f *os.File, size int) (*Region, error) {
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, cmn.NewAbortError(cmn.KindIOOpen, -1, "shmem: mmap %q: %v", path, err)
	}
	r := &Region{
		path:   path,
		file:   f,
		mem:    mem,
		header: (*[headerWords]int32)(unsafe.Pointer(&mem[0])),
		data:   mem[headerWords*4:],
	}
	return r, nil
}

func (r *Region) Close() error {
	err := unix.Munmap(r.mem)
	r.file.Close()
	return err
}

// Remove unlinks the backing file; called once by the side that created the
// region, after both parties are done with it.
func (r *Region) Remove() error { return os.Remove(r.path) }

func (r *Region) statePtr() *int32 { return &r.header[0] }
func (r *Region) sizePtr() *int32  { return &r.header[1] }

func (r *Region) loadState() int32 { return atomic.LoadInt32(r.statePtr()) }

// Produce implements the producing side of spec §4.5 "Production" (called
// through ProduceWait from the Sorter-master's batch handler): copy
// payload into the data area, write size, then flip state to Full. Callers
// must not call Produce again until a matching Consume has flipped state
// back to Empty.
func (r *Region) Produce(payload []byte) error {
	if len(payload) > len(r.data) {
		return cmn.NewAbortError(cmn.KindProtocol, -1, "shmem: payload %d exceeds region capacity %d", len(payload), len(r.data))
	}
	copy(r.data, payload)
	atomic.StoreInt32(r.sizePtr(), int32(len(payload)))
	atomic.StoreInt32(r.statePtr(), StateFull)
	return nil
}

// ProduceWait is the network-receive-side counterpart to Produce: it waits
// for the slot to be Empty (a prior payload may still be awaiting Consume)
// before writing, so concurrent senders cycled onto the same Sorter-master
// don't clobber each other's payloads. Spec §4.5's "one slot, alternating
// ownership" contract extends naturally to this wait.
func (r *Region) ProduceWait(payload []byte) error {
	start := time.Now()
	deadline := start.Add(maxWait)
	for r.loadState() == StateFull {
		if time.Now().After(deadline) {
			return cmn.NewAbortError(cmn.KindTimeout, -1, "shmem: %s: produce wait exceeded %s", r.path, maxWait)
		}
		time.Sleep(pollInterval)
	}
	if r.Stats != nil {
		r.Stats.ShmemWaitSecs.Observe(time.Since(start).Seconds())
	}
	return r.Produce(payload)
}

// Consume implements the Sorter-master side of spec §4.5 "Consumption":
// poll state at pollInterval up to maxWait; on Full, copy the payload out
// and flip state back to Empty. A timed-out wait is fatal (spec §5
// "Cancellation / timeouts... expiry is an assertion failure").
func (r *Region) Consume() ([]byte, error) {
	start := time.Now()
	deadline := start.Add(maxWait)
	for {
		if r.loadState() == StateFull {
			n := atomic.LoadInt32(r.sizePtr())
			out := make([]byte, n)
			copy(out, r.data[:n])
			atomic.StoreInt32(r.statePtr(), StateEmpty)
			if r.Stats != nil {
				r.Stats.ShmemWaitSecs.Observe(time.Since(start).Seconds())
			}
			return out, nil
		}
		if time.Now().After(deadline) {
			return nil, cmn.NewAbortError(cmn.KindTimeout, -1, "shmem: %s: consume wait exceeded %s", r.path, maxWait)
		}
		time.Sleep(pollInterval)
	}
}
