// Package reader implements the Reader stage, spec §4.2: striped file
// ingestion into the shared Buffer Pool, plus the records-per-file discovery
// handshake (spec §3 "Records-per-file discovery", §9 "isFirstRead
// coupling").
/*
 * Copyright (c) 2024, distsort authors.
 */
package reader

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/ksort/distsort/cmn"
	"github.com/ksort/distsort/cmn/nlog"
	"github.com/ksort/distsort/pool"
)

// acquireBackoffInterval and acquireBackoffMaxWait bound the "spin with bounded backoff" Reader
// suspension point (spec §5 "spins with bounded sleeps when empty is
// drained"); SPEC_FULL.md's supplement caps the total wait rather than the
// retry count the original used.
const (
	acquireBackoffInterval = 5 * time.Millisecond
	acquireBackoffMaxWait  = 10 * time.Second
)

// Discovery is the one-shot "isFirstRead" handshake (spec §9 DESIGN NOTES:
// "Implement as an explicit one-shot event... Avoid polling a shared
// boolean"). The first Reader to complete a read calls fire once; every
// other caller of Wait blocks on the same channel.
type Discovery struct {
	once sync.Once
	done chan struct{}
	recs int
}

func NewDiscovery() *Discovery {
	return &Discovery{done: make(chan struct{})}
}

// fire records the discovered records-per-file and releases all waiters.
// Only the first call has any effect (spec §3 "On first read... set the
// global P and clear the first-read flag").
func (d *Discovery) fire(recs int) {
	d.once.Do(func() {
		d.recs = recs
		close(d.done)
	})
}

// Wait blocks until fire has been called or timeout elapses (spec §5 "The
// first-read discovery has a 5s timeout (50 x 100ms) before global abort").
func (d *Discovery) Wait(rank int, timeout time.Duration) (int, error) {
	select {
	case <-d.done:
		return d.recs, nil
	case <-time.After(timeout):
		return 0, cmn.NewAbortError(cmn.KindTimeout, rank, "records-per-file discovery timed out after %s", timeout)
	}
}

// Reader streams files assigned to Rank into Pool, one whole file per
// buffer (spec §4.2).
type Reader struct {
	Rank      int
	NumFiles  int
	NumReader int // R
	Cfg       *cmn.Config
	Pool      *pool.Pool
	Discovery *Discovery

	ReadFinished bool
}

// Run executes the Reader's full contract: iterate ceil(N/R) times,
// computing f = i*R + rank each time, stopping once f >= N (spec §4.2).
func (r *Reader) Run() error {
	for i := 0; ; i++ {
		f := i*r.NumReader + r.Rank
		if f >= r.NumFiles {
			break
		}
		if err := r.readOne(f); err != nil {
			return err
		}
	}
	r.ReadFinished = true
	return nil
}

func (r *Reader) readOne(f int) error {
	idx, ok := r.acquireEmptyWithBackoff()
	if !ok {
		return cmn.NewAbortError(cmn.KindProtocol, r.Rank, "buffer pool closed while reading file %d", f)
	}
	buf := r.Pool.Buffer(idx)

	name := filepath.Join(r.Cfg.InputDir, r.Cfg.FileBase+strconv.Itoa(f))
	fh, err := os.Open(name)
	if err != nil {
		return cmn.NewAbortError(cmn.KindIOOpen, r.Rank, "open %q: %v", name, err)
	}
	defer fh.Close()

	n, err := readFull(fh, buf.Data)
	if err != nil {
		nlog.Warningf("rank %d: short/over read on %q: %v", r.Rank, name, err)
	}
	buf.N = n
	recs := n / r.Cfg.RecordSize
	if n%r.Cfg.RecordSize != 0 {
		nlog.Warningf("rank %d: %q size %d not a multiple of record size %d", r.Rank, name, n, r.Cfg.RecordSize)
	}

	r.Discovery.fire(recs)
	if want := r.Discovery.recs; recs != want {
		nlog.Warningf("rank %d: %q (buffer %d) holds %d records, expected %d", r.Rank, name, idx, recs, want)
	}

	r.Pool.ReleaseFull(idx)
	return nil
}

// acquireEmptyWithBackoff mirrors spec §4.2 step 1: spin with bounded short
// sleeps while no empty buffer is available, then keep waiting (the
// exhaustion case is the pipeline's backpressure point, not a failure).
func (r *Reader) acquireEmptyWithBackoff() (int, bool) {
	deadline := time.Now().Add(acquireBackoffMaxWait)
	for {
		if idx, ok := r.Pool.TryAcquireEmpty(); ok {
			return idx, true
		}
		if time.Now().After(deadline) {
			// Backpressure point: keep waiting indefinitely via the
			// blocking acquire rather than aborting (spec §4.2: "continue
			// to wait on exhaustion").
			return r.Pool.AcquireEmpty()
		}
		time.Sleep(acquireBackoffInterval)
	}
}

func readFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}
