// Package sorter implements the Sorter-Master receive loop, spec §4.6: for
// each file index, the rank whose turn it is (advancing by S/hosts per file,
// wrapping at S) consumes one shared-memory hop and appends the payload to
// the local sort buffer. The external sort kernel itself (bucketing,
// splitter selection, final merge) is out of scope (spec §1 Non-goals) and
// is represented here only by the hook it would be invoked through.
/*
 * Copyright (c) 2024, distsort authors.
 */
package sorter

import (
	"github.com/ksort/distsort/cmn/nlog"
	"github.com/ksort/distsort/shmem"
)

// localCap is the guarded local buffer cap from spec §4.6 ("a guarded local
// cap (e.g., ~1GB) clears the sort buffer when exceeded — a stand-in for the
// external sort kernel's consumption"). Spec §9 Open Question says to treat
// it as external; we still enforce the cap so backpressure behaves as
// documented.
const localCap = 1 << 30

// SortKernel is the external sort consumer's entry point (spec §1: "the
// parallel sort kernel itself... is deliberately out of scope"). Receiver
// calls it once per clear, and once more at the end of Run if bytes remain,
// handing it ownership of the accumulated bytes.
type SortKernel func(payload []byte)

// Receiver holds one Sorter rank's view of the cyclic receiving schedule.
type Receiver struct {
	Rank       int // this Sorter's rank within the Sort group, 0..S-1
	NumSorters int // S
	NumHosts   int // number of IO hosts, for the S/hosts stride
	Region     *shmem.Region
	Kernel     SortKernel

	receivingRank int
	buf           []byte
}

func NewReceiver(rank, numSorters, numHosts int, region *shmem.Region, kernel SortKernel) *Receiver {
	return &Receiver{
		Rank: rank, NumSorters: numSorters, NumHosts: numHosts,
		Region: region, Kernel: kernel,
	}
}

// stride is S/hosts, spec §4.6 "advancing by S/hosts per file".
func (r *Receiver) stride() int {
	if r.NumHosts == 0 {
		return 1
	}
	s := r.NumSorters / r.NumHosts
	if s == 0 {
		s = 1
	}
	return s
}

// Run executes the receive loop for f = 0..numFiles-1 (spec §4.6).
func (r *Receiver) Run(numFiles int) error {
	stride := r.stride()
	for f := 0; f < numFiles; f++ {
		if r.receivingRank == r.Rank {
			if err := r.consumeOne(); err != nil {
				return err
			}
		}
		r.receivingRank = (r.receivingRank + stride) % r.NumSorters
	}
	if len(r.buf) > 0 {
		r.Kernel(r.buf)
		r.buf = nil
	}
	return nil
}

func (r *Receiver) consumeOne() error {
	payload, err := r.Region.Consume()
	if err != nil {
		return err
	}
	r.buf = append(r.buf, payload...)
	if len(r.buf) >= localCap {
		nlog.Warningf("rank %d: local sort buffer reached cap %d bytes, flushing to kernel", r.Rank, localCap)
		r.Kernel(r.buf)
		r.buf = nil
	}
	return nil
}
