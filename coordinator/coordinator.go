// Package coordinator implements the Dispatch Coordinator, spec §4.3: the
// per-tick gather/assign/broadcast/scatter that in the original MPI program
// ran as four separate collectives on the IO group. Here every Transferrer
// makes one HTTP round trip per tick to the elected master-IO rank, whose
// handler performs the same bookkeeping and returns the assignment inline.
/*
 * Copyright (c) 2024, distsort authors.
 */
package coordinator

import (
	"sync"

	"github.com/ksort/distsort/cluster"
)

// TickRequest is what every Transferrer reports to the master-IO rank once
// per tick (spec §4.3 step 1, "Gather |full| from every IO rank").
type TickRequest struct {
	Rank          int `json:"rank"`
	FullLen       int `json:"fullLen"`
	FilesSentPrev int `json:"filesSentPrev"` // this rank's delta since the last tick, for the files-delivered all-reduce
	MsgQueueLen   int `json:"msgQueueLen"`   // for the termination all-reduce
}

// Assignment is what the master-IO rank hands back to one Transferrer: where
// to send (if anywhere) and under what tag (spec §4.3 steps 2-4).
type Assignment struct {
	DestRank int  `json:"destRank"`
	Tag      int  `json:"tag"`
	Assigned bool `json:"assigned"`
}

// TickResponse carries the per-requester assignment plus the global
// in-flight sum used for termination (spec §4.4 step 1). FilesDeliveredDelta
// echoes the requester's own FilesSentPrev; it is not summed over the IO
// group (the group-wide running total is Master.Delivered).
type TickResponse struct {
	Assignment          Assignment `json:"assignment"`
	GlobalInFlight      int        `json:"globalInFlight"`
	FilesDeliveredDelta int        `json:"filesDeliveredDelta"`
	NumActiveSenders    int        `json:"numActiveSenders"` // K in spec §4.3 step 2
}

// CycleDest is the single mutable counter backing spec §4.3's
// "cyclic destination function [that] maintains a single counter". Per
// DESIGN NOTES §9, it is an explicit field owned by the Coordinator, never
// hidden in process-wide state.
type CycleDest struct {
	mu   sync.Mutex
	next int
	topo *cluster.Topology
}

func NewCycleDest(topo *cluster.Topology) *CycleDest {
	return &CycleDest{next: topo.FirstSorterRank(), topo: topo}
}

// Next returns the current destination rank and advances, wrapping past the
// last Sorter rank back to the first (spec §4.3 "on reaching R+X+S ... it
// wraps to the first Sorter rank").
func (c *CycleDest) Next() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	dest := c.next
	c.next++
	if c.next > c.topo.LastSorterRank() {
		c.next = c.topo.FirstSorterRank()
	}
	return dest
}

// Master is the master-IO rank's coordinator state: the tag counter and
// cyclic destination assignment, plus the per-tick bookkeeping that used to
// be a gather+broadcast+scatter (spec §4.3).
type Master struct {
	mu        sync.Mutex
	tag       int
	cycle     *CycleDest
	delivered int         // filesDelivered, running total across the whole IO group
	total     int         // N, total files to deliver
	inFlight  map[int]int // last-reported |messageQueue| per IO rank, for the all-reduce sum
}

const tagStride = 2 // spec §9 Open Question: "the actual stride used is +2"
const tagStart = 1000

func NewMaster(topo *cluster.Topology, totalFiles int) *Master {
	return &Master{tag: tagStart, cycle: NewCycleDest(topo), total: totalFiles, inFlight: make(map[int]int)}
}

// Tick runs one IO-group round for a single requester: the equivalent of
// the gather (implicit in receiving this call), the assignment (step 2),
// and what would otherwise be a broadcast/scatter reply. Because each
// Transferrer calls independently, K (spec step 2 "count ... into K") is
// only this call's local contribution; concurrent callers under mu still
// observe a monotonically increasing tag (spec §8 "Tag monotonicity").
//
// GlobalInFlight is the all-reduce sum of |messageQueue| over the whole IO
// group (spec §4.4 step 1), not just this requester's own queue: every
// rank's last-reported MsgQueueLen is tracked in inFlight and summed here,
// so one rank observing zero doesn't let it terminate while a peer still
// has messages in flight.
func (m *Master) Tick(req TickRequest) TickResponse {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.delivered += req.FilesSentPrev
	m.inFlight[req.Rank] = req.MsgQueueLen

	globalInFlight := 0
	for _, n := range m.inFlight {
		globalInFlight += n
	}

	resp := TickResponse{GlobalInFlight: globalInFlight, FilesDeliveredDelta: req.FilesSentPrev}
	if req.FullLen >= 1 {
		m.tag += tagStride
		resp.Assignment = Assignment{
			DestRank: m.cycle.Next(),
			Tag:      m.tag,
			Assigned: true,
		}
		resp.NumActiveSenders = 1
	}
	return resp
}

func (m *Master) Delivered() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delivered
}

func (m *Master) Done() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delivered >= m.total
}
