// Package cluster implements the role/group partitioning described in spec
// §4.7: a static mapping from global rank to role (Reader, Transferrer,
// Sorter), to host, and to the four named groups (global, IO, Transfer,
// Sort) that the rest of the pipeline addresses peers through.
/*
 * Copyright (c) 2024, distsort authors.
 */
package cluster

import "fmt"

type Role int

const (
	RoleReader Role = iota
	RoleTransferrer
	RoleSorter
)

func (r Role) String() string {
	switch r {
	case RoleReader:
		return "reader"
	case RoleTransferrer:
		return "transferrer"
	case RoleSorter:
		return "sorter"
	default:
		return "unknown"
	}
}

// Node describes one rank of the fleet: its role, its global rank, its host
// index, and the address other ranks reach it at.
type Node struct {
	Rank int
	Role Role
	Host int // dense host index, spec §4.7 "each host hosts exactly one Reader, one Transferrer, ..."
	Addr string
}

// Topology is the static, whole-fleet view every process loads at startup
// (role/group partitioning is not dynamic — spec Non-goals exclude dynamic
// membership).
type Topology struct {
	R, X, S int // Reader count, Transferrer count, Sorter count
	Nodes   []Node

	// derived
	byRank map[int]*Node
	hosts  map[int]*hostInfo
}

type hostInfo struct {
	reader      int
	transferrer int
	sorters     []int // ranks, in ascending order; sorters[0] is the Sorter-master
}

// NewTopology builds the rank→role→host mapping from R Readers, X
// Transferrers, S Sorters and sortersPerHost ranks per host, in the order
// spec §4.7 specifies: ranks [0,R) Readers, [R,R+X) Transferrers, [R+X,R+X+S)
// Sorters. Reader i and Transferrer i are colocated on host i (0-indexed);
// Sorter hosts are assigned round-robin across the same host count.
func NewTopology(r, x, s, sortersPerHost int, addrs map[int]string) (*Topology, error) {
	if r != x {
		return nil, fmt.Errorf("topology: R (%d) must equal X (%d): one Reader and one Transferrer per IO host", r, x)
	}
	if sortersPerHost <= 0 {
		return nil, fmt.Errorf("topology: sortersPerHost must be positive")
	}
	t := &Topology{
		R: r, X: x, S: s,
		byRank: make(map[int]*Node, r+x+s),
		hosts:  make(map[int]*hostInfo),
	}
	numIOHosts := r
	for i := 0; i < r; i++ {
		t.addNode(i, RoleReader, i, addrs)
	}
	for i := 0; i < x; i++ {
		rank := r + i
		t.addNode(rank, RoleTransferrer, i, addrs)
	}
	for i := 0; i < s; i++ {
		rank := r + x + i
		host := (i / sortersPerHost) % numIOHosts
		t.addNode(rank, RoleSorter, host, addrs)
		hi := t.hosts[host]
		hi.sorters = append(hi.sorters, rank)
	}
	return t, nil
}

func (t *Topology) addNode(rank int, role Role, host int, addrs map[int]string) {
	n := Node{Rank: rank, Role: role, Host: host, Addr: addrs[rank]}
	t.Nodes = append(t.Nodes, n)
	t.byRank[rank] = &t.Nodes[len(t.Nodes)-1]
	hi, ok := t.hosts[host]
	if !ok {
		hi = &hostInfo{}
		t.hosts[host] = hi
	}
	switch role {
	case RoleReader:
		hi.reader = rank
	case RoleTransferrer:
		hi.transferrer = rank
	}
}

func (t *Topology) Node(rank int) (*Node, bool) {
	n, ok := t.byRank[rank]
	return n, ok
}

// SorterMaster returns the first (lowest-rank) Sorter on the given host —
// "owns the consumer side of the shared-memory channel" (spec §4.5/Glossary).
func (t *Topology) SorterMaster(host int) (int, bool) {
	hi, ok := t.hosts[host]
	if !ok || len(hi.sorters) == 0 {
		return 0, false
	}
	return hi.sorters[0], true
}

func (t *Topology) LocalTransferrer(host int) (int, bool) {
	hi, ok := t.hosts[host]
	if !ok {
		return 0, false
	}
	return hi.transferrer, true
}

func (t *Topology) SortersOnHost(host int) []int {
	hi, ok := t.hosts[host]
	if !ok {
		return nil
	}
	return hi.sorters
}

// MasterIO is the Dispatch Coordinator: by convention, the lowest-rank
// Transferrer (spec Glossary "Master IO. The IO rank designated as Dispatch
// Coordinator").
func (t *Topology) MasterIO() int { return t.R }

func (t *Topology) IORanks() []int {
	out := make([]int, 0, t.R+t.X)
	for i := 0; i < t.R; i++ {
		out = append(out, i)
	}
	for i := 0; i < t.X; i++ {
		out = append(out, t.R+i)
	}
	return out
}

func (t *Topology) NumHosts() int { return t.R }

// FirstSorterRank and LastSorterRank bound the range the cyclic destination
// counter wraps within (spec §4.3).
func (t *Topology) FirstSorterRank() int { return t.R + t.X }
func (t *Topology) LastSorterRank() int  { return t.R + t.X + t.S - 1 }

// AssignFile implements spec §3 "FileAssignment": file f is read by Reader
// rank f mod R in iteration f div R.
func (t *Topology) AssignFile(f int) (readerRank, iter int) {
	return f % t.R, f / t.R
}
