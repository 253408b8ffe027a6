// Package runner implements the Run Coordinator (spec §4.8, supplemented):
// per-process lifecycle that resolves this rank's role from the static
// Topology, wires the Reader/Transferrer/Sorter stage for that role, starts
// its HTTP control-plane endpoints, and propagates any fatal error as a
// global abort broadcast to every peer (spec §7).
/*
 * Copyright (c) 2024, distsort authors.
 */
package runner

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ksort/distsort/cluster"
	"github.com/ksort/distsort/cmn"
	"github.com/ksort/distsort/cmn/nlog"
	"github.com/ksort/distsort/coordinator"
	"github.com/ksort/distsort/pool"
	"github.com/ksort/distsort/reader"
	"github.com/ksort/distsort/shmem"
	"github.com/ksort/distsort/sorter"
	"github.com/ksort/distsort/stats"
	"github.com/ksort/distsort/transport"
	"github.com/ksort/distsort/xfer"
)

// staticAddrs is the simplest AddrBook: a fixed rank->address map loaded
// from config (spec §4.7 "deterministic mapping", no dynamic membership).
type staticAddrs map[int]string

func (a staticAddrs) Addr(rank int) string { return a[rank] }

// Runner owns one rank's lifecycle for the whole run.
type Runner struct {
	Rank  int
	Topo  *cluster.Topology
	Cfg   *cmn.Config
	Addr  string // this rank's own listen address, "host:port"
	Peers staticAddrs
	Stats *stats.Registry

	mu       sync.Mutex
	aborted  bool
	abortErr error

	mux *http.ServeMux
}

func New(rank int, topo *cluster.Topology, cfg *cmn.Config, addr string, peers map[int]string, reg *stats.Registry) *Runner {
	return &Runner{Rank: rank, Topo: topo, Cfg: cfg, Addr: addr, Peers: staticAddrs(peers), Stats: reg, mux: http.NewServeMux()}
}

// Abort records a fatal error and broadcasts it to every peer (spec §7
// "Any fatal kind triggers a global abort... causing all ranks to
// terminate"). Safe to call multiple times; only the first call broadcasts.
func (r *Runner) Abort(ctx context.Context, err *cmn.AbortError) {
	r.mu.Lock()
	already := r.aborted
	r.aborted = true
	r.abortErr = err
	r.mu.Unlock()
	if already {
		return
	}
	nlog.Errorf("%s", err.Error())
	peers := make([]string, 0, len(r.Peers))
	for rank, addr := range r.Peers {
		if rank != r.Rank {
			peers = append(peers, addr)
		}
	}
	broadcastAbort(ctx, peers, err.Kind, err.Msg, err.Rank)
}

func (r *Runner) listenAborted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborted
}

// Run resolves this rank's role and runs its stage to completion, serving
// the control plane concurrently via an errgroup (spec §4.8).
func (r *Runner) Run(ctx context.Context) error {
	node, ok := r.Topo.Node(r.Rank)
	if !ok {
		return cmn.NewAbortError(cmn.KindConfig, r.Rank, "rank %d not present in topology", r.Rank)
	}

	var master *coordinator.Master
	if r.Rank == r.Topo.MasterIO() {
		master = coordinator.NewMaster(r.Topo, r.Cfg.NumFiles)
	}
	registerCoordHandlers(r.mux, master, func(kind, msg string) {
		nlog.Errorf("rank %d: received abort broadcast: [%s] %s", r.Rank, kind, msg)
		os.Exit(cmn.NewAbortError(cmn.FatalKind(kind), r.Rank, "%s", msg).ExitCode())
	})

	// The Sorter-master is the only role that receives batches (spec §4.5
	// "owns the consumer side of the shared-memory channel"); its region and
	// /v1/batch handler must be registered before the listener starts so no
	// incoming batch ever races the mux.
	var region *shmem.Region
	isSorterMaster := false
	if node.Role == cluster.RoleSorter {
		masterRank, _ := r.Topo.SorterMaster(node.Host)
		isSorterMaster = r.Rank == masterRank
	}
	if isSorterMaster {
		bufCap := int(r.Cfg.MaxFileSizeBytes())
		var err error
		region, err = shmem.Create(hostShmName(node.Host), r.Cfg.MaxCoalesce*bufCap)
		if err != nil {
			return err
		}
		region.Stats = r.Stats
		defer region.Close()
		defer region.Remove()
		r.mux.Handle("/v1/batch", transport.MuxHandler(func(hdr transport.Hdr, payload []byte) error {
			if r.Stats != nil {
				r.Stats.BytesReceived.Add(float64(len(payload)))
			}
			return region.ProduceWait(payload)
		}))
	}

	httpSrv := &http.Server{Addr: r.Addr, Handler: r.mux}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	switch node.Role {
	case cluster.RoleReader:
		g.Go(func() error { return r.runReaderTransferrer(gctx) })
	case cluster.RoleTransferrer:
		// Transferrer and Reader are colocated on the same process in this
		// implementation (spec §2 "share a process"); RoleReader's branch
		// above handles both.
	case cluster.RoleSorter:
		if isSorterMaster {
			g.Go(func() error { return r.runSorterMaster(gctx, region) })
		}
	}

	err := g.Wait()
	_ = httpSrv.Shutdown(context.Background())
	if err != nil {
		if ae, ok := err.(*cmn.AbortError); ok {
			r.Abort(context.Background(), ae)
		}
	}
	return err
}

func (r *Runner) runReaderTransferrer(ctx context.Context) error {
	bufCap := int(r.Cfg.MaxFileSizeBytes())
	p := pool.New(r.Cfg.MaxBuffers, bufCap)
	p.Stats = r.Stats
	disc := reader.NewDiscovery()

	rd := &reader.Reader{
		Rank: r.Rank, NumFiles: r.Cfg.NumFiles, NumReader: r.Topo.R,
		Cfg: r.Cfg, Pool: p, Discovery: disc,
	}

	xferRank := r.Rank + r.Topo.R // colocated Transferrer's global rank
	localFiles := localFileCount(r.Cfg.NumFiles, r.Topo.R, r.Rank)

	inflight := xfer.NewInFlight(p)
	inflight.Stats = r.Stats
	tr := &xfer.Transferrer{
		Rank: xferRank, NumFiles: localFiles, RecSize: r.Cfg.RecordSize,
		MaxCoalesce: r.Cfg.MaxCoalesce, Watermark: r.Cfg.MaxInFlight,
		Pool: p, InFlight: inflight,
		Coord:  newHTTPCoordClient(r.Peers[r.Topo.MasterIO()]),
		Client: transport.NewClient(),
		Addrs:  r.Peers,
		Stats:  r.Stats,
	}

	readErrCh := make(chan error, 1)
	go func() { readErrCh <- rd.Run() }()

	recs, err := disc.Wait(r.Rank, 5*time.Second)
	if err != nil {
		return err
	}
	if r.Cfg.NumRecordsPerFile > 0 {
		recs = r.Cfg.NumRecordsPerFile
	}
	tr.RecsPerFile = recs

	for {
		if r.listenAborted() {
			return r.abortErr
		}
		done, err := tr.Tick()
		if err != nil {
			return err
		}
		if done {
			break
		}
		select {
		case err := <-readErrCh:
			if err != nil {
				return err
			}
		default:
		}
	}
	return nil
}

// runSorterMaster runs the receive loop against the region this rank
// already created and registered a /v1/batch producer for (spec §4.6).
// Non-master Sorters on a host take no part in the shared-memory hop (spec
// §4.7 "Sorter-master... owns the consumer side"); they simply idle until
// the downstream sort kernel phase, which is out of scope here, so Run
// never starts a goroutine for them at all.
func (r *Runner) runSorterMaster(ctx context.Context, region *shmem.Region) error {
	recv := sorter.NewReceiver(r.Rank-r.Topo.FirstSorterRank(), r.Topo.S, r.Topo.NumHosts(), region, func(payload []byte) {
		nlog.Infof("rank %d: flushing %d bytes to external sort kernel", r.Rank, len(payload))
	})
	return recv.Run(r.Cfg.NumFiles)
}

func hostShmName(host int) string {
	return "host" + strconv.Itoa(host)
}

// localFileCount is how many of the numFiles global files are striped to
// reader rank (spec §3 "FileAssignment": file f goes to rank f mod R).
func localFileCount(numFiles, numReaders, rank int) int {
	n := numFiles / numReaders
	if rank < numFiles%numReaders {
		n++
	}
	return n
}
