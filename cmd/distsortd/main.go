// Command distsortd is the per-rank process entrypoint: load config, resolve
// this rank's place in the static topology, and run it to completion.
/*
 * Copyright (c) 2024, distsort authors.
 */
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ksort/distsort/cluster"
	"github.com/ksort/distsort/cmn"
	"github.com/ksort/distsort/cmn/cos"
	"github.com/ksort/distsort/cmn/nlog"
	"github.com/ksort/distsort/runner"
	"github.com/ksort/distsort/stats"
)

func main() {
	var (
		configPath      = flag.String("config", "", "path to run configuration JSON")
		rank            = flag.Int("rank", -1, "this process's global rank")
		addr            = flag.String("addr", "", "this rank's listen address, host:port")
		metricsAddr     = flag.String("metrics-addr", "", "optional /metrics listen address")
		numTransferrers = flag.Int("num-transferrers", 0, "X, must equal numIOHosts")
		numSorters      = flag.Int("num-sorters", 0, "S")
		sortersPerHost  = flag.Int("sorters-per-host", 1, "Sorters colocated per IO host")
		peersFlag       = flag.String("peers", "", "comma-separated rank=host:port list")
	)
	flag.Parse()

	if *rank < 0 || *configPath == "" || *addr == "" {
		fmt.Fprintln(os.Stderr, "usage: distsortd -config=... -rank=N -addr=host:port -peers=0=h1:p1,1=h2:p2,...")
		os.Exit(cmn.ExitConfig)
	}

	cfg, err := cmn.LoadConfig(*configPath)
	if err != nil {
		nlog.Errorf("%v", err)
		os.Exit(exitCode(err))
	}

	cos.InitUUIDGen(uint64(*rank) + 1)

	peers, err := parsePeers(*peersFlag)
	if err != nil {
		nlog.Errorf("%v", err)
		os.Exit(cmn.ExitConfig)
	}

	topo, err := cluster.NewTopology(cfg.NumIOHosts, *numTransferrers, *numSorters, *sortersPerHost, peers)
	if err != nil {
		nlog.Errorf("%v", err)
		os.Exit(cmn.ExitConfig)
	}

	reg := stats.New(*rank)
	if *metricsAddr != "" {
		go func() {
			if err := stats.Serve(*metricsAddr); err != nil {
				nlog.Warningf("metrics listener stopped: %v", err)
			}
		}()
	}

	r := runner.New(*rank, topo, cfg, *addr, peers, reg)
	if err := r.Run(context.Background()); err != nil {
		nlog.Errorf("rank %d: fatal: %v", *rank, err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if ae, ok := err.(*cmn.AbortError); ok {
		return ae.ExitCode()
	}
	return cmn.ExitUnknownFatal
}

func parsePeers(s string) (map[int]string, error) {
	out := map[int]string{}
	if s == "" {
		return out, nil
	}
	for _, entry := range strings.Split(s, ",") {
		kv := strings.SplitN(entry, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("peers: malformed entry %q", entry)
		}
		rank, err := strconv.Atoi(kv[0])
		if err != nil {
			return nil, fmt.Errorf("peers: bad rank in %q: %w", entry, err)
		}
		out[rank] = kv[1]
	}
	return out, nil
}
