// Package cos provides common low-level types and utilities shared by every
// distsort package: error types, byte-size constants, and ID generation.
/*
 * Copyright (c) 2024, distsort authors.
 */
package cos

import (
	"github.com/OneOfOne/xxhash"
	"github.com/teris-io/shortid"
)

const (
	uuidSeedWorker = 7
	uuidABC        = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"
)

var sid *shortid.Shortid

func InitUUIDGen(seed uint64) {
	sid = shortid.MustNew(uuidSeedWorker, uuidABC, seed)
}

// GenRunID returns a short, globally-unique-enough correlation ID for a
// single run of the pipeline (the analog of a per-job UUID). Log lines and
// coordinator RPCs do not carry it.
func GenRunID() string {
	if sid == nil {
		InitUUIDGen(1)
	}
	return sid.MustGenerate()
}

// HostID deterministically hashes a hostname down to a small non-negative
// integer in [0, numHosts). The role/group partitioning in package cluster
// does not use it: it assigns hosts by rank index.
func HostID(hostname string, numHosts int) int {
	if numHosts <= 0 {
		return 0
	}
	digest := xxhash.ChecksumString64S(hostname, 0)
	return int(digest % uint64(numHosts))
}
