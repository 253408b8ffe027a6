// Package cmn provides common types and utilities shared by every distsort
// package: run configuration, the fatal-error taxonomy, and a small HTTP
// request-args helper used by the control-plane RPCs.
/*
 * Copyright (c) 2024, distsort authors.
 */
package cmn

import (
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/ksort/distsort/cmn/cos"
)

var js = jsoniter.ConfigFastest

// RecSize is the fixed, compile-time record size (spec §6: REC = 100).
const RecSize = 100

// Config is the flat run configuration every rank loads at startup (spec §6
// "Configuration"). NumRecordsPerFile is zero unless set here; while it is
// zero, the records-per-file count comes from the first-read discovery
// handshake (the field itself is not written back).
type Config struct {
	NumFiles       int    `json:"numFiles"`
	NumIOHosts     int    `json:"numIOHosts"`
	NumSortThreads int    `json:"numSortThreads"`
	NumSortGroups  int    `json:"numSortGroups"`
	RecordSize     int    `json:"recordSize"`
	MaxFileMB      int    `json:"maxFileMB"`
	MaxBuffers     int    `json:"maxBuffers"`  // B
	MaxInFlight    int    `json:"maxInFlight"` // W
	MaxCoalesce    int    `json:"maxCoalesce"` // M
	InputDir       string `json:"inputDir"`
	FileBase       string `json:"fileBase"`
	OutputDir      string `json:"outputDir"`
	TmpDir         string `json:"tmpDir"`
	SortMode       int    `json:"sortMode"`
	VerifyMode     int    `json:"verifyMode"`

	// NumRecordsPerFile, when non-zero, overrides first-read discovery
	// (spec §3 "Records-per-file discovery"): Overrides replace the values
	// discovered from the input file.
	NumRecordsPerFile int `json:"numRecordsPerFile,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		RecordSize:  RecSize,
		MaxFileMB:   100,
		MaxBuffers:  8,
		MaxInFlight: 4,
		MaxCoalesce: 4,
		FileBase:    "file",
	}
}

// LoadConfig reads and validates a JSON configuration file. CLI/flag parsing
// itself is out of scope (spec §1); this is the one loader every rank's
// `main` calls before constructing a Runner.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: cannot read %q", path)
	}
	if err := js.Unmarshal(b, cfg); err != nil {
		return nil, errors.Wrapf(err, "config: cannot parse %q", path)
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.NumFiles <= 0 {
		return NewAbortError(KindConfig, -1, "numFiles must be positive")
	}
	if c.NumIOHosts <= 0 {
		return NewAbortError(KindConfig, -1, "numIOHosts must be positive")
	}
	if c.RecordSize <= 0 {
		c.RecordSize = RecSize
	}
	if c.MaxBuffers <= 0 {
		return NewAbortError(KindConfig, -1, "maxBuffers (B) must be positive")
	}
	if c.MaxCoalesce <= 0 {
		c.MaxCoalesce = 1
	}
	if c.MaxInFlight < 0 {
		return NewAbortError(KindConfig, -1, "maxInFlight (W) must be non-negative")
	}
	if c.InputDir == "" {
		return NewAbortError(KindConfig, -1, "inputDir must be set")
	}
	return nil
}

// MaxFileSizeBytes is MAX_FILE_SIZE_IN_MBS translated to bytes, the per-buffer
// capacity (spec §3 "Buffer. Fixed-capacity byte array of size FileSizeMax").
func (c *Config) MaxFileSizeBytes() int64 { return int64(c.MaxFileMB) * cos.MiB }
