// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

// Package config loads zb-substituter's process configuration from HuJSON
// files and environment variables, the same layered way this codebase's
// other commands do.
package config

import (
	"errors"
	"fmt"
	"iter"
	"os"

	jsonv2 "github.com/go-json-experiment/json"
	"github.com/tailscale/hujson"
	"zb.256lights.llc/substituter/internal/rewrite"
)

// Config is the substituter daemon's full configuration.
type Config struct {
	Debug bool `json:"debug"`

	// Upstream is the base URL of the binary cache to fetch narinfo
	// records and compressed archives from. Required.
	Upstream string `json:"upstream"`

	// Listen is the address [net/http.Server] listens on, e.g. ":8080"
	// or "localhost:8080". Ignored when a systemd socket was activated.
	Listen string `json:"listen"`

	// ChunkSize is the byte size of the streaming rewrite window, passed
	// to [zb.256lights.llc/substituter/internal/rewrite.Stream].
	ChunkSize int `json:"chunkSize"`

	// MaxConcurrentStreams bounds how many rewrite/passthrough requests
	// may be in flight at once. Zero means unbounded.
	MaxConcurrentStreams int `json:"maxConcurrentStreams"`
}

// Default returns the configuration used when no file or environment
// variable overrides a setting.
func Default() *Config {
	return &Config{
		Listen:    ":8080",
		ChunkSize: 1 << 20, // 1 MiB
	}
}

// MergeEnvironment overrides c.Upstream with SUBSTITUTER_UPSTREAM and
// c.Listen with SUBSTITUTER_LISTEN when those environment variables are set.
// Other fields have no environment variable.
func (c *Config) MergeEnvironment() error {
	if upstream := os.Getenv("SUBSTITUTER_UPSTREAM"); upstream != "" {
		c.Upstream = upstream
	}
	if listen := os.Getenv("SUBSTITUTER_LISTEN"); listen != "" {
		c.Listen = listen
	}
	return nil
}

// MergeFiles reads each path in order, standardizing its HuJSON to JSON and
// unmarshaling it into c. Fields the document does not mention are left
// untouched; a missing file is skipped rather than treated as an error.
func (c *Config) MergeFiles(paths iter.Seq[string]) error {
	for path := range paths {
		huJSONData, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		jsonData, err := hujson.Standardize(huJSONData)
		if err != nil {
			return fmt.Errorf("read %s: %v", path, err)
		}
		if err := jsonv2.Unmarshal(jsonData, c, jsonv2.RejectUnknownMembers(false)); err != nil {
			return fmt.Errorf("read %s: %v", path, err)
		}
	}
	return nil
}

// Validate checks that c describes a runnable server.
func (c *Config) Validate() error {
	if c.Upstream == "" {
		return fmt.Errorf("upstream cache URL not set")
	}
	if c.ChunkSize < rewrite.MinChunkSize {
		return fmt.Errorf("chunk size must be at least %d, got %d", rewrite.MinChunkSize, c.ChunkSize)
	}
	if c.MaxConcurrentStreams < 0 {
		return fmt.Errorf("max concurrent streams must not be negative, got %d", c.MaxConcurrentStreams)
	}
	return nil
}
