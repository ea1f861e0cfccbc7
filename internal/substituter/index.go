// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package substituter

import (
	"iter"
	"sync"

	"zb.256lights.llc/substituter/internal/xmaps"
)

// Index is the process-wide narHash→archiveID table learned from .narinfo
// ingests and consulted by .nar requests. It is protected by a single
// reader–writer lock, never held across I/O: callers fetch upstream data
// first and only take the write lock to record the result.
type Index struct {
	mu sync.RWMutex
	m  map[string]string
}

// Lookup returns the archive ID previously recorded for narHash.
func (idx *Index) Lookup(narHash string) (archiveID string, ok bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	archiveID, ok = idx.m[narHash]
	return archiveID, ok
}

// Set records that narHash corresponds to archiveID. Concurrent inserts on
// the same key are last-writer-wins; the index makes no ordering guarantee
// beyond that.
func (idx *Index) Set(narHash, archiveID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.m == nil {
		idx.m = make(map[string]string)
	}
	idx.m[narHash] = archiveID
}

// All iterates over a snapshot of the index in sorted key order, for
// diagnostics.
func (idx *Index) All() iter.Seq2[string, string] {
	idx.mu.RLock()
	snapshot := make(map[string]string, len(idx.m))
	for k, v := range idx.m {
		snapshot[k] = v
	}
	idx.mu.RUnlock()
	return xmaps.Sorted(snapshot)
}
