// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package substituter

import (
	"sync"
	"testing"
)

func TestIndexLookupMiss(t *testing.T) {
	var idx Index
	if _, ok := idx.Lookup("nope"); ok {
		t.Error("Lookup on empty index returned ok=true")
	}
}

func TestIndexSetLookup(t *testing.T) {
	var idx Index
	idx.Set("narhash1", "archive1")
	got, ok := idx.Lookup("narhash1")
	if !ok || got != "archive1" {
		t.Errorf("Lookup(narhash1) = (%q, %v), want (archive1, true)", got, ok)
	}
}

func TestIndexLastWriterWins(t *testing.T) {
	var idx Index
	idx.Set("narhash1", "archive1")
	idx.Set("narhash1", "archive2")
	got, ok := idx.Lookup("narhash1")
	if !ok || got != "archive2" {
		t.Errorf("Lookup(narhash1) = (%q, %v), want (archive2, true)", got, ok)
	}
}

func TestIndexAllSorted(t *testing.T) {
	var idx Index
	idx.Set("c", "3")
	idx.Set("a", "1")
	idx.Set("b", "2")

	var keys []string
	for k := range idx.All() {
		keys = append(keys, k)
	}
	want := []string{"a", "b", "c"}
	if len(keys) != len(want) {
		t.Fatalf("All() yielded %v, want %v", keys, want)
	}
	for i, k := range keys {
		if k != want[i] {
			t.Errorf("All()[%d] = %q, want %q", i, k, want[i])
		}
	}
}

func TestIndexConcurrentAccess(t *testing.T) {
	var idx Index
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			idx.Set("narhash", "archive")
			idx.Lookup("narhash")
		}(i)
	}
	wg.Wait()
	if got, ok := idx.Lookup("narhash"); !ok || got != "archive" {
		t.Errorf("Lookup(narhash) = (%q, %v), want (archive, true)", got, ok)
	}
}
