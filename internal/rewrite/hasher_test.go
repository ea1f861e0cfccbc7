// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package rewrite

import (
	"testing"

	"zombiezen.com/go/nix"
)

func TestHashSink(t *testing.T) {
	data := []byte("hello, nar")
	s := NewHashSink()
	if _, err := s.Write(data[:4]); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := s.Write(data[4:]); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	h := nix.NewHasher(nix.SHA256)
	h.Write(data)
	want := h.SumHash()

	got := s.SumHash()
	if got.Type() != nix.SHA256 {
		t.Errorf("SumHash().Type() = %v, want SHA256", got.Type())
	}
	if !got.Equal(want) {
		t.Errorf("SumHash() = %v, want %v", got, want)
	}
}

func TestHashSinkPanicsOnWriteAfterClose(t *testing.T) {
	s := NewHashSink()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Error("Write after Close did not panic")
		}
	}()
	s.Write([]byte("oops"))
}

func TestHashSinkPanicsOnSumBeforeClose(t *testing.T) {
	s := NewHashSink()
	defer func() {
		if recover() == nil {
			t.Error("SumHash before Close did not panic")
		}
	}()
	s.SumHash()
}
