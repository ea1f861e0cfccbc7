// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package rewrite

import "zombiezen.com/go/nix"

// HashSink is a write-only [nix.Hash] accumulator fed by Stream's output.
// Write never blocks, never partially accepts its argument, and never
// returns an error, mirroring the always-ready write side of a digest
// computation. Misuse panics instead: Write after Close, or SumHash before
// Close.
type HashSink struct {
	h      *nix.Hasher
	closed bool
}

// NewHashSink returns a HashSink that computes a SHA-256 digest over
// everything written to it, in the [nix.NewHasher]/[io.MultiWriter] style
// used elsewhere in this codebase for NAR hashing.
func NewHashSink() *HashSink {
	return &HashSink{h: nix.NewHasher(nix.SHA256)}
}

// Write implements io.Writer. It panics if the sink has already been
// closed: writing after finalization is a programmer error.
func (s *HashSink) Write(p []byte) (int, error) {
	if s.closed {
		panic("rewrite: write to closed HashSink")
	}
	return s.h.Write(p)
}

// Close finalizes the digest. Subsequent writes panic. Close never returns
// an error.
func (s *HashSink) Close() error {
	s.closed = true
	return nil
}

// SumHash returns the finalized digest. It panics if called before Close.
func (s *HashSink) SumHash() nix.Hash {
	if !s.closed {
		panic("rewrite: SumHash called before Close")
	}
	return s.h.SumHash()
}
