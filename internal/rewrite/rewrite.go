// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

// Package rewrite streams a byte-for-byte length-preserving transform over a
// NAR archive, replacing every embedded store path reference with its
// all-zero canonical form, using bounded memory regardless of stream length.
package rewrite

import (
	"context"
	"fmt"
	"io"

	"zb.256lights.llc/substituter/internal/storepath"
)

// MinChunkSize is the smallest chunkSize accepted by Stream: it must be able
// to hold at least one full store path reference.
const MinChunkSize = storepath.PathLength

// canonical is the all-zero replacement written in place of every matched
// store path reference. Its first 11 bytes and its last byte equal the
// literal bytes that were required to match, so only the 32-byte hash body
// actually changes.
var canonical = func() []byte {
	b := make([]byte, storepath.PathLength)
	copy(b, "/nix/store/")
	for i := len("/nix/store/"); i < len(b)-1; i++ {
		b[i] = '0'
	}
	b[len(b)-1] = '-'
	return b
}()

// Stream copies src to dst, rewriting every embedded store path reference to
// its canonical form. It runs in O(chunkSize) memory regardless of the
// length of src, using two chunkSize+L buffers to look one store-path-length
// ahead across chunk boundaries so that a match straddling a boundary is
// still found.
//
// chunkSize must be at least MinChunkSize; Stream panics otherwise, since an
// undersized chunk is a programmer error rather than a runtime condition.
func Stream(ctx context.Context, src io.Reader, dst io.Writer, chunkSize int) error {
	if chunkSize < MinChunkSize {
		panic(fmt.Sprintf("rewrite.Stream: chunkSize %d is smaller than MinChunkSize %d", chunkSize, MinChunkSize))
	}
	const l = storepath.PathLength

	// buf holds the chunk currently being emitted; its last l bytes are a
	// lookahead slot filled from the start of the next chunk so that a
	// match ending just past the chunk boundary is still visible.
	buf := make([]byte, chunkSize+l)
	// ahead holds the chunk being read one step ahead of buf; its last l
	// bytes carry buf's own lookahead slot forward from one iteration to
	// the next, since the previous cycle's rewrite may have modified it.
	ahead := make([]byte, chunkSize+l)
	rec := storepath.New()
	var ends []int

	bufL, err := readChunk(ctx, src, buf[:chunkSize])
	if err != nil {
		return err
	}
	copy(ahead[chunkSize:], buf[:l])

	for {
		aheadL, err := readChunk(ctx, src, ahead[:chunkSize])
		if err != nil {
			return err
		}

		copy(buf[chunkSize:], ahead[:l])
		copy(buf[:l], ahead[chunkSize:])

		procL := bufL + min(aheadL, l)
		ends = rewriteSpans(rec, buf[:procL], ends)

		// The lookahead slot carries at most l bytes of ahead, so a short
		// final chunk longer than that still needs a pass of its own.
		if aheadL == chunkSize || aheadL > l {
			if _, err := dst.Write(buf[:chunkSize]); err != nil {
				return err
			}
		} else {
			if _, err := dst.Write(buf[:procL]); err != nil {
				return err
			}
			return nil
		}

		buf, ahead = ahead, buf
		bufL = aheadL
	}
}

// rewriteSpans scans data for store path references and overwrites each one
// with canonical, reusing ends as scratch space. It returns ends so callers
// can reuse the backing array across calls.
//
// Detection runs to completion over the untouched bytes before any
// overwrite happens, so a match's classification never depends on an
// earlier, overlapping match having already been rewritten.
func rewriteSpans(rec *storepath.Recognizer, data []byte, ends []int) []int {
	rec.Reset()
	ends = ends[:0]
	for i := 0; i < len(data); i++ {
		if rec.Next(data[i]) {
			ends = append(ends, i+1)
		}
	}
	for _, end := range ends {
		copy(data[end-storepath.PathLength:end], canonical)
	}
	return ends
}

// readChunk fills buf as far as possible from r, stopping early at EOF. It
// does not treat a short read as an error: the caller distinguishes a full
// chunk from a final partial one by comparing the returned count to
// len(buf).
func readChunk(ctx context.Context, r io.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			if err == io.EOF {
				return n, nil
			}
			return n, err
		}
	}
	return n, nil
}
