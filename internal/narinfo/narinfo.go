// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

// Package narinfo parses and emits the subset of the Nix .narinfo metadata
// format this substituter needs to consume and transform. Unlike a full Nix
// store client, it never validates or parses store paths: per this
// project's scope, archive contents and store path lexical structure are
// none of its concern (see [internal/storepath] for the one place a store
// path's bytes actually matter).
package narinfo

import (
	"bytes"
	"fmt"
	"strconv"

	"zb.256lights.llc/substituter/internal/sets"
	"zombiezen.com/go/nix"
)

// knownFields is the set of .narinfo keys this package understands. Any
// other key is preserved verbatim but never interpreted.
var knownFields = sets.New(
	"StorePath", "URL", "Compression", "FileHash", "FileSize",
	"NarHash", "NarSize", "References", "Deriver", "System", "Sig", "CA",
)

// rawField is an unrecognized key: value pair, kept so a round trip through
// Info preserves it.
type rawField struct {
	key   string
	value string
}

// Info is a parsed .narinfo record. Fields that this substituter never
// interprets semantically (StorePath, References, Deriver, System, Sig, CA)
// are kept as their raw textual form rather than the teacher's
// fully-validated store path types, since this transform never parses
// store paths.
type Info struct {
	StorePath   string
	URL         string
	Compression nix.CompressionType // empty omits the field when marshaling
	FileHash    nix.Hash
	FileSize    int64
	NarHash     nix.Hash
	NarSize     int64
	References  []string
	Deriver     string
	System      string
	Sig         []string
	CA          string

	extra []rawField
}

// UnknownFields returns the keys of any .narinfo lines that were preserved
// but not interpreted, in the order they appeared.
func (info *Info) UnknownFields() []string {
	if len(info.extra) == 0 {
		return nil
	}
	keys := make([]string, len(info.extra))
	for i, f := range info.extra {
		keys[i] = f.key
	}
	return keys
}

// UnmarshalText parses a .narinfo document. It follows the same
// colon-delimited, duplicate-rejecting line scan used throughout this
// codebase's Nix metadata parsers.
func (info *Info) UnmarshalText(src []byte) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("unmarshal narinfo: %v", err)
		}
	}()

	newline := []byte("\n")
	*info = Info{}
	seen := make(sets.Set[string])
	for lineno := 1; len(src) > 0; lineno++ {
		i := bytes.IndexByte(src, ':')
		if i < 0 {
			return fmt.Errorf("line %d: could not find ':'", lineno)
		}
		if i+len(": ") > len(src) {
			return fmt.Errorf("line %d: missing value", lineno)
		}
		key := string(src[:i])
		lineno += bytes.Count(src[:i+len(": ")], newline)
		src = src[i+len(": "):]

		i = bytes.IndexByte(src, '\n')
		if i < 0 {
			return fmt.Errorf("line %d: missing newline", lineno)
		}
		value := src[:i]
		src = src[i+1:]

		if knownFields.Has(key) && seen.Has(key) && key != "Sig" && key != "References" {
			return fmt.Errorf("line %d: duplicate %s", lineno, key)
		}
		seen.Add(key)

		switch key {
		case "StorePath":
			info.StorePath = string(value)
		case "URL":
			info.URL = string(value)
		case "Compression":
			info.Compression = nix.CompressionType(value)
			if !info.Compression.IsKnown() {
				return fmt.Errorf("line %d: unknown compression %q", lineno, info.Compression)
			}
		case "FileHash":
			if err := info.FileHash.UnmarshalText(value); err != nil {
				return fmt.Errorf("line %d: FileHash: %v", lineno, err)
			}
		case "FileSize":
			info.FileSize, err = strconv.ParseInt(string(value), 10, 64)
			if err != nil {
				return fmt.Errorf("line %d: FileSize: %v", lineno, err)
			}
		case "NarHash":
			if err := info.NarHash.UnmarshalText(value); err != nil {
				return fmt.Errorf("line %d: NarHash: %v", lineno, err)
			}
		case "NarSize":
			info.NarSize, err = strconv.ParseInt(string(value), 10, 64)
			if err != nil {
				return fmt.Errorf("line %d: NarSize: %v", lineno, err)
			}
		case "References":
			for _, r := range bytes.Fields(value) {
				info.References = append(info.References, string(r))
			}
		case "Deriver":
			info.Deriver = string(value)
		case "System":
			info.System = string(value)
		case "Sig":
			info.Sig = append(info.Sig, string(value))
		case "CA":
			info.CA = string(value)
		default:
			info.extra = append(info.extra, rawField{key: key, value: string(value)})
		}
	}

	if info.StorePath == "" {
		return fmt.Errorf("store path empty")
	}
	if info.NarHash.IsZero() {
		return fmt.Errorf("nar hash not set")
	}
	return nil
}

// MarshalText encodes info as a .narinfo document. Compression is omitted
// when empty, which is how the transformed record this substituter serves
// drops it (see [Info.Rewrite]).
func (info *Info) MarshalText() ([]byte, error) {
	var buf []byte
	buf = append(buf, "StorePath: "...)
	buf = append(buf, info.StorePath...)
	buf = append(buf, "\nURL: "...)
	buf = append(buf, info.URL...)
	if info.Compression != "" {
		buf = append(buf, "\nCompression: "...)
		buf = append(buf, info.Compression...)
	}
	if !info.FileHash.IsZero() {
		buf = append(buf, "\nFileHash: "...)
		buf = append(buf, info.FileHash.Base32()...)
	}
	if info.FileSize != 0 {
		buf = append(buf, "\nFileSize: "...)
		buf = strconv.AppendInt(buf, info.FileSize, 10)
	}
	buf = append(buf, "\nNarHash: "...)
	buf = append(buf, info.NarHash.Base32()...)
	buf = append(buf, "\nNarSize: "...)
	buf = strconv.AppendInt(buf, info.NarSize, 10)
	if len(info.References) > 0 {
		buf = append(buf, "\nReferences:"...)
		for _, ref := range info.References {
			buf = append(buf, ' ')
			buf = append(buf, ref...)
		}
	}
	if info.Deriver != "" {
		buf = append(buf, "\nDeriver: "...)
		buf = append(buf, info.Deriver...)
	}
	if info.System != "" {
		buf = append(buf, "\nSystem: "...)
		buf = append(buf, info.System...)
	}
	for _, sig := range info.Sig {
		buf = append(buf, "\nSig: "...)
		buf = append(buf, sig...)
	}
	if info.CA != "" {
		buf = append(buf, "\nCA: "...)
		buf = append(buf, info.CA...)
	}
	for _, f := range info.extra {
		buf = append(buf, '\n')
		buf = append(buf, f.key...)
		buf = append(buf, ": "...)
		buf = append(buf, f.value...)
	}
	buf = append(buf, '\n')
	return buf, nil
}

// Rewrite returns the record this substituter serves from its own
// .narinfo endpoint: Compression is dropped, FileHash and FileSize are
// replaced with the nar-level (uncompressed) values, and URL points at the
// rewritten-nar endpoint this process serves rather than the upstream
// compressed file. References, Deriver, and any other field are passed
// through unchanged — the source format never says whether they should be
// rewritten too, and this substituter does not guess.
func (info Info) Rewrite() Info {
	out := info
	out.Compression = ""
	out.FileHash = info.NarHash
	out.FileSize = info.NarSize
	out.URL = "nar/" + info.NarHash.RawBase32() + ".nar"
	return out
}
