// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package narinfo

import (
	"strings"
	"testing"
)

const sampleNARInfo = `StorePath: /nix/store/s66mzxpvicwk07gjbjfw9izjfa797vsw-hello-2.12.1
URL: nar/1.2.3.nar.xz
Compression: xz
FileHash: sha256:0i1p4qfksbbkyxkkwvf8pyf6k1h7mbq5nqw5z5jljxnvvh3xjsin
FileSize: 1234
NarHash: sha256:0i1p4qfksbbkyxkkwvf8pyf6k1h7mbq5nqw5z5jljxnvvh3xjsin
NarSize: 5678
References: s66mzxpvicwk07gjbjfw9izjfa797vsw-hello-2.12.1
Deriver: abcdfghijklmnpqrsvwxyz0123456789-hello-2.12.1.drv
System: x86_64-linux
Sig: cache.nixos.org-1:abcdef==
`

func TestUnmarshalMarshalRoundTrip(t *testing.T) {
	var info Info
	if err := info.UnmarshalText([]byte(sampleNARInfo)); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if info.StorePath != "/nix/store/s66mzxpvicwk07gjbjfw9izjfa797vsw-hello-2.12.1" {
		t.Errorf("StorePath = %q", info.StorePath)
	}
	if info.Compression != "xz" {
		t.Errorf("Compression = %q, want xz", info.Compression)
	}
	if info.NarSize != 5678 {
		t.Errorf("NarSize = %d, want 5678", info.NarSize)
	}
	if len(info.References) != 1 || info.References[0] != "s66mzxpvicwk07gjbjfw9izjfa797vsw-hello-2.12.1" {
		t.Errorf("References = %v", info.References)
	}
	if len(info.Sig) != 1 {
		t.Errorf("Sig = %v, want one signature", info.Sig)
	}

	out, err := info.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	var info2 Info
	if err := info2.UnmarshalText(out); err != nil {
		t.Fatalf("UnmarshalText(marshaled): %v\n%s", err, out)
	}
	if info2.StorePath != info.StorePath || info2.NarSize != info.NarSize {
		t.Errorf("round trip mismatch: got %+v, want %+v", info2, info)
	}
}

func TestRewrite(t *testing.T) {
	var info Info
	if err := info.UnmarshalText([]byte(sampleNARInfo)); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	rewritten := info.Rewrite()

	if rewritten.Compression != "" {
		t.Errorf("Compression = %q, want empty after Rewrite", rewritten.Compression)
	}
	if !rewritten.FileHash.Equal(info.NarHash) {
		t.Errorf("FileHash = %v, want NarHash %v", rewritten.FileHash, info.NarHash)
	}
	if rewritten.FileSize != info.NarSize {
		t.Errorf("FileSize = %d, want NarSize %d", rewritten.FileSize, info.NarSize)
	}
	wantURL := "nar/" + info.NarHash.RawBase32() + ".nar"
	if rewritten.URL != wantURL {
		t.Errorf("URL = %q, want %q", rewritten.URL, wantURL)
	}
	// References and Deriver pass through unchanged: the source format
	// leaves it unclear whether they should be rewritten, so we don't
	// guess (see Info.Rewrite's doc comment).
	if refs := rewritten.References; len(refs) != len(info.References) {
		t.Errorf("References changed by Rewrite: got %v, want %v", refs, info.References)
	}
	if rewritten.Deriver != info.Deriver {
		t.Errorf("Deriver changed by Rewrite: got %q, want %q", rewritten.Deriver, info.Deriver)
	}

	out, err := rewritten.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	if strings.Contains(string(out), "Compression:") {
		t.Errorf("marshaled rewritten record still contains Compression field:\n%s", out)
	}
}

func TestUnmarshalUnknownFieldPreserved(t *testing.T) {
	doc := sampleNARInfo + "FutureField: something-new\n"
	var info Info
	if err := info.UnmarshalText([]byte(doc)); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	unknown := info.UnknownFields()
	if len(unknown) != 1 || unknown[0] != "FutureField" {
		t.Fatalf("UnknownFields() = %v, want [FutureField]", unknown)
	}
	out, err := info.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	if !strings.Contains(string(out), "FutureField: something-new") {
		t.Errorf("marshaled record dropped unknown field:\n%s", out)
	}
}

func TestUnmarshalRejectsDuplicateStorePath(t *testing.T) {
	doc := "StorePath: /nix/store/s66mzxpvicwk07gjbjfw9izjfa797vsw-hello-2.12.1\n" + sampleNARInfo
	var info Info
	if err := info.UnmarshalText([]byte(doc)); err == nil {
		t.Fatal("UnmarshalText accepted duplicate StorePath")
	}
}

func TestUnmarshalMissingColon(t *testing.T) {
	var info Info
	if err := info.UnmarshalText([]byte("not a valid line\n")); err == nil {
		t.Fatal("UnmarshalText accepted a line without ':'")
	}
}
