// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package substituter

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"zb.256lights.llc/substituter/internal/testcontext"
)

const clientTestNARInfo = `StorePath: /nix/store/s66mzxpvicwk07gjbjfw9izjfa797vsw-hello-2.12.1
URL: nar/1.2.3.nar.xz
Compression: xz
FileHash: sha256:0i1p4qfksbbkyxkkwvf8pyf6k1h7mbq5nqw5z5jljxnvvh3xjsin
FileSize: 1234
NarHash: sha256:0i1p4qfksbbkyxkkwvf8pyf6k1h7mbq5nqw5z5jljxnvvh3xjsin
NarSize: 5678
References: s66mzxpvicwk07gjbjfw9izjfa797vsw-hello-2.12.1
System: x86_64-linux
`

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	return &Client{BaseURL: u, HTTPClient: srv.Client()}
}

func TestFetchNARInfo(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/1.2.3.narinfo" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, clientTestNARInfo)
	}))

	info, err := c.FetchNARInfo(ctx, "1.2.3")
	if err != nil {
		t.Fatal(err)
	}
	if info.StorePath != "/nix/store/s66mzxpvicwk07gjbjfw9izjfa797vsw-hello-2.12.1" {
		t.Errorf("StorePath = %q", info.StorePath)
	}
	if info.NarSize != 5678 {
		t.Errorf("NarSize = %d, want 5678", info.NarSize)
	}
}

func TestFetchNARInfoNotFound(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	_, err := c.FetchNARInfo(ctx, "missing")
	if err == nil {
		t.Fatal("FetchNARInfo returned nil error for a 404")
	}
	if statusCode, ok := errorStatusCode(err); !ok || statusCode != http.StatusNotFound {
		t.Errorf("errorStatusCode(err) = (%d, %v), want (404, true)", statusCode, ok)
	}
}

func TestFetchNARInfoGzipEncoded(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		io.WriteString(gz, clientTestNARInfo)
		gz.Close()
	}))

	info, err := c.FetchNARInfo(ctx, "1.2.3")
	if err != nil {
		t.Fatal(err)
	}
	if info.NarSize != 5678 {
		t.Errorf("NarSize = %d, want 5678", info.NarSize)
	}
}

func TestOpenNARXZ(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	const payload = "fake xz payload"
	var gotRange string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		io.WriteString(w, payload)
	}))

	resp, err := c.OpenNARXZ(ctx, "1.2.3", "bytes=0-3")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if gotRange != "bytes=0-3" {
		t.Errorf("upstream received Range %q, want %q", gotRange, "bytes=0-3")
	}
	got, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != payload {
		t.Errorf("body = %q, want %q", got, payload)
	}
}

func TestOpenNARXZDecoded(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	const payload = "fake xz payload bytes"
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Range"); got != "" {
			t.Errorf("unexpected Range header %q on decoded fetch", got)
		}
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		io.WriteString(gz, payload)
		gz.Close()
	}))

	rc, err := c.OpenNARXZDecoded(ctx, "1.2.3")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != payload {
		t.Errorf("body = %q, want %q", got, payload)
	}
}
