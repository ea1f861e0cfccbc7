// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

// Package substituter implements the HTTP front-end for the deduplicating
// NAR substituter: fetching upstream metadata and compressed archives,
// rewriting the uncompressed bytes, and serving the result.
package substituter

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dsnet/compress/brotli"
	"zb.256lights.llc/substituter/internal/narinfo"
	"zb.256lights.llc/substituter/internal/useragent"
	"zb.256lights.llc/substituter/internal/xio"
)

// acceptEncoding advertises the transport-level content codings [decodeBody]
// can undo. This is independent of a NAR's own XZ compression, which is a
// payload format, not an HTTP transfer coding.
const acceptEncoding = "br,gzip,deflate"

// maxNARInfoSize caps how much of a .narinfo response body is read into
// memory; unlike a .nar.xz payload, a narinfo record is always small.
const maxNARInfoSize = 1 << 20 // 1 MiB

// Client fetches archives and metadata from an upstream binary cache.
type Client struct {
	// BaseURL is the upstream cache's base URL. Required.
	BaseURL *url.URL
	// HTTPClient performs requests. If nil, [http.DefaultClient] is used.
	HTTPClient *http.Client
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		return http.DefaultClient
	}
	return c.HTTPClient
}

func (c *Client) resolve(ref string) *url.URL {
	u, err := url.Parse(ref)
	if err != nil {
		// ref is always a literal we constructed; a parse failure is a bug.
		panic(fmt.Sprintf("substituter: invalid upstream reference %q: %v", ref, err))
	}
	return c.BaseURL.ResolveReference(u)
}

// FetchNARInfo fetches and parses the .narinfo record for archiveID.
func (c *Client) FetchNARInfo(ctx context.Context, archiveID string) (*narinfo.Info, error) {
	u := c.resolve(archiveID + ".narinfo")
	data, err := c.fetchSmall(ctx, u, "text/x-nix-narinfo,text/*;q=0.9,*/*;q=0.8")
	if err != nil {
		return nil, fmt.Errorf("fetch narinfo %s: %w", archiveID, err)
	}
	info := new(narinfo.Info)
	if err := info.UnmarshalText(data); err != nil {
		return nil, fmt.Errorf("fetch narinfo %s: %v", archiveID, err)
	}
	return info, nil
}

// OpenNARXZ opens the compressed .nar.xz payload for archiveID. The caller
// must close the returned response's body. If rangeHeader is non-empty, it
// is forwarded verbatim as the upstream request's Range header, so the
// caller can pass the upstream response straight through without itself
// decoding the XZ stream.
func (c *Client) OpenNARXZ(ctx context.Context, archiveID, rangeHeader string) (*http.Response, error) {
	u := c.resolve("nar/" + archiveID + ".nar.xz")
	header := http.Header{
		"Accept":          {"application/octet-stream,*/*;q=0.8"},
		"Accept-Encoding": {acceptEncoding},
		"User-Agent":      {useragent.String},
	}
	if rangeHeader != "" {
		header.Set("Range", rangeHeader)
	}
	req := (&http.Request{Method: http.MethodGet, URL: u, Header: header}).WithContext(ctx)
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u.Redacted(), err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		defer resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: %w", u.Redacted(), &httpError{statusCode: resp.StatusCode, status: resp.Status})
	}
	return resp, nil
}

// OpenNARXZDecoded is like OpenNARXZ but undoes any transport-level
// Content-Encoding, returning a stream of the raw XZ-compressed NAR bytes
// ready for an XZ decompressor. It never requests a Range: rewriting
// requires the whole stream.
func (c *Client) OpenNARXZDecoded(ctx context.Context, archiveID string) (io.ReadCloser, error) {
	resp, err := c.OpenNARXZ(ctx, archiveID, "")
	if err != nil {
		return nil, err
	}
	dec, err := decodeBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s.nar.xz: %v", archiveID, err)
	}
	return struct {
		io.Reader
		io.Closer
	}{dec, xio.CloseOnce(closerFunc(func() error {
		decErr := dec.Close()
		bodyErr := resp.Body.Close()
		if decErr != nil {
			return decErr
		}
		return bodyErr
	}))}, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func (c *Client) fetchSmall(ctx context.Context, u *url.URL, accept string) ([]byte, error) {
	header := http.Header{
		"Accept":          {accept},
		"Accept-Encoding": {acceptEncoding},
		"User-Agent":      {useragent.String},
	}
	req := (&http.Request{Method: http.MethodGet, URL: u, Header: header}).WithContext(ctx)
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %v", u.Redacted(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: %w", u.Redacted(), &httpError{statusCode: resp.StatusCode, status: resp.Status})
	}
	if resp.ContentLength > maxNARInfoSize {
		return nil, fmt.Errorf("fetch %s: response too large (%d bytes)", u.Redacted(), resp.ContentLength)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxNARInfoSize))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %v", u.Redacted(), err)
	}
	if e := resp.Header.Get("Content-Encoding"); e != "" {
		dec, err := decodeBody(bytes.NewReader(data), e)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %v", u.Redacted(), err)
		}
		defer dec.Close()
		data, err = io.ReadAll(dec)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %v", u.Redacted(), err)
		}
	}
	return data, nil
}

func decodeBody(r io.Reader, contentEncoding string) (io.ReadCloser, error) {
	switch contentEncoding {
	case "":
		return io.NopCloser(r), nil
	case "br":
		return brotli.NewReader(r, nil)
	case "gzip", "x-gzip":
		return gzip.NewReader(r)
	case "deflate":
		return flate.NewReader(r), nil
	default:
		return nil, fmt.Errorf("unsupported Content-Encoding %s", contentEncoding)
	}
}

// httpError records an unexpected upstream HTTP status.
type httpError struct {
	statusCode int
	status     string
}

func (e *httpError) Error() string {
	status := e.status
	if status == "" {
		status = http.StatusText(e.statusCode)
		if status == "" {
			status = strconv.Itoa(e.statusCode)
		}
	}
	return "http " + status
}

// errorStatusCode extracts the upstream status code from err, returning
// (http.StatusInternalServerError, false) if err did not originate from an
// unexpected upstream status.
func errorStatusCode(err error) (statusCode int, ok bool) {
	var h *httpError
	if !errors.As(err, &h) {
		return http.StatusInternalServerError, false
	}
	return h.statusCode, true
}
