// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package substituter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/ulikunitz/xz"
	"golang.org/x/sync/semaphore"
	"zb.256lights.llc/substituter/internal/rangeheader"
	"zb.256lights.llc/substituter/internal/rewrite"
	"zb.256lights.llc/substituter/internal/xio"
	"zombiezen.com/go/log"
)

// nixCacheInfo is the static response body for GET /nix-cache-info.
const nixCacheInfo = "StoreDir: /nix/store\nWantMassQuery: 1\nPriority: 30\n"

// Server answers the substituter's binary cache protocol endpoints,
// fetching from an upstream cache, rewriting NAR archives on the fly, and
// serving the result.
type Server struct {
	// Upstream fetches narinfo records and compressed archives.
	Upstream *Client
	// ChunkSize is passed to [rewrite.Stream]. It must be at least
	// rewrite.MinChunkSize.
	ChunkSize int
	// MaxConcurrentStreams bounds how many rewrite/passthrough requests
	// may be in flight at once. Zero means unbounded.
	MaxConcurrentStreams int

	index     Index
	streamSem *semaphore.Weighted
}

// NewServer returns a Server backed by upstream, ready to be wrapped in an
// [http.Handler] by [Server.Handler].
func NewServer(upstream *Client, chunkSize, maxConcurrentStreams int) *Server {
	s := &Server{
		Upstream:             upstream,
		ChunkSize:            chunkSize,
		MaxConcurrentStreams: maxConcurrentStreams,
	}
	if maxConcurrentStreams > 0 {
		s.streamSem = semaphore.NewWeighted(int64(maxConcurrentStreams))
	}
	return s
}

// Handler returns the [http.Handler] for the substituter's endpoints,
// routed with [http.ServeMux] and per-endpoint [handlers.MethodHandler]s in
// the style this codebase's web UI uses.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/nix-cache-info", handlers.MethodHandler{
		http.MethodGet: http.HandlerFunc(s.handleCacheInfo),
	})
	mux.Handle("/{name}", handlers.MethodHandler{
		http.MethodGet: http.HandlerFunc(s.handleNarInfo),
	})
	mux.Handle("/nar/{name}", handlers.MethodHandler{
		http.MethodGet: http.HandlerFunc(s.handleNar),
	})
	return mux
}

func (s *Server) handleCacheInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/x-nix-cache-info")
	io.WriteString(w, nixCacheInfo)
}

// handleNarInfo serves GET /<archiveId>.narinfo: fetch upstream metadata,
// learn the narHash→archiveId mapping, and serve the transformed record.
func (s *Server) handleNarInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")
	archiveID, ok := strings.CutSuffix(name, narinfoSuffix)
	if !ok {
		http.NotFound(w, r)
		return
	}

	info, err := s.Upstream.FetchNARInfo(ctx, archiveID)
	if err != nil {
		s.writeUpstreamError(ctx, w, err)
		return
	}
	for _, key := range info.UnknownFields() {
		log.Warnf(ctx, "narinfo %s: unrecognized field %s carried through unchanged", archiveID, key)
	}

	s.index.Set(info.NarHash.RawBase32(), archiveID)

	rewritten := info.Rewrite()
	data, err := rewritten.MarshalText()
	if err != nil {
		log.Errorf(ctx, "marshal narinfo %s: %v", archiveID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/x-nix-narinfo")
	w.Write(data)
}

const (
	narinfoSuffix = ".narinfo"
	narSuffix     = ".nar"
	narXZSuffix   = ".nar.xz"
)

// handleNar serves both GET /nar/<narHash>.nar (rewritten) and
// GET /nar/<archiveId>.nar.xz (passthrough).
func (s *Server) handleNar(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if archiveID, ok := strings.CutSuffix(name, narXZSuffix); ok {
		s.handleNarXZPassthrough(w, r, archiveID)
		return
	}
	if narHash, ok := strings.CutSuffix(name, narSuffix); ok {
		s.handleNarRewrite(w, r, narHash)
		return
	}
	http.NotFound(w, r)
}

func (s *Server) handleNarRewrite(w http.ResponseWriter, r *http.Request, narHash string) {
	ctx := r.Context()
	archiveID, ok := s.index.Lookup(narHash)
	if !ok {
		http.Error(w, "nar hash not known", http.StatusNotFound)
		return
	}

	if !s.acquireStream(ctx) {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.releaseStream()

	compressed, err := s.Upstream.OpenNARXZDecoded(ctx, archiveID)
	if err != nil {
		s.writeUpstreamError(ctx, w, err)
		return
	}
	defer compressed.Close()

	decompressed, err := xz.NewReader(compressed)
	if err != nil {
		log.Errorf(ctx, "decode nar %s (archive %s): %v", narHash, archiveID, err)
		http.Error(w, "malformed upstream archive", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	var written xio.WriteCounter
	dst := io.MultiWriter(w, &written)
	if err := rewrite.Stream(ctx, decompressed, dst, s.ChunkSize); err != nil {
		log.Debugf(ctx, "stream nar %s (archive %s): wrote %d bytes before error: %v", narHash, archiveID, written, err)
		return
	}
	log.Debugf(ctx, "stream nar %s (archive %s): wrote %d bytes", narHash, archiveID, written)
}

func (s *Server) handleNarXZPassthrough(w http.ResponseWriter, r *http.Request, archiveID string) {
	ctx := r.Context()
	rangeHeader := r.Header.Get("Range")
	if rangeHeader != "" {
		if _, err := rangeheader.Parse(rangeHeader); err != nil {
			http.Error(w, fmt.Sprintf("invalid Range header: %v", err), http.StatusBadRequest)
			return
		}
	}

	if !s.acquireStream(ctx) {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.releaseStream()

	resp, err := s.Upstream.OpenNARXZ(ctx, archiveID, rangeHeader)
	if err != nil {
		s.writeUpstreamError(ctx, w, err)
		return
	}
	defer resp.Body.Close()

	for _, h := range []string{"Content-Type", "Content-Length", "Content-Range", "Accept-Ranges", "Content-Encoding"} {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Debugf(ctx, "passthrough nar.xz %s: %v", archiveID, err)
	}
}

func (s *Server) acquireStream(ctx context.Context) bool {
	if s.streamSem == nil {
		return true
	}
	return s.streamSem.Acquire(ctx, 1) == nil
}

func (s *Server) releaseStream() {
	if s.streamSem != nil {
		s.streamSem.Release(1)
	}
}

func (s *Server) writeUpstreamError(ctx context.Context, w http.ResponseWriter, err error) {
	if statusCode, ok := errorStatusCode(err); ok && statusCode == http.StatusNotFound {
		log.Debugf(ctx, "upstream not found: %v", err)
		http.Error(w, "404 page not found", http.StatusNotFound)
		return
	}
	log.Errorf(ctx, "upstream request failed: %v", err)
	http.Error(w, "upstream request failed", http.StatusInternalServerError)
}
