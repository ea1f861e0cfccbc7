// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"slices"
	"strings"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/spf13/cobra"
	"zb.256lights.llc/substituter/internal/config"
	"zb.256lights.llc/substituter/internal/substituter"
	"zombiezen.com/go/log"
)

type serveOptions struct {
	configPaths []string
	upstream    string
	listen      string
	chunkSize   int
	maxStreams  int
}

func defaultConfigPaths() []string {
	var paths []string
	if dir := configDir(); dir != "" {
		paths = append(paths, filepath.Join(dir, "zb-substituter", "config.jwcc"))
	}
	return paths
}

func newServeCommand() *cobra.Command {
	c := &cobra.Command{
		Use:                   "serve [options]",
		Short:                 "run the substituter's HTTP server",
		DisableFlagsInUseLine: true,
		Args:                  cobra.NoArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	opts := new(serveOptions)
	c.Flags().StringSliceVar(&opts.configPaths, "config", defaultConfigPaths(), "`path`(s) to HuJSON configuration files, merged in order")
	c.Flags().StringVar(&opts.upstream, "upstream", "", "base `url` of the upstream binary cache")
	c.Flags().StringVar(&opts.listen, "listen", "", "`address` to listen on, e.g. \":8080\" (ignored under systemd socket activation)")
	c.Flags().IntVar(&opts.chunkSize, "chunk-size", 0, "streaming rewrite window size in `bytes`")
	c.Flags().IntVar(&opts.maxStreams, "max-concurrent-streams", 0, "cap on in-flight rewrite/passthrough requests, 0 for unbounded")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), opts)
	}
	return c
}

func runServe(ctx context.Context, opts *serveOptions) error {
	cfg := config.Default()
	if err := cfg.MergeFiles(slices.Values(opts.configPaths)); err != nil {
		return err
	}
	if err := cfg.MergeEnvironment(); err != nil {
		return err
	}
	if opts.upstream != "" {
		cfg.Upstream = opts.upstream
	}
	if opts.listen != "" {
		cfg.Listen = opts.listen
	}
	if opts.chunkSize != 0 {
		cfg.ChunkSize = opts.chunkSize
	}
	if opts.maxStreams != 0 {
		cfg.MaxConcurrentStreams = opts.maxStreams
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("zb-substituter serve: %v", err)
	}

	upstreamURL, err := url.Parse(cfg.Upstream)
	if err != nil {
		return fmt.Errorf("zb-substituter serve: upstream url: %v", err)
	}
	if !strings.HasSuffix(upstreamURL.Path, "/") {
		upstreamURL.Path += "/"
	}

	client := &substituter.Client{BaseURL: upstreamURL}
	srv := substituter.NewServer(client, cfg.ChunkSize, cfg.MaxConcurrentStreams)

	l, err := listener(cfg.Listen)
	if err != nil {
		return fmt.Errorf("zb-substituter serve: %v", err)
	}
	defer l.Close()

	log.Infof(ctx, "Listening on %s, upstream %s", l.Addr(), upstreamURL.Redacted())
	httpServer := &http.Server{
		Handler: srv.Handler(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	errc := make(chan error, 1)
	go func() {
		errc <- httpServer.Serve(l)
	}()
	select {
	case <-ctx.Done():
		return httpServer.Shutdown(context.Background())
	case err := <-errc:
		return err
	}
}

// listener returns a systemd-activated socket if one was passed to this
// process, falling back to listening on addr.
func listener(addr string) (net.Listener, error) {
	listeners, err := activation.Listeners()
	if err != nil {
		return nil, fmt.Errorf("systemd socket activation: %v", err)
	}
	if len(listeners) > 0 {
		return listeners[0], nil
	}
	return net.Listen("tcp", addr)
}
