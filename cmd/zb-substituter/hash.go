// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"zb.256lights.llc/substituter/internal/rewrite"
)

type hashOptions struct {
	chunkSize int
	path      string
}

func newHashCommand() *cobra.Command {
	c := &cobra.Command{
		Use:                   "hash [options] PATH",
		Short:                 "print the canonicalized hash of a NAR file on disk",
		Long:                  "hash streams a NAR file through the same store-path rewrite the server applies and prints the resulting SHA-256 digest, without writing the rewritten bytes anywhere.",
		DisableFlagsInUseLine: true,
		Args:                  cobra.ExactArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	opts := new(hashOptions)
	c.Flags().IntVar(&opts.chunkSize, "chunk-size", 1<<20, "streaming rewrite window size in `bytes`")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		opts.path = args[0]
		return runHash(cmd.Context(), opts)
	}
	return c
}

func runHash(ctx context.Context, opts *hashOptions) error {
	f, err := os.Open(opts.path)
	if err != nil {
		return err
	}
	defer f.Close()

	sink := rewrite.NewHashSink()
	if err := rewrite.Stream(ctx, f, sink, opts.chunkSize); err != nil {
		return fmt.Errorf("hash %s: %v", opts.path, err)
	}
	if err := sink.Close(); err != nil {
		return fmt.Errorf("hash %s: %v", opts.path, err)
	}
	fmt.Println(sink.SumHash().String())
	return nil
}
