// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

// Command zb-substituter runs a deduplicating HTTP front-end for a Nix
// binary cache: it fetches narinfo records and compressed NAR archives from
// an upstream cache, rewrites the embedded store path hash to a canonical
// placeholder, and serves the result so that otherwise-identical archives
// built under different store paths become byte-for-byte identical.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"

	"github.com/spf13/cobra"
	"zombiezen.com/go/bass/sigterm"
	"zombiezen.com/go/log"
)

func main() {
	rootCommand := &cobra.Command{
		Use:           "zb-substituter",
		Short:         "deduplicating NAR substituter",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	showDebug := rootCommand.PersistentFlags().Bool("debug", false, "show debugging output")
	rootCommand.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		initLogging(*showDebug)
		return nil
	}

	rootCommand.AddCommand(
		newServeCommand(),
		newHashCommand(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), sigterm.Signals()...)
	err := rootCommand.ExecuteContext(ctx)
	cancel()
	if err != nil {
		initLogging(*showDebug)
		log.Errorf(context.Background(), "%v", err)
		os.Exit(1)
	}
}

var initLogOnce sync.Once

func initLogging(showDebug bool) {
	initLogOnce.Do(func() {
		minLogLevel := log.Info
		if showDebug {
			minLogLevel = log.Debug
		}
		log.SetDefault(&log.LevelFilter{
			Min:    minLogLevel,
			Output: log.New(os.Stderr, "zb-substituter: ", log.StdFlags, nil),
		})
	})
}
