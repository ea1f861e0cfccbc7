// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

//go:build unix

package main

import "go4.org/xdgdir"

func configDir() string {
	return xdgdir.Config.Path()
}
