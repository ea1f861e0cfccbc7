// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package main

import "os"

func configDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return dir
}
