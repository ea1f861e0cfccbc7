// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

// Package useragent contains the User-Agent HTTP header constant for
// zb-substituter.
package useragent

// String is the user agent string used for making HTTP requests.
const String = "zb-substituter"
