// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

// Package main is the entry point for the TheraNote account server.
package main

import (
	"fmt"
	"os"

	"github.com/theranote/theranote/pkg/errutil"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	cmd := NewRootCmd()
	cmd.Version = formatVersion(version, commit, date)

	if err := cmd.Execute(); err != nil {
		errutil.LogError(rootLogger(), "command failed", err)
		return 1
	}
	return 0
}

func formatVersion(version, commit, date string) string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
}
