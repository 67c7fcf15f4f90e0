// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/theranote/theranote/internal/logging"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the TheraNote CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "theranote",
		Short: "TheraNote - account and authentication service",
		Long: `TheraNote runs clinician account registration, license checks,
email verification, login with lockout and password recovery.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (YAML, default $XDG_CONFIG_HOME/theranote/config.yaml)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}

// rootLogger is used for errors that escape a command.
func rootLogger() *slog.Logger {
	return logging.Setup(logging.Options{Service: "theranote", Version: version, Format: "text"}, os.Stderr)
}
