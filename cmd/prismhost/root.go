// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prismhost Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Prismhost CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prismhost",
		Short: "Prismhost - a host for image unit bundles",
		Long: `Prismhost discovers image unit bundles, registers each bundle's
capabilities and activates its entry point exactly once.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/prismhost/config.yaml)")

	cmd.AddCommand(NewServeCmd(nil))
	cmd.AddCommand(NewListCmd())
	cmd.AddCommand(NewValidateCmd())
	cmd.AddCommand(NewSchemaCmd())

	return cmd
}
