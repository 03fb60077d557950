// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prismhost Contributors

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/prismhost/prismhost/internal/plugin"
)

// NewSchemaCmd creates the schema subcommand.
func NewSchemaCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the bundle manifest JSON Schema",
		Long: `Generate the JSON Schema for bundle.yaml. The schema is written to
stdout unless --output names a file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSchema(cmd, outPath)
		},
	}

	cmd.Flags().StringVarP(&outPath, "output", "o", "", "write the schema to this file")

	return cmd
}

func runSchema(cmd *cobra.Command, outPath string) error {
	schema, err := plugin.GenerateSchema()
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	if outPath == "" {
		_, err := cmd.OutOrStdout().Write(append(schema, '\n'))
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(outPath, schema, 0o600); err != nil {
		return fmt.Errorf("failed to write schema: %w", err)
	}

	cmd.Printf("Generated %s\n", outPath)
	return nil
}
