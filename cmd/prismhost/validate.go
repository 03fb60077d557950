// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prismhost Contributors

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/prismhost/prismhost/internal/plugin"
	"github.com/prismhost/prismhost/internal/plugin/goplugin"
	"github.com/prismhost/prismhost/internal/plugin/lua"
)

// NewValidateCmd creates the validate subcommand.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <bundle>...",
		Short: "Validate bundle manifests without activating them",
		Long: `Validate one or more bundles. Each argument is a bundle directory or
a path to its bundle.yaml. The manifest is checked against the JSON Schema
and the manifest rules, Lua entry scripts are compiled and binary
executables must exist. Nothing is executed.

Exits with code 0 when every bundle is valid:
  prismhost validate plugins/*`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args)
		},
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var failed int
	for _, arg := range args {
		identity, err := validateBundle(ctx, arg)
		if err != nil {
			failed++
			cmd.Printf("FAIL  %s\n%s\n", arg, indent(err))
			continue
		}
		cmd.Printf("ok    %s (%s)\n", arg, identity)
	}

	if failed > 0 {
		return fmt.Errorf("validation failed: %d of %d bundles invalid", failed, len(args))
	}
	return nil
}

// validateBundle checks one bundle and returns its identity.
func validateBundle(ctx context.Context, path string) (string, error) {
	dir, manifestPath := path, filepath.Join(path, plugin.ManifestFile)
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		dir, manifestPath = filepath.Dir(path), path
	}

	data, err := os.ReadFile(manifestPath) //nolint:gosec // path comes from the operator
	if err != nil {
		return "", fmt.Errorf("read manifest: %w", err)
	}

	if err := plugin.ValidateSchema(data); err != nil {
		return "", errors.New(plugin.FormatSchemaError(err))
	}

	manifest, err := plugin.ParseManifest(data)
	if err != nil {
		return "", err
	}

	// Resolving compiles Lua entry scripts and stats binary executables;
	// neither runs bundle code.
	var resolver plugin.Resolver
	switch manifest.Type {
	case plugin.TypeLua:
		resolver = lua.NewResolver(nil)
	case plugin.TypeBinary:
		resolver = goplugin.NewResolver()
	}
	if resolver != nil {
		defer func() { _ = resolver.Close(ctx) }()
		if _, err := resolver.Resolve(ctx, manifest, dir); err != nil {
			return "", err
		}
	}

	return manifest.Identity, nil
}

func indent(err error) string {
	return "  " + err.Error()
}
