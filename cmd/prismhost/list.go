// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prismhost Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/prismhost/prismhost/internal/config"
	"github.com/prismhost/prismhost/internal/plugin"
)

// BundleListing is one row of list output.
type BundleListing struct {
	Identity     string   `json:"identity"`
	Version      string   `json:"version"`
	Type         string   `json:"type"`
	Capabilities []string `json:"capabilities"`
	Dir          string   `json:"dir"`
	State        string   `json:"state,omitempty"`
	DurationMS   int64    `json:"duration_ms,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// listConfig holds configuration for the list command.
type listConfig struct {
	jsonOutput bool
	activate   bool
}

// NewListCmd creates the list subcommand.
func NewListCmd() *cobra.Command {
	cfg := &listConfig{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bundles in the bundle directory",
		Long: `List every bundle with a valid manifest in the bundle directory.
With --activate, each bundle is also registered and activated once and the
resulting state is shown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd, cfg)
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output bundles as JSON")
	cmd.Flags().BoolVar(&cfg.activate, "activate", false, "register and activate each bundle and report its state")
	config.RegisterFlags(cmd.Flags())

	return cmd
}

func runList(cmd *cobra.Command, lc *listConfig) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	listings, err := collectListings(ctx, cfg, logger, lc.activate)
	if err != nil {
		return err
	}

	if lc.jsonOutput {
		output, err := formatListJSON(listings)
		if err != nil {
			return fmt.Errorf("failed to format JSON: %w", err)
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), output)
		return err
	}

	return writeListTable(cmd.OutOrStdout(), listings, lc.activate)
}

func collectListings(ctx context.Context, cfg *config.Config, logger *slog.Logger, activate bool) ([]BundleListing, error) {
	loader, manager, err := newHost(cfg, logger, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := manager.Close(closeCtx); err != nil {
			logger.Warn("error closing bundles", "error", err)
		}
	}()

	discovered, err := manager.Discover(ctx)
	if err != nil {
		return nil, err
	}

	listings := make([]BundleListing, 0, len(discovered))
	for _, db := range discovered {
		listings = append(listings, BundleListing{
			Identity:     db.Manifest.Identity,
			Version:      db.Manifest.Version,
			Type:         string(db.Manifest.Type),
			Capabilities: db.Manifest.Capabilities,
			Dir:          db.Dir,
		})
	}
	if !activate {
		return listings, nil
	}

	if _, err := manager.RegisterAll(ctx); err != nil {
		return nil, err
	}
	if _, err := manager.ActivateAll(ctx, hostContext(cfg)); err != nil {
		return nil, err
	}

	infos := make(map[string]plugin.Info)
	for _, info := range loader.Snapshot() {
		infos[string(info.Identity)] = info
	}
	for i := range listings {
		info, ok := infos[listings[i].Identity]
		if !ok || info.Source != listings[i].Dir {
			// Not registered from this directory: rejected or a duplicate.
			listings[i].State = plugin.StateUnregistered.String()
			continue
		}
		listings[i].State = info.State.String()
		listings[i].DurationMS = info.Duration.Milliseconds()
		if info.Err != nil {
			listings[i].Error = info.Err.Error()
		}
	}
	return listings, nil
}

// writeListTable writes listings as an aligned table.
func writeListTable(out io.Writer, listings []BundleListing, withState bool) error {
	if len(listings) == 0 {
		_, err := fmt.Fprintln(out, "No bundles found")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if withState {
		_, _ = fmt.Fprintln(w, "IDENTITY\tVERSION\tTYPE\tCAPABILITIES\tSTATE\tDURATION\tDIR")
	} else {
		_, _ = fmt.Fprintln(w, "IDENTITY\tVERSION\tTYPE\tCAPABILITIES\tDIR")
	}

	for _, l := range listings {
		caps := strings.Join(l.Capabilities, ",")
		dir := filepath.Base(l.Dir)
		if withState {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				l.Identity, l.Version, l.Type, caps, l.State,
				time.Duration(l.DurationMS)*time.Millisecond, dir)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", l.Identity, l.Version, l.Type, caps, dir)
	}

	return w.Flush()
}

// formatListJSON formats listings as indented JSON.
func formatListJSON(listings []BundleListing) (string, error) {
	data, err := json.MarshalIndent(listings, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal bundles: %w", err)
	}
	return string(data), nil
}
