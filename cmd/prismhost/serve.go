// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prismhost Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/prismhost/prismhost/internal/config"
	"github.com/prismhost/prismhost/internal/observability"
	"github.com/prismhost/prismhost/internal/plugin"
	"github.com/prismhost/prismhost/pkg/errutil"
)

// NewServeCmd creates the serve subcommand. deps may be nil.
func NewServeCmd(deps *ServeDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Discover, register and activate bundles, then serve health and metrics",
		Long: `Scan the bundle directory once, register every valid bundle and
activate each entry point. The process then serves metrics, health probes
and bundle status until it receives SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, deps)
		},
	}

	config.RegisterFlags(cmd.Flags())

	return cmd
}

// runServeWithDeps runs the host until ctx is cancelled or a shutdown
// signal arrives.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg, deps.LogOutput)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		started   atomic.Bool
		loader    *plugin.Loader
		manager   *plugin.Manager
		obsServer ObservabilityServer
		obsErrCh  <-chan error
		metrics   *plugin.Metrics
	)

	if cfg.MetricsAddr != "" {
		// loader is assigned below, before the readiness check can pass.
		obsServer = deps.ObservabilityServerFactory(cfg.MetricsAddr,
			func() bool { return started.Load() && loader.Ready() },
			observability.WithBundleSource(snapshotFunc(func() []plugin.Info {
				if !started.Load() {
					return nil
				}
				return loader.Snapshot()
			})),
			observability.WithLogger(logger),
		)
		metrics = plugin.NewMetrics(obsServer.Registerer())
	}

	loader, manager, err = newHost(cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := manager.Close(shutdownCtx); err != nil {
			errutil.LogError(logger, "error closing bundles", err)
		}
	}()

	if obsServer != nil {
		obsErrCh, err = obsServer.Start()
		if err != nil {
			return fmt.Errorf("failed to start observability server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
			defer cancel()
			if err := obsServer.Stop(shutdownCtx); err != nil {
				logger.Warn("error stopping observability server", "error", err)
			}
		}()
	}

	logger.InfoContext(ctx, "starting bundle host",
		"bundles_dir", cfg.BundlesDir,
		"activation_concurrency", cfg.ActivationConcurrency,
		"capabilities_allow", cfg.Capabilities.Allow)

	registered, err := manager.RegisterAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to register bundles: %w", err)
	}
	started.Store(true)

	report, err := manager.ActivateAll(ctx, hostContext(cfg))
	if err != nil {
		return fmt.Errorf("failed to activate bundles: %w", err)
	}
	for id, failure := range report.Failed {
		errutil.LogError(logger.With("plugin", id), "bundle failed to activate", failure)
	}

	logger.InfoContext(ctx, "bundle host ready",
		"registered", len(registered),
		"loaded", len(report.Loaded),
		"failed", len(report.Failed))
	cmd.Printf("Loaded %d of %d bundles\n", len(report.Loaded), len(registered))
	deps.OnReady(loader, report)

	select {
	case <-ctx.Done():
		logger.Info("shutting down", "cause", context.Cause(ctx))
	case err, ok := <-obsErrCh:
		if ok && err != nil {
			return fmt.Errorf("observability server error: %w", err)
		}
	}
	return nil
}

// snapshotFunc adapts a function to observability.BundleSource.
type snapshotFunc func() []plugin.Info

func (f snapshotFunc) Snapshot() []plugin.Info { return f() }
