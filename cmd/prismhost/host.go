// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prismhost Contributors

package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/prismhost/prismhost/internal/config"
	"github.com/prismhost/prismhost/internal/logging"
	"github.com/prismhost/prismhost/internal/plugin"
	"github.com/prismhost/prismhost/internal/plugin/goplugin"
	"github.com/prismhost/prismhost/internal/plugin/lua"
)

// serviceName tags every log record.
const serviceName = "prismhost"

// loadConfig layers the config file and the command's flags, then validates.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	logger, err := logging.Setup(logging.Options{
		Service: serviceName,
		Version: version,
		Format:  cfg.LogFormat,
		Level:   cfg.LogLevel,
	}, w)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	return logger, nil
}

// newHost wires a Loader and a Manager with every supported bundle type.
func newHost(cfg *config.Config, logger *slog.Logger, metrics *plugin.Metrics) (*plugin.Loader, *plugin.Manager, error) {
	policy, err := cfg.Policy()
	if err != nil {
		return nil, nil, err
	}

	loader := plugin.NewLoader(
		plugin.WithPolicy(policy),
		plugin.WithMetrics(metrics),
		plugin.WithLogger(logger),
	)
	manager := plugin.NewManager(cfg.BundlesDir, loader,
		plugin.WithResolver(plugin.TypeLua, lua.NewResolver(logger)),
		plugin.WithResolver(plugin.TypeBinary, goplugin.NewResolver(goplugin.WithLogger(logger))),
		plugin.WithActivationConcurrency(cfg.ActivationConcurrency),
		plugin.WithManagerLogger(logger),
	)
	return loader, manager, nil
}

// hostContext converts the configured host map into the opaque handle
// passed to entry points, keeping an unset map as a nil interface.
func hostContext(cfg *config.Config) plugin.HostContext {
	if h := cfg.HostContext(); h != nil {
		return h
	}
	return nil
}
