// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prismhost Contributors

// Package config loads host configuration. Values are layered in order:
// built-in defaults, the YAML config file, then command-line flags that
// were set explicitly.
package config

import (
	"errors"
	"io/fs"
	"net"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/prismhost/prismhost/internal/logging"
	"github.com/prismhost/prismhost/internal/plugin/capability"
	"github.com/prismhost/prismhost/internal/xdg"
)

// Default values.
const (
	DefaultLogFormat             = logging.FormatJSON
	DefaultLogLevel              = "info"
	DefaultMetricsAddr           = "127.0.0.1:9100"
	DefaultActivationConcurrency = 4
	DefaultShutdownTimeout       = 10 * time.Second
)

// Config is the host configuration.
type Config struct {
	// BundlesDir is scanned once at startup for bundle directories.
	BundlesDir string `koanf:"bundles_dir"`
	LogFormat  string `koanf:"log_format"`
	LogLevel   string `koanf:"log_level"`
	// MetricsAddr is the observability listen address. Empty disables it.
	MetricsAddr           string        `koanf:"metrics_addr"`
	ActivationConcurrency int           `koanf:"activation_concurrency"`
	ShutdownTimeout       time.Duration `koanf:"shutdown_timeout"`
	Capabilities          Capabilities  `koanf:"capabilities"`
	// Host is passed to every entry point as its host context.
	Host map[string]string `koanf:"host"`
}

// Capabilities configures the capability policy.
type Capabilities struct {
	// Allow lists glob patterns; empty allows every known capability.
	Allow []string `koanf:"allow"`
}

// Default returns the built-in configuration.
func Default() (*Config, error) {
	bundlesDir, err := xdg.BundlesDir()
	if err != nil {
		return nil, err
	}
	return &Config{
		BundlesDir:            bundlesDir,
		LogFormat:             DefaultLogFormat,
		LogLevel:              DefaultLogLevel,
		MetricsAddr:           DefaultMetricsAddr,
		ActivationConcurrency: DefaultActivationConcurrency,
		ShutdownTimeout:       DefaultShutdownTimeout,
	}, nil
}

// RegisterFlags adds the flags Load understands to fs. Flag names use
// dashes where config keys use underscores.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("bundles-dir", "", "bundle directory (default: XDG_DATA_HOME/prismhost/bundles)")
	fs.String("log-format", DefaultLogFormat, "log format (json or text)")
	fs.String("log-level", DefaultLogLevel, "log level (debug, info, warn, error)")
	fs.String("metrics-addr", DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	fs.Int("activation-concurrency", DefaultActivationConcurrency, "bundles activated in parallel")
	fs.Duration("shutdown-timeout", DefaultShutdownTimeout, "time allowed for in-flight activations on shutdown")
	fs.StringSlice("capabilities-allow", nil, "capability glob patterns bundles may claim (default: all)")
	fs.StringToString("host", nil, "host context entries passed to entry points (key=value)")
}

// flagKeys maps flag names to config keys where they differ beyond
// dash/underscore.
var flagKeys = map[string]string{
	"capabilities-allow": "capabilities.allow",
}

// Load builds the configuration. If path is empty the XDG config file is
// used when it exists; an explicit path must exist. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	k := koanf.New(".")

	if err := loadFile(k, path); err != nil {
		return nil, err
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				key = strings.ReplaceAll(f.Name, "-", "_")
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.In("config").Hint("failed to load flags").Wrap(err)
		}
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, oops.In("config").Hint("failed to decode configuration").Wrap(err)
	}
	return cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	explicit := path != ""
	if !explicit {
		var err error
		if path, err = xdg.ConfigFile(); err != nil {
			return err
		}
	}

	err := k.Load(file.Provider(path), yaml.Parser())
	switch {
	case err == nil:
		return nil
	case !explicit && errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		return oops.In("config").With("path", path).Hint("failed to load config file").Wrap(err)
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	errb := oops.In("config")

	if c.BundlesDir == "" {
		return errb.New("bundles_dir is required")
	}
	if c.LogFormat != logging.FormatJSON && c.LogFormat != logging.FormatText {
		return errb.With("log_format", c.LogFormat).Errorf("log_format must be 'json' or 'text', got %q", c.LogFormat)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return errb.Wrap(err)
	}
	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			return errb.With("metrics_addr", c.MetricsAddr).Wrapf(err, "metrics_addr must be host:port")
		}
	}
	if c.ActivationConcurrency < 1 {
		return errb.With("activation_concurrency", c.ActivationConcurrency).
			Errorf("activation_concurrency must be at least 1, got %d", c.ActivationConcurrency)
	}
	if c.ShutdownTimeout <= 0 {
		return errb.With("shutdown_timeout", c.ShutdownTimeout).Errorf("shutdown_timeout must be positive")
	}
	if _, err := c.Policy(); err != nil {
		return errb.Wrap(err)
	}
	return nil
}

// Policy compiles the capability allow-list.
func (c *Config) Policy() (*capability.Policy, error) {
	return capability.NewPolicy(c.Capabilities.Allow)
}

// HostContext returns the configured host context, or nil when none is set.
func (c *Config) HostContext() map[string]string {
	if len(c.Host) == 0 {
		return nil
	}
	return c.Host
}
