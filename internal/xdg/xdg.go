// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prismhost Contributors

// Package xdg provides XDG Base Directory paths for Prismhost.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "prismhost"

// ConfigDir returns $XDG_CONFIG_HOME/prismhost, falling back to
// ~/.config/prismhost.
func ConfigDir() (string, error) {
	return dir("XDG_CONFIG_HOME", ".config")
}

// DataDir returns $XDG_DATA_HOME/prismhost, falling back to
// ~/.local/share/prismhost.
func DataDir() (string, error) {
	return dir("XDG_DATA_HOME", ".local", "share")
}

// ConfigFile returns the default config file path.
func ConfigFile() (string, error) {
	d, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, "config.yaml"), nil
}

// BundlesDir returns the default bundle directory.
func BundlesDir() (string, error) {
	d, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, "bundles"), nil
}

func dir(env string, fallback ...string) (string, error) {
	if base := os.Getenv(env); base != "" {
		return filepath.Join(base, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", oops.In("xdg").With("env", env).Hint("set " + env + " or HOME").Wrap(err)
	}
	return filepath.Join(append(append([]string{home}, fallback...), appName)...), nil
}
