// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prismhost Contributors

// Package plugin registers image-unit bundles and activates their entry
// points at most once.
package plugin

import (
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the manifest file name inside a bundle directory.
const ManifestFile = "bundle.yaml"

// Type identifies the runtime that provides a bundle's entry point.
type Type string

// Bundle types supported by the host.
const (
	TypeLua    Type = "lua"
	TypeBinary Type = "binary"
)

// Manifest represents a bundle.yaml file.
type Manifest struct {
	Identity     string        `yaml:"identity" json:"identity" jsonschema:"pattern=^[a-z]([a-z0-9.-]*[a-z0-9])?$,maxLength=128"`
	Version      string        `yaml:"version" json:"version" jsonschema:"minLength=1"`
	Type         Type          `yaml:"type" json:"type" jsonschema:"enum=lua,enum=binary"`
	Description  string        `yaml:"description,omitempty" json:"description,omitempty"`
	Capabilities []string      `yaml:"capabilities" json:"capabilities" jsonschema:"minItems=1"`
	LuaBundle    *LuaConfig    `yaml:"lua-bundle,omitempty" json:"lua-bundle,omitempty"`
	BinaryBundle *BinaryConfig `yaml:"binary-bundle,omitempty" json:"binary-bundle,omitempty"`
}

// LuaConfig holds Lua-specific configuration.
type LuaConfig struct {
	Entry string `yaml:"entry" json:"entry" jsonschema:"minLength=1"`
}

// BinaryConfig holds binary bundle configuration.
type BinaryConfig struct {
	Executable string `yaml:"executable" json:"executable" jsonschema:"minLength=1"`
}

// maxIdentityLength is the maximum allowed length for bundle identities.
const maxIdentityLength = 128

// identityPattern validates manifest identities: lowercase letters, digits,
// dots and hyphens, starting with a letter and not ending with '.' or '-'.
var identityPattern = regexp.MustCompile(`^[a-z]([a-z0-9.-]*[a-z0-9])?$`)

// ParseManifest parses and validates a bundle.yaml file.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	if m.Identity == "" || !identityPattern.MatchString(m.Identity) {
		return fmt.Errorf("identity %q must start with a-z, contain only a-z, 0-9, '.', '-', and not end with '.' or '-'", m.Identity)
	}
	if len(m.Identity) > maxIdentityLength {
		return fmt.Errorf("identity must be %d characters or less, got %d", maxIdentityLength, len(m.Identity))
	}

	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	if _, err := semver.StrictNewVersion(m.Version); err != nil {
		return fmt.Errorf("version %q is not a semantic version: %w", m.Version, err)
	}

	if len(m.Capabilities) == 0 {
		return fmt.Errorf("at least one capability is required")
	}
	for _, c := range m.Capabilities {
		if !Capability(c).Valid() {
			return fmt.Errorf("unknown capability %q", c)
		}
	}

	switch m.Type {
	case TypeLua:
		if m.LuaBundle == nil {
			return fmt.Errorf("lua-bundle is required when type is lua")
		}
		if m.LuaBundle.Entry == "" {
			return fmt.Errorf("lua-bundle.entry is required")
		}
		if !filepath.IsLocal(m.LuaBundle.Entry) {
			return fmt.Errorf("lua-bundle.entry %q must be a path inside the bundle directory", m.LuaBundle.Entry)
		}
	case TypeBinary:
		if m.BinaryBundle == nil {
			return fmt.Errorf("binary-bundle is required when type is binary")
		}
		if m.BinaryBundle.Executable == "" {
			return fmt.Errorf("binary-bundle.executable is required")
		}
		if !filepath.IsLocal(m.BinaryBundle.Executable) {
			return fmt.Errorf("binary-bundle.executable %q must be a path inside the bundle directory", m.BinaryBundle.Executable)
		}
	default:
		return fmt.Errorf("type must be 'lua' or 'binary', got %q", m.Type)
	}

	return nil
}

// BundlePath joins name onto the bundle directory dir. It fails when name
// is absolute or would resolve outside dir.
func BundlePath(dir, name string) (string, error) {
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("%q escapes bundle directory", name)
	}
	return filepath.Join(dir, name), nil
}

// Descriptor converts the manifest into a registration descriptor bound to ep.
func (m *Manifest) Descriptor(ep EntryPoint, dir string) Descriptor {
	caps := make([]Capability, len(m.Capabilities))
	for i, c := range m.Capabilities {
		caps[i] = Capability(c)
	}
	return Descriptor{
		Identity:     Identity(m.Identity),
		Capabilities: caps,
		EntryPoint:   ep,
		Version:      m.Version,
		Source:       dir,
	}
}
