// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prismhost Contributors

package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/prismhost/prismhost/pkg/errutil"
)

// Resolver turns a manifest into the bundle's entry point for one bundle
// type.
type Resolver interface {
	// Resolve prepares the entry point without invoking it.
	Resolve(ctx context.Context, manifest *Manifest, dir string) (EntryPoint, error)

	// Close releases anything the resolver's entry points hold.
	Close(ctx context.Context) error
}

// defaultActivationConcurrency bounds parallel entry point calls in
// ActivateAll when no limit is configured.
const defaultActivationConcurrency = 4

// Manager discovers bundles in a directory and drives them through a Loader.
type Manager struct {
	bundlesDir  string
	loader      *Loader
	resolvers   map[Type]Resolver
	concurrency int
	logger      *slog.Logger
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithResolver sets the resolver for bundles of type t.
func WithResolver(t Type, r Resolver) ManagerOption {
	return func(m *Manager) {
		m.resolvers[t] = r
	}
}

// WithActivationConcurrency bounds how many entry points ActivateAll runs at
// once. Values below 1 select the default.
func WithActivationConcurrency(n int) ManagerOption {
	return func(m *Manager) {
		m.concurrency = n
	}
}

// WithManagerLogger sets the logger. Defaults to slog.Default().
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a bundle manager feeding loader.
func NewManager(bundlesDir string, loader *Loader, opts ...ManagerOption) *Manager {
	m := &Manager{
		bundlesDir: bundlesDir,
		loader:     loader,
		resolvers:  make(map[Type]Resolver),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.concurrency < 1 {
		m.concurrency = defaultActivationConcurrency
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// DiscoveredBundle contains a manifest and its directory.
type DiscoveredBundle struct {
	Manifest *Manifest
	Dir      string
}

// Discover makes one pass over the bundles directory and returns every
// subdirectory holding a valid manifest. Invalid bundles are logged and
// skipped. A missing bundles directory yields no bundles.
func (m *Manager) Discover(ctx context.Context) ([]*DiscoveredBundle, error) {
	entries, err := os.ReadDir(m.bundlesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read bundles directory: %w", err)
	}

	var bundles []*DiscoveredBundle
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		bundleDir := filepath.Join(m.bundlesDir, entry.Name())
		manifestPath := filepath.Join(bundleDir, ManifestFile)

		data, err := os.ReadFile(manifestPath) //nolint:gosec // manifestPath is built from ReadDir entries
		if err != nil {
			m.logger.WarnContext(ctx, "skipping bundle without manifest",
				"dir", entry.Name(),
				"error", err)
			continue
		}

		manifest, err := ParseManifest(data)
		if err != nil {
			m.logger.WarnContext(ctx, "skipping bundle with invalid manifest",
				"dir", entry.Name(),
				"error", err)
			continue
		}

		bundles = append(bundles, &DiscoveredBundle{
			Manifest: manifest,
			Dir:      bundleDir,
		})
	}

	return bundles, nil
}

// RegisterAll discovers bundles, resolves their entry points and registers
// them with the Loader. It returns the identities that were registered.
//
// Individual bundle failures are logged and skipped so one broken bundle
// does not keep the others from registering. Only a discovery failure is
// returned as an error.
func (m *Manager) RegisterAll(ctx context.Context) ([]Identity, error) {
	discovered, err := m.Discover(ctx)
	if err != nil {
		return nil, err
	}

	var registered []Identity
	for _, db := range discovered {
		id, err := m.register(ctx, db)
		if err != nil {
			errutil.LogError(m.logger, "failed to register bundle", err)
			continue
		}
		if id != "" {
			registered = append(registered, id)
		}
	}
	return registered, nil
}

// register resolves and registers one bundle. It returns an empty identity
// and no error when no resolver handles the bundle type.
func (m *Manager) register(ctx context.Context, db *DiscoveredBundle) (Identity, error) {
	r, ok := m.resolvers[db.Manifest.Type]
	if !ok {
		m.logger.WarnContext(ctx, "no resolver for bundle type, skipping",
			"plugin", db.Manifest.Identity,
			"type", db.Manifest.Type)
		return "", nil
	}

	ep, err := r.Resolve(ctx, db.Manifest, db.Dir)
	if err != nil {
		return "", fmt.Errorf("resolve bundle %s: %w", db.Manifest.Identity, err)
	}

	return m.loader.Register(ctx, db.Manifest.Descriptor(ep, db.Dir))
}

// ActivationReport summarizes an ActivateAll run.
type ActivationReport struct {
	Loaded []Identity
	Failed map[Identity]error
}

// ActivateAll activates every registered bundle, at most the configured
// number at a time. A failing bundle never stops the others; failures are
// collected in the report. Once ctx ends, queued activations are not
// started and the context error is returned; loads already running finish
// regardless.
func (m *Manager) ActivateAll(ctx context.Context, host HostContext) (*ActivationReport, error) {
	ids := m.loader.Identities()
	results := make([]error, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			err := m.loader.Activate(gctx, id, host)
			if err != nil && !errors.Is(err, ErrActivationFailed) {
				return err
			}
			results[i] = err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &ActivationReport{Failed: make(map[Identity]error)}
	for i, id := range ids {
		if results[i] != nil {
			report.Failed[id] = results[i]
			continue
		}
		report.Loaded = append(report.Loaded, id)
	}
	return report, nil
}

// Close closes the Loader and then every resolver.
func (m *Manager) Close(ctx context.Context) error {
	errs := []error{m.loader.Close(ctx)}
	for t, r := range m.resolvers {
		if err := r.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s resolver: %w", t, err))
		}
	}
	return errors.Join(errs...)
}
