// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prismhost Contributors

// Package goplugin resolves binary bundles whose principal object runs out
// of process behind HashiCorp's go-plugin handshake.
package goplugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/samber/oops"

	"github.com/prismhost/prismhost/internal/plugin"
	"github.com/prismhost/prismhost/pkg/bundlesdk"
)

// ErrResolverClosed is returned when loading through a closed resolver.
var ErrResolverClosed = errors.New("resolver is closed")

// Compile-time interface check.
var _ plugin.Resolver = (*Resolver)(nil)

// PluginClient wraps the go-plugin client for testability.
type PluginClient interface {
	// Client returns the RPC client protocol, starting the process if needed.
	Client() (hashiplug.ClientProtocol, error)
	// Kill terminates the bundle process.
	Kill()
}

// ClientFactory creates plugin clients.
type ClientFactory interface {
	// NewClient creates a client for the given executable path.
	NewClient(execPath string) PluginClient
}

// DefaultClientFactory creates real go-plugin clients.
type DefaultClientFactory struct{}

// NewClient creates a real go-plugin client speaking net/rpc.
func (f *DefaultClientFactory) NewClient(execPath string) PluginClient {
	return hashiplug.NewClient(&hashiplug.ClientConfig{
		HandshakeConfig:  bundlesdk.HandshakeConfig,
		Plugins:          bundlesdk.PluginMap(nil),
		Cmd:              exec.Command(execPath), // #nosec G204 -- execPath is confined to the bundle dir by Resolve
		AllowedProtocols: []hashiplug.Protocol{hashiplug.ProtocolNetRPC},
	})
}

// Resolver creates entry points for binary bundles and owns the bundle
// processes that loaded successfully.
type Resolver struct {
	clientFactory ClientFactory
	logger        *slog.Logger

	mu      sync.Mutex
	running map[string]PluginClient
	closed  bool
}

// ResolverOption configures the Resolver.
type ResolverOption func(*Resolver)

// WithClientFactory replaces the go-plugin client factory (for testing).
func WithClientFactory(f ClientFactory) ResolverOption {
	return func(r *Resolver) {
		r.clientFactory = f
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates a binary bundle resolver.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		clientFactory: &DefaultClientFactory{},
		running:       make(map[string]PluginClient),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Resolve checks that the bundle executable exists. The process is started
// only when the entry point is loaded.
func (r *Resolver) Resolve(_ context.Context, manifest *plugin.Manifest, dir string) (plugin.EntryPoint, error) {
	if manifest.BinaryBundle == nil {
		return nil, fmt.Errorf("bundle %s is not a binary bundle", manifest.Identity)
	}

	execPath, err := plugin.BundlePath(dir, manifest.BinaryBundle.Executable)
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %w", manifest.Identity, err)
	}
	info, err := os.Stat(execPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("bundle executable not found: %s: %w", execPath, err)
		}
		return nil, fmt.Errorf("cannot access bundle executable %s: %w", execPath, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("bundle executable %s is a directory", execPath)
	}

	return &EntryPoint{
		resolver: r,
		identity: manifest.Identity,
		execPath: execPath,
	}, nil
}

// Running returns the identities whose bundle processes are alive.
func (r *Resolver) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.running))
	for name := range r.running {
		names = append(names, name)
	}
	return names
}

// Close kills every bundle process started by this resolver.
func (r *Resolver) Close(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, c := range r.running {
		c.Kill()
		r.logger.Debug("stopped bundle process", "plugin", name)
	}
	clear(r.running)
	r.closed = true
	return nil
}

// keep records a successfully loaded bundle process. It returns false if the
// resolver was closed meanwhile; the caller must then kill the client.
func (r *Resolver) keep(identity string, c PluginClient) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.running[identity] = c
	return true
}

func (r *Resolver) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Compile-time interface check.
var _ plugin.EntryPoint = (*EntryPoint)(nil)

// EntryPoint starts a bundle process and calls its Load RPC.
type EntryPoint struct {
	resolver *Resolver
	identity string
	execPath string
}

// Load starts the bundle, dispenses its entry point and invokes it. The
// host context must be nil or a map[string]string. On success the process
// keeps running until the resolver closes; otherwise it is killed.
func (e *EntryPoint) Load(_ context.Context, host plugin.HostContext) (ok bool, err error) {
	errb := oops.In("goplugin").With("plugin", e.identity).With("executable", e.execPath)

	if e.resolver.isClosed() {
		return false, errb.Wrap(ErrResolverClosed)
	}

	args, err := hostArgs(host)
	if err != nil {
		return false, errb.Wrap(err)
	}

	client := e.resolver.clientFactory.NewClient(e.execPath)
	defer func() {
		if !ok || err != nil {
			client.Kill()
		}
	}()

	rpcClient, err := client.Client()
	if err != nil {
		return false, errb.Hint("failed to start bundle process").Wrap(err)
	}

	raw, err := rpcClient.Dispense(bundlesdk.PluginName)
	if err != nil {
		return false, errb.Hint("failed to dispense entry point").Wrap(err)
	}

	loader, isLoader := raw.(bundlesdk.Loader)
	if !isLoader {
		return false, errb.Errorf("bundle %s does not implement the entry point protocol", e.identity)
	}

	ok, err = loader.Load(args)
	if err != nil {
		return false, errb.Wrap(err)
	}
	if ok && !e.resolver.keep(e.identity, client) {
		return false, errb.Wrap(ErrResolverClosed)
	}
	return ok, nil
}

func hostArgs(host plugin.HostContext) (map[string]string, error) {
	switch h := host.(type) {
	case nil:
		return nil, nil
	case map[string]string:
		return h, nil
	default:
		return nil, fmt.Errorf("unsupported host context type %T", host)
	}
}
