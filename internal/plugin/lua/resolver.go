// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prismhost Contributors

package lua

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/prismhost/prismhost/internal/plugin"
)

// Compile-time interface check.
var _ plugin.Resolver = (*Resolver)(nil)

// Resolver compiles Lua entry scripts into entry points.
type Resolver struct {
	factory *StateFactory
	logger  *slog.Logger
}

// NewResolver creates a Lua resolver. A nil logger selects slog.Default().
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		factory: NewStateFactory(),
		logger:  logger,
	}
}

// Resolve reads and compiles the manifest's entry script. The script is not
// executed until the entry point is loaded.
func (r *Resolver) Resolve(_ context.Context, manifest *plugin.Manifest, dir string) (plugin.EntryPoint, error) {
	errb := oops.In("lua").With("plugin", manifest.Identity).With("operation", "resolve")

	if manifest.LuaBundle == nil {
		return nil, errb.Errorf("bundle %s is not a lua bundle", manifest.Identity)
	}

	entryPath, err := plugin.BundlePath(dir, manifest.LuaBundle.Entry)
	if err != nil {
		return nil, errb.With("entry", manifest.LuaBundle.Entry).Wrap(err)
	}

	code, err := os.ReadFile(filepath.Clean(entryPath))
	if err != nil {
		return nil, errb.With("path", entryPath).Hint("failed to read entry file").Wrap(err)
	}

	proto, err := Compile(code, manifest.LuaBundle.Entry)
	if err != nil {
		return nil, errb.With("entry", manifest.LuaBundle.Entry).Hint("syntax error").Wrap(err)
	}

	return &EntryPoint{
		identity: manifest.Identity,
		entry:    manifest.LuaBundle.Entry,
		proto:    proto,
		factory:  r.factory,
		logger:   r.logger,
	}, nil
}

// Close is a no-op; Lua states live only for the duration of one load.
func (r *Resolver) Close(_ context.Context) error {
	return nil
}

// Compile parses and compiles Lua source.
func Compile(code []byte, name string) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(bytes.NewReader(code), name)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers attach context
	}
	return lua.Compile(chunk, name) //nolint:wrapcheck // callers attach context
}
