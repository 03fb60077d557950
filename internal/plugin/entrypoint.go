// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prismhost Contributors

package plugin

import (
	"context"
	"fmt"
)

// HostContext is the opaque handle passed to entry points on activation.
// The Loader never inspects it.
type HostContext any

// EntryPoint is a bundle's principal object.
type EntryPoint interface {
	// Load initializes the bundle. Anything other than (true, nil) is a
	// failed activation. The context is never cancelled by the Loader.
	Load(ctx context.Context, host HostContext) (bool, error)
}

// EntryPointFunc adapts a function to EntryPoint.
type EntryPointFunc func(ctx context.Context, host HostContext) (bool, error)

// Load calls f.
func (f EntryPointFunc) Load(ctx context.Context, host HostContext) (bool, error) {
	return f(ctx, host)
}

// invoke runs ep once and converts every non-success outcome into an error.
func invoke(ctx context.Context, ep EntryPoint, host HostContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrEntryPointPanic, r)
		}
	}()

	ok, loadErr := ep.Load(ctx, host)
	switch {
	case loadErr != nil:
		return loadErr
	case !ok:
		return ErrEntryPointRejected
	}
	return nil
}
