// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prismhost Contributors

package main

import (
	"context"
	"io"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/prismhost/prismhost/internal/observability"
	"github.com/prismhost/prismhost/internal/plugin"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values use their default implementations.
type ServeDeps struct {
	// ObservabilityServerFactory creates the metrics and health server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, opts ...observability.ServerOption) ObservabilityServer

	// LogOutput receives log records.
	// Default: os.Stderr
	LogOutput io.Writer

	// OnReady is called once every discovered bundle has settled.
	// Default: no-op
	OnReady func(loader *plugin.Loader, report *plugin.ActivationReport)
}

// ObservabilityServer is the subset of observability.Server used by serve.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Registerer() prometheus.Registerer
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, opts ...observability.ServerOption) ObservabilityServer {
			return observability.NewServer(addr, ready, opts...)
		}
	}
	if out.OnReady == nil {
		out.OnReady = func(*plugin.Loader, *plugin.ActivationReport) {}
	}
	return &out
}
