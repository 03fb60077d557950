// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prismhost Contributors

// Package observability serves the host's metrics, health probes and bundle
// status over HTTP.
package observability

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"

	"github.com/prismhost/prismhost/internal/plugin"
)

// ReadinessChecker reports whether the host has finished activating bundles.
type ReadinessChecker func() bool

// BundleSource lists registered bundles for the /bundles endpoint.
type BundleSource interface {
	Snapshot() []plugin.Info
}

// Server provides HTTP endpoints for observability.
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	isReady    ReadinessChecker
	bundles    BundleSource
	logger     *slog.Logger
	running    atomic.Bool
}

// ServerOption configures the Server.
type ServerOption func(*Server)

// WithBundleSource enables the /bundles endpoint.
func WithBundleSource(src BundleSource) ServerOption {
	return func(s *Server) {
		s.bundles = src
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates an observability server listening on addr
// ("127.0.0.1:9100", ":0", ...). The server owns its own Prometheus registry
// so tests and embedded hosts never touch the global one.
func NewServer(addr string, ready ReadinessChecker, opts ...ServerOption) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s := &Server{
		addr:     addr,
		registry: registry,
		isReady:  ready,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Registerer returns the registry served on /metrics.
func (s *Server) Registerer() prometheus.Registerer {
	return s.registry
}

// Start begins serving. The returned channel receives a serve error if the
// HTTP server fails and is closed when it stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.In("observability").Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.In("observability").With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)
	if s.bundles != nil {
		mux.HandleFunc("/bundles", s.handleBundles)
	}
	return mux
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.In("observability").With("operation", "shutdown").Wrap(err)
		}
	}

	s.logger.Info("observability server stopped")
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // client may disconnect
	w.Write([]byte("ok\n"))
}

func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if s.isReady == nil || s.isReady() {
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // client may disconnect
		w.Write([]byte("ok\n"))
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	//nolint:errcheck // client may disconnect
	w.Write([]byte("not ready\n"))
}

// bundleStatus is the JSON form of plugin.Info.
type bundleStatus struct {
	Identity     string   `json:"identity"`
	Version      string   `json:"version,omitempty"`
	Source       string   `json:"source,omitempty"`
	Capabilities []string `json:"capabilities"`
	State        string   `json:"state"`
	ActivationID string   `json:"activation_id,omitempty"`
	DurationMS   float64  `json:"duration_ms,omitempty"`
	Error        string   `json:"error,omitempty"`
}

func (s *Server) handleBundles(w http.ResponseWriter, _ *http.Request) {
	infos := s.bundles.Snapshot()
	out := make([]bundleStatus, 0, len(infos))
	for _, info := range infos {
		caps := make([]string, len(info.Capabilities))
		for i, c := range info.Capabilities {
			caps[i] = string(c)
		}
		st := bundleStatus{
			Identity:     string(info.Identity),
			Version:      info.Version,
			Source:       info.Source,
			Capabilities: caps,
			State:        info.State.String(),
			ActivationID: info.ActivationID,
			DurationMS:   float64(info.Duration.Microseconds()) / 1000,
		}
		if info.Err != nil {
			st.Error = info.Err.Error()
		}
		out = append(out, st)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.logger.Warn("failed to write bundle status", "error", err)
	}
}
