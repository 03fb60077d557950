// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prismhost Contributors

package plugin

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/prismhost/prismhost/internal/plugin/capability"
)

const tracerName = "github.com/prismhost/prismhost/internal/plugin"

// Loader registers bundles and activates each bundle's entry point at most
// once.
//
// Concurrent Activate calls for an identity that is already loading wait
// for the in-flight load and return its outcome. TryActivate fails fast
// with ErrAlreadyActivating instead. Distinct identities never share a lock
// while loading.
type Loader struct {
	entries sync.Map // Identity -> *entry
	policy  *capability.Policy
	metrics *Metrics
	logger  *slog.Logger
	tracer  trace.Tracer

	// mu guards closed and orders inflight.Add before Close's Wait.
	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

// entry is the per-identity activation state.
type entry struct {
	record *Record
	state  atomic.Int32

	// mu serializes state transitions for this identity only.
	mu           sync.Mutex
	done         chan struct{} // closed when Loading ends
	err          error         // set when Failed
	activationID ulid.ULID
	elapsed      time.Duration
}

func (e *entry) loadState() State { return State(e.state.Load()) }

// LoaderOption configures the Loader.
type LoaderOption func(*Loader)

// WithPolicy restricts the capability tags bundles may claim.
func WithPolicy(p *capability.Policy) LoaderOption {
	return func(l *Loader) {
		l.policy = p
	}
}

// WithMetrics records registration and activation metrics.
func WithMetrics(m *Metrics) LoaderOption {
	return func(l *Loader) {
		l.metrics = m
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithTracer sets the tracer. Defaults to the global provider's tracer.
func WithTracer(t trace.Tracer) LoaderOption {
	return func(l *Loader) {
		l.tracer = t
	}
}

// NewLoader creates an empty Loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.tracer == nil {
		l.tracer = otel.Tracer(tracerName)
	}
	return l
}

// Register validates d and records it in the Registered state.
//
// Exactly one of several concurrent registrations of the same identity
// succeeds; the others get ErrDuplicateIdentity and leave the winner's
// record untouched. On any error no state is created.
func (l *Loader) Register(ctx context.Context, d Descriptor) (Identity, error) {
	ctx, span := l.tracer.Start(ctx, "plugin.Register",
		trace.WithAttributes(attribute.String("plugin.identity", string(d.Identity))))
	defer span.End()

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return "", l.closedError(d.Identity, "register")
	}

	record, err := NewRecord(d)
	if err != nil {
		l.metrics.registration("malformed")
		span.SetStatus(codes.Error, "malformed descriptor")
		return "", err
	}

	if denied := l.deniedCapabilities(record); len(denied) > 0 {
		l.metrics.registration("denied")
		span.SetStatus(codes.Error, "capability denied")
		return "", oops.Code(CodeCapabilityDenied).In("plugin").
			With("identity", record.Identity()).
			With("capabilities", denied).
			Wrapf(ErrCapabilityDenied, "capabilities %s", strings.Join(denied, ", "))
	}

	e := &entry{record: record}
	e.state.Store(int32(StateRegistered))
	if _, loaded := l.entries.LoadOrStore(record.Identity(), e); loaded {
		l.metrics.registration("duplicate")
		span.SetStatus(codes.Error, "duplicate identity")
		return "", oops.Code(CodeDuplicateIdentity).In("plugin").
			With("identity", record.Identity()).
			Wrap(ErrDuplicateIdentity)
	}

	l.metrics.registration("registered")
	l.metrics.transition(StateUnregistered, StateRegistered)
	l.logger.DebugContext(ctx, "registered plugin",
		"plugin", record.Identity(),
		"version", record.Version(),
		"capabilities", record.Capabilities())

	return record.Identity(), nil
}

func (l *Loader) deniedCapabilities(r *Record) []string {
	tags := make([]string, 0, len(r.capabilities))
	for _, c := range r.capabilities {
		tags = append(tags, string(c))
	}
	return l.policy.Denied(tags)
}

// Activate invokes the entry point of a Registered bundle and records the
// outcome. It returns nil once the bundle is Loaded and an
// *ActivationFailedError (wrapped) once it is Failed; repeated calls return
// the recorded outcome without invoking the entry point again.
//
// If the bundle is already Loading, Activate waits for that load to finish.
// ctx bounds only the wait: a load that has started always runs to
// completion.
func (l *Loader) Activate(ctx context.Context, id Identity, host HostContext) error {
	return l.activate(ctx, id, host, false)
}

// TryActivate is Activate without waiting: it returns ErrAlreadyActivating
// if another caller is currently loading the bundle.
func (l *Loader) TryActivate(ctx context.Context, id Identity, host HostContext) error {
	return l.activate(ctx, id, host, true)
}

func (l *Loader) activate(ctx context.Context, id Identity, host HostContext, failFast bool) error {
	e, err := l.acquire(id)
	if err != nil {
		return err
	}
	defer l.inflight.Done()

	e.mu.Lock()
	switch e.loadState() {
	case StateLoaded:
		e.mu.Unlock()
		return nil
	case StateFailed:
		err := e.err
		e.mu.Unlock()
		return err
	case StateLoading:
		done := e.done
		e.mu.Unlock()
		if failFast {
			l.metrics.activation("already_activating")
			return oops.Code(CodeAlreadyActivating).In("plugin").
				With("identity", id).
				Wrap(ErrAlreadyActivating)
		}
		select {
		case <-done:
			return e.outcome()
		case <-ctx.Done():
			return oops.In("plugin").With("identity", id).Hint("activation still in progress").Wrap(ctx.Err())
		}
	}

	e.done = make(chan struct{})
	e.activationID = ulid.Make()
	e.state.Store(int32(StateLoading))
	e.mu.Unlock()
	l.metrics.transition(StateRegistered, StateLoading)

	return l.load(ctx, e, host)
}

// acquire looks up id and counts the caller as in flight.
func (l *Loader) acquire(id Identity) (*entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, l.closedError(id, "activate")
	}
	v, ok := l.entries.Load(id)
	if !ok {
		return nil, oops.Code(CodeUnknownIdentity).In("plugin").
			With("identity", id).
			Wrap(ErrUnknownIdentity)
	}
	l.inflight.Add(1)
	return v.(*entry), nil
}

// load runs the entry point once. The caller has moved e to Loading.
func (l *Loader) load(ctx context.Context, e *entry, host HostContext) error {
	id := e.record.Identity()
	ctx, span := l.tracer.Start(ctx, "plugin.Activate",
		trace.WithAttributes(
			attribute.String("plugin.identity", string(id)),
			attribute.String("plugin.activation_id", e.activationID.String()),
		))
	defer span.End()

	logger := l.logger.With("plugin", id, "activation_id", e.activationID.String())
	logger.DebugContext(ctx, "activating plugin")

	start := time.Now()
	cause := invoke(context.WithoutCancel(ctx), e.record.EntryPoint(), host)
	elapsed := time.Since(start)
	l.metrics.loadDuration(elapsed)

	next := StateLoaded
	var result error
	if cause != nil {
		next = StateFailed
		result = oops.Code(CodeActivationFailed).In("plugin").
			With("identity", id).
			With("activation_id", e.activationID.String()).
			Wrap(&ActivationFailedError{Identity: id, Cause: cause})
	}

	e.mu.Lock()
	e.err = result
	e.elapsed = elapsed
	e.state.Store(int32(next))
	close(e.done)
	e.mu.Unlock()
	l.metrics.transition(StateLoading, next)

	if result != nil {
		l.metrics.activation("failed")
		span.RecordError(cause)
		span.SetStatus(codes.Error, "activation failed")
		logger.WarnContext(ctx, "plugin activation failed",
			"duration", elapsed,
			"error", cause)
		return result
	}

	l.metrics.activation("loaded")
	logger.InfoContext(ctx, "plugin activated", "duration", elapsed)
	return nil
}

// outcome returns the recorded result of a settled entry.
func (e *entry) outcome() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Status returns the activation state of id. Unknown identities are
// Unregistered. Status never waits on an in-flight load.
func (l *Loader) Status(id Identity) State {
	v, ok := l.entries.Load(id)
	if !ok {
		return StateUnregistered
	}
	return v.(*entry).loadState()
}

// Record returns the registration record for id.
func (l *Loader) Record(id Identity) (*Record, bool) {
	v, ok := l.entries.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*entry).record, true
}

// Identities returns all registered identities, sorted.
func (l *Loader) Identities() []Identity {
	var ids []Identity
	l.entries.Range(func(k, _ any) bool {
		ids = append(ids, k.(Identity))
		return true
	})
	slices.Sort(ids)
	return ids
}

// Info is a point-in-time view of one registered bundle.
type Info struct {
	Identity     Identity
	Version      string
	Source       string
	Capabilities []Capability
	State        State
	ActivationID string
	Duration     time.Duration
	Err          error
}

// Snapshot returns an Info for every registered bundle, sorted by identity.
func (l *Loader) Snapshot() []Info {
	var infos []Info
	l.entries.Range(func(_, v any) bool {
		infos = append(infos, v.(*entry).info())
		return true
	})
	slices.SortFunc(infos, func(a, b Info) int {
		return strings.Compare(string(a.Identity), string(b.Identity))
	})
	return infos
}

func (e *entry) info() Info {
	e.mu.Lock()
	defer e.mu.Unlock()

	info := Info{
		Identity:     e.record.Identity(),
		Version:      e.record.Version(),
		Source:       e.record.Source(),
		Capabilities: e.record.Capabilities(),
		State:        e.loadState(),
		Duration:     e.elapsed,
		Err:          e.err,
	}
	if e.activationID != (ulid.ULID{}) {
		info.ActivationID = e.activationID.String()
	}
	return info
}

// Ready reports whether no registered bundle is Registered or Loading.
func (l *Loader) Ready() bool {
	ready := true
	l.entries.Range(func(_, v any) bool {
		if !v.(*entry).loadState().Settled() {
			ready = false
			return false
		}
		return true
	})
	return ready
}

// Close tears the Loader down. New calls fail with ErrLoaderClosed. Close
// waits for in-flight activations (bounded by ctx) and then drops every
// record. If ctx ends first the records are kept and Close may be called
// again.
func (l *Loader) Close(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		l.inflight.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		return oops.In("plugin").With("operation", "close").Hint("activations still in flight").Wrap(ctx.Err())
	}

	l.entries.Clear()
	l.metrics.reset()
	return nil
}

func (l *Loader) closedError(id Identity, op string) error {
	return oops.Code(CodeLoaderClosed).In("plugin").
		With("identity", id).
		With("operation", op).
		Wrap(ErrLoaderClosed)
}
