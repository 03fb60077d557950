// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prismhost Contributors

package plugin_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/prismhost/prismhost/internal/plugin"
	"github.com/prismhost/prismhost/internal/plugin/capability"
	"github.com/prismhost/prismhost/internal/plugin/mocks"
	"github.com/prismhost/prismhost/pkg/errutil"
)

// countingEntryPoint reports a fixed result and counts invocations.
type countingEntryPoint struct {
	calls atomic.Int32
	ok    bool
	err   error
}

func (c *countingEntryPoint) Load(context.Context, plugin.HostContext) (bool, error) {
	c.calls.Add(1)
	return c.ok, c.err
}

// blockingEntryPoint holds Load until release is closed.
type blockingEntryPoint struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	ok      bool
}

func newBlocking(ok bool) *blockingEntryPoint {
	return &blockingEntryPoint{
		started: make(chan struct{}),
		release: make(chan struct{}),
		ok:      ok,
	}
}

func (b *blockingEntryPoint) Load(context.Context, plugin.HostContext) (bool, error) {
	if b.calls.Add(1) == 1 {
		close(b.started)
	}
	<-b.release
	return b.ok, nil
}

func sepia(ep plugin.EntryPoint) plugin.Descriptor {
	return plugin.Descriptor{
		Identity:     "com.example.sepia",
		Capabilities: []plugin.Capability{plugin.CapColorEffect},
		EntryPoint:   ep,
		Version:      "1.0.0",
	}
}

func register(t *testing.T, l *plugin.Loader, d plugin.Descriptor) plugin.Identity {
	t.Helper()
	id, err := l.Register(context.Background(), d)
	require.NoError(t, err)
	return id
}

func TestLoader_SepiaLoads(t *testing.T) {
	ctx := context.Background()
	l := plugin.NewLoader()
	ep := &countingEntryPoint{ok: true}

	id := register(t, l, sepia(ep))
	assert.Equal(t, plugin.Identity("com.example.sepia"), id)
	assert.Equal(t, plugin.StateRegistered, l.Status(id))

	require.NoError(t, l.Activate(ctx, id, nil))
	assert.Equal(t, plugin.StateLoaded, l.Status(id))
	assert.Equal(t, int32(1), ep.calls.Load())

	// A loaded bundle reports success again without a second invocation.
	require.NoError(t, l.Activate(ctx, id, nil))
	require.NoError(t, l.TryActivate(ctx, id, nil))
	assert.Equal(t, int32(1), ep.calls.Load())
}

func TestLoader_SepiaFails(t *testing.T) {
	ctx := context.Background()
	l := plugin.NewLoader()
	ep := &countingEntryPoint{ok: false}
	id := register(t, l, sepia(ep))

	err := l.Activate(ctx, id, nil)
	errutil.AssertCodedError(t, err, plugin.CodeActivationFailed, plugin.ErrActivationFailed)
	assert.ErrorIs(t, err, plugin.ErrEntryPointRejected)
	assert.Equal(t, plugin.StateFailed, l.Status(id))

	var afe *plugin.ActivationFailedError
	require.ErrorAs(t, err, &afe)
	assert.Equal(t, id, afe.Identity)

	// Failed is terminal: the same failure comes back and the entry point
	// is never invoked again.
	again := l.Activate(ctx, id, nil)
	assert.ErrorIs(t, again, plugin.ErrActivationFailed)
	assert.Equal(t, err, again)
	assert.Equal(t, int32(1), ep.calls.Load())
	assert.Equal(t, plugin.StateFailed, l.Status(id))
}

func TestLoader_ActivationFailureCauses(t *testing.T) {
	boom := errors.New("no metal device")

	tests := []struct {
		name      string
		ep        plugin.EntryPoint
		wantCause error
		wantMsg   string
	}{
		{
			name: "returns error",
			ep: plugin.EntryPointFunc(func(context.Context, plugin.HostContext) (bool, error) {
				return false, boom
			}),
			wantCause: boom,
		},
		{
			name: "returns true with error",
			ep: plugin.EntryPointFunc(func(context.Context, plugin.HostContext) (bool, error) {
				return true, boom
			}),
			wantCause: boom,
		},
		{
			name: "panics",
			ep: plugin.EntryPointFunc(func(context.Context, plugin.HostContext) (bool, error) {
				panic("kernel compile failed")
			}),
			wantCause: plugin.ErrEntryPointPanic,
			wantMsg:   "kernel compile failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := plugin.NewLoader()
			id := register(t, l, sepia(tt.ep))

			err := l.Activate(context.Background(), id, nil)
			require.ErrorIs(t, err, plugin.ErrActivationFailed)
			assert.ErrorIs(t, err, tt.wantCause)
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
			assert.Equal(t, plugin.StateFailed, l.Status(id))
		})
	}
}

func TestLoader_PassesHostContextThrough(t *testing.T) {
	type host struct{ renderer string }
	h := &host{renderer: "metal"}

	ep := mocks.NewMockEntryPoint(t)
	ep.EXPECT().Load(mock.Anything, h).Return(true, nil).Once()

	l := plugin.NewLoader()
	id := register(t, l, sepia(ep))
	require.NoError(t, l.Activate(context.Background(), id, h))
}

func TestLoader_EntryPointContextIsNotCancelled(t *testing.T) {
	var seen error
	ep := plugin.EntryPointFunc(func(ctx context.Context, _ plugin.HostContext) (bool, error) {
		seen = ctx.Err()
		return true, nil
	})

	l := plugin.NewLoader()
	id := register(t, l, sepia(ep))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, l.Activate(ctx, id, nil))
	assert.NoError(t, seen)
	assert.Equal(t, plugin.StateLoaded, l.Status(id))
}

func TestLoader_RegisterDuplicate(t *testing.T) {
	l := plugin.NewLoader()
	first := &countingEntryPoint{ok: true}
	id := register(t, l, sepia(first))

	dup := sepia(&countingEntryPoint{ok: false})
	dup.Version = "2.0.0"
	_, err := l.Register(context.Background(), dup)
	errutil.AssertCodedError(t, err, plugin.CodeDuplicateIdentity, plugin.ErrDuplicateIdentity)

	r, ok := l.Record(id)
	require.True(t, ok)
	assert.Equal(t, "1.0.0", r.Version(), "the original record is untouched")
	assert.Equal(t, plugin.StateRegistered, l.Status(id))

	require.NoError(t, l.Activate(context.Background(), id, nil))
	assert.Equal(t, int32(1), first.calls.Load())
}

func TestLoader_RegisterDuplicateAfterSettled(t *testing.T) {
	l := plugin.NewLoader()
	id := register(t, l, sepia(&countingEntryPoint{ok: false}))
	require.Error(t, l.Activate(context.Background(), id, nil))

	_, err := l.Register(context.Background(), sepia(&countingEntryPoint{ok: true}))
	require.ErrorIs(t, err, plugin.ErrDuplicateIdentity)
	assert.Equal(t, plugin.StateFailed, l.Status(id))
}

func TestLoader_RegisterMalformed(t *testing.T) {
	l := plugin.NewLoader()

	d := sepia(noop)
	d.Identity = ""
	id, err := l.Register(context.Background(), d)
	assert.Empty(t, id)
	errutil.AssertCodedError(t, err, plugin.CodeMalformedDescriptor, plugin.ErrMalformedDescriptor)
	assert.Empty(t, l.Identities(), "no state is created on failure")
}

func TestLoader_RegisterCapabilityDenied(t *testing.T) {
	policy, err := capability.NewPolicy([]string{"color*"})
	require.NoError(t, err)
	l := plugin.NewLoader(plugin.WithPolicy(policy))

	allowed := sepia(noop)
	allowed.Capabilities = []plugin.Capability{plugin.CapColorEffect, plugin.CapColorAdjustment}
	register(t, l, allowed)

	denied := plugin.Descriptor{
		Identity:     "com.example.swirl",
		Capabilities: []plugin.Capability{plugin.CapColorEffect, plugin.CapDistortionEffect},
		EntryPoint:   noop,
	}
	_, err = l.Register(context.Background(), denied)
	errutil.AssertCodedError(t, err, plugin.CodeCapabilityDenied, plugin.ErrCapabilityDenied)
	errutil.AssertErrorContext(t, err, "capabilities", []string{"distortionEffect"})
	assert.Equal(t, plugin.StateUnregistered, l.Status("com.example.swirl"))
}

func TestLoader_UnknownIdentity(t *testing.T) {
	l := plugin.NewLoader()

	assert.Equal(t, plugin.StateUnregistered, l.Status("com.example.missing"))

	err := l.Activate(context.Background(), "com.example.missing", nil)
	errutil.AssertCodedError(t, err, plugin.CodeUnknownIdentity, plugin.ErrUnknownIdentity)

	err = l.TryActivate(context.Background(), "com.example.missing", nil)
	assert.ErrorIs(t, err, plugin.ErrUnknownIdentity)

	_, ok := l.Record("com.example.missing")
	assert.False(t, ok)
}

func TestLoader_StatusDoesNotBlockDuringLoad(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := plugin.NewLoader()
	ep := newBlocking(true)
	id := register(t, l, sepia(ep))

	done := make(chan error, 1)
	go func() { done <- l.Activate(context.Background(), id, nil) }()
	<-ep.started

	assert.Equal(t, plugin.StateLoading, l.Status(id))
	assert.False(t, l.Ready())
	infos := l.Snapshot()
	require.Len(t, infos, 1)
	assert.Equal(t, plugin.StateLoading, infos[0].State)
	assert.NotEmpty(t, infos[0].ActivationID)

	close(ep.release)
	require.NoError(t, <-done)
	assert.Equal(t, plugin.StateLoaded, l.Status(id))
	assert.True(t, l.Ready())
}

func TestLoader_TryActivateWhileLoading(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := plugin.NewLoader()
	ep := newBlocking(true)
	id := register(t, l, sepia(ep))

	done := make(chan error, 1)
	go func() { done <- l.Activate(context.Background(), id, nil) }()
	<-ep.started

	err := l.TryActivate(context.Background(), id, nil)
	errutil.AssertCodedError(t, err, plugin.CodeAlreadyActivating, plugin.ErrAlreadyActivating)
	assert.Equal(t, plugin.StateLoading, l.Status(id), "the in-flight load is unaffected")

	close(ep.release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), ep.calls.Load())
}

func TestLoader_ConcurrentActivateInvokesOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	for _, ok := range []bool{true, false} {
		t.Run(fmt.Sprintf("ok=%v", ok), func(t *testing.T) {
			const callers = 32
			l := plugin.NewLoader()
			ep := newBlocking(ok)
			id := register(t, l, sepia(ep))

			errs := make([]error, callers)
			var wg sync.WaitGroup
			for i := range callers {
				wg.Go(func() {
					errs[i] = l.Activate(context.Background(), id, nil)
				})
			}
			<-ep.started
			close(ep.release)
			wg.Wait()

			assert.Equal(t, int32(1), ep.calls.Load(), "entry point runs exactly once")
			for _, err := range errs {
				if ok {
					assert.NoError(t, err)
				} else {
					assert.ErrorIs(t, err, plugin.ErrActivationFailed)
				}
			}
		})
	}
}

func TestLoader_ConcurrentRegisterOneWinner(t *testing.T) {
	const callers = 16
	l := plugin.NewLoader()

	var wins, dups atomic.Int32
	var wg sync.WaitGroup
	for i := range callers {
		wg.Go(func() {
			d := sepia(noop)
			d.Version = fmt.Sprintf("1.0.%d", i)
			_, err := l.Register(context.Background(), d)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, plugin.ErrDuplicateIdentity):
				dups.Add(1)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(callers-1), dups.Load())
	assert.Len(t, l.Identities(), 1)
}

func TestLoader_DistinctIdentitiesLoadIndependently(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := plugin.NewLoader()
	slow := newBlocking(true)
	id := register(t, l, sepia(slow))
	other := register(t, l, plugin.Descriptor{
		Identity:     "com.example.blur",
		Capabilities: []plugin.Capability{plugin.CapBlur},
		EntryPoint:   noop,
	})

	done := make(chan error, 1)
	go func() { done <- l.Activate(context.Background(), id, nil) }()
	<-slow.started

	require.NoError(t, l.Activate(context.Background(), other, nil))
	assert.Equal(t, plugin.StateLoaded, l.Status(other))
	assert.Equal(t, plugin.StateLoading, l.Status(id))

	close(slow.release)
	require.NoError(t, <-done)
}

func TestLoader_WaiterContextBoundsOnlyTheWait(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := plugin.NewLoader()
	ep := newBlocking(true)
	id := register(t, l, sepia(ep))

	done := make(chan error, 1)
	go func() { done <- l.Activate(context.Background(), id, nil) }()
	<-ep.started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Activate(ctx, id, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, plugin.ErrActivationFailed)

	close(ep.release)
	require.NoError(t, <-done)
	assert.Equal(t, plugin.StateLoaded, l.Status(id))
}

func TestLoader_QueryViews(t *testing.T) {
	l := plugin.NewLoader()
	assert.True(t, l.Ready(), "an empty loader is ready")

	register(t, l, plugin.Descriptor{
		Identity:     "com.example.sepia",
		Capabilities: []plugin.Capability{plugin.CapColorEffect},
		EntryPoint:   noop,
		Version:      "1.0.0",
		Source:       "/bundles/sepia",
	})
	register(t, l, plugin.Descriptor{
		Identity:     "com.example.blur",
		Capabilities: []plugin.Capability{plugin.CapBlur},
		EntryPoint:   &countingEntryPoint{ok: false},
	})

	assert.Equal(t, []plugin.Identity{"com.example.blur", "com.example.sepia"}, l.Identities())
	assert.False(t, l.Ready())

	require.NoError(t, l.Activate(context.Background(), "com.example.sepia", nil))
	require.Error(t, l.Activate(context.Background(), "com.example.blur", nil))
	assert.True(t, l.Ready())

	infos := l.Snapshot()
	require.Len(t, infos, 2)

	blur, sep := infos[0], infos[1]
	assert.Equal(t, plugin.Identity("com.example.blur"), blur.Identity)
	assert.Equal(t, plugin.StateFailed, blur.State)
	assert.ErrorIs(t, blur.Err, plugin.ErrActivationFailed)

	assert.Equal(t, plugin.Identity("com.example.sepia"), sep.Identity)
	assert.Equal(t, plugin.StateLoaded, sep.State)
	assert.Equal(t, "1.0.0", sep.Version)
	assert.Equal(t, "/bundles/sepia", sep.Source)
	assert.Equal(t, []plugin.Capability{plugin.CapColorEffect}, sep.Capabilities)
	assert.Len(t, sep.ActivationID, 26, "activation IDs are ULIDs")
	assert.NoError(t, sep.Err)
}

func TestLoader_Close(t *testing.T) {
	l := plugin.NewLoader()
	id := register(t, l, sepia(noop))
	require.NoError(t, l.Activate(context.Background(), id, nil))

	require.NoError(t, l.Close(context.Background()))

	assert.Equal(t, plugin.StateUnregistered, l.Status(id), "records are dropped")
	assert.Empty(t, l.Identities())

	_, err := l.Register(context.Background(), sepia(noop))
	errutil.AssertCodedError(t, err, plugin.CodeLoaderClosed, plugin.ErrLoaderClosed)

	err = l.Activate(context.Background(), id, nil)
	errutil.AssertCodedError(t, err, plugin.CodeLoaderClosed, plugin.ErrLoaderClosed)

	require.NoError(t, l.Close(context.Background()), "Close is idempotent")
}

func TestLoader_CloseWaitsForInflight(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := plugin.NewLoader()
	ep := newBlocking(true)
	id := register(t, l, sepia(ep))

	done := make(chan error, 1)
	go func() { done <- l.Activate(context.Background(), id, nil) }()
	<-ep.started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Close(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, plugin.StateLoading, l.Status(id), "records survive an interrupted Close")

	close(ep.release)
	require.NoError(t, <-done, "the in-flight load completes")

	require.NoError(t, l.Close(context.Background()))
	assert.Equal(t, plugin.StateUnregistered, l.Status(id))
}

func TestLoader_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := plugin.NewMetrics(reg)
	l := plugin.NewLoader(plugin.WithMetrics(m))

	ok := register(t, l, sepia(noop))
	bad := register(t, l, plugin.Descriptor{
		Identity:     "com.example.blur",
		Capabilities: []plugin.Capability{plugin.CapBlur},
		EntryPoint:   &countingEntryPoint{ok: false},
	})
	_, _ = l.Register(context.Background(), sepia(noop))
	_, _ = l.Register(context.Background(), plugin.Descriptor{})

	assert.InDelta(t, 2, testutil.ToFloat64(m.RegistrationsTotal.WithLabelValues("registered")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RegistrationsTotal.WithLabelValues("duplicate")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RegistrationsTotal.WithLabelValues("malformed")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.Bundles.WithLabelValues("registered")), 0)

	require.NoError(t, l.Activate(context.Background(), ok, nil))
	require.Error(t, l.Activate(context.Background(), bad, nil))
	require.Error(t, l.Activate(context.Background(), bad, nil))

	assert.InDelta(t, 1, testutil.ToFloat64(m.ActivationsTotal.WithLabelValues("loaded")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ActivationsTotal.WithLabelValues("failed")), 0,
		"settled bundles are not invoked again")
	assert.InDelta(t, 0, testutil.ToFloat64(m.Bundles.WithLabelValues("registered")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Bundles.WithLabelValues("loaded")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Bundles.WithLabelValues("failed")), 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "prismhost_activation_duration_seconds" {
			assert.Equal(t, uint64(2), f.GetMetric()[0].GetHistogram().GetSampleCount())
		}
	}
}
