// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prismhost Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireOops fails the test unless err carries an oops error.
func requireOops(t testing.TB, err error) oops.OopsError {
	t.Helper()
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "want an oops error, got %T: %v", err, err)
	return oopsErr
}

// AssertErrorCode checks the oops code of err.
func AssertErrorCode(t testing.TB, err error, code string) {
	t.Helper()
	assert.Equal(t, code, requireOops(t, err).Code())
}

// AssertErrorDomain checks the oops domain (the In(...) value) of err.
func AssertErrorDomain(t testing.TB, err error, domain string) {
	t.Helper()
	assert.Equal(t, domain, requireOops(t, err).Domain())
}

// AssertErrorContext checks that err carries key=value in its oops context.
func AssertErrorContext(t testing.TB, err error, key string, value any) {
	t.Helper()
	attrs := requireOops(t, err).Context()
	if assert.Contains(t, attrs, key) {
		assert.Equal(t, value, attrs[key])
	}
}

// AssertCodedError checks both the sentinel (errors.Is) and the oops code.
// Every error the loader returns is expected to satisfy it.
func AssertCodedError(t testing.TB, err error, code string, target error) {
	t.Helper()
	require.ErrorIs(t, err, target)
	AssertErrorCode(t, err, code)
}
