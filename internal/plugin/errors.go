// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prismhost Contributors

package plugin

import (
	"errors"
	"fmt"
)

// Error codes attached to oops errors returned by this package.
const (
	CodeMalformedDescriptor = "MALFORMED_DESCRIPTOR"
	CodeDuplicateIdentity   = "DUPLICATE_IDENTITY"
	CodeUnknownIdentity     = "UNKNOWN_IDENTITY"
	CodeAlreadyActivating   = "ALREADY_ACTIVATING"
	CodeActivationFailed    = "ACTIVATION_FAILED"
	CodeCapabilityDenied    = "CAPABILITY_DENIED"
	CodeLoaderClosed        = "LOADER_CLOSED"
)

// Sentinel errors for programmatic error checking.
var (
	ErrMalformedDescriptor = errors.New("malformed descriptor")
	ErrDuplicateIdentity   = errors.New("identity already registered")
	ErrUnknownIdentity     = errors.New("unknown identity")
	ErrAlreadyActivating   = errors.New("activation already in progress")
	ErrActivationFailed    = errors.New("activation failed")
	ErrCapabilityDenied    = errors.New("capability denied by host policy")
	ErrLoaderClosed        = errors.New("loader is closed")

	// ErrEntryPointRejected is the cause recorded when an entry point
	// returns false without an error.
	ErrEntryPointRejected = errors.New("entry point reported failure")
	// ErrEntryPointPanic wraps a value recovered from a panicking entry point.
	ErrEntryPointPanic = errors.New("entry point panicked")
)

// ActivationFailedError is returned by Activate when an entry point did not
// report success. It matches both ErrActivationFailed and Cause.
type ActivationFailedError struct {
	Identity Identity
	Cause    error
}

func (e *ActivationFailedError) Error() string {
	return fmt.Sprintf("activation of %q failed: %v", e.Identity, e.Cause)
}

// Unwrap exposes the sentinel and the underlying cause.
func (e *ActivationFailedError) Unwrap() []error {
	return []error{ErrActivationFailed, e.Cause}
}
