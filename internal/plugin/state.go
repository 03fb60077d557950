// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prismhost Contributors

package plugin

// State is the activation state of a bundle identity.
//
// States only move forward:
//
//	Unregistered -> Registered -> Loading -> Loaded | Failed
type State int32

// Activation states.
const (
	StateUnregistered State = iota
	StateRegistered
	StateLoading
	StateLoaded
	StateFailed
)

var stateNames = [...]string{
	StateUnregistered: "unregistered",
	StateRegistered:   "registered",
	StateLoading:      "loading",
	StateLoaded:       "loaded",
	StateFailed:       "failed",
}

// String returns the lowercase state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Settled reports whether the state is terminal (Loaded or Failed).
func (s State) Settled() bool {
	return s == StateLoaded || s == StateFailed
}
