// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prismhost Contributors

package plugin

import (
	"slices"

	"github.com/samber/oops"
)

// Identity names a bundle. It is opaque to the Loader and unique within it.
type Identity string

// Capability is a feature tag a bundle claims to provide.
type Capability string

// Known capability tags. Registration rejects anything else.
const (
	CapColorAdjustment    Capability = "colorAdjustment"
	CapColorEffect        Capability = "colorEffect"
	CapCompositeOperation Capability = "compositeOperation"
	CapDistortionEffect   Capability = "distortionEffect"
	CapBlur               Capability = "blur"
	CapSharpen            Capability = "sharpen"
	CapStylize            Capability = "stylize"
	CapHalftoneEffect     Capability = "halftoneEffect"
	CapTileEffect         Capability = "tileEffect"
	CapGenerator          Capability = "generator"
	CapGradient           Capability = "gradient"
	CapGeometryAdjustment Capability = "geometryAdjustment"
	CapTransition         Capability = "transition"
	CapReduction          Capability = "reduction"
)

var knownCapabilities = []Capability{
	CapColorAdjustment,
	CapColorEffect,
	CapCompositeOperation,
	CapDistortionEffect,
	CapBlur,
	CapSharpen,
	CapStylize,
	CapHalftoneEffect,
	CapTileEffect,
	CapGenerator,
	CapGradient,
	CapGeometryAdjustment,
	CapTransition,
	CapReduction,
}

// KnownCapabilities returns every capability tag the host understands.
func KnownCapabilities() []Capability {
	return slices.Clone(knownCapabilities)
}

// Valid reports whether c is one of the known capability tags.
func (c Capability) Valid() bool {
	return slices.Contains(knownCapabilities, c)
}

// Descriptor is the input to registration: everything discovery learned
// about a bundle.
type Descriptor struct {
	Identity     Identity
	Capabilities []Capability
	EntryPoint   EntryPoint
	// Version and Source are informational (manifest version, bundle dir).
	Version string
	Source  string
}

// Record is the immutable registration record of one bundle.
type Record struct {
	identity     Identity
	capabilities []Capability // sorted, deduplicated
	entryPoint   EntryPoint
	version      string
	source       string
}

// NewRecord validates d and builds a Record from it.
func NewRecord(d Descriptor) (*Record, error) {
	errb := oops.Code(CodeMalformedDescriptor).In("plugin").With("identity", d.Identity)

	if d.Identity == "" {
		return nil, errb.Wrapf(ErrMalformedDescriptor, "identity is empty")
	}
	if len(d.Capabilities) == 0 {
		return nil, errb.Wrapf(ErrMalformedDescriptor, "capability set is empty")
	}
	if d.EntryPoint == nil {
		return nil, errb.Wrapf(ErrMalformedDescriptor, "entry point is nil")
	}

	caps := make([]Capability, 0, len(d.Capabilities))
	for _, c := range d.Capabilities {
		if !c.Valid() {
			return nil, errb.With("capability", c).Wrapf(ErrMalformedDescriptor, "unknown capability %q", c)
		}
		caps = append(caps, c)
	}
	slices.Sort(caps)

	return &Record{
		identity:     d.Identity,
		capabilities: slices.Compact(caps),
		entryPoint:   d.EntryPoint,
		version:      d.Version,
		source:       d.Source,
	}, nil
}

// Identity returns the bundle identity.
func (r *Record) Identity() Identity { return r.identity }

// Capabilities returns a sorted copy of the capability set.
func (r *Record) Capabilities() []Capability { return slices.Clone(r.capabilities) }

// Has reports whether the bundle claims capability c.
func (r *Record) Has(c Capability) bool {
	_, found := slices.BinarySearch(r.capabilities, c)
	return found
}

// EntryPoint returns the bundle's principal object.
func (r *Record) EntryPoint() EntryPoint { return r.entryPoint }

// Version returns the manifest version, if any.
func (r *Record) Version() string { return r.version }

// Source returns where the bundle was discovered, if known.
func (r *Record) Source() string { return r.source }
