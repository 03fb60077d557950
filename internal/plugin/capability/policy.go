// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prismhost Contributors

// Package capability decides which capability tags a host accepts from
// bundles.
//
// Patterns use gobwas/glob syntax against the flat tag names:
//   - "colorEffect" matches only that tag
//   - "color*" matches "colorEffect" and "colorAdjustment"
//   - "{blur,sharpen}" matches either tag
//   - "*" matches any tag
package capability

import (
	"slices"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// compiledPattern holds a pattern and its compiled glob.
type compiledPattern struct {
	pattern string
	glob    glob.Glob
}

// Policy is an allow-list of capability patterns.
//
// A Policy is immutable after construction and safe for concurrent use.
// A nil Policy, or one built from no patterns, permits every tag.
type Policy struct {
	patterns []compiledPattern
}

// NewPolicy compiles the given patterns. Returns an error if any pattern is
// empty or has invalid glob syntax; in that case no Policy is returned.
//
// The patterns slice is copied.
func NewPolicy(patterns []string) (*Policy, error) {
	compiled := make([]compiledPattern, len(patterns))
	for i, pattern := range patterns {
		if pattern == "" {
			return nil, oops.In("capability").With("index", i).New("empty capability pattern")
		}
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, oops.In("capability").With("index", i).With("pattern", pattern).
				Wrapf(err, "invalid capability pattern %q", pattern)
		}
		compiled[i] = compiledPattern{pattern: pattern, glob: g}
	}
	return &Policy{patterns: compiled}, nil
}

// Permits reports whether tag is allowed. Empty tags are never allowed.
func (p *Policy) Permits(tag string) bool {
	if tag == "" {
		return false
	}
	if p == nil || len(p.patterns) == 0 {
		return true
	}
	for _, cp := range p.patterns {
		if cp.glob.Match(tag) {
			return true
		}
	}
	return false
}

// Denied returns the tags that the policy does not permit, in input order.
func (p *Policy) Denied(tags []string) []string {
	var denied []string
	for _, tag := range tags {
		if !p.Permits(tag) {
			denied = append(denied, tag)
		}
	}
	return denied
}

// Patterns returns a copy of the configured patterns.
func (p *Policy) Patterns() []string {
	if p == nil {
		return nil
	}
	out := make([]string, len(p.patterns))
	for i, cp := range p.patterns {
		out[i] = cp.pattern
	}
	return slices.Clip(out)
}
