// Package rname implements the resource name algebra: validation of
// selectors, the intersects relation (at least one concrete name satisfies
// both) and the includes relation (every concrete name satisfying one
// satisfies the other).
//
// A resource name is a '/'-separated, non-empty path. A selector may use two
// wildcards, each spanning a whole segment:
//
//	*   matches exactly one non-empty segment
//	**  matches zero or more segments
//
// Both relations are decided structurally, segment by segment, without
// constructing witness strings: they sit on the hot path of routing-table
// lookups.
package rname

import (
	"strings"

	"github.com/eurc17/zenoh/internal/zerror"
)

// Validate checks a key expression: non-empty, no empty segments, wildcards
// only as whole segments.
func Validate(s string) error {
	if s == "" {
		return zerror.New(zerror.KindInvalidSelector, "empty key expression")
	}
	rest := s
	if rest[0] == '/' {
		rest = rest[1:]
	}
	if rest == "" {
		return zerror.Newf(zerror.KindInvalidSelector, "%q has no segments", s)
	}
	for _, seg := range strings.Split(rest, "/") {
		if seg == "" {
			return zerror.Newf(zerror.KindInvalidSelector, "%q contains an empty segment", s)
		}
		if strings.ContainsRune(seg, '*') && seg != "*" && seg != "**" {
			return zerror.Newf(zerror.KindInvalidSelector,
				"%q: wildcard must span a whole segment, got %q", s, seg)
		}
	}
	return nil
}

// IsConcrete reports whether the name contains no wildcard.
func IsConcrete(s string) bool {
	return !strings.ContainsRune(s, '*')
}

// split breaks a name into segments, dropping the leading '/' and collapsing
// adjacent '**'.
func split(s string) []string {
	if len(s) > 0 && s[0] == '/' {
		s = s[1:]
	}
	raw := strings.Split(s, "/")
	segs := raw[:0:len(raw)]
	for _, seg := range raw {
		if seg == "**" && len(segs) > 0 && segs[len(segs)-1] == "**" {
			continue
		}
		segs = append(segs, seg)
	}
	return segs
}

// Intersects reports whether at least one concrete resource name satisfies
// both expressions. The relation is reflexive and symmetric.
func Intersects(a, b string) bool {
	return intersects(split(a), split(b))
}

func intersects(a, b []string) bool {
	switch {
	case len(a) == 0 && len(b) == 0:
		return true
	case len(a) > 0 && a[0] == "**":
		// '**' absorbs zero segments, or consumes one of b's.
		if intersects(a[1:], b) {
			return true
		}
		return len(b) > 0 && intersects(a, b[1:])
	case len(b) > 0 && b[0] == "**":
		return intersects(b, a)
	case len(a) == 0 || len(b) == 0:
		return false
	default:
		return segMatch(a[0], b[0]) && intersects(a[1:], b[1:])
	}
}

// segMatch decides single-segment compatibility: '*' is compatible with any
// single segment, literals must be equal.
func segMatch(a, b string) bool {
	return a == "*" || b == "*" || a == b
}

// Includes reports whether every concrete name satisfying sub also satisfies
// super. The relation is reflexive and transitive, and antisymmetric up to
// '**'-collapse canonicalisation.
func Includes(super, sub string) bool {
	return includes(split(super), split(sub))
}

func includes(super, sub []string) bool {
	switch {
	case len(super) > 0 && super[0] == "**":
		// '**' may cover zero segments or swallow sub's head, wildcard or
		// not.
		if includes(super[1:], sub) {
			return true
		}
		return len(sub) > 0 && includes(super, sub[1:])
	case len(super) == 0 || len(sub) == 0:
		return len(super) == 0 && len(sub) == 0
	case sub[0] == "**":
		// Nothing narrower than '**' on the super side can cover it.
		return false
	case super[0] == "*" || super[0] == sub[0]:
		return includes(super[1:], sub[1:])
	default:
		return false
	}
}
