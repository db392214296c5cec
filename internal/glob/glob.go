// Package glob compiles the wildcard patterns used by skeleton membership
// lists, compression presets, the database table, and per-bone compression
// rules into reusable matchers.
//
// Path patterns follow path.Match semantics per segment ("*" and "?" never
// cross "/") with "**" matching zero or more whole segments. They are
// case-insensitive because logical animation paths are unified to lower case.
//
// Bone patterns are case-sensitive. A bone pattern with no metacharacter is a
// "contains" pattern: "Hand" behaves like "*Hand*".
package glob

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrBadPattern is returned when a pattern cannot be compiled.
var ErrBadPattern = errors.New("malformed glob pattern")

type kind uint8

const (
	kindExact kind = iota
	kindContains
	kindSegments
	kindGlob
)

// Matcher is a compiled pattern. The zero value matches nothing.
type Matcher struct {
	raw      string
	pattern  string
	segments []string
	kind     kind
	fold     bool
	set      bool
}

// HasMeta reports whether p contains a glob metacharacter.
func HasMeta(p string) bool {
	return strings.ContainsAny(p, "*?[")
}

// Path compiles a slash-separated path pattern.
func Path(pattern string) (Matcher, error) {
	p := strings.ToLower(strings.ReplaceAll(pattern, "\\", "/"))
	if p == "" {
		return Matcher{}, fmt.Errorf("glob: empty path pattern: %w", ErrBadPattern)
	}
	m := Matcher{raw: pattern, pattern: p, fold: true, set: true}
	switch {
	case !HasMeta(p):
		m.kind = kindExact
	case strings.Contains(p, "**"):
		m.kind = kindSegments
		m.segments = strings.Split(p, "/")
		for _, seg := range m.segments {
			if seg == "**" {
				continue
			}
			if strings.Contains(seg, "**") {
				return Matcher{}, fmt.Errorf("glob: %q: ** must be a whole segment: %w", pattern, ErrBadPattern)
			}
			if err := validate(seg); err != nil {
				return Matcher{}, fmt.Errorf("glob: %q: %w", pattern, err)
			}
		}
	default:
		m.kind = kindGlob
		if err := validate(p); err != nil {
			return Matcher{}, fmt.Errorf("glob: %q: %w", pattern, err)
		}
	}
	return m, nil
}

// Bone compiles a joint-name pattern.
func Bone(pattern string) (Matcher, error) {
	if pattern == "" {
		return Matcher{}, fmt.Errorf("glob: empty bone pattern: %w", ErrBadPattern)
	}
	m := Matcher{raw: pattern, pattern: pattern, set: true}
	if !HasMeta(pattern) {
		m.kind = kindContains
		return m, nil
	}
	m.kind = kindGlob
	if err := validate(pattern); err != nil {
		return Matcher{}, fmt.Errorf("glob: %q: %w", pattern, err)
	}
	return m, nil
}

// Match reports whether s matches the compiled pattern. Path matchers unify
// s before comparing.
func (m Matcher) Match(s string) bool {
	if !m.set {
		return false
	}
	if m.fold {
		s = strings.ToLower(strings.ReplaceAll(s, "\\", "/"))
	}
	switch m.kind {
	case kindExact:
		return s == m.pattern
	case kindContains:
		return strings.Contains(s, m.pattern)
	case kindSegments:
		return matchSegments(m.segments, strings.Split(s, "/"))
	default:
		ok, _ := path.Match(m.pattern, s)
		return ok
	}
}

// String returns the pattern as written.
func (m Matcher) String() string {
	return m.raw
}

// IsLiteral reports whether the matcher compares against a fixed string.
func (m Matcher) IsLiteral() bool {
	return m.kind == kindExact
}

func validate(p string) error {
	if _, err := path.Match(p, ""); err != nil {
		return ErrBadPattern
	}
	return nil
}

// matchSegments walks pattern and name segments, letting "**" absorb zero
// or more name segments.
func matchSegments(pat, name []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			rest := pat[1:]
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(name); i++ {
				if matchSegments(rest, name[i:]) {
					return true
				}
			}
			return false
		}
		if len(name) == 0 {
			return false
		}
		if ok, _ := path.Match(pat[0], name[0]); !ok {
			return false
		}
		pat, name = pat[1:], name[1:]
	}
	return len(name) == 0
}
