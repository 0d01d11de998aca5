// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var (
	// ErrInvalidFilter is returned when a filter is not a valid doublestar glob.
	ErrInvalidFilter = errors.New("invalid path filter")

	// ErrUnsafePath is returned when an archive member would be written outside
	// the destination directory.
	ErrUnsafePath = errors.New("archive member escapes destination")
)

// matcher selects archive members by normalized name. A nil or empty matcher
// accepts every member.
type matcher struct {
	patterns []string
}

// newMatcher normalizes and validates the given filters. A filter ending in
// "/*" also selects everything below that directory, which is how 7-Zip treats
// directory wildcards and what the installer layout relies on.
func newMatcher(filters []string) (*matcher, error) {
	m := &matcher{}
	for _, f := range filters {
		pat := strings.TrimPrefix(strings.TrimPrefix(f, "./"), "/")
		if pat == "" {
			continue
		}
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidFilter, f)
		}
		m.patterns = append(m.patterns, pat)
		if strings.HasSuffix(pat, "/*") {
			m.patterns = append(m.patterns, strings.TrimSuffix(pat, "*")+"**")
		}
	}
	return m, nil
}

// empty reports whether the matcher has no patterns and therefore selects all members.
func (m *matcher) empty() bool {
	return m == nil || len(m.patterns) == 0
}

// match reports whether name (already normalized) is selected.
func (m *matcher) match(name string) bool {
	if m.empty() {
		return true
	}
	for _, pat := range m.patterns {
		if ok, err := doublestar.Match(pat, name); err == nil && ok {
			return true
		}
	}
	return false
}

// normalizeName turns an archive member name into a clean, slash-separated
// path relative to the archive root. It returns "" for the root entry itself
// and ErrUnsafePath for names that climb out of the root.
func normalizeName(name string) (string, error) {
	n := strings.ReplaceAll(name, "\\", "/")
	for strings.HasPrefix(n, "./") {
		n = n[2:]
	}
	n = strings.TrimLeft(n, "/")
	if n == "" || n == "." {
		return "", nil
	}

	clean := path.Clean(n)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return clean, nil
}
