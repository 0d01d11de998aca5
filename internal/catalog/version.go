// SPDX-License-Identifier: MPL-2.0

package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// BuildTypeStable marks final (stable) editor builds, e.g. the "f" in 2021.3.5f1.
const BuildTypeStable byte = 'f'

// ErrInvalidVersion is returned when a version string or build identifier
// cannot be parsed.
var ErrInvalidVersion = errors.New("invalid version")

// versionPattern accepts only "{major}.{minor}.{patch}{buildType}{buildNumber}".
// China builds (2021.3.5f1c1) and anything with a suffix are rejected.
var versionPattern = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)([a-z])(\d+)$`)

type (
	// Version is one editor build from the release catalog.
	Version struct {
		Major       int
		Minor       int
		Patch       int
		BuildType   byte
		BuildNumber int
		// ID is the catalog build identifier used in download URLs.
		ID string
	}

	// Key identifies the release line of a version. Deduplication keeps one
	// Version per Key.
	Key struct {
		Major     int
		Minor     int
		Patch     int
		BuildType byte
	}
)

// ParseVersion parses a version string together with its build identifier.
func ParseVersion(s, id string) (Version, error) {
	if id == "" {
		return Version{}, fmt.Errorf("%w: empty build id for %q", ErrInvalidVersion, s)
	}

	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}

	var nums [4]int
	for i, idx := range []int{1, 2, 3, 5} {
		n, err := strconv.Atoi(m[idx])
		if err != nil {
			return Version{}, fmt.Errorf("%w: %q: %v", ErrInvalidVersion, s, err)
		}
		nums[i] = n
	}

	return Version{
		Major:       nums[0],
		Minor:       nums[1],
		Patch:       nums[2],
		BuildType:   m[4][0],
		BuildNumber: nums[3],
		ID:          id,
	}, nil
}

// ShortName returns the canonical version string, which is also the release tag.
func (v Version) ShortName() string {
	return fmt.Sprintf("%d.%d.%d%c%d", v.Major, v.Minor, v.Patch, v.BuildType, v.BuildNumber)
}

// String returns ShortName.
func (v Version) String() string {
	return v.ShortName()
}

// Key returns the deduplication key of v.
func (v Version) Key() Key {
	return Key{Major: v.Major, Minor: v.Minor, Patch: v.Patch, BuildType: v.BuildType}
}

// IsStable reports whether v is a final build.
func (v Version) IsStable() bool {
	return v.BuildType == BuildTypeStable
}
