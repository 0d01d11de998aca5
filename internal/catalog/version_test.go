// SPDX-License-Identifier: MPL-2.0

package catalog

import (
	"errors"
	"testing"
)

func TestParseVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		version string
		id      string
		want    Version
		wantErr bool
	}{
		{
			name:    "stable",
			version: "2021.3.5f1",
			id:      "40eb3a945986",
			want:    Version{Major: 2021, Minor: 3, Patch: 5, BuildType: 'f', BuildNumber: 1, ID: "40eb3a945986"},
		},
		{
			name:    "beta",
			version: "2023.1.0b12",
			id:      "abc",
			want:    Version{Major: 2023, Minor: 1, Patch: 0, BuildType: 'b', BuildNumber: 12, ID: "abc"},
		},
		{
			name:    "unity 6",
			version: "6000.0.23f1",
			id:      "1c4764c07fb4",
			want:    Version{Major: 6000, Minor: 0, Patch: 23, BuildType: 'f', BuildNumber: 1, ID: "1c4764c07fb4"},
		},
		{name: "china build suffix", version: "2021.3.5f1c1", id: "x", wantErr: true},
		{name: "missing build", version: "2021.3.5", id: "x", wantErr: true},
		{name: "uppercase build type", version: "2021.3.5F1", id: "x", wantErr: true},
		{name: "leading v", version: "v2021.3.5f1", id: "x", wantErr: true},
		{name: "empty", version: "", id: "x", wantErr: true},
		{name: "overflow", version: "99999999999999999999.1.1f1", id: "x", wantErr: true},
		{name: "empty id", version: "2021.3.5f1", id: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseVersion(tt.version, tt.id)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidVersion) {
					t.Fatalf("ParseVersion(%q) error = %v, want ErrInvalidVersion", tt.version, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseVersion(%q) unexpected error: %v", tt.version, err)
			}
			if got != tt.want {
				t.Errorf("ParseVersion(%q) = %+v, want %+v", tt.version, got, tt.want)
			}
		})
	}
}

func TestVersion_ShortNameRoundTrip(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"5.6.7f1", "2019.4.40f1", "2022.2.0a18", "6000.1.0b3"} {
		v, err := ParseVersion(s, "id")
		if err != nil {
			t.Fatalf("ParseVersion(%q): %v", s, err)
		}
		if v.ShortName() != s {
			t.Errorf("ShortName() = %q, want %q", v.ShortName(), s)
		}
		if v.String() != s {
			t.Errorf("String() = %q, want %q", v.String(), s)
		}
	}
}

func TestVersion_Key(t *testing.T) {
	t.Parallel()

	a := Version{Major: 2021, Minor: 3, Patch: 5, BuildType: 'f', BuildNumber: 6, ID: "a"}
	b := Version{Major: 2021, Minor: 3, Patch: 5, BuildType: 'f', BuildNumber: 9, ID: "b"}
	c := Version{Major: 2021, Minor: 3, Patch: 5, BuildType: 'b', BuildNumber: 9, ID: "c"}

	if a.Key() != b.Key() {
		t.Errorf("expected equal keys for %s and %s", a, b)
	}
	if a.Key() == c.Key() {
		t.Errorf("expected different keys for %s and %s", a, c)
	}
	if !a.IsStable() || c.IsStable() {
		t.Errorf("IsStable mismatch: %s=%v %s=%v", a, a.IsStable(), c, c.IsStable())
	}
}
