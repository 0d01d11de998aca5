// SPDX-License-Identifier: MPL-2.0

package types

import "testing"

func TestExitCode_IsSuccess(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code ExitCode
		want bool
	}{
		{ExitSuccess, true},
		{ExitUsage, false},
		{ExitFatal, false},
	}
	for _, tt := range tests {
		if got := tt.code.IsSuccess(); got != tt.want {
			t.Errorf("ExitCode(%d).IsSuccess() = %v, want %v", tt.code, got, tt.want)
		}
	}
}
