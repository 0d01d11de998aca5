// SPDX-License-Identifier: MPL-2.0

// Package types holds small value types shared by the CLI and its tests.
package types

// ExitCode is the process exit status of unitydeps.
type ExitCode int

// Process exit codes of unitydeps.
const (
	// ExitSuccess means every version was published or skipped.
	ExitSuccess ExitCode = 0
	// ExitUsage covers bad arguments, a missing GH_TOKEN and configuration
	// errors. Nothing has touched the network yet.
	ExitUsage ExitCode = 1
	// ExitFatal means the run stopped on a fatal outcome such as a changed
	// bundle layout or a failed publish.
	ExitFatal ExitCode = 2
)

// IsSuccess reports whether c is zero.
func (c ExitCode) IsSuccess() bool { return c == ExitSuccess }
