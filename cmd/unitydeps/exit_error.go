// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/melonloader/unitydeps/pkg/types"
)

// ExitError carries the process exit code out of RunE without calling
// os.Exit inside the command.
type ExitError struct {
	Code types.ExitCode
	Err  error
}

// Error returns the wrapped message, or the bare exit status.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap returns the underlying error, if any.
func (e *ExitError) Unwrap() error {
	return e.Err
}

func usageError(err error) error {
	return &ExitError{Code: types.ExitUsage, Err: err}
}

func fatalError(err error) error {
	return &ExitError{Code: types.ExitFatal, Err: err}
}
