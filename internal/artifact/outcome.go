// SPDX-License-Identifier: MPL-2.0

package artifact

import (
	"errors"
	"fmt"
)

const (
	// KindSkip means the version has no usable artifact; the run moves on.
	KindSkip Kind = iota + 1
	// KindFatal means the artifact layout is not what the pipeline expects;
	// the run must stop.
	KindFatal
)

var (
	// ErrNotAvailable is wrapped by skips caused by a missing download.
	ErrNotAvailable = errors.New("no bundle found")

	// ErrBelowThreshold is wrapped by skips of versions older than 5.3.
	ErrBelowThreshold = errors.New("version predates the android support bundle")

	// ErrLayoutChanged is wrapped by fatal outcomes where an extraction step
	// produced nothing, which means the bundle format changed.
	ErrLayoutChanged = errors.New("bundle format changed")
)

type (
	// Kind classifies a StageError.
	Kind int

	// StageError is the outcome of a failed pipeline stage. Callers decide the
	// policy per Kind: the generator logs and continues on KindSkip and aborts
	// on KindFatal.
	StageError struct {
		Stage string
		Kind  Kind
		Err   error
	}
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindSkip:
		return "skip"
	case KindFatal:
		return "fatal"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error formats the stage, kind and cause.
func (e *StageError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Stage, e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *StageError) Unwrap() error { return e.Err }

// IsSkip reports whether err carries a KindSkip StageError.
func IsSkip(err error) bool {
	var se *StageError
	return errors.As(err, &se) && se.Kind == KindSkip
}

// IsFatal reports whether err carries a KindFatal StageError.
func IsFatal(err error) bool {
	var se *StageError
	return errors.As(err, &se) && se.Kind == KindFatal
}

func skip(stage string, err error) error {
	return &StageError{Stage: stage, Kind: KindSkip, Err: err}
}

func fatal(stage string, err error) error {
	return &StageError{Stage: stage, Kind: KindFatal, Err: err}
}
