package datatypes

import (
	"errors"
	"fmt"
)

// A ConfigurationError is a bad parameter combination. It is fatal and
// raised before any window is processed.
type ConfigurationError struct {
	Parameter string
	Reason    string
}

func (e ConfigurationError) Error() string {
	return fmt.Sprintf("invalid setting for %s: %s", e.Parameter, e.Reason)
}

// A DataShapeError means the input matrix is not rectangular, too short
// or contains values that are not finite.
type DataShapeError struct {
	Row    int
	Reason string
}

func (e DataShapeError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("bad input shape: %s", e.Reason)
	}
	return fmt.Sprintf("bad input shape in row %d: %s", e.Row, e.Reason)
}

// A DegenerateWindowError is raised when rows are constant over a window
// and therefore cannot be normalized.
type DegenerateWindowError struct {
	Window       int
	ConstantRows []int
}

func (e DegenerateWindowError) Error() string {
	if len(e.ConstantRows) == 0 {
		return fmt.Sprintf("window %d is degenerate", e.Window)
	}
	return fmt.Sprintf("window %d has %d constant rows (first: %d)", e.Window,
		len(e.ConstantRows), e.ConstantRows[0])
}

// A NonConvergenceError is raised when the SVD of a window fails.
type NonConvergenceError struct {
	Window int
	Err    error
}

func (e NonConvergenceError) Error() string {
	return fmt.Sprintf("svd failed for window %d: %v", e.Window, e.Err)
}

func (e NonConvergenceError) Unwrap() error {
	return e.Err
}

// IsRecoverable reports whether err only affects a single window.
// The orchestrator skips such windows and carries on.
func IsRecoverable(err error) bool {
	var degenerate DegenerateWindowError
	var noConvergence NonConvergenceError
	return errors.As(err, &degenerate) || errors.As(err, &noConvergence)
}
