package pipe

import (
	"errors"
	"fmt"
)

// StageError reports the stage that aborted a run.
type StageError struct {
	Pipeline string
	Index    int
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline %q stage %d: %v", e.Pipeline, e.Index, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// IsStageError returns true if err wraps a *StageError.
func IsStageError(err error) bool {
	var se *StageError
	return errors.As(err, &se)
}

// PanicError carries the value a stage panicked with.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("stage panicked: %v", e.Value)
}
