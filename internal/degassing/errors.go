package degassing

import (
	"errors"
	"fmt"
)

// ErrUnrecognized is matched by both unrecognized-value errors.
var ErrUnrecognized = errors.New("unrecognized value")

// UnrecognizedProcessError is returned by the rule model when a batch process
// has no decay profile.
type UnrecognizedProcessError struct {
	Value string
}

func (e *UnrecognizedProcessError) Error() string {
	return fmt.Sprintf("process %q is not recognized", e.Value)
}

func (e *UnrecognizedProcessError) Is(target error) bool { return target == ErrUnrecognized }

// UnrecognizedParameterError is returned by the simulator when a categorical
// input has no table entry.
type UnrecognizedParameterError struct {
	Parameter string
	Value     string
}

func (e *UnrecognizedParameterError) Error() string {
	return fmt.Sprintf("%s %q is not recognized", e.Parameter, e.Value)
}

func (e *UnrecognizedParameterError) Is(target error) bool { return target == ErrUnrecognized }
