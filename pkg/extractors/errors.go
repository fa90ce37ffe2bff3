package extractors

import (
	"errors"
	"fmt"
)

// Failure kinds. Match them with errors.Is; read the stage with errors.As
// on *StageError.
var (
	ErrFetch   = errors.New("fetch error")
	ErrParse   = errors.New("parse error")
	ErrTimeout = errors.New("timeout")
	ErrDecode  = errors.New("decode error")
	ErrScript  = errors.New("script error")
)

// StageError is returned when a pipeline stage cannot produce its artifact.
type StageError struct {
	Stage  int
	Kind   error
	Detail string
	Err    error
}

func (e *StageError) Error() string {
	msg := fmt.Sprintf("stage %d: %v", e.Stage, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Reason is the short failure description reported to callers.
func (e *StageError) Reason() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Kind.Error()
}

// StageOf returns the failing stage recorded in err, or 0.
func StageOf(err error) int {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return 0
}

func parseError(stage int, detail string) *StageError {
	return &StageError{Stage: stage, Kind: ErrParse, Detail: detail}
}
