package domain

import "fmt"

// ValidationError marks a structurally invalid input container: a persisted
// record without its data array, a batch that is not a proper list, an empty
// station id. It is not recoverable within a cycle — the caller logs it,
// keeps the previously persisted data unchanged, and moves on to the next
// station. Per-reading problems (bad timestamp, non-numeric rainfall) are
// recovered locally during parsing and never surface as this type.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Msg
}

// NewValidationError wraps msg as a ValidationError.
func NewValidationError(msg string) *ValidationError {
	return &ValidationError{Msg: msg}
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}
