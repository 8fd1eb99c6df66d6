package usecases

import "fmt"

const (
	ReasonEmptyMessage  = "empty_message"
	ReasonPlateNotFound = "plate_not_found"
)

// ValidationError means the inbound content carries no usable query.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// PersistenceError wraps a failed Conversation Store write.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
