package entities

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindAuthFailed        ErrorKind = "AUTH_FAILED"
	KindTimeout           ErrorKind = "TIMEOUT"
	KindRejected          ErrorKind = "REJECTED"
	KindMalformedResponse ErrorKind = "MALFORMED_RESPONSE"
)

// ErrNoDebt means the provider answered correctly but has no debt for the plate.
var ErrNoDebt = errors.New("no debt information for plate")

// ExternalServiceError classifies a failed call to a remote provider.
type ExternalServiceError struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *ExternalServiceError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("external service: %s (%s)", e.Kind, e.Detail)
	}
	return fmt.Sprintf("external service: %s (%s): %v", e.Kind, e.Detail, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func NewExternalError(kind ErrorKind, detail string, err error) *ExternalServiceError {
	return &ExternalServiceError{Kind: kind, Detail: detail, Err: err}
}

// KindOf returns the classification of err, or "" when err is not an
// ExternalServiceError.
func KindOf(err error) ErrorKind {
	var ext *ExternalServiceError
	if errors.As(err, &ext) {
		return ext.Kind
	}
	return ""
}
