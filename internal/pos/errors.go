package pos

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrValidation marks locally detected input problems. Never retried.
	ErrValidation = errors.New("validation failed")
	// ErrNetwork marks gateway calls that produced no response.
	ErrNetwork = errors.New("gateway unreachable")
	// ErrServer marks gateway responses with a failure status.
	ErrServer = errors.New("gateway error")
	// ErrConflict marks a server refusal caused by concurrent state, e.g. an
	// already open register.
	ErrConflict = errors.New("conflict")
	// ErrNotFound marks a missing remote resource.
	ErrNotFound = errors.New("not found")

	ErrNoCashRegister     = errors.New("no cash register selected")
	ErrNoSession          = errors.New("no open session")
	ErrSessionClosed      = errors.New("session already closed")
	ErrSessionOpen        = errors.New("session already open")
	ErrSubmissionInFlight = errors.New("sale submission in progress")
	ErrSessionClosing     = errors.New("session close in progress")
	// ErrPollAbandoned is returned when a configured poll attempt limit runs out.
	ErrPollAbandoned = errors.New("document status polling abandoned")
)

// ValidationError describes a rejected input.
type ValidationError struct {
	Field   string
	Message string
}

// Invalid builds a ValidationError.
func Invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ServerError carries a failure status and the server supplied message.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	return e.Message
}

// Is matches ErrServer, plus ErrConflict and ErrNotFound for 409 and 404.
func (e *ServerError) Is(target error) bool {
	switch target {
	case ErrServer:
		return true
	case ErrConflict:
		return e.Status == http.StatusConflict
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// NetworkError wraps a transport failure.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Is matches ErrNetwork.
func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}
