package backend

import (
	"errors"
	"fmt"

	"github.com/kamilpajak/cascade/pkg/models"
)

// Failure kinds. Use errors.Is against an *Error to classify it.
var (
	ErrCircuitOpen = errors.New("circuit open")
	ErrTimeout     = errors.New("timeout")
	ErrTransport   = errors.New("transport error")
	ErrResponse    = errors.New("error response")
	ErrMalformed   = errors.New("malformed response")
	ErrCanceled    = errors.New("canceled")
)

// Error describes a failed Classify call after retries were exhausted.
type Error struct {
	Backend    models.Source
	Attempts   int
	Kind       error
	StatusCode int // set for ErrResponse
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s backend: %v", e.Backend, e.Kind)
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindName returns a stable identifier for the failure kind of err.
func KindName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrResponse):
		return "response"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrCanceled):
		return "canceled"
	}
	return "unknown"
}

// AttemptsOf returns how many network attempts err records.
func AttemptsOf(err error) int {
	var be *Error
	if errors.As(err, &be) {
		return be.Attempts
	}
	return 0
}

func isTransient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrTransport)
}
