package models

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed request or threshold update.
// It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Message)
}

// IsValidation checks if an error is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
