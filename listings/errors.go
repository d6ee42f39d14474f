package listings

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("listing not found")
	ErrForbidden     = errors.New("listing belongs to another owner")
	ErrInvalidStatus = errors.New("listing is not in a state that allows this change")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
