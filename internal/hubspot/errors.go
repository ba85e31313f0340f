package hubspot

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
)

// ConflictError is returned by contact creation when the remote side reports
// that a contact with the same email already exists. Vid identifies the
// pre-existing contact, parsed out of the conflict response body.
type ConflictError struct {
	Vid int64
}

func (e *ConflictError) Error() string {
	if e.Vid == 0 {
		return "contact already exists"
	}
	return fmt.Sprintf("contact already exists as vid %d", e.Vid)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

type HTTPError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("hubspot http %d %s: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("hubspot http %d: %s", e.StatusCode, e.Message)
}
