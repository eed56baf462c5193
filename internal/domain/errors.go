package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrAvailabilityConflict = errors.New("room is not available for the requested dates")
	ErrPaymentNotSuccessful = errors.New("payment not successful")
	ErrNotFound             = errors.New("booking not found")
	ErrInvalidTransition    = errors.New("invalid booking transition")
	ErrPersistence          = errors.New("persistence failure")
	ErrGateway              = errors.New("payment gateway failure")

	// ErrStaleState is returned by a compare-and-set write whose expected state no longer holds.
	ErrStaleState = errors.New("booking state changed concurrently")
)

// ValidationError lists the offending input fields. It matches ErrValidation with errors.Is.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = message
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return fmt.Sprintf("%s: %s", ErrValidation.Error(), strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
