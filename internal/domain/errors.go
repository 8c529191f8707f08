// Package domain holds the error taxonomy shared by the domain, app and infra layers.
package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrValidation    = errors.New("validation error")
	ErrConflict      = errors.New("conflict")
	ErrStore         = errors.New("store failure")
)

// ValidationError describes a rejected input field, e.g. a malformed frequency config.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Message)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError creates a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// StoreError wraps a transient I/O failure from the control registry or instance store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error { return []error{ErrStore, e.Err} }

// NotFoundf wraps ErrNotFound with the entity and identifier that was missing.
func NotFoundf(entity string, id any) error {
	return fmt.Errorf("%s %v: %w", entity, id, ErrNotFound)
}

// IsNotFound reports whether err marks a missing control or instance.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsValidation reports whether err is a rejected input.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsStoreError reports whether err came from registry/store I/O.
func IsStoreError(err error) bool { return errors.Is(err, ErrStore) }
