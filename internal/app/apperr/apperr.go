package apperr

import (
	"errors"
	"strings"
)

var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrForbidden              = errors.New("not authorized for this account")
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrUpstreamUnavailable    = errors.New("upstream unavailable")
)

// FieldError describes a single rejected input field.
type FieldError struct {
	Field string
	Msg   string
	Value string
}

// ValidationError carries every rejected field of a request.
// It matches ErrInvalidInput with errors.Is.
type ValidationError struct {
	Fields []FieldError
}

func NewValidationError(field, msg, value string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Msg: msg, Value: value}}}
}

func (e *ValidationError) Add(field, msg, value string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Msg: msg, Value: value})
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrInvalidInput.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Msg)
	}
	return ErrInvalidInput.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// OrNil returns nil when no field was rejected.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}
