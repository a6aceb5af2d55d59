package domain

import (
	"errors"
	"fmt"
)

var (
	ErrMissingRequiredField  = errors.New("missing required field")
	ErrInvalidField          = errors.New("invalid field value")
	ErrUnknownDeviceFamily   = errors.New("unknown device family")
	ErrOutOfRange            = errors.New("device ordinal out of range")
	ErrEnrichmentUnavailable = errors.New("location enrichment unavailable")
	ErrStorage               = errors.New("storage error")
)

// DecodeError is a per-row decode failure. Kind is one of the sentinel errors
// above and is what errors.Is matches against.
type DecodeError struct {
	Column string
	Kind   error
	Value  string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("decode column %q: %v", e.Column, e.Kind)
	if e.Value != "" {
		msg += fmt.Sprintf(" (%s)", e.Value)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// StorageError reports a failed query with the driver's diagnostic intact.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

// FailureKind returns a short label for a decode failure, used as a metric label.
func FailureKind(err error) string {
	switch {
	case errors.Is(err, ErrUnknownDeviceFamily):
		return "unknown_device_family"
	case errors.Is(err, ErrMissingRequiredField):
		return "missing_required_field"
	case errors.Is(err, ErrInvalidField):
		return "invalid_field"
	default:
		return "other"
	}
}
