package service

import (
	"errors"
	"fmt"
)

// ValidationError marks permanently bad input: unsupported format, corrupt
// file, malformed request. Never retried; fails the file immediately.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// TransientError marks an infrastructure failure (timeout, connection reset)
// worth retrying with backoff.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// InvalidStateError rejects an orchestrator call that is illegal for the
// entity's current status. The entity is left unchanged.
type InvalidStateError struct {
	Entity  string
	Current string
	Op      string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s %s in status %q", e.Op, e.Entity, e.Current)
}

// StoreUnavailableError marks the persistence layer unreachable; dispatch
// halts rather than running without durable state.
type StoreUnavailableError struct {
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable: %v", e.Err)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func IsInvalidState(err error) bool {
	var se *InvalidStateError
	return errors.As(err, &se)
}
