package reconcile

import (
	"errors"
	"fmt"
)

// ErrFatal marks a run that aborted before producing a report.
var ErrFatal = errors.New("reconcile: fatal error")

// ErrInvalidOptions is returned by Run when the options fail validation.
var ErrInvalidOptions = errors.New("reconcile: invalid options")

// ErrorKind classifies a non-fatal item error.
type ErrorKind string

const (
	// ErrorKindListing is a storage partition that could not be listed.
	ErrorKindListing ErrorKind = "listing"
	// ErrorKindProbe is an existence probe that failed for a reason other than not-found.
	ErrorKindProbe ErrorKind = "probe"
	// ErrorKindDelete is a database delete or count call that failed.
	ErrorKindDelete ErrorKind = "delete"
	// ErrorKindPartialDelete is a single item of a bulk delete that could not be removed.
	ErrorKindPartialDelete ErrorKind = "partial_delete"
)

// ItemError is a non-fatal failure recorded in the report.
type ItemError struct {
	Kind     ErrorKind `json:"kind"`
	Target   string    `json:"target"`
	Provider string    `json:"provider,omitempty"`
	Message  string    `json:"message"`
}

func (e ItemError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s %s (%s): %s", e.Kind, e.Target, e.Provider, e.Message)
	}
	return fmt.Sprintf("%s %s: %s", e.Kind, e.Target, e.Message)
}

func newItemError(kind ErrorKind, target, provider string, err error) ItemError {
	return ItemError{Kind: kind, Target: target, Provider: provider, Message: err.Error()}
}

// RunError is returned when a run aborts. It unwraps to both ErrFatal and the cause.
type RunError struct {
	RunID string
	State State
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("reconcile run %s failed during %s: %v", e.RunID, e.State, e.Err)
}

// Unwrap implements multi-error unwrapping for errors.Is and errors.As.
func (e *RunError) Unwrap() []error {
	return []error{ErrFatal, e.Err}
}
