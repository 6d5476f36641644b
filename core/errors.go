package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrEventNotFound = errors.New("event not found")

// Error is the JSON envelope returned by the REST handlers.
type Error struct {
	Message string   `json:"message,omitempty"`
	Err     []string `json:"err,omitempty"`
	// Conflicts is only set when a ConflictError reaches the handler.
	Conflicts []Event `json:"conflicts,omitempty"`
}

func NewError(message string, errs ...error) *Error {
	e := &Error{
		Message: message,
		Err: func() []string {
			var msgs []string

			for _, err := range errs {
				if err != nil {
					msgs = append(msgs, err.Error())
				}
			}

			return msgs
		}(),
	}

	for _, err := range errs {
		var conflictErr *ConflictError
		if errors.As(err, &conflictErr) {
			e.Conflicts = append(e.Conflicts, conflictErr.Conflicting...)
		}
	}

	return e
}

func (e *Error) Error() string {
	//nolint:errchkjson
	data, _ := json.Marshal(e)
	return string(data)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	if len(e.Err) == 0 {
		return nil
	}

	errs := make([]error, len(e.Err))
	for i, err := range e.Err {
		errs[i] = fmt.Errorf("%s", err)
	}

	return errors.Join(errs...)
}

func (e *Error) Messages() []string {
	return e.Err
}

// ValidationError reports a malformed or impossible request. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}

	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// ConflictError carries every event that overlaps the candidate interval.
type ConflictError struct {
	Conflicting []Event
}

func (e *ConflictError) Error() string {
	if len(e.Conflicting) == 0 {
		return "calendar conflict"
	}

	titles := make([]string, 0, len(e.Conflicting))
	for _, event := range e.Conflicting {
		titles = append(titles, fmt.Sprintf("%q", event.Title))
	}

	return fmt.Sprintf("calendar conflict with %s", strings.Join(titles, ", "))
}

// First returns the earliest conflicting event, the one surfaced in short messages.
func (e *ConflictError) First() (Event, bool) {
	if len(e.Conflicting) == 0 {
		return Event{}, false
	}

	return e.Conflicting[0], true
}

// StorageError wraps an I/O or timeout failure coming from the EventStore.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func IsStorageError(err error) bool {
	var storageErr *StorageError
	return errors.As(err, &storageErr)
}

// storageError leaves domain errors untouched and wraps everything else.
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}

	var (
		validationErr *ValidationError
		conflictErr   *ConflictError
		storageErr    *StorageError
	)

	switch {
	case errors.Is(err, ErrEventNotFound),
		errors.As(err, &validationErr),
		errors.As(err, &conflictErr),
		errors.As(err, &storageErr):
		return err
	default:
		return &StorageError{Op: op, Err: err}
	}
}
