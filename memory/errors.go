package memory

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is returned when an unauthorized user attempts a
	// direct global write or deletion.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidInput is returned for empty text, unknown memory types and
	// missing user ids.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned by DeleteMemory for ids that do not exist.
	ErrNotFound = errors.New("memory not found")
)

// PermissionError records which user was refused and for what.
type PermissionError struct {
	UserID string
	Action string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %q not authorized to %s: %v", e.UserID, e.Action, ErrPermissionDenied)
}

func (e *PermissionError) Unwrap() error { return ErrPermissionDenied }

// StorageError wraps a failure of the underlying vector store.
type StorageError struct {
	Op         string
	Collection string
	Err        error
}

func (e *StorageError) Error() string {
	if e.Collection == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s on %s: %v", e.Op, e.Collection, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
