// Package errors provides the structured error types used across the
// sync engine.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies what went wrong, independent of where.
type Kind string

const (
	// KindLocalWrite is a failure inside a mutation-pipeline
	// transaction. Surfaced synchronously to the caller, never retried.
	KindLocalWrite Kind = "LOCAL_WRITE"

	// KindNetwork is a transport failure during pull or push.
	KindNetwork Kind = "NETWORK"

	// KindServerRejected is a non-success response from pull or push.
	// The retry policy currently treats it like a network failure.
	KindServerRejected Kind = "SERVER_REJECTED"

	// KindOffline means connectivity was lost between retry attempts.
	KindOffline Kind = "OFFLINE"

	// KindStorage is a failure in the embedded store.
	KindStorage Kind = "STORAGE"

	// KindValidation is a malformed patch, change set or response.
	KindValidation Kind = "VALIDATION"
)

// Operation identifies the sync operation during which an error occurred.
type Operation string

const (
	OpSync       Operation = "sync"
	OpPull       Operation = "pull"
	OpApply      Operation = "apply"
	OpPush       Operation = "push"
	OpWrite      Operation = "write"
	OpCollect    Operation = "collect"
	OpMarkSynced Operation = "mark_synced"
	OpTransport  Operation = "transport"
	OpClose      Operation = "close"
)

// SyncError is the structured error carried through the engine.
type SyncError struct {
	// Op is the operation during which the error occurred.
	Op Operation

	// Component generated the error (e.g. "store", "transport").
	Component string

	// Kind classifies the failure.
	Kind Kind

	// Err is the underlying error.
	Err error

	// Retryable reports whether the retry policy may attempt the
	// operation again.
	Retryable bool

	// Metadata carries additional context for logging.
	Metadata map[string]any
}

func (e *SyncError) Error() string {
	msg := fmt.Sprintf("%s operation failed", e.Op)
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	}
	if e.Kind != "" {
		msg += fmt.Sprintf(" [%s]", e.Kind)
	}
	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// NewNetworkError creates a retryable transport-failure error.
func NewNetworkError(op Operation, cause error) *SyncError {
	return &SyncError{
		Kind:      KindNetwork,
		Op:        op,
		Component: "transport",
		Err:       cause,
		Retryable: true,
	}
}

// NewServerRejection creates an error for a non-success server
// response. Retryable, matching the engine's policy of treating
// rejections like network failures.
func NewServerRejection(op Operation, cause error) *SyncError {
	return &SyncError{
		Kind:      KindServerRejected,
		Op:        op,
		Component: "transport",
		Err:       cause,
		Retryable: true,
	}
}

// NewLocalWriteError creates an error for a failed local transaction.
func NewLocalWriteError(op Operation, cause error) *SyncError {
	return &SyncError{
		Kind:      KindLocalWrite,
		Op:        op,
		Component: "store",
		Err:       cause,
		Retryable: false,
	}
}

// NewOfflineError creates an error recording that connectivity was
// lost mid-retry. Not retryable: the retry loop aborts immediately.
func NewOfflineError(op Operation, cause error) *SyncError {
	return &SyncError{
		Kind:      KindOffline,
		Op:        op,
		Component: "connectivity",
		Err:       cause,
		Retryable: false,
	}
}

// NewStorageError creates a retryable embedded-store error.
func NewStorageError(op Operation, cause error) *SyncError {
	return &SyncError{
		Kind:      KindStorage,
		Op:        op,
		Component: "store",
		Err:       cause,
		Retryable: true,
	}
}

// NewValidationError creates a non-retryable validation error.
func NewValidationError(op Operation, cause error) *SyncError {
	return &SyncError{
		Kind:      KindValidation,
		Op:        op,
		Err:       cause,
		Retryable: false,
	}
}

// New creates a plain SyncError with no classification.
func New(op Operation, err error) *SyncError {
	return &SyncError{Op: op, Err: err}
}

// NewWithComponent creates a SyncError tagged with a component.
func NewWithComponent(op Operation, component string, err error) *SyncError {
	return &SyncError{Op: op, Component: component, Err: err}
}

// IsRetryable reports whether err is a SyncError the retry policy may
// attempt again.
func IsRetryable(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Retryable
	}
	return false
}

// KindOf returns the Kind of err, or the empty Kind when err is not a
// SyncError.
func KindOf(err error) Kind {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Kind
	}
	return ""
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
