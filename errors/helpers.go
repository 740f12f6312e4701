package errors

import "errors"

// WrapStorage wraps an embedded-store error with consistent Op and
// Component propagation. Returns nil when err is nil.
func WrapStorage(op Operation, err error) error {
	if err == nil {
		return nil
	}
	return NewStorageError(op, err)
}

// WrapOpComponent wraps an unclassified error with Op and Component.
// An error that already carries a SyncError is returned unchanged: a
// kindless outer wrapper would shadow the inner classification, since
// KindOf and IsRetryable read the outermost SyncError.
func WrapOpComponent(err error, op Operation, component string) error {
	if err == nil {
		return nil
	}
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return err
	}
	return NewWithComponent(op, component, err)
}
