package hivesync

import (
	"context"
	"errors"
	stdSync "sync"

	syncErrors "github.com/hivemark/hivesync/errors"
	"github.com/hivemark/hivesync/logging"
)

// Mutation is the write path between application code and the local
// store. Each mutation wraps one domain operation (create a hive,
// record an inspection) in a store transaction, tracks its in-flight
// and error state for UI consumption, and schedules a debounced sync
// after every successful commit.
//
// A Mutation is safe for concurrent use, but its pending/error state
// is last-write-wins, like the hook state it mirrors.
type Mutation[In, Out any] struct {
	store       LocalStore
	coordinator *Coordinator
	logger      *logging.Logger
	fn          func(tx WriteTx, in In) (Out, error)

	mu      stdSync.Mutex
	pending bool
	err     error
}

// NewMutation builds a mutation around fn. The coordinator may be nil
// for write-only uses that schedule syncs themselves.
func NewMutation[In, Out any](
	store LocalStore,
	coordinator *Coordinator,
	logger *logging.Logger,
	fn func(tx WriteTx, in In) (Out, error),
) *Mutation[In, Out] {
	if logger == nil {
		logger = logging.Default()
	}
	return &Mutation[In, Out]{
		store:       store,
		coordinator: coordinator,
		logger:      logger.WithComponent(logging.Component("mutation")),
		fn:          fn,
	}
}

// MutateAsync runs the mutation and returns its result. The store
// transaction is atomic: a failing fn leaves no partial writes. A sync
// is scheduled only after a successful commit; failed mutations never
// reach the network.
func (m *Mutation[In, Out]) MutateAsync(ctx context.Context, in In) (Out, error) {
	m.mu.Lock()
	m.pending = true
	m.err = nil
	m.mu.Unlock()

	var out Out
	err := m.store.Write(ctx, func(tx WriteTx) error {
		var fnErr error
		out, fnErr = m.fn(tx, in)
		return fnErr
	})
	if err != nil {
		err = classifyMutationError(err)
	}

	m.mu.Lock()
	m.pending = false
	m.err = err
	m.mu.Unlock()

	if err != nil {
		var zero Out
		return zero, err
	}
	if m.coordinator != nil {
		m.coordinator.NotifyLocalWrite()
	}
	return out, nil
}

// classifyMutationError keeps the classification of errors the store
// already tagged (a validation rejection stays VALIDATION, a retryable
// storage error stays retryable) and files everything else under
// LOCAL_WRITE.
func classifyMutationError(err error) error {
	var syncErr *syncErrors.SyncError
	if errors.As(err, &syncErr) {
		return err
	}
	return syncErrors.NewLocalWriteError(syncErrors.OpWrite, err)
}

// Mutate runs the mutation without waiting for the result. Failures
// land in Err for later inspection.
func (m *Mutation[In, Out]) Mutate(ctx context.Context, in In) {
	go func() {
		if _, err := m.MutateAsync(ctx, in); err != nil {
			m.logger.Warn("mutation failed", "error", err)
		}
	}()
}

// IsPending reports whether a MutateAsync call is currently running.
func (m *Mutation[In, Out]) IsPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

// Err returns the error of the most recent completed call, nil after a
// success or a Reset.
func (m *Mutation[In, Out]) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Reset clears the stored error state.
func (m *Mutation[In, Out]) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = nil
}
