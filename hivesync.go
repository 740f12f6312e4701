// Package hivesync is an offline-first synchronization engine for field
// devices. It reconciles a per-device embedded datastore with a remote
// authoritative store across unreliable networks: local writes go through
// a mutation pipeline into a LocalStore, and a sync client periodically
// reconciles the store with the remote via a pull-apply-push cycle
// driven by a single-flight coordinator.
package hivesync

import (
	"context"
	"time"

	"github.com/hivemark/hivesync/cursor"
)

// LocalStore is the embedded, schema-versioned row store the engine
// reconciles against the remote. Implementations must serialize write
// transactions and guarantee that ApplyRemote runs atomically with
// respect to concurrent Write calls.
type LocalStore interface {
	// Write executes fn inside a single atomic transaction. Either every
	// record mutation inside fn commits, or none does.
	Write(ctx context.Context, fn func(tx WriteTx) error) error

	// Find returns the current state of a record, or ErrNotFound.
	Find(ctx context.Context, table, id string) (Record, error)

	// Query returns all records of a table matching the predicate.
	// A nil predicate matches every record.
	Query(ctx context.Context, table string, pred func(Record) bool) ([]Record, error)

	// Observe returns a live sequence of result snapshots for a query.
	// The channel re-emits whenever any record it covers changes and is
	// closed when the returned cancel function is called or the store
	// shuts down.
	Observe(table string, pred func(Record) bool) (<-chan []Record, func(), error)

	// CollectChangeSet returns all local changes not yet acknowledged by
	// the remote. It is read-only and does not mutate record status.
	CollectChangeSet(ctx context.Context) (ChangeSet, error)

	// MarkSynced transitions records in the given set to StatusSynced.
	// Records locally modified again since the set was collected are
	// left dirty for the next cycle. Acknowledged deletions are purged.
	MarkSynced(ctx context.Context, set ChangeSet) error

	// ApplyRemote applies a pulled change set and persists the new
	// watermark in the same transaction.
	ApplyRemote(ctx context.Context, changes ChangeSet, ts cursor.Timestamp) error

	// Watermark returns the timestamp up to which remote changes have
	// been incorporated. Zero before the first successful pull.
	Watermark(ctx context.Context) (cursor.Timestamp, error)

	// PendingCount returns the number of records awaiting push.
	PendingCount(ctx context.Context) (int, error)

	Close() error
}

// WriteTx is the handle passed to a LocalStore write transaction.
type WriteTx interface {
	// Create inserts a new record with StatusCreated.
	Create(table, id string, patch Patch) error

	// Update mutates an existing record, moving a synced record to
	// StatusUpdated and recording the touched columns.
	Update(table, id string, patch Patch) error

	// MarkDeleted marks a record for remote deletion. Deletion is
	// terminal and overrides any pending status; deleting a record that
	// was never pushed removes it outright. Idempotent.
	MarkDeleted(table, id string) error

	// Find returns the record as seen inside this transaction.
	Find(table, id string) (Record, error)
}

// PullResponse is the decoded result of one pull request.
type PullResponse struct {
	Changes   ChangeSet
	Timestamp cursor.Timestamp
}

// Transport moves change sets between the device and the remote store.
// Implementations are expected to be given an already-authenticated
// HTTP client; the engine never handles credentials itself.
type Transport interface {
	// Pull fetches remote changes since the given watermark. A zero
	// watermark requests the full dataset.
	Pull(ctx context.Context, since cursor.Timestamp) (*PullResponse, error)

	// Push sends local changes along with the watermark used for this
	// cycle's pull, so the server can detect pushes based on stale
	// knowledge. Success carries no per-record acknowledgement.
	Push(ctx context.Context, changes ChangeSet, lastPulledAt cursor.Timestamp) error

	Close() error
}

// Connectivity reports whether the device currently appears online.
// Detection itself is an external collaborator.
type Connectivity interface {
	IsOnline() bool
}

// ConnectivityFunc adapts a function to the Connectivity interface.
type ConnectivityFunc func() bool

func (f ConnectivityFunc) IsOnline() bool { return f() }

// CycleState identifies the phase of a synchronization cycle.
type CycleState string

const (
	StateIdle     CycleState = "idle"
	StatePulling  CycleState = "pulling"
	StateApplying CycleState = "applying"
	StatePushing  CycleState = "pushing"
	StateDone     CycleState = "done"
	StateFailed   CycleState = "failed"
)

// SyncResult describes one completed (or failed) cycle.
type SyncResult struct {
	// Pulled is the number of remote records applied locally.
	Pulled int

	// Pushed is the number of local records sent to the remote.
	Pushed int

	// Watermark is the pull timestamp this cycle ended on.
	Watermark cursor.Timestamp

	// State is StateDone or StateFailed.
	State CycleState

	StartTime time.Time
	Duration  time.Duration
}

// OutcomeStatus classifies a coordinator-driven sync run.
type OutcomeStatus string

const (
	OutcomeOK      OutcomeStatus = "ok"
	OutcomeFailed  OutcomeStatus = "failed"
	OutcomeSkipped OutcomeStatus = "skipped"
)

// SyncOutcome is delivered to the OutcomeObserver after every
// coordinator-driven run, including runs whose retries were exhausted.
// Background failures are never surfaced to interactive callers, so
// this is the one place they remain inspectable.
type SyncOutcome struct {
	Status    OutcomeStatus
	Reason    TriggerReason
	Pulled    int
	Pushed    int
	Attempts  int
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// OutcomeObserver receives the outcome of every sync run.
type OutcomeObserver interface {
	OnSyncOutcome(outcome SyncOutcome)
}

// OutcomeObserverFunc adapts a function to the OutcomeObserver interface.
type OutcomeObserverFunc func(SyncOutcome)

func (f OutcomeObserverFunc) OnSyncOutcome(o SyncOutcome) { f(o) }
