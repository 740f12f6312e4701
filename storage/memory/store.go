// Package memory provides an in-memory hivesync.LocalStore with the
// same dirty-tracking and conflict semantics as the SQLite store. It
// backs unit tests and short-lived tooling where persistence across
// restarts is not wanted.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	stdSync "sync"

	"github.com/hivemark/hivesync"
	"github.com/hivemark/hivesync/cursor"
	syncErrors "github.com/hivemark/hivesync/errors"
	"github.com/hivemark/hivesync/logging"
)

var (
	ErrStoreClosed = errors.New("store is closed")
	ErrNotFound    = errors.New("record not found")
	ErrExists      = errors.New("record already exists")
	ErrDeleted     = errors.New("record is deleted")
)

// Store implements hivesync.LocalStore on plain maps guarded by a
// mutex. Transactions are copy-on-write: fn mutates a scratch copy of
// the touched tables, swapped in only on success.
type Store struct {
	schema *hivesync.Schema
	logger *logging.Logger

	mu        stdSync.Mutex
	closed    bool
	tables    map[string]map[string]hivesync.Record
	watermark cursor.Timestamp

	observers map[int]*observer
	nextObsID int
}

var _ hivesync.LocalStore = (*Store)(nil)

type observer struct {
	table string
	pred  func(hivesync.Record) bool
	ch    chan []hivesync.Record
}

// Option configures a Store.
type Option func(*Store)

// WithSchema replaces the default schema.
func WithSchema(schema *hivesync.Schema) Option {
	return func(s *Store) { s.schema = schema }
}

// WithLogger replaces the default logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		schema:    hivesync.DefaultSchema(),
		logger:    logging.Default().WithComponent(logging.Component("memory-store")),
		tables:    make(map[string]map[string]hivesync.Record),
		observers: make(map[int]*observer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) table(name string) map[string]hivesync.Record {
	t, ok := s.tables[name]
	if !ok {
		t = make(map[string]hivesync.Record)
		s.tables[name] = t
	}
	return t
}

// writeTx implements hivesync.WriteTx over scratch copies of the
// tables it touches.
type writeTx struct {
	store   *Store
	schema  *hivesync.Schema
	scratch map[string]map[string]hivesync.Record
}

func (w *writeTx) tableCopy(name string) map[string]hivesync.Record {
	if t, ok := w.scratch[name]; ok {
		return t
	}
	src := w.store.tables[name]
	t := make(map[string]hivesync.Record, len(src))
	for id, rec := range src {
		t[id] = rec
	}
	w.scratch[name] = t
	return t
}

func (w *writeTx) lookup(table, id string) (hivesync.Record, bool) {
	if t, ok := w.scratch[table]; ok {
		rec, ok := t[id]
		return rec, ok
	}
	rec, ok := w.store.tables[table][id]
	return rec, ok
}

func (w *writeTx) Create(table, id string, patch hivesync.Patch) error {
	if err := w.schema.ValidatePatch(table, patch); err != nil {
		return syncErrors.NewValidationError(syncErrors.OpWrite, err)
	}
	if id == "" {
		return syncErrors.NewValidationError(syncErrors.OpWrite, fmt.Errorf("empty record id"))
	}
	if _, ok := w.lookup(table, id); ok {
		return fmt.Errorf("create %s/%s: %w", table, id, ErrExists)
	}

	fields := make(map[string]any, len(patch))
	changed := make([]string, 0, len(patch))
	for k, v := range patch {
		fields[k] = v
		changed = append(changed, k)
	}
	w.tableCopy(table)[id] = hivesync.Record{
		ID:            id,
		Fields:        fields,
		Status:        hivesync.StatusCreated,
		ChangedFields: changed,
		Rev:           1,
	}
	return nil
}

func (w *writeTx) Update(table, id string, patch hivesync.Patch) error {
	if err := w.schema.ValidatePatch(table, patch); err != nil {
		return syncErrors.NewValidationError(syncErrors.OpWrite, err)
	}
	rec, ok := w.lookup(table, id)
	if !ok {
		return fmt.Errorf("update %s/%s: %w", table, id, ErrNotFound)
	}
	if rec.Status == hivesync.StatusDeleted {
		return fmt.Errorf("update %s/%s: %w", table, id, ErrDeleted)
	}

	rec = rec.Clone()
	for k, v := range patch {
		rec.Fields[k] = v
		if !rec.Changed(k) {
			rec.ChangedFields = append(rec.ChangedFields, k)
		}
	}
	if rec.Status == hivesync.StatusSynced {
		rec.Status = hivesync.StatusUpdated
	}
	rec.Rev++
	w.tableCopy(table)[id] = rec
	return nil
}

func (w *writeTx) MarkDeleted(table, id string) error {
	if !w.schema.HasTable(table) {
		return syncErrors.NewValidationError(syncErrors.OpWrite, fmt.Errorf("unknown table %q", table))
	}
	rec, ok := w.lookup(table, id)
	if !ok || rec.Status == hivesync.StatusDeleted {
		return nil // idempotent
	}
	if rec.Status == hivesync.StatusCreated {
		// Never pushed, so no deletion needs to reach the remote.
		delete(w.tableCopy(table), id)
		return nil
	}
	rec = rec.Clone()
	rec.Status = hivesync.StatusDeleted
	rec.ChangedFields = nil
	rec.Rev++
	w.tableCopy(table)[id] = rec
	return nil
}

func (w *writeTx) Find(table, id string) (hivesync.Record, error) {
	rec, ok := w.lookup(table, id)
	if !ok {
		return hivesync.Record{}, ErrNotFound
	}
	return rec.Clone(), nil
}

// Write executes fn atomically: either every mutation lands or none.
func (s *Store) Write(ctx context.Context, fn func(tx hivesync.WriteTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	wtx := &writeTx{store: s, schema: s.schema, scratch: map[string]map[string]hivesync.Record{}}
	if err := fn(wtx); err != nil {
		return err
	}

	touched := make(map[string]struct{}, len(wtx.scratch))
	for table, rows := range wtx.scratch {
		s.tables[table] = rows
		touched[table] = struct{}{}
	}
	s.notifyLocked(touched)
	return nil
}

// Find returns the current state of a record.
func (s *Store) Find(ctx context.Context, table, id string) (hivesync.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return hivesync.Record{}, ErrStoreClosed
	}
	rec, ok := s.tables[table][id]
	if !ok {
		return hivesync.Record{}, ErrNotFound
	}
	return rec.Clone(), nil
}

// Query returns all records of a table matching pred, ordered by id.
func (s *Store) Query(ctx context.Context, table string, pred func(hivesync.Record) bool) ([]hivesync.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.queryLocked(table, pred), nil
}

func (s *Store) queryLocked(table string, pred func(hivesync.Record) bool) []hivesync.Record {
	var out []hivesync.Record
	for _, rec := range s.tables[table] {
		if pred == nil || pred(rec) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Observe returns live query snapshots, mirroring the SQLite store.
func (s *Store) Observe(table string, pred func(hivesync.Record) bool) (<-chan []hivesync.Record, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, ErrStoreClosed
	}
	if !s.schema.HasTable(table) {
		return nil, nil, syncErrors.NewValidationError(syncErrors.OpWrite,
			fmt.Errorf("unknown table %q", table))
	}

	obs := &observer{table: table, pred: pred, ch: make(chan []hivesync.Record, 1)}
	id := s.nextObsID
	s.nextObsID++
	s.observers[id] = obs
	s.emitLocked(obs)

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.observers[id]; ok {
			delete(s.observers, id)
			close(obs.ch)
		}
	}
	return obs.ch, cancel, nil
}

func (s *Store) notifyLocked(touched map[string]struct{}) {
	if len(touched) == 0 {
		return
	}
	for _, obs := range s.observers {
		if _, ok := touched[obs.table]; ok {
			s.emitLocked(obs)
		}
	}
}

func (s *Store) emitLocked(obs *observer) {
	snapshot := s.queryLocked(obs.table, obs.pred)
	if snapshot == nil {
		snapshot = []hivesync.Record{}
	}
	for {
		select {
		case obs.ch <- snapshot:
			return
		default:
			select {
			case <-obs.ch:
			default:
			}
		}
	}
}

// CollectChangeSet groups all unsynced records per table.
func (s *Store) CollectChangeSet(ctx context.Context) (hivesync.ChangeSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	set := make(hivesync.ChangeSet)
	for table, rows := range s.tables {
		tc := set[table]
		for _, rec := range rows {
			switch rec.Status {
			case hivesync.StatusCreated:
				tc.Created = append(tc.Created, rec.Clone())
			case hivesync.StatusUpdated:
				tc.Updated = append(tc.Updated, rec.Clone())
			case hivesync.StatusDeleted:
				tc.Deleted = append(tc.Deleted, rec.ID)
			}
		}
		if len(tc.Created)+len(tc.Updated)+len(tc.Deleted) > 0 {
			sortRecords(tc.Created)
			sortRecords(tc.Updated)
			sort.Strings(tc.Deleted)
			set[table] = tc
		}
	}
	return set, nil
}

func sortRecords(recs []hivesync.Record) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
}

// MarkSynced acknowledges a pushed set. Records whose revision moved
// since collection stay dirty; acknowledged deletions are purged.
func (s *Store) MarkSynced(ctx context.Context, set hivesync.ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	touched := map[string]struct{}{}
	for table, tc := range set {
		rows := s.tables[table]
		for _, pushed := range append(append([]hivesync.Record{}, tc.Created...), tc.Updated...) {
			rec, ok := rows[pushed.ID]
			if !ok || rec.Rev != pushed.Rev {
				continue
			}
			rec = rec.Clone()
			rec.Status = hivesync.StatusSynced
			rec.ChangedFields = nil
			rows[pushed.ID] = rec
			touched[table] = struct{}{}
		}
		for _, id := range tc.Deleted {
			if rec, ok := rows[id]; ok && rec.Status == hivesync.StatusDeleted {
				delete(rows, id)
				touched[table] = struct{}{}
			}
		}
	}
	s.notifyLocked(touched)
	return nil
}

// ApplyRemote applies a pull response and advances the watermark in
// the same critical section. Dirty local records win over remote
// upserts; remote deletions always win.
func (s *Store) ApplyRemote(ctx context.Context, changes hivesync.ChangeSet, ts cursor.Timestamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	for table := range changes {
		if !s.schema.HasTable(table) {
			return syncErrors.NewValidationError(syncErrors.OpApply,
				fmt.Errorf("pull response references unknown table %q", table))
		}
	}

	touched := map[string]struct{}{}
	for table, tc := range changes {
		rows := s.table(table)
		for _, rec := range append(append([]hivesync.Record{}, tc.Created...), tc.Updated...) {
			if existing, ok := rows[rec.ID]; ok && existing.Status != hivesync.StatusSynced {
				continue // local change wins until the next push
			}
			clean := rec.Clone()
			clean.Status = hivesync.StatusSynced
			clean.ChangedFields = nil
			clean.Rev = 0
			rows[rec.ID] = clean
			touched[table] = struct{}{}
		}
		for _, id := range tc.Deleted {
			delete(rows, id)
			touched[table] = struct{}{}
		}
	}

	s.watermark = cursor.Latest(s.watermark, ts)
	s.notifyLocked(touched)
	return nil
}

// Watermark returns the last applied pull timestamp.
func (s *Store) Watermark(ctx context.Context) (cursor.Timestamp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return cursor.Timestamp{}, ErrStoreClosed
	}
	return s.watermark, nil
}

// PendingCount returns the number of records awaiting push.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	n := 0
	for _, rows := range s.tables {
		for _, rec := range rows {
			if rec.Status != hivesync.StatusSynced {
				n++
			}
		}
	}
	return n, nil
}

// Close tears down observers and rejects further use.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for id, obs := range s.observers {
		delete(s.observers, id)
		close(obs.ch)
	}
	return nil
}
