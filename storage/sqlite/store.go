// Package sqlite provides the embedded hivesync.LocalStore used on
// devices: a schema-versioned SQLite row store with per-record dirty
// tracking, reactive query subscriptions and a persisted pull watermark.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	stdSync "sync"
	"time"

	"github.com/hivemark/hivesync"
	"github.com/hivemark/hivesync/cursor"
	syncErrors "github.com/hivemark/hivesync/errors"
	"github.com/hivemark/hivesync/logging"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrStoreClosed = errors.New("store is closed")
	ErrNotFound    = errors.New("record not found")
	ErrExists      = errors.New("record already exists")
	ErrDeleted     = errors.New("record is deleted")
)

const watermarkKey = "last_pulled_at"

// Config holds configuration options for the Store.
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging mode. Recommended and on by
	// default via DefaultConfig.
	EnableWAL bool

	// Schema declares the tables and columns the store accepts.
	// Defaults to hivesync.DefaultSchema().
	Schema *hivesync.Schema

	// Logger for internal operations. Defaults to the package logger.
	Logger *logging.Logger

	// Connection pool settings. SQLite writes are serialized by the
	// store's own transaction lock, so one open connection suffices;
	// reads may fan out.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c *Config) setDefaults() {
	if c.Schema == nil {
		c.Schema = hivesync.DefaultSchema()
	}
	if c.Logger == nil {
		c.Logger = logging.Default().WithComponent(logging.Component("sqlite-store"))
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 4
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 2
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.EnableWAL {
		if c.DataSourceName != "" && !containsJournalParam(c.DataSourceName) {
			c.DataSourceName += "?_journal_mode=WAL&_busy_timeout=5000"
		}
	}
}

func containsJournalParam(dsn string) bool {
	return strings.Contains(dsn, "_journal_mode=")
}

// DefaultConfig returns a Config with production defaults: WAL mode on
// and the beekeeping field-record schema.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// Store implements hivesync.LocalStore on SQLite.
type Store struct {
	db     *sql.DB
	schema *hivesync.Schema
	logger *logging.Logger

	// writeMu is the store's transaction lock: Write, ApplyRemote and
	// MarkSynced serialize on it so remote apply and local writes never
	// interleave non-atomically.
	writeMu stdSync.Mutex

	mu     stdSync.RWMutex
	closed bool

	obsMu     stdSync.Mutex
	observers map[int]*observer
	nextObsID int
}

// Compile-time check that Store satisfies the LocalStore interface.
var _ hivesync.LocalStore = (*Store)(nil)

// New opens (and migrates) a store from a Config.
func New(config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	config.setDefaults()
	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	store := &Store{
		db:        db,
		schema:    config.Schema,
		logger:    config.Logger,
		observers: make(map[int]*observer),
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database schema: %w", err)
	}

	store.logger.Info("store opened",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL),
	)
	return store, nil
}

// NewWithDataSource is a convenience constructor using DefaultConfig.
func NewWithDataSource(dataSourceName string) (*Store, error) {
	return New(DefaultConfig(dataSourceName))
}

// migration is one schema step, keyed by version number. Migrations run
// in order inside their own transaction and are recorded so a store
// survives process restarts at any version.
type migration struct {
	version int
	apply   func(tx *sql.Tx) error
}

var migrations = []migration{
	{
		version: 1,
		apply: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
			CREATE TABLE records (
				table_name     TEXT    NOT NULL,
				id             TEXT    NOT NULL,
				fields         TEXT    NOT NULL,
				status         TEXT    NOT NULL,
				changed_fields TEXT    NOT NULL DEFAULT '[]',
				local_rev      INTEGER NOT NULL DEFAULT 0,
				updated_at     INTEGER NOT NULL,
				PRIMARY KEY (table_name, id)
			);
			CREATE INDEX idx_records_status ON records (status);
			CREATE TABLE sync_meta (
				key   TEXT PRIMARY KEY,
				value TEXT NOT NULL
			);`)
			return err
		},
	},
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return err
	}

	var current sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&current); err != nil {
		return err
	}

	for _, m := range migrations {
		if current.Valid && m.version <= int(current.Int64) {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if err := m.apply(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		s.logger.Info("applied migration", slog.Int("version", m.version))
	}
	return nil
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Write executes fn inside a single transaction. The store's write lock
// guarantees concurrent callers interleave only at transaction
// boundaries, never mid-transaction.
func (s *Store) Write(ctx context.Context, fn func(tx hivesync.WriteTx) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncErrors.WrapStorage(syncErrors.OpWrite, err)
	}

	wtx := &writeTx{ctx: ctx, tx: tx, schema: s.schema, touched: map[string]struct{}{}}
	if err := fn(wtx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return syncErrors.WrapStorage(syncErrors.OpWrite, err)
	}

	s.notify(wtx.touched)
	return nil
}

// writeTx implements hivesync.WriteTx against an open SQL transaction.
type writeTx struct {
	ctx     context.Context
	tx      *sql.Tx
	schema  *hivesync.Schema
	touched map[string]struct{}
}

func (w *writeTx) Create(table, id string, patch hivesync.Patch) error {
	if err := w.schema.ValidatePatch(table, patch); err != nil {
		return syncErrors.NewValidationError(syncErrors.OpWrite, err)
	}
	if id == "" {
		return syncErrors.NewValidationError(syncErrors.OpWrite, fmt.Errorf("empty record id"))
	}

	if _, err := w.find(table, id); err == nil {
		return fmt.Errorf("create %s/%s: %w", table, id, ErrExists)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	fields := make(map[string]any, len(patch))
	changed := make([]string, 0, len(patch))
	for k, v := range patch {
		fields[k] = v
		changed = append(changed, k)
	}
	return w.insert(table, hivesync.Record{
		ID:            id,
		Fields:        fields,
		Status:        hivesync.StatusCreated,
		ChangedFields: changed,
		Rev:           1,
	})
}

func (w *writeTx) Update(table, id string, patch hivesync.Patch) error {
	if err := w.schema.ValidatePatch(table, patch); err != nil {
		return syncErrors.NewValidationError(syncErrors.OpWrite, err)
	}

	rec, err := w.find(table, id)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", table, id, err)
	}
	if rec.Status == hivesync.StatusDeleted {
		return fmt.Errorf("update %s/%s: %w", table, id, ErrDeleted)
	}

	for k, v := range patch {
		rec.Fields[k] = v
		if !rec.Changed(k) {
			rec.ChangedFields = append(rec.ChangedFields, k)
		}
	}
	// A write on a synced record re-dirties it; a created record stays
	// created until first acknowledged.
	if rec.Status == hivesync.StatusSynced {
		rec.Status = hivesync.StatusUpdated
	}
	rec.Rev++
	return w.save(table, rec)
}

func (w *writeTx) MarkDeleted(table, id string) error {
	if !w.schema.HasTable(table) {
		return syncErrors.NewValidationError(syncErrors.OpWrite, fmt.Errorf("unknown table %q", table))
	}

	rec, err := w.find(table, id)
	if errors.Is(err, ErrNotFound) {
		return nil // idempotent
	}
	if err != nil {
		return err
	}

	switch rec.Status {
	case hivesync.StatusDeleted:
		return nil // idempotent
	case hivesync.StatusCreated:
		// Never pushed: the remote has no trace of it, so remove the
		// row outright rather than queueing a deletion.
		w.touched[table] = struct{}{}
		_, err := w.tx.ExecContext(w.ctx,
			`DELETE FROM records WHERE table_name = ? AND id = ?`, table, id)
		return syncErrors.WrapStorage(syncErrors.OpWrite, err)
	default:
		rec.Status = hivesync.StatusDeleted
		rec.ChangedFields = nil
		rec.Rev++
		return w.save(table, rec)
	}
}

func (w *writeTx) Find(table, id string) (hivesync.Record, error) {
	return w.find(table, id)
}

func (w *writeTx) find(table, id string) (hivesync.Record, error) {
	row := w.tx.QueryRowContext(w.ctx,
		`SELECT id, fields, status, changed_fields, local_rev
		 FROM records WHERE table_name = ? AND id = ?`, table, id)
	return scanRecord(row)
}

func (w *writeTx) insert(table string, rec hivesync.Record) error {
	w.touched[table] = struct{}{}
	fieldsJSON, changedJSON, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	_, err = w.tx.ExecContext(w.ctx,
		`INSERT INTO records (table_name, id, fields, status, changed_fields, local_rev, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		table, rec.ID, fieldsJSON, string(rec.Status), changedJSON, rec.Rev, time.Now().UnixMilli())
	return syncErrors.WrapStorage(syncErrors.OpWrite, err)
}

func (w *writeTx) save(table string, rec hivesync.Record) error {
	w.touched[table] = struct{}{}
	fieldsJSON, changedJSON, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	_, err = w.tx.ExecContext(w.ctx,
		`UPDATE records SET fields = ?, status = ?, changed_fields = ?, local_rev = ?, updated_at = ?
		 WHERE table_name = ? AND id = ?`,
		fieldsJSON, string(rec.Status), changedJSON, rec.Rev, time.Now().UnixMilli(), table, rec.ID)
	return syncErrors.WrapStorage(syncErrors.OpWrite, err)
}

// Find returns the current state of a record.
func (s *Store) Find(ctx context.Context, table, id string) (hivesync.Record, error) {
	if err := s.checkOpen(); err != nil {
		return hivesync.Record{}, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, fields, status, changed_fields, local_rev
		 FROM records WHERE table_name = ? AND id = ?`, table, id)
	return scanRecord(row)
}

// Query returns all records of a table matching pred. Predicates run in
// Go, over rows decoded from the store.
func (s *Store) Query(ctx context.Context, table string, pred func(hivesync.Record) bool) ([]hivesync.Record, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fields, status, changed_fields, local_rev
		 FROM records WHERE table_name = ? ORDER BY id`, table)
	if err != nil {
		return nil, syncErrors.WrapStorage(syncErrors.OpWrite, err)
	}
	defer rows.Close()

	var out []hivesync.Record
	for rows.Next() {
		rec, err := scanRecordRows(rows)
		if err != nil {
			return nil, err
		}
		if pred == nil || pred(rec) {
			out = append(out, rec)
		}
	}
	return out, rows.Err()
}

// PendingCount returns the number of records awaiting push.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE status != ?`, string(hivesync.StatusSynced)).Scan(&n)
	if err != nil {
		return 0, syncErrors.WrapStorage(syncErrors.OpCollect, err)
	}
	return n, nil
}

// Close closes the database and tears down all observers.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.closeObservers()
	return s.db.Close()
}

// scanner abstracts sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row *sql.Row) (hivesync.Record, error) {
	rec, err := scanFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return hivesync.Record{}, ErrNotFound
	}
	return rec, err
}

func scanRecordRows(rows *sql.Rows) (hivesync.Record, error) {
	return scanFrom(rows)
}

func scanFrom(sc scanner) (hivesync.Record, error) {
	var (
		rec         hivesync.Record
		fieldsJSON  string
		status      string
		changedJSON string
	)
	if err := sc.Scan(&rec.ID, &fieldsJSON, &status, &changedJSON, &rec.Rev); err != nil {
		return hivesync.Record{}, err
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &rec.Fields); err != nil {
		return hivesync.Record{}, fmt.Errorf("corrupt fields for record %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(changedJSON), &rec.ChangedFields); err != nil {
		return hivesync.Record{}, fmt.Errorf("corrupt changed_fields for record %s: %w", rec.ID, err)
	}
	rec.Status = hivesync.RecordStatus(status)
	return rec, nil
}

func encodeRecord(rec hivesync.Record) (fieldsJSON, changedJSON string, err error) {
	fb, err := json.Marshal(rec.Fields)
	if err != nil {
		return "", "", syncErrors.NewValidationError(syncErrors.OpWrite, err)
	}
	changed := rec.ChangedFields
	if changed == nil {
		changed = []string{}
	}
	cb, err := json.Marshal(changed)
	if err != nil {
		return "", "", syncErrors.NewValidationError(syncErrors.OpWrite, err)
	}
	return string(fb), string(cb), nil
}

func (s *Store) watermarkTx(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}) (cursor.Timestamp, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM sync_meta WHERE key = ?`, watermarkKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return cursor.Timestamp{}, nil
	}
	if err != nil {
		return cursor.Timestamp{}, syncErrors.WrapStorage(syncErrors.OpPull, err)
	}
	return cursor.Parse(value)
}

// Watermark returns the persisted pull watermark, zero before the first
// successful pull.
func (s *Store) Watermark(ctx context.Context) (cursor.Timestamp, error) {
	if err := s.checkOpen(); err != nil {
		return cursor.Timestamp{}, err
	}
	return s.watermarkTx(ctx, s.db)
}
