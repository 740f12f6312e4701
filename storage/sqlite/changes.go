package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hivemark/hivesync"
	"github.com/hivemark/hivesync/cursor"
	syncErrors "github.com/hivemark/hivesync/errors"
)

// txLike is satisfied by both *sql.Tx and *sql.DB.
type txLike interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }

func jsonUnmarshal(s string, v any) error { return json.Unmarshal([]byte(s), v) }

// CollectChangeSet scans for records not yet acknowledged by the remote
// and groups them per table. It is read-only: statuses are untouched,
// and a fresh set is produced for every push attempt.
func (s *Store) CollectChangeSet(ctx context.Context) (hivesync.ChangeSet, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT table_name, id, fields, status, changed_fields, local_rev
		 FROM records WHERE status != ? ORDER BY table_name, id`,
		string(hivesync.StatusSynced))
	if err != nil {
		return nil, syncErrors.WrapStorage(syncErrors.OpCollect, err)
	}
	defer rows.Close()

	set := make(hivesync.ChangeSet)
	for rows.Next() {
		var table string
		var rec hivesync.Record
		var fieldsJSON, status, changedJSON string
		if err := rows.Scan(&table, &rec.ID, &fieldsJSON, &status, &changedJSON, &rec.Rev); err != nil {
			return nil, syncErrors.WrapStorage(syncErrors.OpCollect, err)
		}
		decoded, err := decodeScanned(rec.ID, fieldsJSON, status, changedJSON, rec.Rev)
		if err != nil {
			return nil, err
		}

		tc := set[table]
		switch decoded.Status {
		case hivesync.StatusCreated:
			tc.Created = append(tc.Created, decoded)
		case hivesync.StatusUpdated:
			tc.Updated = append(tc.Updated, decoded)
		case hivesync.StatusDeleted:
			tc.Deleted = append(tc.Deleted, decoded.ID)
		}
		set[table] = tc
	}
	return set, rows.Err()
}

// MarkSynced is the only operation that moves records to StatusSynced.
// A record is marked only when its revision still matches the one
// snapshotted into the set; records written again mid-push stay dirty
// for the next cycle. Acknowledged deletions are purged.
func (s *Store) MarkSynced(ctx context.Context, set hivesync.ChangeSet) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncErrors.WrapStorage(syncErrors.OpMarkSynced, err)
	}
	defer tx.Rollback()

	touched := map[string]struct{}{}
	for table, tc := range set {
		for _, rec := range append(append([]hivesync.Record{}, tc.Created...), tc.Updated...) {
			res, err := tx.ExecContext(ctx,
				`UPDATE records SET status = ?, changed_fields = '[]'
				 WHERE table_name = ? AND id = ? AND local_rev = ?`,
				string(hivesync.StatusSynced), table, rec.ID, rec.Rev)
			if err != nil {
				return syncErrors.WrapStorage(syncErrors.OpMarkSynced, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				touched[table] = struct{}{}
			}
		}
		for _, id := range tc.Deleted {
			res, err := tx.ExecContext(ctx,
				`DELETE FROM records WHERE table_name = ? AND id = ? AND status = ?`,
				table, id, string(hivesync.StatusDeleted))
			if err != nil {
				return syncErrors.WrapStorage(syncErrors.OpMarkSynced, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				touched[table] = struct{}{}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return syncErrors.WrapStorage(syncErrors.OpMarkSynced, err)
	}
	s.notify(touched)
	return nil
}

// ApplyRemote applies one pull response in a single transaction and
// persists the new watermark in that same transaction, so a crash
// between apply and watermark advance cannot occur.
//
// Conflict rule, applied deterministically:
//   - remote upserts against a locally dirty record (created, updated
//     or deleted) are skipped — the local change wins until the next
//     push, when the server arbitrates;
//   - remote deletions always win and remove the row outright, local
//     deletions included.
func (s *Store) ApplyRemote(ctx context.Context, changes hivesync.ChangeSet, ts cursor.Timestamp) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncErrors.WrapStorage(syncErrors.OpApply, err)
	}
	defer tx.Rollback()

	touched := map[string]struct{}{}
	for table, tc := range changes {
		if !s.schema.HasTable(table) {
			return syncErrors.NewValidationError(syncErrors.OpApply,
				fmt.Errorf("pull response references unknown table %q", table))
		}

		for _, rec := range append(append([]hivesync.Record{}, tc.Created...), tc.Updated...) {
			skip, err := s.applyUpsert(ctx, tx, table, rec)
			if err != nil {
				return err
			}
			if !skip {
				touched[table] = struct{}{}
			}
		}
		for _, id := range tc.Deleted {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM records WHERE table_name = ? AND id = ?`, table, id); err != nil {
				return syncErrors.WrapStorage(syncErrors.OpApply, err)
			}
			touched[table] = struct{}{}
		}
	}

	// The watermark is monotonically non-decreasing: a regressing
	// server timestamp is never persisted.
	current, err := s.watermarkTx(ctx, tx)
	if err != nil {
		return err
	}
	next := cursor.Latest(current, ts)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sync_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		watermarkKey, next.String()); err != nil {
		return syncErrors.WrapStorage(syncErrors.OpApply, err)
	}

	if err := tx.Commit(); err != nil {
		return syncErrors.WrapStorage(syncErrors.OpApply, err)
	}
	s.notify(touched)
	return nil
}

// applyUpsert writes one remote record unless a dirty local copy wins.
// Returns skip=true when the local copy was preserved.
func (s *Store) applyUpsert(ctx context.Context, tx txLike, table string, rec hivesync.Record) (bool, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT status FROM records WHERE table_name = ? AND id = ?`, table, rec.ID)
	var status string
	err := row.Scan(&status)
	switch {
	case err == nil:
		if hivesync.RecordStatus(status) != hivesync.StatusSynced {
			// Local-only changes are never overwritten here, and a
			// local-only new record is never marked synced by apply.
			return true, nil
		}
	case isNoRows(err):
		// fall through to insert
	default:
		return false, syncErrors.WrapStorage(syncErrors.OpApply, err)
	}

	fieldsJSON, _, encErr := encodeRecord(rec)
	if encErr != nil {
		return false, encErr
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO records (table_name, id, fields, status, changed_fields, local_rev, updated_at)
		 VALUES (?, ?, ?, ?, '[]', 0, ?)
		 ON CONFLICT(table_name, id) DO UPDATE SET
			fields = excluded.fields,
			status = excluded.status,
			changed_fields = '[]',
			updated_at = excluded.updated_at`,
		table, rec.ID, fieldsJSON, string(hivesync.StatusSynced), time.Now().UnixMilli())
	return false, syncErrors.WrapStorage(syncErrors.OpApply, err)
}

func decodeScanned(id, fieldsJSON, status, changedJSON string, rev int64) (hivesync.Record, error) {
	rec := hivesync.Record{ID: id, Rev: rev, Status: hivesync.RecordStatus(status)}
	if err := jsonUnmarshal(fieldsJSON, &rec.Fields); err != nil {
		return hivesync.Record{}, fmt.Errorf("corrupt fields for record %s: %w", id, err)
	}
	if err := jsonUnmarshal(changedJSON, &rec.ChangedFields); err != nil {
		return hivesync.Record{}, fmt.Errorf("corrupt changed_fields for record %s: %w", id, err)
	}
	return rec, nil
}
