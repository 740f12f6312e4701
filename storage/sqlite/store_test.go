package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivemark/hivesync"
	"github.com/hivemark/hivesync/logging"
)

func testSchema() *hivesync.Schema {
	return hivesync.NewSchema(1).
		Table("hives", "name", "location", "notes").
		Table("inspections", "hive_id", "inspected_at", "notes")
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(&Config{
		DataSourceName: filepath.Join(t.TempDir(), "test.db"),
		EnableWAL:      true,
		Schema:         testSchema(),
		Logger:         logging.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func createHive(t *testing.T, store *Store, id, name string) {
	t.Helper()
	err := store.Write(context.Background(), func(tx hivesync.WriteTx) error {
		return tx.Create("hives", id, hivesync.Patch{"name": name})
	})
	require.NoError(t, err)
}

func TestWriteCreate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id := hivesync.NewRecordID()
	createHive(t, store, id, "North Field")

	rec, err := store.Find(ctx, "hives", id)
	require.NoError(t, err)
	assert.Equal(t, hivesync.StatusCreated, rec.Status)
	assert.Equal(t, "North Field", rec.Field("name"))
	assert.ElementsMatch(t, []string{"name"}, rec.ChangedFields)
	assert.Equal(t, int64(1), rec.Rev)
}

func TestWriteCreateDuplicate(t *testing.T) {
	store := newTestStore(t)

	id := hivesync.NewRecordID()
	createHive(t, store, id, "first")

	err := store.Write(context.Background(), func(tx hivesync.WriteTx) error {
		return tx.Create("hives", id, hivesync.Patch{"name": "second"})
	})
	assert.ErrorIs(t, err, ErrExists)
}

func TestWriteRejectsUnknownColumn(t *testing.T) {
	store := newTestStore(t)

	err := store.Write(context.Background(), func(tx hivesync.WriteTx) error {
		return tx.Create("hives", hivesync.NewRecordID(), hivesync.Patch{"queen_color": "blue"})
	})
	require.Error(t, err)

	err = store.Write(context.Background(), func(tx hivesync.WriteTx) error {
		return tx.Create("apiaries", hivesync.NewRecordID(), hivesync.Patch{"name": "x"})
	})
	require.Error(t, err)
}

func TestWriteRollbackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id := hivesync.NewRecordID()
	err := store.Write(ctx, func(tx hivesync.WriteTx) error {
		if err := tx.Create("hives", id, hivesync.Patch{"name": "doomed"}); err != nil {
			return err
		}
		return fmt.Errorf("caller changed its mind")
	})
	require.Error(t, err)

	// Nothing from the failed transaction is visible.
	_, err = store.Find(ctx, "hives", id)
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := store.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpdateTransitions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id := hivesync.NewRecordID()
	createHive(t, store, id, "old name")

	// created + update = still created
	err := store.Write(ctx, func(tx hivesync.WriteTx) error {
		return tx.Update("hives", id, hivesync.Patch{"location": "south slope"})
	})
	require.NoError(t, err)

	rec, err := store.Find(ctx, "hives", id)
	require.NoError(t, err)
	assert.Equal(t, hivesync.StatusCreated, rec.Status)
	assert.ElementsMatch(t, []string{"name", "location"}, rec.ChangedFields)
	assert.Equal(t, int64(2), rec.Rev)

	// synced + update = updated, with fresh field tracking
	set, err := store.CollectChangeSet(ctx)
	require.NoError(t, err)
	require.NoError(t, store.MarkSynced(ctx, set))

	err = store.Write(ctx, func(tx hivesync.WriteTx) error {
		return tx.Update("hives", id, hivesync.Patch{"notes": "requeened"})
	})
	require.NoError(t, err)

	rec, err = store.Find(ctx, "hives", id)
	require.NoError(t, err)
	assert.Equal(t, hivesync.StatusUpdated, rec.Status)
	assert.ElementsMatch(t, []string{"notes"}, rec.ChangedFields)
	assert.Equal(t, "old name", rec.Field("name"), "untouched fields survive the merge")
}

func TestUpdateMissingAndDeleted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Write(ctx, func(tx hivesync.WriteTx) error {
		return tx.Update("hives", "no-such-id", hivesync.Patch{"name": "x"})
	})
	assert.ErrorIs(t, err, ErrNotFound)

	id := hivesync.NewRecordID()
	createHive(t, store, id, "short-lived")
	set, err := store.CollectChangeSet(ctx)
	require.NoError(t, err)
	require.NoError(t, store.MarkSynced(ctx, set))
	require.NoError(t, store.Write(ctx, func(tx hivesync.WriteTx) error {
		return tx.MarkDeleted("hives", id)
	}))

	err = store.Write(ctx, func(tx hivesync.WriteTx) error {
		return tx.Update("hives", id, hivesync.Patch{"name": "zombie"})
	})
	assert.ErrorIs(t, err, ErrDeleted)
}

func TestMarkDeleted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("created record is removed outright", func(t *testing.T) {
		id := hivesync.NewRecordID()
		createHive(t, store, id, "never pushed")

		require.NoError(t, store.Write(ctx, func(tx hivesync.WriteTx) error {
			return tx.MarkDeleted("hives", id)
		}))

		_, err := store.Find(ctx, "hives", id)
		assert.ErrorIs(t, err, ErrNotFound)

		set, err := store.CollectChangeSet(ctx)
		require.NoError(t, err)
		assert.True(t, set.IsEmpty(), "no deletion is queued for a record the remote never saw")
	})

	t.Run("synced record becomes a pending deletion", func(t *testing.T) {
		id := hivesync.NewRecordID()
		createHive(t, store, id, "pushed once")
		set, err := store.CollectChangeSet(ctx)
		require.NoError(t, err)
		require.NoError(t, store.MarkSynced(ctx, set))

		require.NoError(t, store.Write(ctx, func(tx hivesync.WriteTx) error {
			return tx.MarkDeleted("hives", id)
		}))

		rec, err := store.Find(ctx, "hives", id)
		require.NoError(t, err)
		assert.Equal(t, hivesync.StatusDeleted, rec.Status)
		assert.Empty(t, rec.ChangedFields)

		set, err = store.CollectChangeSet(ctx)
		require.NoError(t, err)
		assert.Contains(t, set["hives"].Deleted, id)
	})

	t.Run("idempotent", func(t *testing.T) {
		require.NoError(t, store.Write(ctx, func(tx hivesync.WriteTx) error {
			if err := tx.MarkDeleted("hives", "absent"); err != nil {
				return err
			}
			return tx.MarkDeleted("hives", "absent")
		}))
	})
}

func TestQueryPredicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		name := fmt.Sprintf("hive-%d", i)
		createHive(t, store, hivesync.NewRecordID(), name)
	}

	all, err := store.Query(ctx, "hives", nil)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	one, err := store.Query(ctx, "hives", func(r hivesync.Record) bool {
		return r.Field("name") == "hive-2"
	})
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "hive-2", one[0].Field("name"))
}

func TestObserve(t *testing.T) {
	store := newTestStore(t)

	ch, cancel, err := store.Observe("hives", nil)
	require.NoError(t, err)
	defer cancel()

	// Initial snapshot is delivered without any write.
	select {
	case snapshot := <-ch:
		assert.Empty(t, snapshot)
	case <-time.After(time.Second):
		t.Fatal("no initial snapshot")
	}

	id := hivesync.NewRecordID()
	createHive(t, store, id, "observed")

	select {
	case snapshot := <-ch:
		require.Len(t, snapshot, 1)
		assert.Equal(t, id, snapshot[0].ID)
	case <-time.After(time.Second):
		t.Fatal("no snapshot after write")
	}

	// Writes to other tables do not wake this observer.
	err = store.Write(context.Background(), func(tx hivesync.WriteTx) error {
		return tx.Create("inspections", hivesync.NewRecordID(), hivesync.Patch{"hive_id": id})
	})
	require.NoError(t, err)

	select {
	case <-ch:
		t.Fatal("observer notified for an untouched table")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestObserveCancelAndClose(t *testing.T) {
	store := newTestStore(t)

	ch, cancel, err := store.Observe("hives", nil)
	require.NoError(t, err)
	<-ch
	cancel()
	cancel() // safe to call twice

	_, ok := <-ch
	assert.False(t, ok, "channel closed after cancel")

	ch2, _, err := store.Observe("hives", nil)
	require.NoError(t, err)
	<-ch2
	require.NoError(t, store.Close())
	_, ok = <-ch2
	assert.False(t, ok, "channel closed after store close")
}

func TestObserveConcurrentWithClose(t *testing.T) {
	// Subscribing while the store shuts down must either register (and
	// have the channel closed by Close) or fail with ErrStoreClosed;
	// the initial snapshot must never land on a closed channel.
	for i := 0; i < 50; i++ {
		store, err := New(&Config{
			DataSourceName: filepath.Join(t.TempDir(), "test.db"),
			Schema:         testSchema(),
			Logger:         logging.Discard(),
		})
		require.NoError(t, err)
		createHive(t, store, hivesync.NewRecordID(), "racer")

		done := make(chan struct{})
		go func() {
			defer close(done)
			ch, cancel, err := store.Observe("hives", nil)
			if err != nil {
				assert.ErrorIs(t, err, ErrStoreClosed)
				return
			}
			defer cancel()
			for range ch {
			}
		}()
		require.NoError(t, store.Close())
		<-done
	}
}

func TestObserveUnknownTable(t *testing.T) {
	store := newTestStore(t)
	_, _, err := store.Observe("swarms", nil)
	require.Error(t, err)
}

func TestPendingCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n, err := store.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	createHive(t, store, hivesync.NewRecordID(), "a")
	createHive(t, store, hivesync.NewRecordID(), "b")

	n, err = store.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	set, err := store.CollectChangeSet(ctx)
	require.NoError(t, err)
	require.NoError(t, store.MarkSynced(ctx, set))

	n, err = store.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	config := func() *Config {
		return &Config{
			DataSourceName: path,
			EnableWAL:      true,
			Schema:         testSchema(),
			Logger:         logging.Discard(),
		}
	}

	store, err := New(config())
	require.NoError(t, err)
	id := hivesync.NewRecordID()
	createHive(t, store, id, "durable")
	require.NoError(t, store.Close())

	reopened, err := New(config())
	require.NoError(t, err)
	defer reopened.Close()

	rec, err := reopened.Find(context.Background(), "hives", id)
	require.NoError(t, err)
	assert.Equal(t, "durable", rec.Field("name"))
	assert.Equal(t, hivesync.StatusCreated, rec.Status, "dirty state survives restart")
}

func TestClosedStore(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "double close is a no-op")

	ctx := context.Background()
	err := store.Write(ctx, func(tx hivesync.WriteTx) error { return nil })
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = store.CollectChangeSet(ctx)
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = store.Watermark(ctx)
	assert.ErrorIs(t, err, ErrStoreClosed)
}
