package hivesync_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivemark/hivesync"
	"github.com/hivemark/hivesync/cursor"
	syncErrors "github.com/hivemark/hivesync/errors"
	"github.com/hivemark/hivesync/logging"
	"github.com/hivemark/hivesync/storage/memory"
)

func testStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New(
		memory.WithSchema(hivesync.NewSchema(1).Table("hives", "name", "notes")),
		memory.WithLogger(logging.Discard()),
	)
	t.Cleanup(func() { store.Close() })
	return store
}

func createDirtyHive(t *testing.T, store *memory.Store, name string) string {
	t.Helper()
	id := hivesync.NewRecordID()
	require.NoError(t, store.Write(context.Background(), func(tx hivesync.WriteTx) error {
		return tx.Create("hives", id, hivesync.Patch{"name": name})
	}))
	return id
}

func TestSynchronizeFullCycle(t *testing.T) {
	store := testStore(t)
	transport := newFakeTransport()
	client := hivesync.NewClient(store, transport, logging.Discard(), nil)
	ctx := context.Background()

	remoteID := hivesync.NewRecordID()
	transport.queuePull(&hivesync.PullResponse{
		Changes: hivesync.ChangeSet{"hives": {Created: []hivesync.Record{
			{ID: remoteID, Fields: map[string]any{"name": "remote hive"}},
		}}},
		Timestamp: cursor.Timestamp{Millis: 42_000},
	})
	localID := createDirtyHive(t, store, "local hive")

	result, err := client.Synchronize(ctx)
	require.NoError(t, err)
	assert.Equal(t, hivesync.StateDone, result.State)
	assert.Equal(t, 1, result.Pulled)
	assert.Equal(t, 1, result.Pushed)
	assert.Equal(t, int64(42_000), result.Watermark.Millis)

	// Remote record landed, local record got acknowledged.
	rec, err := store.Find(ctx, "hives", remoteID)
	require.NoError(t, err)
	assert.Equal(t, hivesync.StatusSynced, rec.Status)
	rec, err = store.Find(ctx, "hives", localID)
	require.NoError(t, err)
	assert.Equal(t, hivesync.StatusSynced, rec.Status)

	// Push carried this cycle's pull timestamp, with the created record
	// travelling in the updated bucket.
	pushes := transport.pushedCalls()
	require.Len(t, pushes, 1)
	assert.Equal(t, int64(42_000), pushes[0].lastPulledAt.Millis)
	tc := pushes[0].changes["hives"]
	assert.Empty(t, tc.Created)
	require.Len(t, tc.Updated, 1)
	assert.Equal(t, localID, tc.Updated[0].ID)

	// The next pull resumes from the persisted watermark.
	_, err = client.Synchronize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42_000), transport.pulls[1].Millis)
}

func TestSynchronizePullFailureTouchesNothing(t *testing.T) {
	store := testStore(t)
	transport := newFakeTransport()
	transport.setPullErr(syncErrors.NewNetworkError(syncErrors.OpPull, assert.AnError))
	client := hivesync.NewClient(store, transport, logging.Discard(), nil)
	ctx := context.Background()

	createDirtyHive(t, store, "stays dirty")

	result, err := client.Synchronize(ctx)
	require.Error(t, err)
	assert.Equal(t, hivesync.StateFailed, result.State)

	wm, err := store.Watermark(ctx)
	require.NoError(t, err)
	assert.True(t, wm.IsZero())
	assert.Empty(t, transport.pushedCalls(), "no push without a successful pull")

	n, err := store.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSynchronizePushFailureKeepsWatermark(t *testing.T) {
	store := testStore(t)
	transport := newFakeTransport()
	client := hivesync.NewClient(store, transport, logging.Discard(), nil)
	ctx := context.Background()

	transport.queuePull(&hivesync.PullResponse{
		Changes:   hivesync.ChangeSet{},
		Timestamp: cursor.Timestamp{Millis: 50_000},
	})
	transport.setPushErr(syncErrors.NewServerRejection(syncErrors.OpPush, assert.AnError))
	id := createDirtyHive(t, store, "rejected")

	result, err := client.Synchronize(ctx)
	require.Error(t, err)
	assert.Equal(t, hivesync.StateFailed, result.State)

	// The pull was applied and the watermark advanced before the push
	// failed; the dirty record waits for the next cycle.
	wm, err := store.Watermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(50_000), wm.Millis)

	rec, err := store.Find(ctx, "hives", id)
	require.NoError(t, err)
	assert.Equal(t, hivesync.StatusCreated, rec.Status)

	// Recovery: a later cycle pushes the same record.
	transport.setPushErr(nil)
	result, err = client.Synchronize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pushed)
}

func TestSynchronizeNothingToPush(t *testing.T) {
	store := testStore(t)
	transport := newFakeTransport()
	client := hivesync.NewClient(store, transport, logging.Discard(), nil)

	result, err := client.Synchronize(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Pushed)
	assert.Empty(t, transport.pushedCalls(), "empty change sets are not sent")
}

func TestSynchronizeFreshChangeSetPerCycle(t *testing.T) {
	store := testStore(t)
	transport := newFakeTransport()
	client := hivesync.NewClient(store, transport, logging.Discard(), nil)
	ctx := context.Background()

	createDirtyHive(t, store, "first")
	_, err := client.Synchronize(ctx)
	require.NoError(t, err)

	createDirtyHive(t, store, "second")
	_, err = client.Synchronize(ctx)
	require.NoError(t, err)

	pushes := transport.pushedCalls()
	require.Len(t, pushes, 2)
	require.Len(t, pushes[1].changes["hives"].Updated, 1)
	assert.Equal(t, "second", pushes[1].changes["hives"].Updated[0].Field("name"),
		"each cycle collects only the changes still pending")
}
