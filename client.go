package hivesync

import (
	"context"
	"time"

	"github.com/hivemark/hivesync/cursor"
	syncErrors "github.com/hivemark/hivesync/errors"
	"github.com/hivemark/hivesync/logging"
	"github.com/hivemark/hivesync/metrics"
)

// Client runs one pull-apply-push cycle against a Transport. It owns
// the cycle ordering only; scheduling, retries and single-flight
// admission belong to the Coordinator.
type Client struct {
	store     LocalStore
	transport Transport
	logger    *logging.Logger
	metrics   metrics.Collector
}

// NewClient wires a sync client. A nil logger or collector falls back
// to the discard logger and the no-op collector.
func NewClient(store LocalStore, transport Transport, logger *logging.Logger, collector metrics.Collector) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	if collector == nil {
		collector = metrics.Noop{}
	}
	return &Client{
		store:     store,
		transport: transport,
		logger:    logger.WithComponent(logging.Component("sync-client")),
		metrics:   collector,
	}
}

// Synchronize runs one full cycle:
//
//  1. pull remote changes since the persisted watermark;
//  2. apply them to the local store, which also persists the pull
//     timestamp as the new watermark;
//  3. collect local changes and push them with that same timestamp,
//     then mark the pushed records synced.
//
// The watermark advances with the apply step, so a later push failure
// never rewinds it: pulled data stays incorporated and the dirty
// records simply ride the next cycle. The change set is collected
// fresh after apply, never cached across cycles.
func (c *Client) Synchronize(ctx context.Context) (*SyncResult, error) {
	result := &SyncResult{StartTime: time.Now(), State: StatePulling}
	fail := func(err error) (*SyncResult, error) {
		result.State = StateFailed
		result.Duration = time.Since(result.StartTime)
		return result, err
	}

	since, err := c.store.Watermark(ctx)
	if err != nil {
		return fail(syncErrors.WrapOpComponent(err, syncErrors.OpPull, "sync-client"))
	}

	c.logger.Debug("pulling", "since", since)
	resp, err := c.transport.Pull(ctx, since)
	if err != nil {
		return fail(err)
	}

	result.State = StateApplying
	if err := c.store.ApplyRemote(ctx, resp.Changes, resp.Timestamp); err != nil {
		return fail(err)
	}
	result.Pulled = resp.Changes.RecordCount()
	result.Watermark = resp.Timestamp

	result.State = StatePushing
	pushed, err := c.push(ctx, resp.Timestamp)
	if err != nil {
		return fail(err)
	}
	result.Pushed = pushed

	result.State = StateDone
	result.Duration = time.Since(result.StartTime)
	c.logger.Info("cycle complete",
		"pulled", result.Pulled,
		"pushed", result.Pushed,
		"watermark", result.Watermark,
		"duration", result.Duration,
	)
	if n, err := c.store.PendingCount(ctx); err == nil {
		c.metrics.RecordPendingRecords(n)
	}
	return result, nil
}

func (c *Client) push(ctx context.Context, lastPulledAt cursor.Timestamp) (int, error) {
	set, err := c.store.CollectChangeSet(ctx)
	if err != nil {
		return 0, syncErrors.WrapOpComponent(err, syncErrors.OpCollect, "sync-client")
	}
	if set.IsEmpty() {
		c.logger.Debug("nothing to push")
		return 0, nil
	}

	// The remote treats unknown ids in the updated bucket as inserts,
	// so locally created records travel as updates. The untransformed
	// set keeps the revision snapshots MarkSynced checks against.
	if err := c.transport.Push(ctx, set.SendCreatedAsUpdated(), lastPulledAt); err != nil {
		return 0, err
	}
	if err := c.store.MarkSynced(ctx, set); err != nil {
		return 0, syncErrors.WrapOpComponent(err, syncErrors.OpMarkSynced, "sync-client")
	}
	return set.RecordCount(), nil
}
