package hivesync

import (
	"context"
	"log/slog"
	stdSync "sync"
	"time"

	syncErrors "github.com/hivemark/hivesync/errors"
	"github.com/hivemark/hivesync/logging"
	"github.com/hivemark/hivesync/metrics"
)

// TriggerReason identifies what caused a sync run to start.
type TriggerReason string

const (
	TriggerSessionStart TriggerReason = "session_start"
	TriggerForeground   TriggerReason = "foreground"
	TriggerReconnect    TriggerReason = "reconnect"
	TriggerLocalWrite   TriggerReason = "local_write"
	TriggerManual       TriggerReason = "manual"
)

// AppState mirrors the lifecycle states the host application reports.
type AppState string

const (
	AppStateActive     AppState = "active"
	AppStateBackground AppState = "background"
	AppStateInactive   AppState = "inactive"
)

// DefaultDebounceWindow is how long after the last local write a
// write-triggered sync waits before starting.
const DefaultDebounceWindow = 500 * time.Millisecond

// Coordinator decides when sync cycles run. All triggers funnel into a
// single-flight gate: at most one cycle (including its retries) is in
// flight, and triggers arriving meanwhile are dropped, not queued —
// the running cycle collects its change set after apply, so it already
// covers any writes that landed before its push.
//
// Triggers are edge-driven: session start fires once, foreground fires
// on the background-to-active transition, reconnect fires on the
// offline-to-online transition, and local writes fire after a quiet
// debounce window so bursts coalesce into one cycle.
type Coordinator struct {
	client       *Client
	connectivity Connectivity
	retry        RetryPolicy
	debounce     time.Duration
	logger       *logging.Logger
	metrics      metrics.Collector
	observer     OutcomeObserver

	ctx    context.Context
	cancel context.CancelFunc
	wg     stdSync.WaitGroup

	mu            stdSync.Mutex
	closed        bool
	syncing       bool
	started       bool
	appState      AppState
	online        bool
	debounceTimer *time.Timer
	lastOutcome   *SyncOutcome
}

// CoordinatorConfig wires a Coordinator. Client is required; the rest
// fall back to sensible defaults.
type CoordinatorConfig struct {
	Client       *Client
	Connectivity Connectivity
	Retry        RetryPolicy
	Debounce     time.Duration
	Logger       *logging.Logger
	Metrics      metrics.Collector
	Observer     OutcomeObserver
}

// NewCoordinator builds a coordinator in its initial state: no session
// started, app considered active, connectivity considered online until
// reported otherwise.
func NewCoordinator(config CoordinatorConfig) *Coordinator {
	if config.Logger == nil {
		config.Logger = logging.Default()
	}
	if config.Metrics == nil {
		config.Metrics = metrics.Noop{}
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounceWindow
	}
	if config.Retry.Delay <= 0 {
		config.Retry = DefaultRetryPolicy()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		client:       config.Client,
		connectivity: config.Connectivity,
		retry:        config.Retry,
		debounce:     config.Debounce,
		logger:       config.Logger.WithComponent(logging.Component("coordinator")),
		metrics:      config.Metrics,
		observer:     config.Observer,
		ctx:          ctx,
		cancel:       cancel,
		appState:     AppStateActive,
		online:       true,
	}
}

// OnSessionStart triggers the initial sync. Subsequent calls in the
// same process are no-ops.
func (c *Coordinator) OnSessionStart() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()
	c.trigger(TriggerSessionStart)
}

// OnAppStateChange reports a host lifecycle transition. Only the edge
// into AppStateActive triggers a sync.
func (c *Coordinator) OnAppStateChange(state AppState) {
	c.mu.Lock()
	previous := c.appState
	c.appState = state
	c.mu.Unlock()

	if state == AppStateActive && previous != AppStateActive {
		c.trigger(TriggerForeground)
	}
}

// OnConnectivityChange reports the device's connectivity. Only the
// offline-to-online edge triggers a sync; repeated online reports do
// nothing.
func (c *Coordinator) OnConnectivityChange(online bool) {
	c.mu.Lock()
	previous := c.online
	c.online = online
	c.mu.Unlock()

	if online && !previous {
		c.trigger(TriggerReconnect)
	}
}

// NotifyLocalWrite schedules a sync for shortly after the write burst
// ends. Every call resets the window.
func (c *Coordinator) NotifyLocalWrite() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.debounceTimer == nil {
		c.debounceTimer = time.AfterFunc(c.debounce, func() {
			c.trigger(TriggerLocalWrite)
		})
		return
	}
	c.debounceTimer.Reset(c.debounce)
}

// SyncNow triggers an immediate run, subject to the same single-flight
// gate as every other trigger.
func (c *Coordinator) SyncNow() {
	c.trigger(TriggerManual)
}

// LastOutcome returns the most recent run's outcome, false before any
// run has finished.
func (c *Coordinator) LastOutcome() (SyncOutcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastOutcome == nil {
		return SyncOutcome{}, false
	}
	return *c.lastOutcome, true
}

// trigger admits one run through the single-flight gate.
func (c *Coordinator) trigger(reason TriggerReason) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.syncing {
		c.mu.Unlock()
		c.logger.Debug("trigger dropped, sync in flight", "reason", string(reason))
		c.metrics.RecordTriggerDropped(string(reason))
		return
	}
	c.syncing = true
	c.wg.Add(1)
	c.mu.Unlock()

	go c.run(reason)
}

func (c *Coordinator) run(reason TriggerReason) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		c.syncing = false
		c.mu.Unlock()
	}()

	outcome := SyncOutcome{Reason: reason, StartedAt: time.Now()}

	if c.connectivity != nil && !c.connectivity.IsOnline() {
		outcome.Status = OutcomeSkipped
		c.logger.Debug("sync skipped, device offline", "reason", string(reason))
		c.finish(outcome)
		return
	}

	c.metrics.RecordSyncStart()

	var last *SyncResult
	attempts, err := c.retry.Execute(c.ctx, c.connectivity, c.logger, func(ctx context.Context) error {
		result, runErr := c.client.Synchronize(ctx)
		last = result
		return runErr
	})
	for i := 1; i < attempts; i++ {
		c.metrics.RecordRetry()
	}

	outcome.Attempts = attempts
	outcome.Duration = time.Since(outcome.StartedAt)
	if last != nil {
		outcome.Pulled = last.Pulled
		outcome.Pushed = last.Pushed
	}

	if err != nil {
		outcome.Status = OutcomeFailed
		outcome.Err = err
		c.logger.LogError(c.ctx, err, "sync run failed",
			slog.String("reason", string(reason)),
			slog.Int("attempts", attempts),
		)
		c.metrics.RecordSyncFailure(outcome.Duration, string(syncErrors.KindOf(err)))
	} else {
		outcome.Status = OutcomeOK
		c.metrics.RecordSyncSuccess(outcome.Duration, outcome.Pulled, outcome.Pushed)
	}
	c.finish(outcome)
}

// finish records the outcome and notifies the observer. Failed runs
// end here: triggers never see errors, the observer does.
func (c *Coordinator) finish(outcome SyncOutcome) {
	c.mu.Lock()
	c.lastOutcome = &outcome
	c.mu.Unlock()

	if c.observer != nil {
		c.observer.OnSyncOutcome(outcome)
	}
}

// Close stops the debounce timer, cancels the in-flight run's context
// and waits for it to wind down. Further triggers are ignored.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	return nil
}
