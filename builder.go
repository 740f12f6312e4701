package hivesync

import (
	"context"
	"fmt"
	"time"

	"github.com/hivemark/hivesync/logging"
	"github.com/hivemark/hivesync/metrics"
)

// Engine bundles the assembled pieces: the store applications write
// to, the client that runs cycles and the coordinator that schedules
// them.
type Engine struct {
	store       LocalStore
	transport   Transport
	client      *Client
	coordinator *Coordinator
	logger      *logging.Logger
}

// Store returns the local store for reads, writes and observation.
func (e *Engine) Store() LocalStore { return e.store }

// Coordinator returns the trigger surface.
func (e *Engine) Coordinator() *Coordinator { return e.coordinator }

// Synchronize runs one cycle synchronously, bypassing the coordinator.
// Interactive "sync now" paths that want the result use this; everything
// else goes through the coordinator's triggers.
func (e *Engine) Synchronize(ctx context.Context) (*SyncResult, error) {
	return e.client.Synchronize(ctx)
}

// Close shuts down the coordinator first so no cycle is mid-flight
// when the transport and store go away.
func (e *Engine) Close() error {
	var firstErr error
	if err := e.coordinator.Close(); err != nil {
		firstErr = err
	}
	if err := e.transport.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Builder assembles an Engine. Store and transport are required;
// everything else has defaults.
//
//	engine, err := hivesync.NewBuilder().
//		WithStore(store).
//		WithTransport(transport).
//		WithConnectivity(probe).
//		Build()
type Builder struct {
	store        LocalStore
	transport    Transport
	connectivity Connectivity
	retry        RetryPolicy
	debounce     time.Duration
	logger       *logging.Logger
	metrics      metrics.Collector
	observer     OutcomeObserver
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{retry: DefaultRetryPolicy(), debounce: DefaultDebounceWindow}
}

// WithStore sets the local store. Required.
func (b *Builder) WithStore(store LocalStore) *Builder {
	b.store = store
	return b
}

// WithTransport sets the remote transport. Required.
func (b *Builder) WithTransport(transport Transport) *Builder {
	b.transport = transport
	return b
}

// WithConnectivity sets the connectivity probe. Without one the engine
// assumes it is always online and lets requests fail naturally.
func (b *Builder) WithConnectivity(connectivity Connectivity) *Builder {
	b.connectivity = connectivity
	return b
}

// WithRetryPolicy overrides the default retry policy.
func (b *Builder) WithRetryPolicy(policy RetryPolicy) *Builder {
	b.retry = policy
	return b
}

// WithDebounceWindow overrides the post-write debounce window.
func (b *Builder) WithDebounceWindow(d time.Duration) *Builder {
	b.debounce = d
	return b
}

// WithLogger sets the logger for the engine and its components.
func (b *Builder) WithLogger(logger *logging.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMetrics sets the metrics collector.
func (b *Builder) WithMetrics(collector metrics.Collector) *Builder {
	b.metrics = collector
	return b
}

// WithOutcomeObserver sets the observer notified after every
// coordinator-driven run.
func (b *Builder) WithOutcomeObserver(observer OutcomeObserver) *Builder {
	b.observer = observer
	return b
}

// Build validates the configuration and assembles the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if b.transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	logger := b.logger
	if logger == nil {
		logger = logging.Default()
	}
	collector := b.metrics
	if collector == nil {
		collector = metrics.Noop{}
	}

	client := NewClient(b.store, b.transport, logger, collector)
	coordinator := NewCoordinator(CoordinatorConfig{
		Client:       client,
		Connectivity: b.connectivity,
		Retry:        b.retry,
		Debounce:     b.debounce,
		Logger:       logger,
		Metrics:      collector,
		Observer:     b.observer,
	})

	return &Engine{
		store:       b.store,
		transport:   b.transport,
		client:      client,
		coordinator: coordinator,
		logger:      logger,
	}, nil
}
