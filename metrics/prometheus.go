package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus implements Collector on a prometheus registry.
type Prometheus struct {
	syncsStarted    prometheus.Counter
	syncsSucceeded  prometheus.Counter
	syncsFailed     *prometheus.CounterVec
	retries         prometheus.Counter
	triggersDropped *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	recordsPulled   prometheus.Counter
	recordsPushed   prometheus.Counter
	pendingRecords  prometheus.Gauge
}

var _ Collector = (*Prometheus)(nil)

// NewPrometheus builds a collector and registers its metrics with reg.
// Pass prometheus.DefaultRegisterer for the process-global registry.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		syncsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hivesync",
			Name:      "syncs_started_total",
			Help:      "Sync cycles started.",
		}),
		syncsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hivesync",
			Name:      "syncs_succeeded_total",
			Help:      "Sync cycles completed successfully.",
		}),
		syncsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hivesync",
			Name:      "syncs_failed_total",
			Help:      "Sync cycles failed after exhausting retries.",
		}, []string{"kind"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hivesync",
			Name:      "sync_retries_total",
			Help:      "Sync attempts beyond the first of each cycle.",
		}),
		triggersDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hivesync",
			Name:      "triggers_dropped_total",
			Help:      "Sync triggers discarded because a run was in flight.",
		}, []string{"reason"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hivesync",
			Name:      "sync_cycle_duration_seconds",
			Help:      "Wall time of completed sync cycles.",
			Buckets:   prometheus.DefBuckets,
		}),
		recordsPulled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hivesync",
			Name:      "records_pulled_total",
			Help:      "Remote records applied to the local store.",
		}),
		recordsPushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hivesync",
			Name:      "records_pushed_total",
			Help:      "Local records accepted by the remote.",
		}),
		pendingRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hivesync",
			Name:      "pending_records",
			Help:      "Local records awaiting push.",
		}),
	}

	reg.MustRegister(
		p.syncsStarted, p.syncsSucceeded, p.syncsFailed, p.retries,
		p.triggersDropped, p.cycleDuration,
		p.recordsPulled, p.recordsPushed, p.pendingRecords,
	)
	return p
}

func (p *Prometheus) RecordSyncStart() {
	p.syncsStarted.Inc()
}

func (p *Prometheus) RecordSyncSuccess(d time.Duration, pulled, pushed int) {
	p.syncsSucceeded.Inc()
	p.cycleDuration.Observe(d.Seconds())
	p.recordsPulled.Add(float64(pulled))
	p.recordsPushed.Add(float64(pushed))
}

func (p *Prometheus) RecordSyncFailure(d time.Duration, kind string) {
	p.syncsFailed.WithLabelValues(kind).Inc()
	p.cycleDuration.Observe(d.Seconds())
}

func (p *Prometheus) RecordRetry() {
	p.retries.Inc()
}

func (p *Prometheus) RecordTriggerDropped(reason string) {
	p.triggersDropped.WithLabelValues(reason).Inc()
}

func (p *Prometheus) RecordPendingRecords(count int) {
	p.pendingRecords.Set(float64(count))
}
