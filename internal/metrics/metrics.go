// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Registry *prometheus.Registry

	// FetchOutcomes counts upstream profile fetches by outcome kind.
	FetchOutcomes *prometheus.CounterVec
	FetchDuration prometheus.Histogram

	// PrunedRows counts rows deleted from each table by reconciliation.
	PrunedRows  *prometheus.CounterVec
	SinkErrors  *prometheus.CounterVec
	Batches     prometheus.Counter
	Cycles      prometheus.Counter
	TickErrors  prometheus.Counter
	RosterSize  prometheus.Gauge
	OnlinePeak  prometheus.Gauge
	OnlineNow   prometheus.Gauge
	SnapshotsOK prometheus.Counter
	ParseErrors prometheus.Counter
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		FetchOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_fetch_outcomes_total",
			Help: "Profile fetches by outcome",
		}, []string{"outcome"}),
		FetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_fetch_duration_seconds",
			Help:    "Profile fetch latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 8),
		}),
		PrunedRows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_pruned_rows_total",
			Help: "Rows removed because their member left the roster",
		}, []string{"table"}),
		SinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_sink_errors_total",
			Help: "Failed sink operations by table and step",
		}, []string{"table", "step"}),
		Batches: f.NewCounter(prometheus.CounterOpts{
			Name: "bridge_batches_total",
			Help: "Enrichment batches processed",
		}),
		Cycles: f.NewCounter(prometheus.CounterOpts{
			Name: "bridge_cycles_total",
			Help: "Enrichment cycles completed",
		}),
		TickErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "bridge_tick_errors_total",
			Help: "Ticks that ended with an error",
		}),
		RosterSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_roster_size",
			Help: "Members in the last reconciled roster",
		}),
		OnlinePeak: f.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_online_peak",
			Help: "Highest online count in the event log",
		}),
		OnlineNow: f.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_online_current",
			Help: "Online count of the latest sample",
		}),
		SnapshotsOK: f.NewCounter(prometheus.CounterOpts{
			Name: "bridge_snapshots_applied_total",
			Help: "Snapshots decoded and applied",
		}),
		ParseErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "bridge_snapshot_parse_errors_total",
			Help: "Snapshot reads that failed to decode",
		}),
	}
}
