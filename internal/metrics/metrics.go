// Package metrics exposes Prometheus gauges and counters for the sync
// engine: GaugeVec/CounterVec declared as package vars, registered
// once from init, served behind promhttp.Handler() rather than
// threading a registry object through every component.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LiveWorkers tracks how many TransferIntents are currently
	// persisted in a non-terminal status, by sync group and status.
	LiveWorkers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "alist_sync_live_workers",
			Help: "Number of in-flight transfer workers by group and status",
		},
		[]string{"group", "status"},
	)

	// TransfersTotal counts terminal transfers by group, kind, and
	// outcome (done/failed).
	TransfersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alist_sync_transfers_total",
			Help: "Total number of finished transfers by group, kind, and outcome",
		},
		[]string{"group", "kind", "status"},
	)

	// BytesTransferred accumulates the SourceSize of every completed
	// copy, by sync group.
	BytesTransferred = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alist_sync_bytes_transferred_total",
			Help: "Total bytes transferred by sync group",
		},
		[]string{"group"},
	)

	// ScanItemsTotal counts every item a Scanner emits, by member root.
	ScanItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alist_sync_scan_items_total",
			Help: "Total number of items observed during a scan, by root",
		},
		[]string{"root"},
	)

	// PathClientRequestsTotal counts outgoing Path Client calls by
	// server and operation.
	PathClientRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alist_sync_pathclient_requests_total",
			Help: "Total number of upstream Path Client requests by server and operation",
		},
		[]string{"server", "op"},
	)

	// PathClientRequestDuration observes how long each Path Client call
	// took, by operation.
	PathClientRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alist_sync_pathclient_request_duration_seconds",
			Help:    "Path Client request duration in seconds by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// LockedURIs reports the current size of a sync group's lock
	// registry, a proxy for how much work is in flight.
	LockedURIs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "alist_sync_locked_uris",
			Help: "Number of URIs currently claimed in a sync group's lock registry",
		},
		[]string{"group"},
	)
)

func init() {
	prometheus.MustRegister(
		LiveWorkers,
		TransfersTotal,
		BytesTransferred,
		ScanItemsTotal,
		PathClientRequestsTotal,
		PathClientRequestDuration,
		LockedURIs,
	)
}

// Handler returns the HTTP handler the CLI mounts at /metrics when
// --metrics-addr is set.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times one operation for later recording against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDurationVec records elapsed time against a labeled histogram.
func (t *Timer) ObserveDurationVec(h prometheus.ObserverVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
