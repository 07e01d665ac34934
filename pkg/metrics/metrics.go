// Package metrics holds the Prometheus instruments for the pipeline, the
// alert evaluator, and the archiver. Everything is registered once at init
// through promauto; packages just bump the counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReadingsLoaded counts sensor rows committed to the store.
	ReadingsLoaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plantsentinel_readings_loaded_total",
		Help: "Sensor readings successfully written to the store.",
	})

	// RecordsDropped counts payloads rejected by validation, by reason.
	RecordsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plantsentinel_records_dropped_total",
		Help: "Raw payloads dropped before load.",
	}, []string{"reason"})

	// ReadingsFlagged counts readings loaded despite an implausible value,
	// by reason. Flagged rows still reach the store; this is the audit trail.
	ReadingsFlagged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plantsentinel_readings_flagged_total",
		Help: "Readings loaded with a warning attached.",
	}, []string{"reason"})

	// FetchFailures counts API fetches that did not yield a payload, by kind.
	FetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plantsentinel_fetch_failures_total",
		Help: "Plant API fetches that failed.",
	}, []string{"kind"})

	// AlertsSent counts recorded alerts, by type.
	AlertsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plantsentinel_alerts_sent_total",
		Help: "Alerts recorded and dispatched.",
	}, []string{"type"})

	// ReadingsArchived counts rows exported and removed by the archiver.
	ReadingsArchived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plantsentinel_readings_archived_total",
		Help: "Sensor readings exported to long-term storage and pruned.",
	})

	// CycleDuration observes how long one run of each job takes.
	CycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "plantsentinel_cycle_duration_seconds",
		Help:    "Wall time of one job cycle.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
)
