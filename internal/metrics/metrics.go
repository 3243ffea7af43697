// Package metrics holds the pipeline's Prometheus collectors.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "etl"

var ChangesDetected = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "changes_detected_total",
	Help:      "Changed rows reported by the poller.",
}, []string{"table"})

var DocumentsIndexed = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "documents_indexed_total",
	Help:      "Documents upserted into the search index.",
}, []string{"collection"})

var Retries = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "retries_total",
	Help:      "Failed attempts against an external store that were retried.",
}, []string{"target"})

var PollDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "poll_duration_seconds",
	Help:      "Wall time of one poll pass over every watched table.",
	Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
})

var WatermarkTimestamp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "watermark_timestamp_seconds",
	Help:      "Current watermark per table as a Unix timestamp.",
}, []string{"table"})

var RebuildDuration = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "rebuild_duration_seconds",
	Help:      "Wall time of the last full rebuild.",
})

// Collectors returns every collector in this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		ChangesDetected,
		DocumentsIndexed,
		Retries,
		PollDuration,
		WatermarkTimestamp,
		RebuildDuration,
	}
}

// Register adds the collectors to reg. Registering twice is not an error.
func Register(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}
