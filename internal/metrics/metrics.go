// Package metrics exposes Prometheus collectors for the wallpaper
// distribution service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	attemptsTotal       *prometheus.CounterVec
	duplicatesTotal     *prometheus.CounterVec
	fetchedBytesTotal   prometheus.Counter
	sendDurationSeconds *prometheus.HistogramVec
	skippedTicksTotal   *prometheus.CounterVec
	harvestItemsTotal   *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call more than
// once.
func Init() {
	once.Do(func() {
		attemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walldrop_attempts_total",
				Help: "Delivery attempts, labeled by destination and outcome.",
			},
			[]string{"destination", "outcome"},
		)

		duplicatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walldrop_duplicates_total",
				Help: "Duplicates detected, labeled by match kind.",
			},
			[]string{"kind"},
		)

		fetchedBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "walldrop_fetched_bytes_total",
				Help: "Total payload bytes downloaded from the source catalog.",
			},
		)

		sendDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "walldrop_send_duration_seconds",
				Help:    "Histogram of platform upload latencies, labeled by destination and send kind.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"destination", "kind"},
		)

		skippedTicksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walldrop_scheduler_skipped_ticks_total",
				Help: "Timer firings skipped because the previous attempt was still running.",
			},
			[]string{"destination"},
		)

		harvestItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walldrop_harvest_items_total",
				Help: "Harvested catalog items, labeled by result (added, known, failed).",
			},
			[]string{"result"},
		)
	})
}

// ObserveAttempt counts one finished delivery attempt.
func ObserveAttempt(destination, outcome string) {
	if attemptsTotal != nil {
		attemptsTotal.WithLabelValues(destination, outcome).Inc()
	}
}

// ObserveDuplicate counts one detected duplicate by kind.
func ObserveDuplicate(kind string) {
	if duplicatesTotal != nil {
		duplicatesTotal.WithLabelValues(kind).Inc()
	}
}

// AddFetchedBytes accumulates downloaded payload bytes.
func AddFetchedBytes(n int64) {
	if fetchedBytesTotal != nil && n > 0 {
		fetchedBytesTotal.Add(float64(n))
	}
}

// ObserveSendDuration records one platform upload.
func ObserveSendDuration(destination, kind string, d time.Duration) {
	if sendDurationSeconds != nil {
		sendDurationSeconds.WithLabelValues(destination, kind).Observe(d.Seconds())
	}
}

// ObserveSkippedTick counts a coalesced timer firing.
func ObserveSkippedTick(destination string) {
	if skippedTicksTotal != nil {
		skippedTicksTotal.WithLabelValues(destination).Inc()
	}
}

// ObserveHarvest counts one harvested item by result.
func ObserveHarvest(result string) {
	if harvestItemsTotal != nil {
		harvestItemsTotal.WithLabelValues(result).Inc()
	}
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
