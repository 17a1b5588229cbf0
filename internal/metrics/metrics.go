// Package metrics exposes Prometheus collectors for the archiver service.
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
	archiveEntriesTotal   *prometheus.CounterVec
	archiveBytesTotal     *prometheus.CounterVec
	archivePartsSealed    *prometheus.CounterVec
	archiveDuplicates     *prometheus.CounterVec
	remoteUploadsTotal    *prometheus.CounterVec
	remoteRetriesTotal    *prometheus.CounterVec
	remoteUploadSeconds   *prometheus.HistogramVec
	archiveKeysOpen       prometheus.Gauge
	archiveKeysSkipped    prometheus.Counter
	archiveCloseDurations prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		archiveEntriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_entries_total",
				Help: "Entries appended to containers, labeled by archive type.",
			},
			[]string{"type"},
		)

		archiveBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_bytes_total",
				Help: "Payload bytes appended to containers, labeled by archive type.",
			},
			[]string{"type"},
		)

		archivePartsSealed = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_parts_sealed_total",
				Help: "Container parts sealed, labeled by archive type and reason.",
			},
			[]string{"type", "reason"},
		)

		archiveDuplicates = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_duplicate_entries_total",
				Help: "Entries rejected because the name was already archived.",
			},
			[]string{"type"},
		)

		remoteUploadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_remote_uploads_total",
				Help: "Remote uploads, labeled by object kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		remoteRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_remote_retries_total",
				Help: "Remote operation attempts that failed and were retried.",
			},
			[]string{"op"},
		)

		remoteUploadSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_remote_upload_seconds",
				Help:    "Upload latency, labeled by object kind.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 180, 600},
			},
			[]string{"kind"},
		)

		archiveKeysOpen = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "archiver_keys_open",
				Help: "Archive keys currently holding an open container part.",
			},
		)

		archiveKeysSkipped = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archiver_keys_skipped_total",
				Help: "Keys skipped because the remote index already covers them.",
			},
		)

		archiveCloseDurations = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "archiver_key_close_seconds",
				Help:    "Time spent sealing and uploading during key close.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveEntry records one appended entry and its payload size.
func ObserveEntry(archiveType string, size int) {
	Init()
	archiveEntriesTotal.WithLabelValues(archiveType).Inc()
	if size > 0 {
		archiveBytesTotal.WithLabelValues(archiveType).Add(float64(size))
	}
}

// ObservePartSealed records a sealed part. reason is "threshold", "flush"
// or "close".
func ObservePartSealed(archiveType, reason string) {
	Init()
	archivePartsSealed.WithLabelValues(archiveType, reason).Inc()
}

// ObserveDuplicate records a rejected duplicate entry name.
func ObserveDuplicate(archiveType string) {
	Init()
	archiveDuplicates.WithLabelValues(archiveType).Inc()
}

// ObserveUpload records a finished upload attempt series for one object.
func ObserveUpload(kind, outcome string) {
	Init()
	remoteUploadsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveUploadDuration records how long one successful upload took.
func ObserveUploadDuration(kind string, d time.Duration) {
	Init()
	remoteUploadSeconds.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveRemoteRetry records a failed attempt of a retryable remote op.
func ObserveRemoteRetry(op string) {
	Init()
	remoteRetriesTotal.WithLabelValues(op).Inc()
}

// IncOpenKeys increments the open-keys gauge.
func IncOpenKeys() {
	Init()
	archiveKeysOpen.Inc()
}

// DecOpenKeys decrements the open-keys gauge.
func DecOpenKeys() {
	Init()
	archiveKeysOpen.Dec()
}

// ObserveKeySkipped records a key skipped via the remote existence probe.
func ObserveKeySkipped() {
	Init()
	archiveKeysSkipped.Inc()
}

// ObserveCloseDuration records the duration of a key close.
func ObserveCloseDuration(d time.Duration) {
	Init()
	archiveCloseDurations.Observe(d.Seconds())
}
