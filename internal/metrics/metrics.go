// Package metrics holds the prometheus collectors for scans, the message
// bus, the mutation watcher and downloads.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "imagepicker"

var (
	// scansTotal counts discovery passes by trigger and outcome.
	scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Total number of discovery scans",
		},
		[]string{"trigger", "status"}, // trigger: panel, watcher; status: success, error
	)

	// scanImages is a histogram of descriptors returned per scan.
	scanImages = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_images",
			Help:      "Number of image descriptors produced by a scan",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	// messagesTotal counts bus deliveries.
	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Total number of bus messages by action and outcome",
		},
		[]string{"action", "outcome"}, // outcome: delivered, dropped, no_receiver, error
	)

	// watcherAdditions counts descriptors surfaced by the mutation watcher.
	watcherAdditions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watcher_added_images_total",
			Help:      "Total number of images surfaced by the mutation watcher",
		},
	)

	// overlaysActive is the number of overlays currently shown.
	overlaysActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "overlays_active",
			Help:      "Number of overlays currently visible",
		},
	)

	// downloadsTotal counts individual download requests.
	downloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Total number of download requests",
		},
		[]string{"status"}, // status: success, error
	)

	// batchDuration is a histogram of whole download batch durations.
	batchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_batch_duration_seconds",
			Help:      "Duration of a download batch in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// statusTotal counts status lines shown by the control panel.
	statusTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "panel_status_total",
			Help:      "Total number of panel status messages by kind",
		},
		[]string{"kind"},
	)

	allMetrics = []prometheus.Collector{
		scansTotal,
		scanImages,
		messagesTotal,
		watcherAdditions,
		overlaysActive,
		downloadsTotal,
		batchDuration,
		statusTotal,
	}
)

// RecordScan records a finished discovery pass.
func RecordScan(trigger, status string, images int) {
	scansTotal.WithLabelValues(trigger, status).Inc()
	if status == "success" {
		scanImages.Observe(float64(images))
	}
}

// RecordMessage records one bus delivery attempt.
func RecordMessage(action, outcome string) {
	messagesTotal.WithLabelValues(action, outcome).Inc()
}

// RecordWatcherAdditions records images surfaced by a re-scan.
func RecordWatcherAdditions(n int) {
	if n > 0 {
		watcherAdditions.Add(float64(n))
	}
}

// RecordOverlayShown records an overlay becoming visible.
func RecordOverlayShown() {
	overlaysActive.Inc()
}

// RecordOverlayClosed records an overlay being dismissed.
func RecordOverlayClosed() {
	overlaysActive.Dec()
}

// RecordDownload records one item of a batch.
func RecordDownload(status string) {
	downloadsTotal.WithLabelValues(status).Inc()
}

// RecordBatch records a completed download batch.
func RecordBatch(durationSeconds float64) {
	batchDuration.Observe(durationSeconds)
}

// RecordStatus records a status line shown to the user.
func RecordStatus(kind string) {
	statusTotal.WithLabelValues(kind).Inc()
}
