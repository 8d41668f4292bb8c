package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "ecowatt_"

	resultSuccess = "success"
	resultError   = "error"
)

// Command result labels.
const (
	CommandResultOK      = "ok"
	CommandResultTimeout = "timeout"
	CommandResultError   = "error"
	CommandResultDevice  = "device_error"
)

var (
	registerOnce sync.Once

	ingestSamples    *prometheus.CounterVec
	ingestDropped    *prometheus.CounterVec
	seriesWriteFails prometheus.Counter

	alertsRaised *prometheus.CounterVec

	commandRequests prometheus.Counter
	commandResults  *prometheus.CounterVec
	commandLatency  prometheus.Histogram

	detectorScans    *prometheus.CounterVec
	detectorDuration prometheus.Histogram
)

// Init registers the service metrics. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		ingestSamples = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_samples_total",
				Help: "Total ingested samples by result",
			},
			[]string{"result"},
		)
		ingestDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_dropped_total",
				Help: "Total dropped samples by reason",
			},
			[]string{"reason"},
		)
		seriesWriteFails = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "series_write_failures_total",
				Help: "Total swallowed series write failures",
			},
		)

		alertsRaised = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_raised_total",
				Help: "Total alerts raised by kind",
			},
			[]string{"kind"},
		)

		commandRequests = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_requests_total",
				Help: "Total dispatched device commands",
			},
		)
		commandResults = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_results_total",
				Help: "Total device command results by status",
			},
			[]string{"status"},
		)
		commandLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "command_roundtrip_seconds",
				Help:    "Device command round-trip latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)

		detectorScans = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "detector_scans_total",
				Help: "Total per-device detector scans by result",
			},
			[]string{"result"},
		)
		detectorDuration = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "detector_batch_seconds",
				Help:    "Duration of one detector batch in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)

		prometheus.MustRegister(
			ingestSamples,
			ingestDropped,
			seriesWriteFails,
			alertsRaised,
			commandRequests,
			commandResults,
			commandLatency,
			detectorScans,
			detectorDuration,
		)
	})
}

// IncIngestSample counts one accepted or failed sample.
func IncIngestSample(ok bool) {
	if ingestSamples == nil {
		return
	}
	if ok {
		ingestSamples.WithLabelValues(resultSuccess).Inc()
	} else {
		ingestSamples.WithLabelValues(resultError).Inc()
	}
}

// IncIngestDropped counts one dropped sample by reason.
func IncIngestDropped(reason string) {
	if ingestDropped == nil {
		return
	}
	ingestDropped.WithLabelValues(reason).Inc()
}

// IncSeriesWriteFailure counts one swallowed store write failure.
func IncSeriesWriteFailure() {
	if seriesWriteFails == nil {
		return
	}
	seriesWriteFails.Inc()
}

// IncAlertRaised counts one alert by kind.
func IncAlertRaised(kind string) {
	if alertsRaised == nil {
		return
	}
	alertsRaised.WithLabelValues(kind).Inc()
}

// IncCommandRequest counts one dispatched command.
func IncCommandRequest() {
	if commandRequests == nil {
		return
	}
	commandRequests.Inc()
}

// IncCommandResult counts one command outcome.
func IncCommandResult(status string) {
	if commandResults == nil {
		return
	}
	commandResults.WithLabelValues(status).Inc()
}

// ObserveCommandLatency records one command round trip.
func ObserveCommandLatency(d time.Duration) {
	if commandLatency == nil {
		return
	}
	commandLatency.Observe(d.Seconds())
}

// IncDetectorScan counts one per-device scan by result.
func IncDetectorScan(ok bool) {
	if detectorScans == nil {
		return
	}
	if ok {
		detectorScans.WithLabelValues(resultSuccess).Inc()
	} else {
		detectorScans.WithLabelValues(resultError).Inc()
	}
}

// ObserveDetectorBatch records the duration of one detector batch.
func ObserveDetectorBatch(d time.Duration) {
	if detectorDuration == nil {
		return
	}
	detectorDuration.Observe(d.Seconds())
}
