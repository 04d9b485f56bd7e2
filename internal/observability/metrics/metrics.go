package metrics

import (
	"database/sql"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const metricPrefix = "gasgrid_"

const resultSuccess = "success"

var (
	registerOnce sync.Once

	ingestMessages      *prometheus.CounterVec
	ingestLatency       *prometheus.HistogramVec
	malformedReadings   *prometheus.CounterVec
	duplicateReadings   prometheus.Counter
	readingsInserted    prometheus.Counter
	alarmEvents         *prometheus.CounterVec
	livenessTransitions *prometheus.CounterVec
	notifyDeliveries    *prometheus.CounterVec
	wsClients           prometheus.Gauge
	cacheLookups        *prometheus.CounterVec
	sweepLatency        prometheus.Histogram
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Init registers all metrics exactly once. The db handle is optional;
// when present, gauge funcs for queue depth and fleet state are added.
func Init(db *sql.DB, logger zerolog.Logger) {
	registerOnce.Do(func() {
		ingestMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "ingest_messages_total",
			Help: "MQTT messages processed by result.",
		}, []string{"result"})

		ingestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricPrefix + "ingest_duration_seconds",
			Help:    "End-to-end ingest handling latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"result"})

		malformedReadings = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "malformed_readings_total",
			Help: "Readings rejected before persistence by reason.",
		}, []string{"reason"})

		duplicateReadings = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "duplicate_readings_total",
			Help: "Readings dropped by the client/timestamp dedup guard.",
		})

		readingsInserted = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "readings_inserted_total",
			Help: "Readings persisted to storage.",
		})

		alarmEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "alarm_events_total",
			Help: "Alarm lifecycle events by type.",
		}, []string{"event"})

		livenessTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "liveness_transitions_total",
			Help: "Device online/offline transitions by direction.",
		}, []string{"direction"})

		notifyDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "notify_deliveries_total",
			Help: "Notification channel deliveries by channel and result.",
		}, []string{"channel", "result"})

		wsClients = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "websocket_clients",
			Help: "Connected websocket subscribers.",
		})

		cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "cache_lookups_total",
			Help: "Dashboard cache lookups by outcome.",
		}, []string{"outcome"})

		sweepLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "liveness_sweep_duration_seconds",
			Help:    "Liveness sweep duration.",
			Buckets: prometheus.DefBuckets,
		})

		prometheus.MustRegister(
			ingestMessages,
			ingestLatency,
			malformedReadings,
			duplicateReadings,
			readingsInserted,
			alarmEvents,
			livenessTransitions,
			notifyDeliveries,
			wsClients,
			cacheLookups,
			sweepLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records one ingest attempt and its duration.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestMessages != nil {
		ingestMessages.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncMalformedReading increments the malformed counter.
func IncMalformedReading(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if malformedReadings != nil {
		malformedReadings.WithLabelValues(reason).Inc()
	}
}

// IncDuplicateReading increments the dedup counter.
func IncDuplicateReading() {
	if duplicateReadings != nil {
		duplicateReadings.Inc()
	}
}

// IncReadingInserted increments the persisted-readings counter.
func IncReadingInserted() {
	if readingsInserted != nil {
		readingsInserted.Inc()
	}
}

// IncAlarmEvent increments alarm event counter by type
// (triggered, escalated, deescalated, suppressed, acknowledged).
func IncAlarmEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	if alarmEvents != nil {
		alarmEvents.WithLabelValues(event).Inc()
	}
}

// IncLivenessTransition increments the transition counter
// (direction is "online" or "offline").
func IncLivenessTransition(direction string) {
	if direction == "" {
		direction = "unknown"
	}
	if livenessTransitions != nil {
		livenessTransitions.WithLabelValues(direction).Inc()
	}
}

// IncNotifyDelivery increments delivery counter for a channel.
func IncNotifyDelivery(channel, result string) {
	if channel == "" {
		channel = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if notifyDeliveries != nil {
		notifyDeliveries.WithLabelValues(channel, result).Inc()
	}
}

// AddWSClients adjusts the connected websocket client gauge.
func AddWSClients(delta int) {
	if wsClients != nil {
		wsClients.Add(float64(delta))
	}
}

// IncCacheLookup records a dashboard cache outcome ("hit" or "miss").
func IncCacheLookup(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if cacheLookups != nil {
		cacheLookups.WithLabelValues(outcome).Inc()
	}
}

// ObserveSweep records one liveness sweep duration.
func ObserveSweep(duration time.Duration) {
	if sweepLatency != nil {
		sweepLatency.Observe(duration.Seconds())
	}
}
