package metrics

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// registerDBMetrics wires gauge funcs backed by live queries. Each
// scrape issues a short read; failures report zero and log once per
// scrape rather than failing the scrape.
func registerDBMetrics(db *sql.DB, logger zerolog.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: metricPrefix + "outbox_pending",
		Help: "Events waiting in the outbox.",
	}, func() float64 {
		return queryCount(db, logger, `SELECT COUNT(*) FROM event_outbox WHERE dispatched_at IS NULL`)
	}))

	prometheus.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: metricPrefix + "dead_letter_events",
		Help: "Events parked in the dead letter table.",
	}, func() float64 {
		return queryCount(db, logger, `SELECT COUNT(*) FROM dead_letter_events`)
	}))

	prometheus.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: metricPrefix + "devices_active",
		Help: "Devices currently considered online.",
	}, func() float64 {
		return queryCount(db, logger, `SELECT COUNT(*) FROM devices WHERE active = TRUE`)
	}))

	prometheus.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: metricPrefix + "alarms_open",
		Help: "Unacknowledged alarms.",
	}, func() float64 {
		return queryCount(db, logger, `SELECT COUNT(*) FROM alarms WHERE acknowledged = FALSE`)
	}))
}

func queryCount(db *sql.DB, logger zerolog.Logger, query string) float64 {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var count float64
	if err := db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		logger.Warn().Err(err).Str("query", query).Msg("metrics query failed")
		return 0
	}
	return count
}
