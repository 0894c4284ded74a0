package metrics

import (
	"database/sql"
	"log"

	"github.com/prometheus/client_golang/prometheus"
)

func registerDBMetrics(db *sql.DB, logger *log.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "suggestions_pending",
			Help: "Execution records still awaiting accept or dismiss",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM rule_executions WHERE result = 'suggested'")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "reminders_unacked",
			Help: "Reminder entries without an acknowledgement",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM reminder_log WHERE acked_at IS NULL")
		},
	))
}

func queryCount(db *sql.DB, logger *log.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Printf("metrics query failed: %v", err)
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
