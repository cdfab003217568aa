package reconciliation

import "github.com/prometheus/client_golang/prometheus"

var (
	tenantsSynced = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "carehub",
		Subsystem: "reconciliation",
		Name:      "tenants_synced",
		Help:      "Organizations reconciled successfully in the last run.",
	})

	tenantsFailed = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "carehub",
		Subsystem: "reconciliation",
		Name:      "tenants_failed",
		Help:      "Organizations that failed to reconcile in the last run.",
	})

	lastRun = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "carehub",
		Subsystem: "reconciliation",
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time the last reconciliation run started.",
	})

	runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "carehub",
		Subsystem: "reconciliation",
		Name:      "run_duration_seconds",
		Help:      "Duration of reconciliation runs in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
	})

	runErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "carehub",
		Subsystem: "reconciliation",
		Name:      "errors_total",
		Help:      "Total reconciliation errors.",
	})
)

func init() {
	prometheus.MustRegister(
		tenantsSynced,
		tenantsFailed,
		lastRun,
		runDuration,
		runErrors,
	)
}
