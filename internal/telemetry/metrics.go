package telemetry

import "github.com/prometheus/client_golang/prometheus"

var ProbesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "pulsecheck",
		Subsystem: "probe",
		Name:      "total",
		Help:      "Total number of probes executed, by result kind.",
	},
	[]string{"kind"},
)

var ProbeDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "pulsecheck",
		Subsystem: "probe",
		Name:      "duration_seconds",
		Help:      "Probe latency in seconds.",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	},
	[]string{"kind"},
)

var SchedulerTicksTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "pulsecheck",
		Subsystem: "scheduler",
		Name:      "ticks_total",
		Help:      "Total number of scheduler ticks run.",
	},
)

var SchedulerDueSkippedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "pulsecheck",
		Subsystem: "scheduler",
		Name:      "due_skipped_total",
		Help:      "Total number of due endpoints left for the next tick because the concurrency budget was exhausted.",
	},
)

var SchedulerInFlightGauge = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "pulsecheck",
		Subsystem: "scheduler",
		Name:      "in_flight",
		Help:      "Number of endpoints currently being probed.",
	},
)

var IncidentsOpenedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "pulsecheck",
		Subsystem: "incidents",
		Name:      "opened_total",
		Help:      "Total number of incidents opened.",
	},
)

var IncidentsResolvedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "pulsecheck",
		Subsystem: "incidents",
		Name:      "resolved_total",
		Help:      "Total number of incidents resolved.",
	},
)

var AlertsCreatedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "pulsecheck",
		Subsystem: "alerts",
		Name:      "created_total",
		Help:      "Total number of alerts created, by kind and severity.",
	},
	[]string{"kind", "severity"},
)

var AlertsDedupedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "pulsecheck",
		Subsystem: "alerts",
		Name:      "deduplicated_total",
		Help:      "Total number of alert events dropped by the dedup window.",
	},
)

var AlertsDeliveredTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "pulsecheck",
		Subsystem: "alerts",
		Name:      "delivered_total",
		Help:      "Total number of alert delivery attempts, by channel and outcome.",
	},
	[]string{"channel", "outcome"},
)

// All returns all pulsecheck-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		ProbesTotal,
		ProbeDuration,
		SchedulerTicksTotal,
		SchedulerDueSkippedTotal,
		SchedulerInFlightGauge,
		IncidentsOpenedTotal,
		IncidentsResolvedTotal,
		AlertsCreatedTotal,
		AlertsDedupedTotal,
		AlertsDeliveredTotal,
	}
}
