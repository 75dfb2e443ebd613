package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fashcheck_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fashcheck_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	QuotaDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fashcheck_quota_decisions_total",
			Help: "Admission decisions by action, tier and outcome (allowed, denied, error).",
		},
		[]string{"action", "tier", "outcome"},
	)

	QuotaUsageRecordedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fashcheck_quota_usage_recorded_total",
			Help: "Usage events appended to the ledger.",
		},
		[]string{"action"},
	)

	QuotaRecordFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fashcheck_quota_record_failures_total",
			Help: "Successful operations whose usage event could not be appended.",
		},
		[]string{"action"},
	)

	QuotaReservationsReleasedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fashcheck_quota_reservations_released_total",
			Help: "Reserved slots given back after a failed or cancelled operation.",
		},
		[]string{"action"},
	)

	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fashcheck_dispatch_duration_seconds",
			Help:    "Latency of AI operations dispatched to workers.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"action", "status"},
	)

	ActivityEventsPersistedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fashcheck_activity_events_persisted_total",
			Help: "Activity events persisted by the activity consumer.",
		},
		[]string{"activity_type"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		QuotaDecisionsTotal,
		QuotaUsageRecordedTotal,
		QuotaRecordFailuresTotal,
		QuotaReservationsReleasedTotal,
		DispatchDuration,
		ActivityEventsPersistedTotal,
	)
}
