package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	apiRequestsTotal  *prometheus.CounterVec
	apiLatencySeconds *prometheus.HistogramVec
	apiErrorsTotal    *prometheus.CounterVec

	assessmentTransitionsTotal *prometheus.CounterVec
	analysisJobsTotal          *prometheus.CounterVec
	analysisDurationSeconds    prometheus.Histogram

	notificationsPublishedTotal *prometheus.CounterVec
	realtimeConnectionsActive   prometheus.Gauge
	realtimeSendFailuresTotal   prometheus.Counter
	observerFailuresTotal       *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used across the service.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_errors_total",
			Help: "Total number of error responses returned by API endpoints.",
		}, []string{"method", "route", "status"})

		assessmentTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assessment_transitions_total",
			Help: "Assessment status transitions applied.",
		}, []string{"from", "to"})

		analysisJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analysis_jobs_total",
			Help: "Background job outcomes by job name.",
		}, []string{"job", "outcome"})

		analysisDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "analysis_duration_seconds",
			Help:    "Time spent calling the speech analysis provider.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		})

		notificationsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_published_total",
			Help: "Notifications raised by type.",
		}, []string{"type"})

		realtimeConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_connections_active",
			Help: "Websocket channels currently registered on this node.",
		})

		realtimeSendFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "realtime_send_failures_total",
			Help: "Channel writes that failed and caused a disconnect.",
		})

		observerFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_observer_failures_total",
			Help: "Dispatcher observers that returned an error or panicked.",
		}, []string{"observer"})

		prometheus.MustRegister(
			apiRequestsTotal,
			apiLatencySeconds,
			apiErrorsTotal,
			assessmentTransitionsTotal,
			analysisJobsTotal,
			analysisDurationSeconds,
			notificationsPublishedTotal,
			realtimeConnectionsActive,
			realtimeSendFailuresTotal,
			observerFailuresTotal,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// AssessmentTransitions counts applied status changes.
func AssessmentTransitions() *prometheus.CounterVec {
	RegisterMetrics()
	return assessmentTransitionsTotal
}

// AnalysisJobs counts job outcomes.
func AnalysisJobs() *prometheus.CounterVec {
	RegisterMetrics()
	return analysisJobsTotal
}

// AnalysisDuration observes provider latency.
func AnalysisDuration() prometheus.Histogram {
	RegisterMetrics()
	return analysisDurationSeconds
}

// NotificationsPublished counts raised notifications.
func NotificationsPublished() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationsPublishedTotal
}

// RealtimeConnections tracks registered channels.
func RealtimeConnections() prometheus.Gauge {
	RegisterMetrics()
	return realtimeConnectionsActive
}

// RealtimeSendFailures counts failed channel writes.
func RealtimeSendFailures() prometheus.Counter {
	RegisterMetrics()
	return realtimeSendFailuresTotal
}

// ObserverFailures counts failed dispatcher observers.
func ObserverFailures() *prometheus.CounterVec {
	RegisterMetrics()
	return observerFailuresTotal
}
