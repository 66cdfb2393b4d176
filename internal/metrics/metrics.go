// Package metrics owns the prometheus collectors of the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "goalstake"

var (
	// Registry holds the application collectors plus the go/process defaults.
	Registry = prometheus.NewRegistry()

	settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "settlements_total",
			Help:      "Settle calls by entry kind and result.",
		},
		[]string{"kind", "result"},
	)

	settleConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "version_conflicts_total",
			Help:      "Compare-and-commit conflicts that forced a settle retry.",
		},
	)

	goalResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "goals",
			Name:      "resolutions_total",
			Help:      "Goals moved into a terminal state.",
		},
		[]string{"outcome"},
	)

	collaboratorFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "goals",
			Name:      "collaborator_settlement_failures_total",
			Help:      "Collaborator settlements that failed and need a retry.",
		},
	)

	alarmEvaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alarms",
			Name:      "evaluations_total",
			Help:      "Alarm window evaluations by result.",
		},
		[]string{"result"},
	)

	schedulerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Scheduled job runs by job and result.",
		},
		[]string{"job", "result"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		settlements,
		settleConflicts,
		goalResolutions,
		collaboratorFailures,
		alarmEvaluations,
		schedulerRuns,
		httpRequests,
		httpDuration,
	)
}

// Handler exposes the registry for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordSettlement(kind, result string) {
	settlements.WithLabelValues(kind, result).Inc()
}

func RecordSettleConflict() {
	settleConflicts.Inc()
}

func RecordGoalResolution(outcome string) {
	goalResolutions.WithLabelValues(outcome).Inc()
}

func RecordCollaboratorFailures(n int) {
	if n > 0 {
		collaboratorFailures.Add(float64(n))
	}
}

func RecordAlarmEvaluation(result string) {
	alarmEvaluations.WithLabelValues(result).Inc()
}

func RecordSchedulerRun(job string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	schedulerRuns.WithLabelValues(job, result).Inc()
}

func RecordHTTPRequest(method, route string, status int, d time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
