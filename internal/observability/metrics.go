package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "escalation"

// Metrics holds the Prometheus collectors for the service. A nil *Metrics is
// a valid no-op recorder.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errors          *prometheus.CounterVec

	issuesOpened     prometheus.Counter
	issuesSuppressed *prometheus.CounterVec
	issuesEscalated  *prometheus.CounterVec
	issuesExhausted  prometheus.Counter
	transitions      *prometheus.CounterVec
	reports          prometheus.Counter
	staleRetries     prometheus.Counter

	sweepDuration prometheus.Histogram
	sweepOutcomes *prometheus.CounterVec
	notifications *prometheus.CounterVec
	cooldownClear prometheus.Counter
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status",
		}, []string{"route", "method", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and method",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_errors_total",
			Help:      "HTTP error responses by route, method and error code",
		}, []string{"route", "method", "code"}),
		issuesOpened: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "issues_opened_total",
			Help:      "Issues opened from critical check results",
		}),
		issuesSuppressed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "issues_suppressed_total",
			Help:      "Critical results that did not open an issue, by reason",
		}, []string{"reason"}),
		issuesEscalated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "issues_escalated_total",
			Help:      "Escalations by target level",
		}, []string{"level"}),
		issuesExhausted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "issues_exhausted_total",
			Help:      "Issues that ran out of escalation levels",
		}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "issue_status_changes_total",
			Help:      "Human status changes by target status and actor kind",
		}, []string{"status", "actor"}),
		reports: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "issue_reports_total",
			Help:      "Reports added to issues",
		}),
		staleRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_write_retries_total",
			Help:      "Writes retried after a concurrent modification",
		}),
		sweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Scheduler sweep duration",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}),
		sweepOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_issues_total",
			Help:      "Issues visited by the scheduler, by outcome",
		}, []string{"outcome"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification attempts by kind and result",
		}, []string{"kind", "result"}),
		cooldownClear: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cooldowns_cleared_total",
			Help:      "Cooldown entries removed by administrative clear",
		}),
	}
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(route, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(route, method, code).Inc()
}

func (m *Metrics) IssueOpened() {
	if m == nil {
		return
	}
	m.issuesOpened.Inc()
}

// IssueSuppressed counts a cooldown or already-open suppression.
func (m *Metrics) IssueSuppressed(reason string) {
	if m == nil {
		return
	}
	m.issuesSuppressed.WithLabelValues(reason).Inc()
}

func (m *Metrics) IssueEscalated(level int) {
	if m == nil {
		return
	}
	m.issuesEscalated.WithLabelValues(strconv.Itoa(level)).Inc()
}

func (m *Metrics) IssueExhausted() {
	if m == nil {
		return
	}
	m.issuesExhausted.Inc()
}

func (m *Metrics) StatusChanged(status, actor string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status, actor).Inc()
}

func (m *Metrics) ReportAdded() {
	if m == nil {
		return
	}
	m.reports.Inc()
}

func (m *Metrics) StaleRetry() {
	if m == nil {
		return
	}
	m.staleRetries.Inc()
}

// SweepFinished records one scheduler tick.
func (m *Metrics) SweepFinished(duration time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(duration.Seconds())
}

// SweepOutcome counts a per-issue sweep result: escalated, exhausted, skipped, failed.
func (m *Metrics) SweepOutcome(outcome string) {
	if m == nil {
		return
	}
	m.sweepOutcomes.WithLabelValues(outcome).Inc()
}

// Notification counts a delivery attempt. result is "sent" or "failed".
func (m *Metrics) Notification(kind, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) CooldownsCleared(n int) {
	if m == nil {
		return
	}
	m.cooldownClear.Add(float64(n))
}
