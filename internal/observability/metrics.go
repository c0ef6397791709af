package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus instruments.
type Metrics struct {
	webhookRequests   *prometheus.CounterVec
	webhookDuration   prometheus.Histogram
	reconcileOutcomes *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	cronRuns          *prometheus.CounterVec
}

// NewMetrics registers every instrument on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		webhookRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "easyplanning",
				Subsystem: "webhook",
				Name:      "requests_total",
				Help:      "Webhook requests by HTTP status code",
			},
			[]string{"code"},
		),
		webhookDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "easyplanning",
				Subsystem: "webhook",
				Name:      "duration_seconds",
				Help:      "Time spent handling one webhook request",
				Buckets:   prometheus.DefBuckets,
			},
		),
		reconcileOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "easyplanning",
				Subsystem: "billing",
				Name:      "reconcile_outcomes_total",
				Help:      "Reconciled provider events by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		notifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "easyplanning",
				Subsystem: "notification",
				Name:      "deliveries_total",
				Help:      "Notification delivery attempts by template and result",
			},
			[]string{"template", "result"},
		),
		cronRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "easyplanning",
				Subsystem: "cron",
				Name:      "runs_total",
				Help:      "Scheduled job runs by job and result",
			},
			[]string{"job", "result"},
		),
	}
}

func (m *Metrics) WebhookRequest(code int, took time.Duration) {
	if m == nil {
		return
	}
	m.webhookRequests.WithLabelValues(statusLabel(code)).Inc()
	m.webhookDuration.Observe(took.Seconds())
}

func (m *Metrics) ReconcileOutcome(eventType, outcome string) {
	if m == nil {
		return
	}
	m.reconcileOutcomes.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) NotificationDelivered(template string, err error) {
	if m == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.notifications.WithLabelValues(template, result).Inc()
}

func (m *Metrics) CronRun(job string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.cronRuns.WithLabelValues(job, result).Inc()
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}
