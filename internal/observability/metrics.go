package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/iamwavecut/ngguard/internal/event"
)

const namespace = "ngguard"

// Metrics holds the process counters. Each instance owns its registry so
// tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	moderationActions  *prometheus.CounterVec
	admissionDecisions *prometheus.CounterVec
	captchaOutcomes    *prometheus.CounterVec
	casChecks          *prometheus.CounterVec
	updateDuration     *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		moderationActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "moderation_actions_total",
			Help:      "Moderation actions by kind and result.",
		}, []string{"kind", "result"}),
		admissionDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_decisions_total",
			Help:      "Admission gate decisions for joining members.",
		}, []string{"decision"}),
		captchaOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captcha_outcomes_total",
			Help:      "Captcha lifecycle outcomes.",
		}, []string{"outcome"}),
		casChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cas_checks_total",
			Help:      "CAS lookups by result.",
		}, []string{"result"}),
		updateDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "update_duration_seconds",
			Help:      "Time spent processing one update.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
	}
	m.registry.MustRegister(
		m.moderationActions,
		m.admissionDecisions,
		m.captchaOutcomes,
		m.casChecks,
		m.updateDuration,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Record is an event bus subscriber.
func (m *Metrics) Record(_ context.Context, e event.Event) {
	switch ev := e.(type) {
	case event.ModerationEvent:
		kind := ev.Action
		if ev.Undo {
			kind = "undo_" + kind
		}
		m.moderationActions.WithLabelValues(kind, ev.Result).Inc()
	case event.AdmissionEvent:
		m.admissionDecisions.WithLabelValues(ev.Decision).Inc()
	case event.CaptchaEvent:
		m.captchaOutcomes.WithLabelValues(ev.Outcome).Inc()
	}
}

func (m *Metrics) ObserveCAS(result string) {
	m.casChecks.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveUpdate(d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.updateDuration.WithLabelValues(status).Observe(d.Seconds())
}
