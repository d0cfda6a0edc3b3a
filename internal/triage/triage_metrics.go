package triage

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Hooks are optional callbacks fired by the triage core. Nil funcs are skipped.
type Hooks struct {
	OnClassify   func(level Level, source Source, degradedCause string)
	OnModelCall  func(outcome string, seconds float64)
	OnTransition func(from, to Status)
	OnRejected   func(op, reason string)
	OnAlert      func(kind AlertKind, severity AlertSeverity)
	OnSweep      func(st Statistics, rescored int)
}

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	ClassificationsTotal *prometheus.CounterVec
	DegradedTotal        *prometheus.CounterVec
	ModelDuration        *prometheus.HistogramVec
	TransitionsTotal     *prometheus.CounterVec
	RejectionsTotal      *prometheus.CounterVec
	AlertsTotal          *prometheus.CounterVec
	QueueEntries         *prometheus.GaugeVec
	QueueEntriesByESI    *prometheus.GaugeVec
	MaxWaitMinutes       prometheus.Gauge
	RescoredTotal        prometheus.Counter
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ClassificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acuity_classifications_total",
			Help: "Total classifications by ESI level and source.",
		}, []string{"esi", "source"}),
		DegradedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acuity_classifications_degraded_total",
			Help: "Classifications that fell back to the rule ladder, by cause.",
		}, []string{"cause"}),
		ModelDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "acuity_model_call_duration_seconds",
			Help:    "Duration of model collaborator calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms .. ~5s
		}, []string{"outcome"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acuity_transitions_total",
			Help: "Committed lifecycle transitions.",
		}, []string{"from", "to"}),
		RejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acuity_rejections_total",
			Help: "Rejected queue operations by operation and reason.",
		}, []string{"op", "reason"}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acuity_alerts_total",
			Help: "Alerts raised by kind and severity.",
		}, []string{"kind", "severity"}),
		QueueEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "acuity_queue_entries",
			Help: "Active queue entries by status.",
		}, []string{"status"}),
		QueueEntriesByESI: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "acuity_queue_entries_by_esi",
			Help: "Active queue entries by ESI level.",
		}, []string{"esi"}),
		MaxWaitMinutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "acuity_queue_wait_minutes_max",
			Help: "Longest current wait among waiting patients, in minutes.",
		}),
		RescoredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "acuity_rescored_total",
			Help: "Waiting entries repositioned by aging re-score.",
		}),
	}

	reg.MustRegister(
		m.ClassificationsTotal,
		m.DegradedTotal,
		m.ModelDuration,
		m.TransitionsTotal,
		m.RejectionsTotal,
		m.AlertsTotal,
		m.QueueEntries,
		m.QueueEntriesByESI,
		m.MaxWaitMinutes,
		m.RescoredTotal,
	)

	return m
}

// Hooks returns Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnClassify: func(level Level, source Source, degradedCause string) {
			m.ClassificationsTotal.WithLabelValues(strconv.Itoa(int(level)), string(source)).Inc()
			if degradedCause != "" {
				m.DegradedTotal.WithLabelValues(degradedCause).Inc()
			}
		},
		OnModelCall: func(outcome string, seconds float64) {
			m.ModelDuration.WithLabelValues(outcome).Observe(seconds)
		},
		OnTransition: func(from, to Status) {
			m.TransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
		},
		OnRejected: func(op, reason string) {
			m.RejectionsTotal.WithLabelValues(op, reason).Inc()
		},
		OnAlert: func(kind AlertKind, severity AlertSeverity) {
			m.AlertsTotal.WithLabelValues(string(kind), string(severity)).Inc()
		},
		OnSweep: func(st Statistics, rescored int) {
			for status, n := range st.CountByStatus {
				m.QueueEntries.WithLabelValues(string(status)).Set(float64(n))
			}
			for level, n := range st.CountByESI {
				m.QueueEntriesByESI.WithLabelValues(strconv.Itoa(int(level))).Set(float64(n))
			}
			m.MaxWaitMinutes.Set(st.MaxWaitMinutes)
			m.RescoredTotal.Add(float64(rescored))
		},
	}
}
