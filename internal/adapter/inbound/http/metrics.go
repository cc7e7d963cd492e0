package http

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lookym/authgate/internal/domain/auth"
	"github.com/lookym/authgate/internal/domain/session"
	"github.com/lookym/authgate/internal/service"
)

const namespace = "authgate"

// Metrics holds all Prometheus metrics for authgate.
// It is both a session.Observer and a service.OperationRecorder.
type Metrics struct {
	Transitions       *prometheus.CounterVec
	DroppedWrites     *prometheus.CounterVec
	Authenticated     prometheus.Gauge
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Transitions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Total auth state transitions applied by the session store",
			},
			[]string{"from", "to", "source"},
		),
		DroppedWrites: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dropped_writes_total",
				Help:      "Total session store writes that were not applied",
			},
			[]string{"source", "reason"},
		),
		Authenticated: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "authenticated",
				Help:      "1 while a session is held, 0 otherwise",
			},
		),
		Operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total sign-in, sign-up and sign-out operations",
			},
			[]string{"op", "result"}, // result=ok or an error kind
		),
		OperationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Auth operation duration in seconds, provider call included",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests served",
			},
			[]string{"path", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"path"},
		),
	}
}

// ObserveTransition implements session.Observer.
func (m *Metrics) ObserveTransition(from, to auth.State, source session.Source) {
	m.Transitions.WithLabelValues(from.Status.String(), to.Status.String(), string(source)).Inc()
	if to.Status == auth.StatusAuthenticated {
		m.Authenticated.Set(1)
	} else {
		m.Authenticated.Set(0)
	}
}

// ObserveDropped implements session.Observer.
func (m *Metrics) ObserveDropped(source session.Source, reason string) {
	m.DroppedWrites.WithLabelValues(string(source), reason).Inc()
}

// ObserveOperation implements service.OperationRecorder.
func (m *Metrics) ObserveOperation(op, result string, d time.Duration) {
	m.Operations.WithLabelValues(op, result).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(d.Seconds())
}

var (
	_ session.Observer          = (*Metrics)(nil)
	_ service.OperationRecorder = (*Metrics)(nil)
)
