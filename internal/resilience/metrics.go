package resilience

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors for operations and breakers.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	attempts *prometheus.CounterVec
	retries  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	circuit  *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memsync",
			Name:      "operation_attempts_total",
			Help:      "Attempts made per operation, labelled by outcome.",
		}, []string{"operation", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memsync",
			Name:      "operation_retries_total",
			Help:      "Retries scheduled per operation and error kind.",
		}, []string{"operation", "kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "memsync",
			Name:      "operation_duration_seconds",
			Help:      "Wall time of an operation including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		circuit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "memsync",
			Name:      "circuit_state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open).",
		}, []string{"breaker"}),
	}

	for _, c := range []prometheus.Collector{m.attempts, m.retries, m.duration, m.circuit} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) attempt(op, outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) retry(op string, kind Kind) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(op, string(kind)).Inc()
}

func (m *Metrics) observe(op string, status Status, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(op, string(status)).Observe(d.Seconds())
}

// CircuitState records a breaker transition. It has the signature expected
// by WithStateChange.
func (m *Metrics) CircuitState(name string, _, to CircuitState) {
	if m == nil {
		return
	}
	m.circuit.WithLabelValues(name).Set(float64(to))
}
