package counter

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// 操作结果的label
const (
	resultOK          = "ok"
	resultInvalid     = "invalid"
	resultTimeout     = "timeout"
	resultUnavailable = "unavailable"
)

// Metrics is the prometheus collectors of the counter engine
type Metrics struct {
	ops      *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	negative *prometheus.CounterVec
	drift    *prometheus.CounterVec
}

// NewMetrics create the collectors and register them to reg
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "counter",
			Name:      "ops_total",
			Help:      "Total counter operations by op, field and result",
		}, []string{"op", "field", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "counter",
			Name:      "op_seconds",
			Help:      "Counter store round-trip latency in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"op"}),
		negative: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "counter",
			Name:      "negative_results_total",
			Help:      "Decrements that left a counter below zero",
		}, []string{"field"}),
		drift: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "counter",
			Name:      "reconcile_drift_total",
			Help:      "Counters corrected by reconciliation",
		}, []string{"field"}),
	}
	if reg != nil {
		for _, collector := range []prometheus.Collector{m.ops, m.latency, m.negative, m.drift} {
			if err := reg.Register(collector); err != nil {
				return nil, errors.Wrap(err, "register counter metrics")
			}
		}
	}
	return m, nil
}

func (m *Metrics) observe(op, field string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(op, field, resultLabel(err)).Inc()
	m.latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) negativeResult(field string) {
	if m == nil {
		return
	}
	m.negative.WithLabelValues(field).Inc()
}

func (m *Metrics) reconcileDrift(field string) {
	if m == nil {
		return
	}
	m.drift.WithLabelValues(field).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return resultOK
	case IsValidationError(err):
		return resultInvalid
	case errors.Is(err, ErrTimeout):
		return resultTimeout
	default:
		return resultUnavailable
	}
}
