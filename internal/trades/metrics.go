package trades

import (
	"github.com/prometheus/client_golang/prometheus"

	"escrowdesk/internal/models"
)

type Metrics struct {
	Transitions *prometheus.CounterVec
	Failures    *prometheus.CounterVec
}

func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trade_transitions_total",
				Help: "Total committed trade status transitions.",
			},
			[]string{"action", "status"},
		),
		Failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trade_transition_failures_total",
				Help: "Total rejected or failed trade actions.",
			},
			[]string{"action", "code"},
		),
	}
	if registry != nil {
		registry.MustRegister(m.Transitions, m.Failures)
	}
	return m
}

func (m *Metrics) transition(action models.TradeAction, to models.TradeStatus) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(string(action), string(to)).Inc()
}

func (m *Metrics) failure(action models.TradeAction, err error) {
	if m == nil {
		return
	}
	code := string(CodeOf(err))
	if code == "" {
		code = "INTERNAL"
	}
	m.Failures.WithLabelValues(string(action), code).Inc()
}
