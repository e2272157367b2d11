package outbox

import (
	"github.com/prometheus/client_golang/prometheus"

	"escrowdesk/internal/models"
)

type Metrics struct {
	Processed *prometheus.CounterVec
	Failed    *prometheus.CounterVec
	Dropped   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_events_processed_total",
			Help: "Outbox events delivered to all handlers.",
		}, []string{"event"}),
		Failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_events_failed_total",
			Help: "Failed outbox delivery attempts.",
		}, []string{"event"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_events_dropped_total",
			Help: "Outbox events that exhausted their attempts.",
		}, []string{"event"}),
	}
	if reg != nil {
		reg.MustRegister(m.Processed, m.Failed, m.Dropped)
	}
	return m
}

func (m *Metrics) processed(t models.TradeEventType) {
	if m != nil {
		m.Processed.WithLabelValues(string(t)).Inc()
	}
}

func (m *Metrics) failed(t models.TradeEventType) {
	if m != nil {
		m.Failed.WithLabelValues(string(t)).Inc()
	}
}

func (m *Metrics) dropped(t models.TradeEventType) {
	if m != nil {
		m.Dropped.WithLabelValues(string(t)).Inc()
	}
}
