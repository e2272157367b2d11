package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"escrowdesk/internal/models"
)

const (
	HeaderIdempotencyKey = "idempotency-key"
	HeaderEventType      = "event-type"
)

type Metrics struct {
	PublishTotal   *prometheus.CounterVec
	PublishLatency prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trade_events_publish_total",
			Help: "Trade event publish attempts.",
		}, []string{"topic", "status"}),
		PublishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trade_events_publish_latency_seconds",
			Help:    "Trade event publish latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.PublishTotal, m.PublishLatency)
	}
	return m
}

// Publisher публикует события сделок в kafka. Ключ сообщения — id сделки,
// поэтому события одной сделки попадают в одну партицию по порядку.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	metrics  *Metrics
	log      *zap.Logger
}

func NewPublisher(producer sarama.SyncProducer, topic string, metrics *Metrics, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{producer: producer, topic: topic, metrics: metrics, log: log}
}

// Dial подключается к брокерам идемпотентным синхронным продьюсером.
func Dial(brokers []string, topic string, metrics *Metrics, log *zap.Logger) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_7_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 250 * time.Millisecond

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewPublisher(producer, topic, metrics, log), nil
}

// Handle публикует событие; ошибка возвращается outbox для повторной попытки.
func (p *Publisher) Handle(ctx context.Context, ev models.TradeEvent) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal trade event: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(strconv.FormatUint(uint64(ev.Trade.ID), 10)),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderIdempotencyKey), Value: []byte(ev.EventID)},
			{Key: []byte(HeaderEventType), Value: []byte(ev.Type)},
		},
	}
	start := time.Now()
	partition, offset, err := p.producer.SendMessage(msg)
	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.PublishTotal.WithLabelValues(p.topic, status).Inc()
		p.metrics.PublishLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("kafka publish failed: %w", err)
	}
	p.log.Debug("trade event published",
		zap.Uint("trade_id", ev.Trade.ID),
		zap.String("event", string(ev.Type)),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

func (p *Publisher) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
