package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"escrowdesk/internal/models"
)

func header(msg *sarama.ProducerMessage, key string) string {
	for _, h := range msg.Headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestHandlePublishesKeyedEvent(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	metrics := NewMetrics(prometheus.NewRegistry())
	pub := NewPublisher(producer, "trade-events", metrics, nil)

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "trade-events" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "42" {
			return errors.New("unexpected key " + string(key))
		}
		if header(msg, HeaderIdempotencyKey) != "evt-1" || header(msg, HeaderEventType) != "TRADE_FUNDED" {
			return errors.New("missing headers")
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var ev models.TradeEvent
		if err := json.Unmarshal(value, &ev); err != nil {
			return err
		}
		if ev.Trade.ID != 42 {
			return errors.New("unexpected payload")
		}
		return nil
	})

	err := pub.Handle(context.Background(), models.TradeEvent{
		EventID: "evt-1",
		Type:    models.EventTradeFunded,
		Trade:   models.Trade{ID: 42},
	})
	require.NoError(t, err)
	require.NoError(t, pub.Close())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PublishTotal.WithLabelValues("trade-events", "success")))
}

func TestHandleReturnsPublishError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	metrics := NewMetrics(nil)
	pub := NewPublisher(producer, "trade-events", metrics, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := pub.Handle(context.Background(), models.TradeEvent{EventID: "evt-2", Trade: models.Trade{ID: 1}})
	require.Error(t, err)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, pub.Close())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PublishTotal.WithLabelValues("trade-events", "error")))
}

func TestHandleCancelledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	pub := NewPublisher(producer, "trade-events", nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pub.Handle(ctx, models.TradeEvent{}), context.Canceled)
	require.NoError(t, pub.Close())
}

func TestDialRequiresBrokers(t *testing.T) {
	_, err := Dial(nil, "trade-events", nil, nil)
	assert.Error(t, err)
}
