package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisPrefix = "realtime:"

// RedisBroadcaster публикует события через Redis pub/sub, чтобы их получили
// подписчики всех экземпляров API.
type RedisBroadcaster struct {
	client *redis.Client
}

func NewRedisBroadcaster(client *redis.Client) *RedisBroadcaster {
	return &RedisBroadcaster{client: client}
}

func (b *RedisBroadcaster) Broadcast(ctx context.Context, channel, event string, payload any) error {
	evt, err := newEvent(channel, event, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, redisPrefix+channel, data).Err()
}

var _ Broadcaster = (*RedisBroadcaster)(nil)

// Relay пересылает события из Redis в локальный хаб.
type Relay struct {
	client *redis.Client
	hub    *Hub
	log    *zap.Logger
	pubsub *redis.PubSub
	done   chan struct{}
	once   sync.Once
}

func NewRelay(client *redis.Client, hub *Hub, log *zap.Logger) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{client: client, hub: hub, log: log, done: make(chan struct{})}
}

// Start подписывается на каналы и запускает пересылку в отдельной горутине.
// Возвращается после подтверждения подписки.
func (r *Relay) Start(ctx context.Context) error {
	r.pubsub = r.client.PSubscribe(ctx, redisPrefix+"*")
	if _, err := r.pubsub.Receive(ctx); err != nil {
		_ = r.pubsub.Close()
		return err
	}
	ch := r.pubsub.Channel()
	go func() {
		defer close(r.done)
		for msg := range ch {
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				r.log.Warn("realtime relay: bad payload", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if evt.Channel == "" {
				evt.Channel = strings.TrimPrefix(msg.Channel, redisPrefix)
			}
			r.hub.deliver(evt)
		}
	}()
	return nil
}

// Stop закрывает подписку и ждёт завершения горутины.
func (r *Relay) Stop() {
	r.once.Do(func() {
		if r.pubsub == nil {
			close(r.done)
			return
		}
		_ = r.pubsub.Close()
		<-r.done
	})
}
