package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"escrowdesk/internal/models"
)

// subscribe поднимает ws-сервер, подписывающий соединение на канал хаба.
func subscribe(t *testing.T, hub *Hub, channel string) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Subscribe(channel, conn)
	}))
	t.Cleanup(srv.Close)

	before := hub.Subscribers(channel)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return hub.Subscribers(channel) == before+1 }, time.Second, 10*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var evt Event
	require.NoError(t, conn.ReadJSON(&evt))
	return evt
}

func TestHubBroadcastToChannel(t *testing.T) {
	hub := NewHub()
	a := subscribe(t, hub, TradeChannel(7))
	b := subscribe(t, hub, TradeChannel(7))
	other := subscribe(t, hub, TradeChannel(8))

	require.NoError(t, hub.Broadcast(context.Background(), TradeChannel(7), "ping", map[string]int{"n": 1}))

	for _, c := range []*websocket.Conn{a, b} {
		evt := readEvent(t, c)
		assert.Equal(t, "trade-7", evt.Channel)
		assert.Equal(t, "ping", evt.Event)
		assert.JSONEq(t, `{"n":1}`, string(evt.Payload))
	}

	require.NoError(t, other.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := other.ReadMessage()
	assert.Error(t, err)
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub()
	upgrader := websocket.Upgrader{}
	var (
		mu     sync.Mutex
		server *websocket.Conn
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		server = conn
		mu.Unlock()
		hub.Subscribe("c", conn)
	}))
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Subscribers("c") == 1 }, time.Second, 10*time.Millisecond)

	mu.Lock()
	hub.Unsubscribe("c", server)
	mu.Unlock()
	assert.Equal(t, 0, hub.Subscribers("c"))
}

func TestChannelNames(t *testing.T) {
	assert.Equal(t, "trade-42", TradeChannel(42))
	assert.Equal(t, "user-trades-u1", UserTradesChannel("u1"))
	assert.Equal(t, "user-notifications-u1", UserNotificationsChannel("u1"))
	assert.Equal(t, "trades-global", GlobalChannel)
}

func TestRedisRelayForwardsToHub(t *testing.T) {
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	hub := NewHub()
	relay := NewRelay(rdb, hub, nil)
	require.NoError(t, relay.Start(context.Background()))
	defer relay.Stop()

	conn := subscribe(t, hub, UserTradesChannel("u1"))

	b := NewRedisBroadcaster(rdb)
	require.NoError(t, b.Broadcast(context.Background(), UserTradesChannel("u1"), EventTradeUpdated, map[string]string{"status": "funded"}))

	evt := readEvent(t, conn)
	assert.Equal(t, "user-trades-u1", evt.Channel)
	assert.Equal(t, EventTradeUpdated, evt.Event)
	assert.JSONEq(t, `{"status":"funded"}`, string(evt.Payload))
}

type call struct {
	channel string
	event   string
	payload any
}

type recordingBroadcaster struct {
	mu    sync.Mutex
	calls []call
}

func (r *recordingBroadcaster) Broadcast(ctx context.Context, channel, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{channel, event, payload})
	return nil
}

func TestTradeFanoutChannels(t *testing.T) {
	rec := &recordingBroadcaster{}
	fan := NewTradeFanout(rec)
	ev := models.TradeEvent{
		Type: models.EventTradeCompleted,
		From: models.TradeStatusPaymentSent,
		Trade: models.Trade{
			ID: 42, BuyerID: "b", SellerID: "s", Status: models.TradeStatusCompleted,
			Amount: decimal.NewFromInt(100), Currency: "ETH", ListingCategory: models.CategoryP2P,
			Metadata: models.TradeMetadata{PaymentProof: "secret"},
		},
	}
	require.NoError(t, fan.Handle(context.Background(), ev))

	require.Len(t, rec.calls, 4)
	assert.Equal(t, "trade-42", rec.calls[0].channel)
	assert.Equal(t, "user-trades-b", rec.calls[1].channel)
	assert.Equal(t, "user-trades-s", rec.calls[2].channel)
	assert.Equal(t, GlobalChannel, rec.calls[3].channel)

	global, ok := rec.calls[3].payload.(GlobalTradeUpdate)
	require.True(t, ok)
	assert.Equal(t, uint(42), global.ID)
	assert.Equal(t, models.TradeStatusCompleted, global.Status)
}
