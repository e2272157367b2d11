package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"escrowdesk/internal/models"
	"escrowdesk/internal/notifications"
	"escrowdesk/internal/realtime"
)

func (e *testEnv) dialWS(t *testing.T, srv *httptest.Server, path, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path + "?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) realtime.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt realtime.Event
	require.NoError(t, conn.ReadJSON(&evt))
	return evt
}

// readUntil пропускает события, пока не придёт событие с нужным именем.
func readUntil(t *testing.T, conn *websocket.Conn, name string) realtime.Event {
	t.Helper()
	for i := 0; i < 10; i++ {
		if evt := readEvent(t, conn); evt.Event == name {
			return evt
		}
	}
	t.Fatalf("event %s not received", name)
	return realtime.Event{}
}

func (e *testEnv) waitSubscribed(t *testing.T, channel string) {
	t.Helper()
	require.Eventually(t, func() bool { return e.hub.Subscribers(channel) > 0 }, time.Second, 10*time.Millisecond)
}

func TestTradeWS(t *testing.T) {
	e := setupTest(t)
	srv := httptest.NewServer(e.r)
	defer srv.Close()

	seller := e.register(t, "seller")
	buyer := e.register(t, "buyer")
	stranger := e.register(t, "stranger")
	l := e.listing(t, seller, p2pSellListing)
	tr := e.trade(t, buyer, l.ID, "10")

	path := fmt.Sprintf("/ws/trades/%d", tr.ID)
	conn := e.dialWS(t, srv, path, buyer.Token)
	snap := readEvent(t, conn)
	assert.Equal(t, eventTradeSnapshot, snap.Event)
	var current TradeResponse
	require.NoError(t, json.Unmarshal(snap.Payload, &current))
	assert.Equal(t, tr.ID, current.ID)

	e.waitSubscribed(t, realtime.TradeChannel(tr.ID))
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, tradePath(tr.ID, "deposit"), seller.Token, depositBody()).Code)

	evt := readUntil(t, conn, realtime.EventTradeUpdated)
	var upd realtime.TradeUpdate
	require.NoError(t, json.Unmarshal(evt.Payload, &upd))
	assert.Equal(t, models.EventTradeFunded, upd.Type)
	assert.Equal(t, models.TradeStatusFunded, upd.Trade.Status)

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+path+"?token="+stranger.Token, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestNotificationsWS(t *testing.T) {
	e := setupTest(t)
	srv := httptest.NewServer(e.r)
	defer srv.Close()

	seller := e.register(t, "seller")
	buyer := e.register(t, "buyer")
	l := e.listing(t, seller, p2pSellListing)
	tr := e.trade(t, buyer, l.ID, "10")

	conn := e.dialWS(t, srv, "/ws/notifications", buyer.Token)
	initial := readEvent(t, conn)
	assert.Equal(t, notifications.EventNotification, initial.Event)
	var n models.Notification
	require.NoError(t, json.Unmarshal(initial.Payload, &n))
	assert.Equal(t, "trade_created", n.Action)

	e.waitSubscribed(t, realtime.UserNotificationsChannel(buyer.ID))
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, tradePath(tr.ID, "deposit"), seller.Token, depositBody()).Code)

	pushed := readEvent(t, conn)
	assert.Equal(t, notifications.EventNotification, pushed.Event)
	require.NoError(t, json.Unmarshal(pushed.Payload, &n))
	assert.Equal(t, "trade_funded", n.Action)
	assert.Equal(t, buyer.ID, n.UserID)
}

func TestUserAndGlobalTradesWS(t *testing.T) {
	e := setupTest(t)
	srv := httptest.NewServer(e.r)
	defer srv.Close()

	seller := e.register(t, "seller")
	buyer := e.register(t, "buyer")
	watcher := e.register(t, "watcher")
	l := e.listing(t, seller, p2pSellListing)

	mine := e.dialWS(t, srv, "/ws/user-trades", seller.Token)
	global := e.dialWS(t, srv, "/ws/trades", watcher.Token)
	e.waitSubscribed(t, realtime.UserTradesChannel(seller.ID))
	e.waitSubscribed(t, realtime.GlobalChannel)

	tr := e.trade(t, buyer, l.ID, "10")

	evt := readUntil(t, mine, realtime.EventTradeUpdated)
	var upd realtime.TradeUpdate
	require.NoError(t, json.Unmarshal(evt.Payload, &upd))
	assert.Equal(t, models.EventTradeCreated, upd.Type)
	assert.Equal(t, tr.ID, upd.Trade.ID)

	evt = readUntil(t, global, realtime.EventTradeUpdated)
	var g map[string]any
	require.NoError(t, json.Unmarshal(evt.Payload, &g))
	assert.EqualValues(t, tr.ID, g["id"])
	assert.NotContains(t, g, "metadata")
	assert.NotContains(t, g, "buyerId")
}
