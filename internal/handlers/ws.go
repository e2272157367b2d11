package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"escrowdesk/internal/notifications"
	"escrowdesk/internal/realtime"
	"escrowdesk/internal/trades"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// eventTradeSnapshot первое сообщение в канале сделки: её текущее состояние.
const eventTradeSnapshot = "trade.snapshot"

const unreadOnConnect = 50

func wsEvent(channel, event string, payload any) (realtime.Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return realtime.Event{}, err
	}
	return realtime.Event{Channel: channel, Event: event, Payload: b}, nil
}

// serveWS отправляет начальные события и подписывает соединение на канал.
// Начальные события пишутся до подписки, чтобы запись в соединение не шла
// одновременно из хаба и из обработчика.
func serveWS(c *gin.Context, hub *realtime.Hub, channel string, initial []realtime.Event) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	for _, evt := range initial {
		if err := conn.WriteJSON(evt); err != nil {
			return
		}
	}
	hub.Subscribe(channel, conn)
	defer hub.Unsubscribe(channel, conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// TradeWS godoc
// @Summary Websocket сделки
// @Description Изменения статуса и сообщения чата сделки. Первым приходит текущее состояние сделки.
// @Tags ws
// @Param id path int true "ID сделки"
// @Param token query string true "access token"
// @Success 101 {object} realtime.Event "Switching Protocols"
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /ws/trades/{id} [get]
func TradeWS(svc *trades.Service, hub *realtime.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUintParam(c, "id")
		if !ok {
			return
		}
		actor, ok := currentActor(c)
		if !ok {
			return
		}
		t, err := svc.Get(c.Request.Context(), id, actor)
		if err != nil {
			respondError(c, err)
			return
		}
		channel := realtime.TradeChannel(t.ID)
		snapshot, err := wsEvent(channel, eventTradeSnapshot, tradeResponse(t, actor))
		if err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "encode error"})
			return
		}
		serveWS(c, hub, channel, []realtime.Event{snapshot})
	}
}

// UserTradesWS godoc
// @Summary Websocket сделок пользователя
// @Tags ws
// @Param token query string true "access token"
// @Success 101 {object} realtime.Event "Switching Protocols"
// @Failure 401 {object} ErrorResponse
// @Router /ws/user-trades [get]
func UserTradesWS(hub *realtime.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			return
		}
		serveWS(c, hub, realtime.UserTradesChannel(userID), nil)
	}
}

// GlobalTradesWS godoc
// @Summary Общая лента сделок
// @Description Урезанные события без метаданных сторон
// @Tags ws
// @Param token query string true "access token"
// @Success 101 {object} realtime.Event "Switching Protocols"
// @Failure 401 {object} ErrorResponse
// @Router /ws/trades [get]
func GlobalTradesWS(hub *realtime.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		serveWS(c, hub, realtime.GlobalChannel, nil)
	}
}

// NotificationsWS godoc
// @Summary Websocket уведомлений
// @Description Подключает клиента к потоку уведомлений. После подключения сервер отправляет непрочитанные уведомления.
// @Tags ws
// @Param token query string true "access token"
// @Success 101 {object} realtime.Event "Switching Protocols"
// @Failure 401 {object} ErrorResponse
// @Router /ws/notifications [get]
func NotificationsWS(svc *notifications.Service, hub *realtime.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			return
		}
		channel := realtime.UserNotificationsChannel(userID)
		list, err := svc.List(c.Request.Context(), userID, true, unreadOnConnect, 0)
		if err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "db error"})
			return
		}
		initial := make([]realtime.Event, 0, len(list))
		for i := len(list) - 1; i >= 0; i-- {
			evt, err := wsEvent(channel, notifications.EventNotification, list[i])
			if err != nil {
				continue
			}
			initial = append(initial, evt)
		}
		serveWS(c, hub, channel, initial)
	}
}
