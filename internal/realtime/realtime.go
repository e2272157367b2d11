package realtime

import (
	"context"
	"encoding/json"
	"fmt"
)

// GlobalChannel общая лента изменений сделок.
const GlobalChannel = "trades-global"

func TradeChannel(tradeID uint) string { return fmt.Sprintf("trade-%d", tradeID) }

func UserTradesChannel(userID string) string { return "user-trades-" + userID }

func UserNotificationsChannel(userID string) string { return "user-notifications-" + userID }

// Event сообщение подписчику канала.
type Event struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Broadcaster fire-and-forget публикация события в канал.
type Broadcaster interface {
	Broadcast(ctx context.Context, channel, event string, payload any) error
}

func newEvent(channel, event string, payload any) (Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Channel: channel, Event: event, Payload: b}, nil
}
