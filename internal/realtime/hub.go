package realtime

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
)

// Hub локальные websocket-подписчики, сгруппированные по каналам.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*websocket.Conn]bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*websocket.Conn]bool)}
}

// Subscribe добавляет соединение в канал.
func (h *Hub) Subscribe(channel string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.subs[channel]
	if !ok {
		conns = make(map[*websocket.Conn]bool)
		h.subs[channel] = conns
	}
	conns[conn] = true
}

// Unsubscribe удаляет соединение из канала.
func (h *Hub) Unsubscribe(channel string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.subs[channel]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.subs, channel)
		}
	}
}

// Subscribers число подписчиков канала.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}

// Broadcast рассылает событие локальным подписчикам канала.
func (h *Hub) Broadcast(ctx context.Context, channel, event string, payload any) error {
	evt, err := newEvent(channel, event, payload)
	if err != nil {
		return err
	}
	h.deliver(evt)
	return nil
}

// deliver пишет событие во все соединения канала; упавшие соединения закрываются.
func (h *Hub) deliver(evt Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.subs[evt.Channel] {
		if err := c.WriteJSON(evt); err != nil {
			c.Close()
			delete(h.subs[evt.Channel], c)
		}
	}
}

var _ Broadcaster = (*Hub)(nil)
