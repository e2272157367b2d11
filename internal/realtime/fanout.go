package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"escrowdesk/internal/models"
)

// EventTradeUpdated имя события изменения сделки в realtime-каналах.
const EventTradeUpdated = "trade.updated"

// TradeUpdate событие для участников сделки.
type TradeUpdate struct {
	Type  models.TradeEventType `json:"type"`
	From  models.TradeStatus    `json:"from,omitempty"`
	Trade models.Trade          `json:"trade"`
	At    time.Time             `json:"at"`
}

// GlobalTradeUpdate урезанное событие для общей ленты, без метаданных сторон.
type GlobalTradeUpdate struct {
	ID              uint                   `json:"id"`
	Type            models.TradeEventType  `json:"type"`
	Status          models.TradeStatus     `json:"status"`
	ListingCategory models.ListingCategory `json:"listingCategory"`
	Amount          decimal.Decimal        `json:"amount"`
	Currency        string                 `json:"currency"`
	At              time.Time              `json:"at"`
}

// TradeFanout обработчик outbox: рассылает изменение сделки в каналы сделки,
// обеих сторон и в общую ленту.
type TradeFanout struct {
	b Broadcaster
}

func NewTradeFanout(b Broadcaster) *TradeFanout {
	return &TradeFanout{b: b}
}

func (f *TradeFanout) Handle(ctx context.Context, ev models.TradeEvent) error {
	t := ev.Trade
	upd := TradeUpdate{Type: ev.Type, From: ev.From, Trade: t, At: ev.At}
	var errs []error
	for _, ch := range []string{
		TradeChannel(t.ID),
		UserTradesChannel(t.BuyerID),
		UserTradesChannel(t.SellerID),
	} {
		if err := f.b.Broadcast(ctx, ch, EventTradeUpdated, upd); err != nil {
			errs = append(errs, err)
		}
	}
	global := GlobalTradeUpdate{
		ID:              t.ID,
		Type:            ev.Type,
		Status:          t.Status,
		ListingCategory: t.ListingCategory,
		Amount:          t.Amount,
		Currency:        t.Currency,
		At:              ev.At,
	}
	if err := f.b.Broadcast(ctx, GlobalChannel, EventTradeUpdated, global); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
