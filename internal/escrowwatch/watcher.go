package escrowwatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"escrowdesk/internal/chain"
	"escrowdesk/internal/models"
	"escrowdesk/internal/trades"
)

// LogSource источник событий эскроу-контракта.
type LogSource interface {
	Head(ctx context.Context) (uint64, error)
	EscrowCreatedLogs(ctx context.Context, from, to uint64) ([]chain.EscrowCreated, error)
}

type Options struct {
	Interval      time.Duration
	StartBlock    uint64
	Lookback      uint64
	Confirmations uint64
	MaxRange      uint64
	Logger        *zap.Logger
}

// Watcher сверяет события EscrowCreated со сделками и дописывает в метаданные
// блок подтверждения. Статус сделки не меняет.
type Watcher struct {
	repo *trades.Repository
	src  LogSource
	opts Options
	log  *zap.Logger
	next uint64

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(repo *trades.Repository, src LogSource, opts Options) *Watcher {
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Second
	}
	if opts.Lookback == 0 {
		opts.Lookback = 1000
	}
	if opts.MaxRange == 0 {
		opts.MaxRange = 500
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{repo: repo, src: src, opts: opts, log: log, next: opts.StartBlock, stopCh: make(chan struct{})}
}

// Start запускает опрос журнала в отдельной горутине.
func (w *Watcher) Start() {
	ticker := time.NewTicker(w.opts.Interval)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := w.PollOnce(context.Background()); err != nil {
					w.log.Warn("escrow watch poll failed", zap.Error(err))
				}
			case <-w.stopCh:
				return
			}
		}
	}()
}

func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// PollOnce обрабатывает новые подтверждённые блоки и возвращает число событий.
func (w *Watcher) PollOnce(ctx context.Context) (int, error) {
	head, err := w.src.Head(ctx)
	if err != nil {
		return 0, err
	}
	if head < w.opts.Confirmations {
		return 0, nil
	}
	safe := head - w.opts.Confirmations
	if w.next == 0 {
		if safe > w.opts.Lookback {
			w.next = safe - w.opts.Lookback
		} else {
			w.next = 1
		}
	}
	seen := 0
	for w.next <= safe {
		to := w.next + w.opts.MaxRange - 1
		if to > safe {
			to = safe
		}
		events, err := w.src.EscrowCreatedLogs(ctx, w.next, to)
		if err != nil {
			return seen, err
		}
		for _, ev := range events {
			w.reconcile(ctx, ev)
		}
		seen += len(events)
		w.next = to + 1
	}
	return seen, nil
}

func (w *Watcher) reconcile(ctx context.Context, ev chain.EscrowCreated) {
	fields := []zap.Field{zap.Uint64("escrow_id", ev.EscrowID), zap.String("tx", ev.TxHash), zap.Uint64("block", ev.BlockNumber)}
	for attempt := 0; attempt < 3; attempt++ {
		t, err := w.repo.FindByEscrowID(ctx, ev.EscrowID)
		if err != nil {
			if errors.Is(err, trades.ErrNotFound) {
				w.log.Warn("escrow without trade", fields...)
			} else {
				w.log.Error("escrow lookup failed", append(fields, zap.Error(err))...)
			}
			return
		}
		fields := append(fields, zap.Uint("trade_id", t.ID), zap.String("status", string(t.Status)))
		if !funded(t.Status) {
			w.log.Warn("escrow event for unfunded trade", fields...)
			return
		}
		if want, ok := expectedAmount(t); ok && !want.Equal(ev.Amount) {
			w.log.Warn("escrow amount mismatch",
				append(fields, zap.String("expected", want.String()), zap.String("onchain", ev.Amount.String()))...)
		}
		if t.Metadata.EscrowConfirmedBlock != 0 {
			return
		}
		err = w.repo.PatchMetadata(ctx, t.ID, t.Status, models.TradeMetadata{EscrowConfirmedBlock: ev.BlockNumber})
		if err == nil {
			w.log.Info("escrow confirmed", fields...)
			return
		}
		if !errors.Is(err, trades.ErrInvalidTransition) {
			w.log.Error("escrow confirm failed", append(fields, zap.Error(err))...)
			return
		}
	}
}

func funded(s models.TradeStatus) bool {
	switch s {
	case models.TradeStatusFunded, models.TradeStatusPaymentSent, models.TradeStatusDelivered,
		models.TradeStatusDisputed, models.TradeStatusCompleted:
		return true
	}
	return false
}

// expectedAmount сумма, которая должна лежать в эскроу в нативной валюте.
func expectedAmount(t *models.Trade) (decimal.Decimal, bool) {
	if t.ListingCategory == models.CategoryDomain {
		if t.Metadata.DomainInfo == nil || t.Metadata.DomainInfo.NativeAmount == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(t.Metadata.DomainInfo.NativeAmount)
		return d, err == nil
	}
	return t.Amount, true
}
