package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"escrowdesk/internal/models"
)

// Handler побочный эффект события сделки. Обработчики должны быть идемпотентны:
// событие может быть доставлено повторно.
type Handler interface {
	Handle(ctx context.Context, ev models.TradeEvent) error
}

// HandlerFunc адаптер функции к Handler.
type HandlerFunc func(ctx context.Context, ev models.TradeEvent) error

func (f HandlerFunc) Handle(ctx context.Context, ev models.TradeEvent) error { return f(ctx, ev) }

type Options struct {
	Interval    time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// Lease время, на которое событие закрепляется за обработчиком.
	Lease     time.Duration
	BatchSize int
	Metrics   *Metrics
	Logger    *zap.Logger
	Now       func() time.Time
}

type namedHandler struct {
	name string
	h    Handler
}

// Dispatcher доставляет события outbox зарегистрированным обработчикам сразу
// после коммита и повторяет неудачные доставки в фоне.
type Dispatcher struct {
	db       *gorm.DB
	opts     Options
	log      *zap.Logger
	metrics  *Metrics
	now      func() time.Time
	mu       sync.RWMutex
	handlers []namedHandler
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(db *gorm.DB, opts Options) *Dispatcher {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 5 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = time.Hour
	}
	if opts.Lease <= 0 {
		opts.Lease = time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		db:      db,
		opts:    opts,
		log:     log,
		metrics: opts.Metrics,
		now:     func() time.Time { return now().UTC() },
		stopCh:  make(chan struct{}),
	}
}

// Register добавляет обработчик; name попадает в логи.
func (d *Dispatcher) Register(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, namedHandler{name: name, h: h})
}

// Deliver обрабатывает только что записанные события. Ошибки не возвращаются:
// неудачные события остаются в outbox и будут повторены воркером.
func (d *Dispatcher) Deliver(ctx context.Context, events []models.OutboxEvent) {
	for _, ev := range events {
		d.process(ctx, ev)
	}
}

// ProcessOnce обрабатывает пачку ожидающих событий и возвращает их число.
func (d *Dispatcher) ProcessOnce(ctx context.Context) (int, error) {
	var pending []models.OutboxEvent
	err := d.db.WithContext(ctx).
		Where("processed_at IS NULL AND failed_at IS NULL AND next_attempt_at <= ?", d.now()).
		Order("next_attempt_at").
		Limit(d.opts.BatchSize).
		Find(&pending).Error
	if err != nil {
		return 0, fmt.Errorf("load outbox: %w", err)
	}
	for _, ev := range pending {
		d.process(ctx, ev)
	}
	return len(pending), nil
}

// Start запускает фоновую обработку в отдельной горутине
func (d *Dispatcher) Start() {
	ticker := time.NewTicker(d.opts.Interval)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := d.ProcessOnce(context.Background()); err != nil {
					d.log.Error("outbox batch failed", zap.Error(err))
				}
			case <-d.stopCh:
				return
			}
		}
	}()
}

// Stop останавливает обработку и ждёт завершения текущей пачки
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
}

func (d *Dispatcher) process(ctx context.Context, row models.OutboxEvent) {
	claimed, err := d.claim(ctx, row.ID)
	if err != nil {
		d.log.Error("outbox claim failed", zap.String("event_id", row.ID), zap.Error(err))
		return
	}
	if !claimed {
		return
	}
	var ev models.TradeEvent
	if err := json.Unmarshal(row.Payload, &ev); err != nil {
		d.dead(ctx, row, fmt.Errorf("decode payload: %w", err))
		return
	}
	if err := d.run(ctx, ev); err != nil {
		d.fail(ctx, row, err)
		return
	}
	now := d.now()
	err = d.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", row.ID).
		Updates(map[string]any{"processed_at": now, "attempts": row.Attempts + 1, "last_error": ""}).Error
	if err != nil {
		d.log.Error("outbox mark processed failed", zap.String("event_id", row.ID), zap.Error(err))
		return
	}
	d.metrics.processed(row.EventType)
}

// claim закрепляет событие за текущим обработчиком, сдвигая next_attempt_at на время аренды.
func (d *Dispatcher) claim(ctx context.Context, id string) (bool, error) {
	now := d.now()
	res := d.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ? AND processed_at IS NULL AND failed_at IS NULL AND next_attempt_at <= ?", id, now).
		Update("next_attempt_at", now.Add(d.opts.Lease))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (d *Dispatcher) run(ctx context.Context, ev models.TradeEvent) error {
	d.mu.RLock()
	handlers := append([]namedHandler(nil), d.handlers...)
	d.mu.RUnlock()

	var errs []error
	for _, nh := range handlers {
		if err := nh.h.Handle(ctx, ev); err != nil {
			d.log.Warn("outbox handler failed",
				zap.String("handler", nh.name),
				zap.Uint("trade_id", ev.Trade.ID),
				zap.String("event", string(ev.Type)),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", nh.name, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) fail(ctx context.Context, row models.OutboxEvent, cause error) {
	attempts := row.Attempts + 1
	if attempts >= d.opts.MaxAttempts {
		d.dead(ctx, row, cause)
		return
	}
	upd := map[string]any{
		"attempts":        attempts,
		"next_attempt_at": d.now().Add(Backoff(attempts, d.opts.BaseBackoff, d.opts.MaxBackoff)),
		"last_error":      cause.Error(),
	}
	if err := d.db.WithContext(ctx).Model(&models.OutboxEvent{}).Where("id = ?", row.ID).Updates(upd).Error; err != nil {
		d.log.Error("outbox reschedule failed", zap.String("event_id", row.ID), zap.Error(err))
	}
	d.metrics.failed(row.EventType)
}

func (d *Dispatcher) dead(ctx context.Context, row models.OutboxEvent, cause error) {
	upd := map[string]any{
		"attempts":   row.Attempts + 1,
		"failed_at":  d.now(),
		"last_error": cause.Error(),
	}
	if err := d.db.WithContext(ctx).Model(&models.OutboxEvent{}).Where("id = ?", row.ID).Updates(upd).Error; err != nil {
		d.log.Error("outbox mark failed failed", zap.String("event_id", row.ID), zap.Error(err))
	}
	d.log.Error("outbox event dropped after retries",
		zap.String("event_id", row.ID),
		zap.Uint("trade_id", row.TradeID),
		zap.String("event", string(row.EventType)),
		zap.Error(cause),
	)
	d.metrics.failed(row.EventType)
	d.metrics.dropped(row.EventType)
}

// Backoff экспоненциальная задержка: base * 2^(attempt-1), не больше max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
