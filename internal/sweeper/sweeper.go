package sweeper

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"escrowdesk/internal/models"
	"escrowdesk/internal/trades"
)

const batchSize = 100

type finder interface {
	ExpiredDeposits(ctx context.Context, now time.Time, limit int) ([]models.Trade, error)
}

type expirer interface {
	ExpireDeposit(ctx context.Context, id uint) (*models.Trade, error)
}

// Sweeper периодически закрывает сделки с истёкшим окном депозита.
type Sweeper struct {
	repo     finder
	svc      expirer
	interval time.Duration
	now      func() time.Time
	log      *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(repo finder, svc expirer, interval time.Duration, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{repo: repo, svc: svc, interval: interval, now: time.Now, log: log, stopCh: make(chan struct{})}
}

// Start запускает периодическую проверку в отдельной горутине
func (s *Sweeper) Start() {
	ticker := time.NewTicker(s.interval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.SweepOnce(context.Background())
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop останавливает проверку
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// SweepOnce переводит просроченные сделки в deposit_timeout и возвращает их число.
// Сделки, которые успели перейти в другой статус, пропускаются.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	list, err := s.repo.ExpiredDeposits(ctx, s.now(), batchSize)
	if err != nil {
		s.log.Error("load expired deposits failed", zap.Error(err))
		return 0
	}
	expired := 0
	for _, t := range list {
		if _, err := s.svc.ExpireDeposit(ctx, t.ID); err != nil {
			if !errors.Is(err, trades.ErrInvalidTransition) {
				s.log.Warn("expire deposit failed", zap.Uint("trade_id", t.ID), zap.Error(err))
			}
			continue
		}
		expired++
	}
	if expired > 0 {
		s.log.Info("deposit windows expired", zap.Int("count", expired))
	}
	return expired
}
