package stats

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"escrowdesk/internal/models"
)

// Service ведёт агрегированную торговую статистику пользователей.
type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(db *gorm.DB, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, log: log}
}

// Get возвращает статистику пользователя; для пользователя без сделок
// возвращаются значения по умолчанию.
func (s *Service) Get(ctx context.Context, userID string) (models.UserTradingStats, error) {
	var st models.UserTradingStats
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return defaults(userID), nil
	}
	if err != nil {
		return st, fmt.Errorf("load stats: %w", err)
	}
	return st, nil
}

func defaults(userID string) models.UserTradingStats {
	return models.UserTradingStats{UserID: userID, TotalVolume: decimal.Zero, Rating: models.DefaultRating}
}

type update func(*models.UserTradingStats)

// Handle применяет событие сделки к статистике обеих сторон. Каждое событие
// учитывается для пользователя не более одного раза.
func (s *Service) Handle(ctx context.Context, ev models.TradeEvent) error {
	t := ev.Trade
	var buyer, seller update
	switch ev.Type {
	case models.EventTradeCreated:
		buyer = incTotal
		seller = incTotal
	case models.EventTradeCompleted:
		buyer = completed(t.Amount)
		seller = completed(t.Amount)
		if ev.Rating != nil && ev.ActorID != "" {
			rated := rate(*ev.Rating)
			if ev.ActorID == t.BuyerID {
				seller = chain(seller, rated)
			} else if ev.ActorID == t.SellerID {
				buyer = chain(buyer, rated)
			}
		}
	case models.EventTradeDisputeResolved:
		switch ev.Outcome {
		case models.OutcomeRefundToBuyer:
			buyer, seller = won, lost
		case models.OutcomeReleaseToSeller:
			buyer, seller = lost, won
		}
	}
	var errs []error
	if buyer != nil {
		errs = append(errs, s.apply(ctx, ev.EventID, t.BuyerID, buyer))
	}
	if seller != nil {
		errs = append(errs, s.apply(ctx, ev.EventID, t.SellerID, seller))
	}
	return errors.Join(errs...)
}

func (s *Service) apply(ctx context.Context, eventID, userID string, fn update) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.StatsLedgerEntry{EventID: eventID, UserID: userID})
		if res.Error != nil {
			return fmt.Errorf("stats ledger: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		st := defaults(userID)
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			Attrs(st).
			FirstOrCreate(&st).Error
		if err != nil {
			return fmt.Errorf("stats row: %w", err)
		}
		fn(&st)
		return tx.Model(&models.UserTradingStats{}).Where("user_id = ?", userID).Updates(map[string]any{
			"total_trades":      st.TotalTrades,
			"successful_trades": st.SuccessfulTrades,
			"total_volume":      st.TotalVolume,
			"disputes_won":      st.DisputesWon,
			"disputes_lost":     st.DisputesLost,
			"rating":            st.Rating,
			"rating_count":      st.RatingCount,
		}).Error
	})
}

func incTotal(st *models.UserTradingStats) { st.TotalTrades++ }

func won(st *models.UserTradingStats) { st.DisputesWon++ }

func lost(st *models.UserTradingStats) { st.DisputesLost++ }

func completed(amount decimal.Decimal) update {
	return func(st *models.UserTradingStats) {
		st.SuccessfulTrades++
		st.TotalVolume = st.TotalVolume.Add(amount)
	}
}

// rate пересчитывает средний рейтинг: round1((old*count + r) / (count+1)).
func rate(r int) update {
	return func(st *models.UserTradingStats) {
		count := decimal.NewFromInt(st.RatingCount)
		sum := st.Rating.Mul(count).Add(decimal.NewFromInt(int64(r)))
		st.Rating = sum.Div(count.Add(decimal.NewFromInt(1))).Round(1)
		st.RatingCount++
	}
}

func chain(fns ...update) update {
	return func(st *models.UserTradingStats) {
		for _, fn := range fns {
			fn(st)
		}
	}
}
