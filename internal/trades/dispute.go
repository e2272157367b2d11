package trades

import (
	"context"

	"escrowdesk/internal/models"
)

// ResolveInput решение арбитра по спору.
type ResolveInput struct {
	Outcome      models.DisputeOutcome
	BuyerPercent *int
	Note         string
}

// ResolveDispute администратор принудительно завершает спор: release и split
// переводят сделку в completed, refund в cancelled. Распределение средств
// выполняет контракт, в базе фиксируется только решение.
func (s *Service) ResolveDispute(ctx context.Context, id uint, actor Actor, in ResolveInput) (*models.Trade, error) {
	const action = models.TradeActionResolveDispute
	if !actor.Admin {
		err := forbidden("admin only")
		s.metrics.failure(action, err)
		return nil, err
	}
	if !in.Outcome.Valid() {
		err := validation("invalid resolution outcome")
		s.metrics.failure(action, err)
		return nil, err
	}
	percent := 0
	switch in.Outcome {
	case models.OutcomeRefundToBuyer:
		percent = 100
	case models.OutcomeSplit:
		percent = 50
		if in.BuyerPercent != nil {
			percent = *in.BuyerPercent
		}
		if percent < 0 || percent > 100 {
			err := validation("buyer percent must be within [0, 100]")
			s.metrics.failure(action, err)
			return nil, err
		}
	}

	t, err := s.authorize(ctx, id, actor, action)
	if err != nil {
		return nil, err
	}
	patch := models.TradeMetadata{Resolution: &models.DisputeResolution{
		Outcome:      in.Outcome,
		BuyerPercent: percent,
		Note:         in.Note,
		ResolvedBy:   actor.UserID,
		ResolvedAt:   s.now().UTC(),
	}}
	cols := map[string]any{}
	var reactivate uint
	if resolutionStatus(in.Outcome) == models.TradeStatusCompleted {
		s.stamp(cols, "completed_at", t.CompletedAt, t.DepositedAt, t.PaymentSentAt, t.PaymentConfirmedAt)
	} else if t.ListingCategory == models.CategoryDomain {
		reactivate = t.ListingID
	}
	return s.commit(ctx, t, actor, action, patch, cols, reactivate,
		EventSpec{Type: models.EventTradeDisputeResolved, Outcome: in.Outcome})
}
