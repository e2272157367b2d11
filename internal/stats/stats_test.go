package stats

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"escrowdesk/internal/models"
)

func newService(t *testing.T) *Service {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.UserTradingStats{}, &models.StatsLedgerEntry{}))
	return NewService(db, nil)
}

func tradeEvent(id string, typ models.TradeEventType) models.TradeEvent {
	return models.TradeEvent{
		EventID: id,
		Type:    typ,
		Trade: models.Trade{
			ID: 42, BuyerID: "buyer", SellerID: "seller",
			Amount: decimal.RequireFromString("100.00"), Currency: "ETH",
		},
	}
}

func TestGetDefaults(t *testing.T) {
	svc := newService(t)
	st, err := svc.Get(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.TotalTrades)
	assert.True(t, st.Rating.Equal(decimal.NewFromInt(5)))
}

func TestCreatedAndCompleted(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.Handle(ctx, tradeEvent("e1", models.EventTradeCreated)))
	done := tradeEvent("e2", models.EventTradeCompleted)
	done.ActorID = "buyer"
	done.Rating = intPtr(4)
	require.NoError(t, svc.Handle(ctx, done))

	for _, id := range []string{"buyer", "seller"} {
		st, err := svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(1), st.TotalTrades, id)
		assert.Equal(t, int64(1), st.SuccessfulTrades, id)
		assert.Equal(t, "100", st.TotalVolume.String(), id)
	}

	seller, _ := svc.Get(ctx, "seller")
	assert.Equal(t, "4", seller.Rating.String())
	assert.Equal(t, int64(1), seller.RatingCount)
	buyer, _ := svc.Get(ctx, "buyer")
	assert.Equal(t, int64(0), buyer.RatingCount)
	assert.Equal(t, "5", buyer.Rating.String())
}

func TestRatingAverageRounded(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	for i, r := range []int{4, 5, 5} {
		ev := tradeEvent("c"+string(rune('a'+i)), models.EventTradeCompleted)
		ev.ActorID = "buyer"
		ev.Rating = intPtr(r)
		require.NoError(t, svc.Handle(ctx, ev))
	}
	seller, err := svc.Get(ctx, "seller")
	require.NoError(t, err)
	// (4*1+5)/2 = 4.5, (4.5*2+5)/3 = 4.67 -> 4.7
	assert.Equal(t, "4.7", seller.Rating.String())
	assert.Equal(t, int64(3), seller.RatingCount)
}

func TestRedeliveryIsIgnored(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	ev := tradeEvent("same", models.EventTradeCompleted)
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Handle(ctx, ev))
	}
	st, err := svc.Get(ctx, "buyer")
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.SuccessfulTrades)
	assert.Equal(t, "100", st.TotalVolume.String())
}

func TestDisputeOutcomes(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	refund := tradeEvent("r1", models.EventTradeDisputeResolved)
	refund.Outcome = models.OutcomeRefundToBuyer
	require.NoError(t, svc.Handle(ctx, refund))

	buyer, _ := svc.Get(ctx, "buyer")
	seller, _ := svc.Get(ctx, "seller")
	assert.Equal(t, int64(1), buyer.DisputesWon)
	assert.Equal(t, int64(0), buyer.DisputesLost)
	assert.Equal(t, int64(1), seller.DisputesLost)
	assert.Equal(t, int64(0), seller.DisputesWon)

	release := tradeEvent("r2", models.EventTradeDisputeResolved)
	release.Outcome = models.OutcomeReleaseToSeller
	require.NoError(t, svc.Handle(ctx, release))
	split := tradeEvent("r3", models.EventTradeDisputeResolved)
	split.Outcome = models.OutcomeSplit
	require.NoError(t, svc.Handle(ctx, split))

	// split не меняет счётчики побед и поражений
	buyer, _ = svc.Get(ctx, "buyer")
	seller, _ = svc.Get(ctx, "seller")
	assert.Equal(t, int64(1), buyer.DisputesLost)
	assert.Equal(t, int64(1), seller.DisputesWon)
}

func intPtr(v int) *int { return &v }
