package sweeper

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	appdb "escrowdesk/internal/db"
	"escrowdesk/internal/models"
	"escrowdesk/internal/trades"
)

func setup(t *testing.T) (*gorm.DB, *trades.Repository, *trades.Service) {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, appdb.Migrate(db))
	repo := trades.NewRepository(db)
	return db, repo, trades.NewService(repo, trades.Options{FeeRateBps: 250})
}

func insert(t *testing.T, db *gorm.DB, deadline time.Time) models.Trade {
	t.Helper()
	tr := models.Trade{
		ChainID: 1, ListingID: 1, BuyerID: "buyer", SellerID: "seller",
		Amount: decimal.NewFromInt(1), Currency: "ETH",
		ListingCategory: models.CategoryP2P, Status: models.TradeStatusAwaitingDeposit,
		DepositDeadline: &deadline,
	}
	require.NoError(t, db.Omit(clause.Associations).Create(&tr).Error)
	return tr
}

func TestSweepOnceExpiresOnlyElapsed(t *testing.T) {
	db, repo, svc := setup(t)
	old := insert(t, db, time.Now().Add(-time.Minute))
	fresh := insert(t, db, time.Now().Add(time.Hour))

	s := New(repo, svc, time.Minute, nil)
	assert.Equal(t, 1, s.SweepOnce(context.Background()))

	got, err := repo.GetByID(context.Background(), old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusDepositTimeout, got.Status)
	got, err = repo.GetByID(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusAwaitingDeposit, got.Status)

	var events int64
	db.Model(&models.OutboxEvent{}).Where("trade_id = ? AND event_type = ?", old.ID, models.EventTradeDepositTimeout).Count(&events)
	assert.Equal(t, int64(1), events)

	assert.Equal(t, 0, s.SweepOnce(context.Background()))
}

type staticFinder []models.Trade

func (f staticFinder) ExpiredDeposits(ctx context.Context, now time.Time, limit int) ([]models.Trade, error) {
	return f, nil
}

type flakyExpirer struct{ calls []uint }

func (e *flakyExpirer) ExpireDeposit(ctx context.Context, id uint) (*models.Trade, error) {
	e.calls = append(e.calls, id)
	if id == 1 {
		return nil, errors.New("db down")
	}
	return &models.Trade{ID: id}, nil
}

func TestSweepContinuesAfterFailure(t *testing.T) {
	exp := &flakyExpirer{}
	s := New(staticFinder{{ID: 1}, {ID: 2}}, exp, time.Minute, nil)
	assert.Equal(t, 1, s.SweepOnce(context.Background()))
	assert.Equal(t, []uint{1, 2}, exp.calls)
}

func TestStartStop(t *testing.T) {
	exp := &flakyExpirer{}
	s := New(staticFinder{{ID: 2}}, exp, 5*time.Millisecond, nil)
	s.Start()
	time.Sleep(30 * time.Millisecond)
	s.Stop()
	s.Stop()
	assert.NotEmpty(t, exp.calls)
}
