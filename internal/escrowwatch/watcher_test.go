package escrowwatch

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"escrowdesk/internal/chain"
	appdb "escrowdesk/internal/db"
	"escrowdesk/internal/models"
	"escrowdesk/internal/trades"
)

type fakeSource struct {
	head   uint64
	events []chain.EscrowCreated
	ranges [][2]uint64
}

func (f *fakeSource) Head(ctx context.Context) (uint64, error) { return f.head, nil }

func (f *fakeSource) EscrowCreatedLogs(ctx context.Context, from, to uint64) ([]chain.EscrowCreated, error) {
	f.ranges = append(f.ranges, [2]uint64{from, to})
	var out []chain.EscrowCreated
	for _, ev := range f.events {
		if ev.BlockNumber >= from && ev.BlockNumber <= to {
			out = append(out, ev)
		}
	}
	return out, nil
}

func setup(t *testing.T) (*gorm.DB, *trades.Repository) {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, appdb.Migrate(db))
	return db, trades.NewRepository(db)
}

func insertTrade(t *testing.T, db *gorm.DB, escrowID uint64, status models.TradeStatus, amount string) models.Trade {
	t.Helper()
	tr := models.Trade{
		EscrowID: escrowID, ChainID: 1, ListingID: 1,
		BuyerID: "buyer", SellerID: "seller",
		Amount: decimal.RequireFromString(amount), Currency: "ETH",
		ListingCategory: models.CategoryP2P, Status: status,
		Metadata: models.TradeMetadata{PaymentMethod: "SEPA"},
	}
	require.NoError(t, db.Omit("Listing", "Buyer", "Seller").Create(&tr).Error)
	return tr
}

func TestPollRecordsConfirmationBlock(t *testing.T) {
	db, repo := setup(t)
	tr := insertTrade(t, db, 9, models.TradeStatusFunded, "1.5")
	src := &fakeSource{head: 112, events: []chain.EscrowCreated{
		{EscrowID: 9, Amount: decimal.RequireFromString("1.5"), BlockNumber: 100, TxHash: "0x01"},
	}}
	w := New(repo, src, Options{StartBlock: 95, Confirmations: 2, MaxRange: 10})

	n, err := w.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, [][2]uint64{{95, 104}, {105, 110}}, src.ranges)

	got, err := repo.GetByID(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), got.Metadata.EscrowConfirmedBlock)
	assert.Equal(t, "SEPA", got.Metadata.PaymentMethod)
	assert.Equal(t, models.TradeStatusFunded, got.Status)

	// следующий опрос начинает с 111
	src.head = 113
	_, err = w.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [2]uint64{111, 111}, src.ranges[len(src.ranges)-1])
}

func TestMismatchesAreLogged(t *testing.T) {
	db, repo := setup(t)
	insertTrade(t, db, 5, models.TradeStatusAwaitingDeposit, "2")
	insertTrade(t, db, 6, models.TradeStatusFunded, "2")
	core, logs := observer.New(zapcore.WarnLevel)
	src := &fakeSource{head: 50, events: []chain.EscrowCreated{
		{EscrowID: 5, Amount: decimal.NewFromInt(2), BlockNumber: 10},
		{EscrowID: 6, Amount: decimal.NewFromInt(3), BlockNumber: 11},
		{EscrowID: 404, Amount: decimal.NewFromInt(1), BlockNumber: 12},
	}}
	w := New(repo, src, Options{StartBlock: 1, Logger: zap.New(core)})

	_, err := w.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("escrow event for unfunded trade").Len())
	assert.Equal(t, 1, logs.FilterMessage("escrow amount mismatch").Len())
	assert.Equal(t, 1, logs.FilterMessage("escrow without trade").Len())

	var unfunded models.Trade
	require.NoError(t, db.Where("escrow_id = ?", 5).First(&unfunded).Error)
	assert.Zero(t, unfunded.Metadata.EscrowConfirmedBlock)
	assert.Equal(t, models.TradeStatusAwaitingDeposit, unfunded.Status)
}

func TestExpectedAmountForDomain(t *testing.T) {
	tr := &models.Trade{ListingCategory: models.CategoryDomain, Amount: decimal.NewFromInt(1500)}
	_, ok := expectedAmount(tr)
	assert.False(t, ok)
	tr.Metadata.DomainInfo = &models.DomainInfo{NativeAmount: "0.75"}
	got, ok := expectedAmount(tr)
	assert.True(t, ok)
	assert.Equal(t, "0.75", got.String())
}
