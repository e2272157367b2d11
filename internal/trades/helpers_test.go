package trades

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"escrowdesk/internal/chain"
	appdb "escrowdesk/internal/db"
	"escrowdesk/internal/models"
)

const (
	sellerWallet = "0x1111111111111111111111111111111111111111"
	buyerWallet  = "0x2222222222222222222222222222222222222222"
)

var testTxHash = "0x" + strings.Repeat("ab", 32)

type recorder struct {
	mu     sync.Mutex
	events []models.OutboxEvent
}

func (r *recorder) Deliver(ctx context.Context, events []models.OutboxEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *recorder) types() []models.TradeEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.TradeEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

type fakeEscrow struct {
	createErr  error
	confirmErr error
	created    int
	confirmed  int
	seller     string
	amount     decimal.Decimal
	// onConfirm срабатывает внутри ConfirmDelivery, пока переход ещё не записан
	onConfirm func()
}

func (f *fakeEscrow) CreateEscrow(ctx context.Context, seller string, amount decimal.Decimal, window time.Duration, metadata string, autoFund bool) (chain.EscrowReceipt, error) {
	if f.createErr != nil {
		return chain.EscrowReceipt{}, f.createErr
	}
	f.created++
	f.seller, f.amount = seller, amount
	return chain.EscrowReceipt{TxHash: "0x" + strings.Repeat("cd", 32), EscrowID: 77}, nil
}

func (f *fakeEscrow) FundEscrow(ctx context.Context, escrowID uint64, amount decimal.Decimal) (string, error) {
	return "0x" + strings.Repeat("ef", 32), nil
}

func (f *fakeEscrow) ConfirmDelivery(ctx context.Context, escrowID uint64) (string, error) {
	if f.confirmErr != nil {
		return "", f.confirmErr
	}
	f.confirmed++
	if f.onConfirm != nil {
		f.onConfirm()
	}
	return "0x" + strings.Repeat("12", 32), nil
}

func (f *fakeEscrow) CalculateFee(ctx context.Context, amount decimal.Decimal, address string) (string, error) {
	return "0.025", nil
}

type fakePrices struct{ err error }

func (f fakePrices) Convert(ctx context.Context, usd decimal.Decimal, chainID int64) (chain.Conversion, error) {
	if f.err != nil {
		return chain.Conversion{}, f.err
	}
	price := decimal.NewFromInt(2000)
	return chain.Conversion{NativeAmount: usd.Div(price), NativePrice: price, Symbol: "ETH"}, nil
}

type fixture struct {
	db       *gorm.DB
	repo     *Repository
	svc      *Service
	events   *recorder
	escrow   *fakeEscrow
	buyer    models.User
	seller   models.User
	stranger models.User
	admin    models.User
	p2p      models.Listing
	domain   models.Listing
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, appdb.Migrate(gdb))
	return gdb
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb := newTestDB(t)
	f := &fixture{db: gdb, repo: NewRepository(gdb), events: &recorder{}, escrow: &fakeEscrow{}}
	f.buyer = models.User{Username: "buyer", WalletAddress: buyerWallet}
	f.seller = models.User{Username: "seller", WalletAddress: sellerWallet}
	f.stranger = models.User{Username: "stranger"}
	f.admin = models.User{Username: "arbiter", Role: models.UserRoleAdmin}
	for _, u := range []*models.User{&f.buyer, &f.seller, &f.stranger, &f.admin} {
		require.NoError(t, gdb.Create(u).Error)
	}
	f.p2p = models.Listing{
		UserID: f.seller.ID, ListingType: models.ListingTypeSell, Category: models.CategoryP2P,
		TokenOffered: "ETH", Currency: "ETH", ChainID: 1,
		Amount: decimal.NewFromInt(1000), MinAmount: decimal.NewFromInt(1), MaxAmount: decimal.NewFromInt(1000),
		PaymentMethod: "SEPA", IsActive: true,
	}
	f.domain = models.Listing{
		UserID: f.seller.ID, ListingType: models.ListingTypeSell, Category: models.CategoryDomain,
		TokenOffered: "ETH", Currency: "USD", ChainID: 1,
		Amount: decimal.NewFromInt(1500), DomainName: "example.io", IsActive: true,
	}
	require.NoError(t, gdb.Create(&f.p2p).Error)
	require.NoError(t, gdb.Create(&f.domain).Error)
	f.svc = f.service(250)
	return f
}

func (f *fixture) service(rate int) *Service {
	return NewService(f.repo, Options{
		FeeRateBps: rate,
		ChainID:    1,
		Escrow:     f.escrow,
		Prices:     fakePrices{},
		Dispatcher: f.events,
	})
}

func (f *fixture) actor(u models.User) Actor {
	return Actor{UserID: u.ID, Admin: u.IsAdmin()}
}

// insertTrade кладёт сделку в базу напрямую, минуя машину состояний.
func (f *fixture) insertTrade(t *testing.T, category models.ListingCategory, status models.TradeStatus, mutate ...func(*models.Trade)) *models.Trade {
	t.Helper()
	listing := f.p2p
	if category == models.CategoryDomain {
		listing = f.domain
	}
	tr := &models.Trade{
		ChainID:         1,
		ListingID:       listing.ID,
		BuyerID:         f.buyer.ID,
		SellerID:        f.seller.ID,
		Amount:          decimal.RequireFromString("100.00"),
		Currency:        listing.Currency,
		ListingCategory: category,
		Status:          status,
	}
	if status != models.TradeStatusCreated && status != models.TradeStatusAwaitingDeposit {
		tr.EscrowID = 5
	}
	for _, m := range mutate {
		m(tr)
	}
	require.NoError(t, f.db.Omit(clause.Associations).Create(tr).Error)
	return tr
}

func (f *fixture) reload(t *testing.T, id uint) *models.Trade {
	t.Helper()
	tr, err := f.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return tr
}

func (f *fixture) outboxCount(t *testing.T, tradeID uint, typ models.TradeEventType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.OutboxEvent{}).Where("trade_id = ? AND event_type = ?", tradeID, typ).Count(&n).Error)
	return n
}

func intPtr(v int) *int { return &v }

var errBoom = errors.New("boom")
