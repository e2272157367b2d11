package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"escrowdesk/internal/chain"
	appdb "escrowdesk/internal/db"
	"escrowdesk/internal/models"
	"escrowdesk/internal/notifications"
	"escrowdesk/internal/outbox"
	"escrowdesk/internal/realtime"
	"escrowdesk/internal/stats"
	"escrowdesk/internal/storage"
	"escrowdesk/internal/tradechat"
	"escrowdesk/internal/trades"
)

const sellerWallet = "0x1111111111111111111111111111111111111111"

var testTxHash = "0x" + strings.Repeat("ab", 32)

type fakeEscrow struct{}

func (fakeEscrow) CreateEscrow(ctx context.Context, seller string, amount decimal.Decimal, window time.Duration, metadata string, autoFund bool) (chain.EscrowReceipt, error) {
	return chain.EscrowReceipt{TxHash: "0x" + strings.Repeat("cd", 32), EscrowID: 77}, nil
}

func (fakeEscrow) FundEscrow(ctx context.Context, escrowID uint64, amount decimal.Decimal) (string, error) {
	return "0x" + strings.Repeat("ef", 32), nil
}

func (fakeEscrow) ConfirmDelivery(ctx context.Context, escrowID uint64) (string, error) {
	return "0x" + strings.Repeat("12", 32), nil
}

func (fakeEscrow) CalculateFee(ctx context.Context, amount decimal.Decimal, address string) (string, error) {
	return "0.025", nil
}

type fakePrices struct{}

func (fakePrices) Convert(ctx context.Context, usd decimal.Decimal, chainID int64) (chain.Conversion, error) {
	price := decimal.NewFromInt(2000)
	return chain.Conversion{NativeAmount: usd.Div(price), NativePrice: price, Symbol: "ETH"}, nil
}

type testEnv struct {
	db    *gorm.DB
	r     *gin.Engine
	ttl   map[string]time.Duration
	svc   *trades.Service
	hub   *realtime.Hub
	store *storage.Memory
}

// setupTest создаёт in-memory БД, сервисы и маршруты для тестов.
func setupTest(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("db open: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := appdb.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	log := zap.NewNop()
	hub := realtime.NewHub()
	store := storage.NewMemory()
	notifSvc := notifications.NewService(db, hub, log)
	chatSvc := tradechat.NewService(db, tradechat.NewCache(rdb, 50), hub, store, log)
	statsSvc := stats.NewService(db, log)

	dispatcher := outbox.New(db, outbox.Options{Logger: log})
	dispatcher.Register("notifications", notifSvc)
	dispatcher.Register("chat", chatSvc)
	dispatcher.Register("stats", statsSvc)
	dispatcher.Register("realtime", realtime.NewTradeFanout(hub))

	svc := trades.NewService(trades.NewRepository(db), trades.Options{
		FeeRateBps: 250,
		ChainID:    1,
		Escrow:     fakeEscrow{},
		Prices:     fakePrices{},
		Dispatcher: dispatcher,
		Logger:     log,
	})

	ttl := map[string]time.Duration{"access": time.Minute, "refresh": time.Hour}

	r := gin.New()
	r.GET("/health", Health(db, rdb))

	auth := r.Group("/auth")
	auth.POST("/register", Register(db, ttl))
	auth.POST("/login", Login(db, ttl))
	auth.POST("/refresh", Refresh(db, ttl))
	auth.Use(AuthMiddleware(db))
	auth.GET("/profile", Profile(db))
	auth.PUT("/wallet", UpdateWallet(db))
	auth.POST("/2fa/enable", Enable2FA(db))
	auth.POST("/logout", Logout(db))

	api := r.Group("/")
	api.Use(AuthMiddleware(db))
	api.POST("/listings", CreateListing(db, 1, 15*time.Minute))
	api.GET("/listings", ListListings(db))
	api.POST("/listings/:id/disable", DisableListing(db))

	api.POST("/trades", CreateTrade(svc))
	api.GET("/trades", ListTrades(svc))
	api.GET("/trades/table", TradesTable(svc))
	api.GET("/trades/stats", TradeStats(svc))
	api.GET("/trades/:id", GetTrade(svc))
	api.GET("/trades/:id/actions", GetTradeActions(svc))
	api.GET("/trades/:id/fee-quote", GetFeeQuote(svc))
	api.POST("/trades/:id/deposit", DepositTrade(svc))
	api.POST("/trades/:id/fund", FundTrade(svc))
	api.POST("/trades/:id/payment-sent", PaymentSent(svc))
	api.POST("/trades/:id/confirm", ConfirmTrade(svc))
	api.POST("/trades/:id/dispute", DisputeTrade(svc))
	api.POST("/trades/:id/cancel", CancelTrade(svc))
	api.POST("/trades/:id/attachments", UploadAttachment(svc, store))
	api.GET("/trades/:id/messages", ListMessages(svc, chatSvc))
	api.POST("/trades/:id/messages", PostMessage(svc, chatSvc))

	api.GET("/notifications", ListNotifications(notifSvc))
	api.PATCH("/notifications/:id/read", ReadNotification(notifSvc))
	api.PATCH("/notifications/:id/unread", UnreadNotification(notifSvc))
	api.POST("/notifications/read-all", ReadAllNotifications(notifSvc))

	api.GET("/users/:id/stats", UserStats(db, statsSvc))

	admin := r.Group("/admin")
	admin.Use(AuthMiddleware(db), AdminOnly())
	admin.POST("/trades/:id/resolve", ResolveDispute(svc))
	admin.POST("/maintenance", RunMaintenance(nil, dispatcher, log))

	ws := r.Group("/ws")
	ws.Use(AuthMiddleware(db))
	ws.GET("/trades/:id", TradeWS(svc, hub))
	ws.GET("/user-trades", UserTradesWS(hub))
	ws.GET("/trades", GlobalTradesWS(hub))
	ws.GET("/notifications", NotificationsWS(notifSvc, hub))

	return &testEnv{db: db, r: r, ttl: ttl, svc: svc, hub: hub, store: store}
}

type testUser struct {
	ID    string
	Token string
}

// register создаёт пользователя через /auth/register и возвращает его id и access-токен.
func (e *testEnv) register(t *testing.T, username string) testUser {
	t.Helper()
	body := fmt.Sprintf(`{"username":%q,"password":"pass","password_confirm":"pass"}`, username)
	w := e.do(t, http.MethodPost, "/auth/register", "", body)
	if w.Code != http.StatusOK {
		t.Fatalf("register %s status %d: %s", username, w.Code, w.Body.String())
	}
	var tok TokenResponse
	if err := json.Unmarshal(w.Body.Bytes(), &tok); err != nil {
		t.Fatalf("register parse: %v", err)
	}
	w = e.do(t, http.MethodGet, "/auth/profile", tok.AccessToken, "")
	if w.Code != http.StatusOK {
		t.Fatalf("profile status %d", w.Code)
	}
	var p ProfileResponse
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("profile parse: %v", err)
	}
	return testUser{ID: p.ID, Token: tok.AccessToken}
}

func (e *testEnv) admin(t *testing.T, username string) testUser {
	t.Helper()
	u := e.register(t, username)
	if err := e.db.Model(&models.User{}).Where("id = ?", u.ID).Update("role", models.UserRoleAdmin).Error; err != nil {
		t.Fatalf("promote admin: %v", err)
	}
	return u
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req, _ = http.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, _ = http.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func (e *testEnv) listing(t *testing.T, owner testUser, body string) models.Listing {
	t.Helper()
	w := e.do(t, http.MethodPost, "/listings", owner.Token, body)
	if w.Code != http.StatusOK {
		t.Fatalf("create listing status %d: %s", w.Code, w.Body.String())
	}
	var l models.Listing
	if err := json.Unmarshal(w.Body.Bytes(), &l); err != nil {
		t.Fatalf("listing parse: %v", err)
	}
	return l
}

func (e *testEnv) trade(t *testing.T, taker testUser, listingID uint, amount string) TradeResponse {
	t.Helper()
	body := fmt.Sprintf(`{"listing_id":%d,"amount":%q}`, listingID, amount)
	w := e.do(t, http.MethodPost, "/trades", taker.Token, body)
	if w.Code != http.StatusOK {
		t.Fatalf("create trade status %d: %s", w.Code, w.Body.String())
	}
	return decodeTrade(t, w)
}

func decodeTrade(t *testing.T, w *httptest.ResponseRecorder) TradeResponse {
	t.Helper()
	var tr TradeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &tr); err != nil {
		t.Fatalf("trade parse: %v", err)
	}
	return tr
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("error parse: %v", err)
	}
	return e
}

const p2pSellListing = `{"listing_type":"sell","category":"p2p","token_offered":"ETH","currency":"ETH","amount":"100","min_amount":"1","max_amount":"100","payment_method":"bank"}`
