// @title EscrowDesk API
// @version 1.0
// @description API эскроу-сделок: P2P обмен криптовалюты на фиат и продажа доменов
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	ginprom "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"escrowdesk/config"
	"escrowdesk/internal/chain"
	"escrowdesk/internal/db"
	"escrowdesk/internal/escrowwatch"
	"escrowdesk/internal/eventbus"
	"escrowdesk/internal/handlers"
	"escrowdesk/internal/logger"
	"escrowdesk/internal/notifications"
	"escrowdesk/internal/outbox"
	"escrowdesk/internal/realtime"
	"escrowdesk/internal/stats"
	"escrowdesk/internal/storage"
	"escrowdesk/internal/sweeper"
	"escrowdesk/internal/tradechat"
	"escrowdesk/internal/trades"

	docs "escrowdesk/docs"
)

func main() {
	// 1. Загружаем конфиг из .env / окружения
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel, cfg.AppEnv)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer zl.Sync()

	// 1.1 Определяем режим запуска (dev/prod)
	if cfg.AppEnv == "prod" || cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Открываем GORM-подключение, схема применяется при открытии
	gormDB, err := db.NewDB(cfg.DSN)
	if err != nil {
		zl.Fatal("db connect failed", zap.Error(err))
	}

	// 3. Необязательные внешние зависимости
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(ctx).Err(); err != nil {
			zl.Fatal("redis connect failed", zap.Error(err))
		}
		defer rdb.Close()
	}

	store, err := storage.New(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		zl.Fatal("storage init failed", zap.Error(err))
	}

	var (
		escrow chain.EscrowClient
		prices chain.PriceConverter
		evm    *chain.EVMClient
	)
	if cfg.EthRPCURL != "" {
		evm, err = chain.DialEVM(ctx, cfg.EthRPCURL, cfg.EscrowContract, cfg.EscrowPrivateKey, chain.EVMOptions{
			ChainID: cfg.ChainID,
			Logger:  zl.Named("evm"),
		})
		if err != nil {
			zl.Fatal("evm dial failed", zap.Error(err))
		}
		escrow = evm
	} else {
		zl.Warn("ETH_RPC_URL is empty, domain escrow is disabled")
	}
	if cfg.PriceAPIURL != "" {
		pc, err := chain.NewPriceClient(cfg.PriceAPIURL, rdb, chain.PriceOptions{
			CacheTTL: cfg.PriceCacheTTL,
			Logger:   zl.Named("prices"),
		})
		if err != nil {
			zl.Fatal("price client init failed", zap.Error(err))
		}
		prices = pc
	}

	// метрики сервисов в общем реестре, /metrics отдаёт go-gin-prometheus
	registry := prometheus.DefaultRegisterer

	// 4. Realtime: локальный хаб, при наличии redis события идут через pub/sub
	hub := realtime.NewHub()
	var broadcaster realtime.Broadcaster = hub
	var relay *realtime.Relay
	if rdb != nil {
		broadcaster = realtime.NewRedisBroadcaster(rdb)
		relay = realtime.NewRelay(rdb, hub, zl.Named("relay"))
		if err := relay.Start(ctx); err != nil {
			zl.Fatal("realtime relay start failed", zap.Error(err))
		}
		defer relay.Stop()
	}

	// 5. Подписчики событий сделки
	var chatCache *tradechat.Cache
	if rdb != nil {
		chatCache = tradechat.NewCache(rdb, cfg.ChatCacheLimit)
	}
	notifSvc := notifications.NewService(gormDB, broadcaster, zl.Named("notifications"))
	chatSvc := tradechat.NewService(gormDB, chatCache, broadcaster, store, zl.Named("chat"))
	statsSvc := stats.NewService(gormDB, zl.Named("stats"))

	dispatcher := outbox.New(gormDB, outbox.Options{
		Interval:    cfg.OutboxInterval,
		MaxAttempts: cfg.OutboxMaxAttempts,
		Metrics:     outbox.NewMetrics(registry),
		Logger:      zl.Named("outbox"),
	})
	dispatcher.Register("notifications", notifSvc)
	dispatcher.Register("chat", chatSvc)
	dispatcher.Register("stats", statsSvc)
	dispatcher.Register("realtime", realtime.NewTradeFanout(broadcaster))
	if len(cfg.KafkaBrokers) > 0 {
		pub, err := eventbus.Dial(cfg.KafkaBrokers, cfg.KafkaTopic, eventbus.NewMetrics(registry), zl.Named("eventbus"))
		if err != nil {
			zl.Fatal("kafka dial failed", zap.Error(err))
		}
		defer pub.Close()
		dispatcher.Register("eventbus", pub)
	}

	// 6. Машина состояний сделки и фоновые задачи
	repo := trades.NewRepository(gormDB)
	svc := trades.NewService(repo, trades.Options{
		FeeRateBps:    cfg.FeeRateBps,
		DisputeWindow: cfg.DisputeWindow,
		ChainID:       cfg.ChainID,
		Escrow:        escrow,
		Prices:        prices,
		Dispatcher:    dispatcher,
		Metrics:       trades.NewMetrics(registry),
		Logger:        zl.Named("trades"),
	})

	sw := sweeper.New(repo, svc, cfg.SweepInterval, zl.Named("sweeper"))
	dispatcher.Start()
	defer dispatcher.Stop()
	sw.Start()
	defer sw.Stop()
	if evm != nil {
		watcher := escrowwatch.New(repo, evm, escrowwatch.Options{
			Interval: cfg.WatchInterval,
			Logger:   zl.Named("escrowwatch"),
		})
		watcher.Start()
		defer watcher.Stop()
	}

	docs.SwaggerInfo.BasePath = "/"

	// 7. Создаём Gin-роутер
	r := gin.New()
	r.Use(gin.Recovery())
	p := ginprom.NewPrometheus("escrowdesk")
	p.Use(r)
	corsCfg := cors.DefaultConfig()
	if len(cfg.CORSOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.CORSOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AddAllowHeaders("Authorization")
	r.Use(cors.New(corsCfg))
	r.GET("/health", handlers.Health(gormDB, rdb))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	auth := r.Group("/auth")
	auth.POST("/register", handlers.Register(gormDB, cfg.TokenTypeTTL))
	auth.POST("/login", handlers.Login(gormDB, cfg.TokenTypeTTL))
	auth.POST("/refresh", handlers.Refresh(gormDB, cfg.TokenTypeTTL))
	auth.Use(handlers.AuthMiddleware(gormDB))
	auth.GET("/profile", handlers.Profile(gormDB))
	auth.PUT("/wallet", handlers.UpdateWallet(gormDB))
	auth.POST("/2fa/enable", handlers.Enable2FA(gormDB))
	auth.POST("/logout", handlers.Logout(gormDB))

	api := r.Group("/")
	api.Use(handlers.AuthMiddleware(gormDB))
	api.POST("/listings", handlers.CreateListing(gormDB, cfg.ChainID, cfg.DepositWindow))
	api.GET("/listings", handlers.ListListings(gormDB))
	api.POST("/listings/:id/disable", handlers.DisableListing(gormDB))

	api.POST("/trades", handlers.CreateTrade(svc))
	api.GET("/trades", handlers.ListTrades(svc))
	api.GET("/trades/table", handlers.TradesTable(svc))
	api.GET("/trades/stats", handlers.TradeStats(svc))
	api.GET("/trades/:id", handlers.GetTrade(svc))
	api.GET("/trades/:id/actions", handlers.GetTradeActions(svc))
	api.GET("/trades/:id/fee-quote", handlers.GetFeeQuote(svc))
	api.POST("/trades/:id/deposit", handlers.DepositTrade(svc))
	api.POST("/trades/:id/fund", handlers.FundTrade(svc))
	api.POST("/trades/:id/payment-sent", handlers.PaymentSent(svc))
	api.POST("/trades/:id/confirm", handlers.ConfirmTrade(svc))
	api.POST("/trades/:id/dispute", handlers.DisputeTrade(svc))
	api.POST("/trades/:id/cancel", handlers.CancelTrade(svc))
	api.POST("/trades/:id/attachments", handlers.UploadAttachment(svc, store))
	api.GET("/trades/:id/messages", handlers.ListMessages(svc, chatSvc))
	api.POST("/trades/:id/messages", handlers.PostMessage(svc, chatSvc))

	api.GET("/notifications", handlers.ListNotifications(notifSvc))
	api.PATCH("/notifications/:id/read", handlers.ReadNotification(notifSvc))
	api.PATCH("/notifications/:id/unread", handlers.UnreadNotification(notifSvc))
	api.POST("/notifications/read-all", handlers.ReadAllNotifications(notifSvc))

	api.GET("/users/:id/stats", handlers.UserStats(gormDB, statsSvc))

	admin := r.Group("/admin")
	admin.Use(handlers.AuthMiddleware(gormDB), handlers.AdminOnly())
	admin.POST("/trades/:id/resolve", handlers.ResolveDispute(svc))
	admin.POST("/maintenance", handlers.RunMaintenance(sw, dispatcher, zl.Named("admin")))

	ws := r.Group("/ws")
	ws.Use(handlers.AuthMiddleware(gormDB))
	ws.GET("/trades/:id", handlers.TradeWS(svc, hub))
	ws.GET("/user-trades", handlers.UserTradesWS(hub))
	ws.GET("/trades", handlers.GlobalTradesWS(hub))
	ws.GET("/notifications", handlers.NotificationsWS(notifSvc, hub))

	// 8. Запускаем сервер и ждём сигнала остановки
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zl.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		zl.Error("server stopped with error", zap.Error(err))
	}
	zl.Info("shutdown complete")
}
