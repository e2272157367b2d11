package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config хранит все настройки приложения
type Config struct {
	Port     string
	DSN      string
	AppEnv   string
	LogLevel string

	// FeeRateBps ставка комиссии эскроу в базисных пунктах (250 = 2.5%)
	FeeRateBps    int
	DepositWindow time.Duration
	DisputeWindow time.Duration

	SweepInterval     time.Duration
	OutboxInterval    time.Duration
	OutboxMaxAttempts int

	RedisAddr      string
	RedisPassword  string
	ChatCacheLimit int64

	EthRPCURL        string
	EscrowContract   string
	EscrowPrivateKey string
	ChainID          int64
	WatchInterval    time.Duration

	PriceAPIURL   string
	PriceCacheTTL time.Duration

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	KafkaBrokers []string
	KafkaTopic   string

	TokenTypeTTL map[string]time.Duration
	CORSOrigins  []string
}

// Load читает .env (если есть), переменные окружения и возвращает заполненный Config
func Load() (*Config, error) {
	// Попробуем загрузить файл .env — если его нет, просто пропускаем
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	dsn := v.GetString("DB_DSN")
	if dsn == "" {
		return nil, fmt.Errorf("DB_DSN must be set")
	}

	cfg := &Config{
		Port:     v.GetString("PORT"),
		DSN:      dsn,
		AppEnv:   v.GetString("APP_ENV"),
		LogLevel: v.GetString("LOG_LEVEL"),

		FeeRateBps:    v.GetInt("FEE_RATE_BPS"),
		DepositWindow: v.GetDuration("DEPOSIT_WINDOW"),
		DisputeWindow: v.GetDuration("DISPUTE_WINDOW"),

		SweepInterval:     v.GetDuration("SWEEP_INTERVAL"),
		OutboxInterval:    v.GetDuration("OUTBOX_INTERVAL"),
		OutboxMaxAttempts: v.GetInt("OUTBOX_MAX_ATTEMPTS"),

		RedisAddr:      v.GetString("REDIS_ADDR"),
		RedisPassword:  v.GetString("REDIS_PASSWORD"),
		ChatCacheLimit: v.GetInt64("CHAT_CACHE_LIMIT"),

		EthRPCURL:        v.GetString("ETH_RPC_URL"),
		EscrowContract:   v.GetString("ESCROW_CONTRACT"),
		EscrowPrivateKey: v.GetString("ESCROW_PRIVATE_KEY"),
		ChainID:          v.GetInt64("CHAIN_ID"),
		WatchInterval:    v.GetDuration("WATCH_INTERVAL"),

		PriceAPIURL:   v.GetString("PRICE_API_URL"),
		PriceCacheTTL: v.GetDuration("PRICE_CACHE_TTL"),

		MinioEndpoint:  v.GetString("MINIO_ENDPOINT"),
		MinioAccessKey: v.GetString("MINIO_ACCESS_KEY"),
		MinioSecretKey: v.GetString("MINIO_SECRET_KEY"),
		MinioBucket:    v.GetString("MINIO_BUCKET"),
		MinioUseSSL:    v.GetBool("MINIO_USE_SSL"),

		KafkaBrokers: splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:   v.GetString("KAFKA_TOPIC"),

		TokenTypeTTL: map[string]time.Duration{
			"access":  v.GetDuration("TOKEN_TTL_ACCESS"),
			"refresh": v.GetDuration("TOKEN_TTL_REFRESH"),
		},
		CORSOrigins: splitList(v.GetString("CORS_ORIGINS")),
	}
	if cfg.FeeRateBps < 0 || cfg.FeeRateBps > 10000 {
		return nil, fmt.Errorf("FEE_RATE_BPS must be within [0, 10000], got %d", cfg.FeeRateBps)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("APP_ENV", "dev")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("FEE_RATE_BPS", 250)
	v.SetDefault("DEPOSIT_WINDOW", "15m")
	v.SetDefault("DISPUTE_WINDOW", "72h")
	v.SetDefault("SWEEP_INTERVAL", "30s")
	v.SetDefault("OUTBOX_INTERVAL", "5s")
	v.SetDefault("OUTBOX_MAX_ATTEMPTS", 10)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("CHAT_CACHE_LIMIT", 100)
	v.SetDefault("CHAIN_ID", 1)
	v.SetDefault("WATCH_INTERVAL", "15s")
	v.SetDefault("PRICE_CACHE_TTL", "60s")
	v.SetDefault("MINIO_BUCKET", "escrowdesk")
	v.SetDefault("KAFKA_TOPIC", "trade-events")
	v.SetDefault("TOKEN_TTL_ACCESS", "15m")
	v.SetDefault("TOKEN_TTL_REFRESH", "720h")
	v.SetDefault("CORS_ORIGINS", "*")
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
