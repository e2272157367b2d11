package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Quote курс нативной валюты сети в USD.
type Quote struct {
	ChainID int64           `json:"chainId"`
	Symbol  string          `json:"symbol"`
	USD     decimal.Decimal `json:"usd"`
}

type PriceOptions struct {
	CacheTTL time.Duration
	// RatePerSecond ограничение запросов к внешнему API.
	RatePerSecond float64
	Breaker       BreakerSettings
	HTTPClient    *http.Client
	Logger        *zap.Logger
}

// PriceClient получает курсы из HTTP API и кэширует их в redis.
type PriceClient struct {
	baseURL string
	http    *http.Client
	cache   *redis.Client
	ttl     time.Duration
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[any]
	sf      singleflight.Group
	log     *zap.Logger
}

// NewPriceClient cache может быть nil.
func NewPriceClient(baseURL string, cache *redis.Client, opts PriceOptions) (*PriceClient, error) {
	if baseURL == "" {
		return nil, ErrNotConfigured
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("price api url: %w", err)
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Minute
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 5
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &PriceClient{
		baseURL: baseURL,
		http:    hc,
		cache:   cache,
		ttl:     opts.CacheTTL,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1),
		cb:      newBreaker("price-api", opts.Breaker),
		log:     log,
	}, nil
}

// Convert переводит сумму в USD в нативную валюту сети (18 знаков, с округлением вниз).
func (p *PriceClient) Convert(ctx context.Context, usdAmount decimal.Decimal, chainID int64) (Conversion, error) {
	q, err := p.Quote(ctx, chainID)
	if err != nil {
		return Conversion{}, err
	}
	if !q.USD.IsPositive() {
		return Conversion{}, fmt.Errorf("invalid price %s for chain %d", q.USD, chainID)
	}
	return Conversion{
		NativeAmount: usdAmount.DivRound(q.USD, 24).Truncate(18),
		NativePrice:  q.USD,
		Symbol:       q.Symbol,
	}, nil
}

// Quote курс сети; сначала читается кэш.
func (p *PriceClient) Quote(ctx context.Context, chainID int64) (Quote, error) {
	key := "price:" + strconv.FormatInt(chainID, 10)
	if p.cache != nil {
		raw, err := p.cache.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var q Quote
			if json.Unmarshal(raw, &q) == nil {
				return q, nil
			}
		case !errors.Is(err, redis.Nil):
			p.log.Warn("price cache read failed", zap.Error(err))
		}
	}
	// одновременные промахи кэша ходят во внешний API одним запросом
	v, err, _ := p.sf.Do(key, func() (any, error) {
		return execute(p.cb, func() (Quote, error) { return p.fetch(ctx, chainID) })
	})
	if err != nil {
		return Quote{}, fmt.Errorf("price for chain %d: %w", chainID, err)
	}
	q := v.(Quote)
	if p.cache != nil {
		if b, err := json.Marshal(q); err == nil {
			if err := p.cache.Set(ctx, key, b, p.ttl).Err(); err != nil {
				p.log.Warn("price cache write failed", zap.Error(err))
			}
		}
	}
	return q, nil
}

func (p *PriceClient) fetch(ctx context.Context, chainID int64) (Quote, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return Quote{}, err
	}
	u := p.baseURL + "/prices?chainId=" + strconv.FormatInt(chainID, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.http.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("price api status %d", resp.StatusCode)
	}
	var q Quote
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		return Quote{}, fmt.Errorf("decode price: %w", err)
	}
	if q.Symbol == "" {
		return Quote{}, errors.New("price api returned empty symbol")
	}
	q.ChainID = chainID
	return q, nil
}

var _ PriceConverter = (*PriceClient)(nil)
