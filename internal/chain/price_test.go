package chain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func priceServer(t *testing.T, status int, body string) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path != "/prices" || r.URL.Query().Get("chainId") != "1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestConvertUsesCache(t *testing.T) {
	srv, hits := priceServer(t, http.StatusOK, `{"symbol":"ETH","usd":"2000"}`)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	pc, err := NewPriceClient(srv.URL, rdb, PriceOptions{CacheTTL: time.Minute, RatePerSecond: 100})
	require.NoError(t, err)

	ctx := context.Background()
	conv, err := pc.Convert(ctx, decimal.NewFromInt(1500), 1)
	require.NoError(t, err)
	assert.Equal(t, "0.75", conv.NativeAmount.String())
	assert.Equal(t, "2000", conv.NativePrice.String())
	assert.Equal(t, "ETH", conv.Symbol)

	_, err = pc.Convert(ctx, decimal.NewFromInt(10), 1)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
	assert.True(t, mr.Exists("price:1"))

	mr.FastForward(2 * time.Minute)
	_, err = pc.Convert(ctx, decimal.NewFromInt(10), 1)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(hits))
}

func TestConvertTruncatesTo18Places(t *testing.T) {
	srv, _ := priceServer(t, http.StatusOK, `{"symbol":"ETH","usd":"3"}`)
	pc, err := NewPriceClient(srv.URL, nil, PriceOptions{RatePerSecond: 100})
	require.NoError(t, err)
	conv, err := pc.Convert(context.Background(), decimal.NewFromInt(1), 1)
	require.NoError(t, err)
	assert.Equal(t, "0.333333333333333333", conv.NativeAmount.String())
}

func TestPriceAPIFailureOpensBreaker(t *testing.T) {
	srv, hits := priceServer(t, http.StatusBadGateway, `{}`)
	pc, err := NewPriceClient(srv.URL, nil, PriceOptions{RatePerSecond: 100, Breaker: BreakerSettings{ConsecutiveFailures: 2}})
	require.NoError(t, err)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := pc.Convert(ctx, decimal.NewFromInt(1), 1)
		require.Error(t, err)
	}
	_, err = pc.Convert(ctx, decimal.NewFromInt(1), 1)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), atomic.LoadInt32(hits))
}

func TestNewPriceClientRequiresURL(t *testing.T) {
	_, err := NewPriceClient("", nil, PriceOptions{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}
