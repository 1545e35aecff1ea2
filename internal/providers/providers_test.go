package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/signalrun/internal/errs"
	"github.com/sawpanic/signalrun/internal/models"
)

const usdtAddr = "0xdac17f958d2ee523a2206206994597c13d831ec7"

func TestDexScreener_NormalizesDeepestPair(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, usdtAddr)
		w.Write([]byte(`{"pairs":[
			{"chainId":"ethereum","priceUsd":"0.98","baseToken":{"symbol":"USDT"},
			 "liquidity":{"usd":1000},"volume":{"h24":10},"priceChange":{"h24":-0.1},
			 "marketCap":0,"fdv":500000,"pairCreatedAt":1609459200000},
			{"chainId":"ethereum","priceUsd":"1.00","baseToken":{"symbol":"USDT"},
			 "liquidity":{"usd":50000000},"volume":{"h24":1000000},"priceChange":{"h24":0.01},
			 "marketCap":90000000000,"fdv":0,"pairCreatedAt":1609459200000}]}`))
	}))
	defer srv.Close()

	p := NewDexScreener(srv.URL, time.Second)
	snap, err := p.CurrentPrice(context.Background(), usdtAddr, models.ChainEVM)
	require.NoError(t, err)

	assert.Equal(t, 1.00, snap.PriceUSD)
	assert.Equal(t, 9e10, snap.MarketCap)
	assert.Equal(t, 5e7, snap.LiquidityUSD)
	assert.Equal(t, "USDT", snap.Symbol)
	assert.Equal(t, "dexscreener", snap.Provider)
	assert.Equal(t, int64(1609459200), snap.PairCreatedAt)
	assert.Greater(t, snap.Supply, 0.0, "supply derived from market cap")
}

func TestDexScreener_EmptyPairsIsProviderEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pairs":[]}`))
	}))
	defer srv.Close()

	p := NewDexScreener(srv.URL, time.Second)
	_, err := p.CurrentPrice(context.Background(), usdtAddr, models.ChainEVM)
	assert.Equal(t, errs.KindProviderEmpty, errs.KindOf(err))
}

func TestGetJSON_StatusMapping(t *testing.T) {
	for _, tc := range []struct {
		status int
		want   errs.Kind
	}{
		{http.StatusTooManyRequests, errs.KindTransientNetwork},
		{http.StatusBadGateway, errs.KindTransientNetwork},
		{http.StatusNotFound, errs.KindProviderEmpty},
		{http.StatusBadRequest, errs.KindProviderEmpty},
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		var out map[string]interface{}
		err := getJSON(context.Background(), srv.Client(), "test", srv.URL, nil, &out)
		assert.Equal(t, tc.want, errs.KindOf(err), "status %d", tc.status)
		srv.Close()
	}
}

func TestGeckoTerminal_ParsesStringNumbers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/networks/solana/tokens/")
		w.Write([]byte(`{"data":{"attributes":{
			"symbol":"WIF","price_usd":"2.41","fdv_usd":"2410000000",
			"market_cap_usd":null,"volume_usd":{"h24":"150000000"},
			"total_reserve_in_usd":"30000000","total_supply":"998900000"}}}`))
	}))
	defer srv.Close()

	p := NewGeckoTerminal(srv.URL, time.Second)
	snap, err := p.CurrentPrice(context.Background(), "EKpQGSJtjMFqKZ9KQanSqYXRcF8fBopzLHYxdM65zcjm", models.ChainSolana)
	require.NoError(t, err)

	assert.Equal(t, 2.41, snap.PriceUSD)
	assert.Equal(t, 2.41e9, snap.MarketCap, "falls back to FDV when market cap is null")
	assert.Equal(t, 9.989e8, snap.Supply)
	assert.Equal(t, "geckoterminal", snap.Provider)
}

func TestCoinGecko_CurrentPriceByContract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"0xdac17f958d2ee523a2206206994597c13d831ec7":
			{"usd":1.0,"usd_market_cap":90000000000,"usd_24h_vol":42000000000,"usd_24h_change":0.02}}`))
	}))
	defer srv.Close()

	p := NewCoinGecko(srv.URL, "", time.Second)
	snap, err := p.CurrentPrice(context.Background(), usdtAddr, models.ChainEVM)
	require.NoError(t, err)
	assert.Equal(t, 1.0, snap.PriceUSD)
	assert.Equal(t, "coingecko", snap.Provider)
}

func TestCoinGecko_PriceAtPicksClosestPoint(t *testing.T) {
	at := time.Unix(1700000000, 0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"prices":[[1699996400000,99.0],[1700000100000,101.0],[1700003600000,105.0]]}`))
	}))
	defer srv.Close()

	p := NewCoinGecko(srv.URL, "", time.Second)
	price, err := p.PriceAt(context.Background(), "SOL", at)
	require.NoError(t, err)
	assert.Equal(t, 101.0, price)
}

func TestCoinGecko_DailyOHLCTrimsWindow(t *testing.T) {
	start := time.Now().AddDate(0, 0, -10).Truncate(24 * time.Hour)
	inWindow := start.AddDate(0, 0, 2).UnixMilli()
	before := start.AddDate(0, 0, -3).UnixMilli()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			[` + itoa(before) + `,10,12,9,11],
			[` + itoa(inWindow) + `,11,15,10,14]]`))
	}))
	defer srv.Close()

	p := NewCoinGecko(srv.URL, "", time.Second)
	candles, err := p.DailyOHLC(context.Background(), "PEPE", start, 7)
	require.NoError(t, err)
	require.Len(t, candles, 1, "candles before the window are trimmed")
	assert.Equal(t, 15.0, candles[0].High)
	assert.True(t, candles[0].Valid())
}

func TestJupiter_SolanaOnly(t *testing.T) {
	p := NewJupiter("http://unused", time.Second)
	assert.False(t, p.Supports(models.ChainEVM))
	_, err := p.CurrentPrice(context.Background(), usdtAddr, models.ChainEVM)
	assert.Equal(t, errs.KindProviderEmpty, errs.KindOf(err))
}

func TestJupiter_ParsesPrice(t *testing.T) {
	mint := "So11111111111111111111111111111111111111112"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"` + mint + `":{"id":"` + mint + `","mintSymbol":"SOL","price":147.32}}}`))
	}))
	defer srv.Close()

	p := NewJupiter(srv.URL, time.Second)
	snap, err := p.CurrentPrice(context.Background(), mint, models.ChainSolana)
	require.NoError(t, err)
	assert.Equal(t, 147.32, snap.PriceUSD)
	assert.Equal(t, "SOL", snap.Symbol)
}

func TestCryptoCompare_HistodaySkipsZeroRows(t *testing.T) {
	start := time.Unix(1700000000, 0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Response":"Success","Data":{"Data":[
			{"time":1700003600,"open":0,"high":0,"low":0,"close":0},
			{"time":1700090000,"open":1.0,"high":2.0,"low":0.9,"close":1.8}]}}`))
	}))
	defer srv.Close()

	p := NewCryptoCompare(srv.URL, "", time.Second)
	candles, err := p.DailyOHLC(context.Background(), "pepe", start, 7)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 2.0, candles[0].High)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
