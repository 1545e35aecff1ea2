package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sawpanic/signalrun/internal/errs"
	"github.com/sawpanic/signalrun/internal/models"
)

// CoinGecko serves current prices by contract address (general-2) and is the
// primary historical provider: point-in-time prices and daily OHLC windows.
type CoinGecko struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewCoinGecko creates the adapter. The key is optional on the free tier.
func NewCoinGecko(baseURL, apiKey string, timeout time.Duration) *CoinGecko {
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &CoinGecko{
		name:    "coingecko",
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *CoinGecko) Name() string { return c.name }

func (c *CoinGecko) Supports(chain models.Chain) bool {
	return chain == models.ChainEVM || chain == models.ChainSolana
}

func (c *CoinGecko) headers() map[string]string {
	if c.apiKey == "" {
		return nil
	}
	return map[string]string{"x-cg-demo-api-key": c.apiKey}
}

func platform(chain models.Chain) string {
	if chain == models.ChainSolana {
		return "solana"
	}
	return "ethereum"
}

func (c *CoinGecko) CurrentPrice(ctx context.Context, address string, chain models.Chain) (*models.PriceSnapshot, error) {
	params := url.Values{}
	params.Set("contract_addresses", address)
	params.Set("vs_currencies", "usd")
	params.Set("include_market_cap", "true")
	params.Set("include_24hr_vol", "true")
	params.Set("include_24hr_change", "true")
	endpoint := fmt.Sprintf("%s/simple/token_price/%s?%s", c.baseURL, platform(chain), params.Encode())

	var result map[string]struct {
		USD          float64 `json:"usd"`
		USDMarketCap float64 `json:"usd_market_cap"`
		USD24hVol    float64 `json:"usd_24h_vol"`
		USD24hChange float64 `json:"usd_24h_change"`
	}

	if err := getJSON(ctx, c.client, c.name, endpoint, c.headers(), &result); err != nil {
		return nil, err
	}

	entry, ok := result[strings.ToLower(address)]
	if !ok || entry.USD <= 0 {
		return nil, errs.Tag(errs.KindProviderEmpty, c.name, "unknown contract")
	}

	return finalize(&models.PriceSnapshot{
		PriceUSD:       entry.USD,
		MarketCap:      entry.USDMarketCap,
		Volume24h:      entry.USD24hVol,
		PriceChange24h: entry.USD24hChange,
	}, c.name), nil
}

// coinID maps a ticker to CoinGecko's coin id for the historical endpoints.
func coinID(symbol string) string {
	switch strings.ToUpper(symbol) {
	case "BTC":
		return "bitcoin"
	case "ETH":
		return "ethereum"
	case "SOL":
		return "solana"
	case "BNB":
		return "binancecoin"
	case "USDC":
		return "usd-coin"
	case "USDT":
		return "tether"
	case "ADA":
		return "cardano"
	case "DOGE":
		return "dogecoin"
	case "XRP":
		return "ripple"
	case "AVAX":
		return "avalanche-2"
	case "LINK":
		return "chainlink"
	case "PEPE":
		return "pepe"
	default:
		return strings.ToLower(symbol)
	}
}

// PriceAt returns the USD price of symbol at the given instant, using the
// market-chart range around it and picking the closest point.
func (c *CoinGecko) PriceAt(ctx context.Context, symbol string, at time.Time) (float64, error) {
	from := at.Add(-time.Hour).Unix()
	to := at.Add(time.Hour).Unix()
	endpoint := fmt.Sprintf("%s/coins/%s/market_chart/range?vs_currency=usd&from=%d&to=%d",
		c.baseURL, coinID(symbol), from, to)

	var result struct {
		Prices [][]float64 `json:"prices"` // [ms, price]
	}
	if err := getJSON(ctx, c.client, c.name, endpoint, c.headers(), &result); err != nil {
		return 0, err
	}
	if len(result.Prices) == 0 {
		return 0, errs.Tag(errs.KindProviderEmpty, c.name, "no price points in range")
	}

	target := float64(at.UnixMilli())
	best := result.Prices[0]
	for _, p := range result.Prices[1:] {
		if abs(p[0]-target) < abs(best[0]-target) {
			best = p
		}
	}
	if best[1] <= 0 {
		return 0, errs.Tag(errs.KindProviderEmpty, c.name, "zero price point")
	}
	return best[1], nil
}

// DailyOHLC returns daily candles covering [start, start+days].
func (c *CoinGecko) DailyOHLC(ctx context.Context, symbol string, start time.Time, days int) ([]models.Candle, error) {
	// The OHLC endpoint takes a trailing window; request enough to cover the
	// span and trim to the requested range.
	span := int(time.Since(start).Hours()/24) + 1
	if span < days {
		span = days
	}
	endpoint := fmt.Sprintf("%s/coins/%s/ohlc?vs_currency=usd&days=%d", c.baseURL, coinID(symbol), clampDays(span))

	var raw [][]float64 // [ms, open, high, low, close]
	if err := getJSON(ctx, c.client, c.name, endpoint, c.headers(), &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errs.Tag(errs.KindProviderEmpty, c.name, "no candles")
	}

	end := start.AddDate(0, 0, days)
	var out []models.Candle
	for _, row := range raw {
		if len(row) < 5 {
			continue
		}
		ts := time.UnixMilli(int64(row[0]))
		if ts.Before(start) || ts.After(end) {
			continue
		}
		out = append(out, models.Candle{
			Open:      row[1],
			High:      row[2],
			Low:       row[3],
			Close:     row[4],
			Timestamp: ts.Unix(),
			Timeframe: models.TimeframeDay,
		})
	}
	if len(out) == 0 {
		return nil, errs.Tag(errs.KindProviderEmpty, c.name, "no candles in window")
	}
	return out, nil
}

// clampDays snaps to the values the OHLC endpoint accepts.
func clampDays(days int) int {
	for _, allowed := range []int{1, 7, 14, 30, 90, 180, 365} {
		if days <= allowed {
			return allowed
		}
	}
	return 365
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
