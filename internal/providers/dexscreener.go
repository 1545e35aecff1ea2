package providers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sawpanic/signalrun/internal/errs"
	"github.com/sawpanic/signalrun/internal/models"
)

// DexScreener is the dex-aggregator provider. Keyless; serves both EVM and
// Solana pairs by token address.
type DexScreener struct {
	name    string
	baseURL string
	client  *http.Client
}

// NewDexScreener creates the adapter. baseURL defaults to the public API.
func NewDexScreener(baseURL string, timeout time.Duration) *DexScreener {
	if baseURL == "" {
		baseURL = "https://api.dexscreener.com"
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &DexScreener{
		name:    "dexscreener",
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (d *DexScreener) Name() string { return d.name }

func (d *DexScreener) Supports(chain models.Chain) bool {
	return chain == models.ChainEVM || chain == models.ChainSolana
}

func (d *DexScreener) CurrentPrice(ctx context.Context, address string, chain models.Chain) (*models.PriceSnapshot, error) {
	url := fmt.Sprintf("%s/latest/dex/tokens/%s", d.baseURL, address)

	var result struct {
		Pairs []struct {
			ChainID   string `json:"chainId"`
			PriceUSD  string `json:"priceUsd"`
			BaseToken struct {
				Symbol string `json:"symbol"`
			} `json:"baseToken"`
			Liquidity struct {
				USD float64 `json:"usd"`
			} `json:"liquidity"`
			Volume struct {
				H24 float64 `json:"h24"`
			} `json:"volume"`
			PriceChange struct {
				H24 float64 `json:"h24"`
			} `json:"priceChange"`
			FDV           float64 `json:"fdv"`
			MarketCap     float64 `json:"marketCap"`
			PairCreatedAt int64   `json:"pairCreatedAt"` // milliseconds
		} `json:"pairs"`
	}

	if err := getJSON(ctx, d.client, d.name, url, nil, &result); err != nil {
		return nil, err
	}
	if len(result.Pairs) == 0 {
		return nil, errs.Tag(errs.KindProviderEmpty, d.name, "no pairs for token")
	}

	// Deepest pool wins; thin clone pairs misprice the token.
	best := result.Pairs[0]
	for _, p := range result.Pairs[1:] {
		if p.Liquidity.USD > best.Liquidity.USD {
			best = p
		}
	}

	price, err := strconv.ParseFloat(best.PriceUSD, 64)
	if err != nil || price <= 0 {
		return nil, errs.Tag(errs.KindProviderEmpty, d.name, "pair has no USD price")
	}

	mcap := best.MarketCap
	if mcap == 0 {
		mcap = best.FDV
	}

	return finalize(&models.PriceSnapshot{
		PriceUSD:       price,
		MarketCap:      mcap,
		Volume24h:      best.Volume.H24,
		PriceChange24h: best.PriceChange.H24,
		LiquidityUSD:   best.Liquidity.USD,
		PairCreatedAt:  best.PairCreatedAt / 1000,
		Symbol:         best.BaseToken.Symbol,
	}, d.name), nil
}
