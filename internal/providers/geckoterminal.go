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

// GeckoTerminal is a general multi-network provider (general-1 in the
// failover order). Keyless, 30 calls/minute on the public tier.
type GeckoTerminal struct {
	name    string
	baseURL string
	client  *http.Client
}

// NewGeckoTerminal creates the adapter.
func NewGeckoTerminal(baseURL string, timeout time.Duration) *GeckoTerminal {
	if baseURL == "" {
		baseURL = "https://api.geckoterminal.com/api/v2"
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &GeckoTerminal{
		name:    "geckoterminal",
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *GeckoTerminal) Name() string { return g.name }

func (g *GeckoTerminal) Supports(chain models.Chain) bool {
	return chain == models.ChainEVM || chain == models.ChainSolana
}

func network(chain models.Chain) string {
	if chain == models.ChainSolana {
		return "solana"
	}
	return "eth"
}

func (g *GeckoTerminal) CurrentPrice(ctx context.Context, address string, chain models.Chain) (*models.PriceSnapshot, error) {
	url := fmt.Sprintf("%s/networks/%s/tokens/%s", g.baseURL, network(chain), address)

	var result struct {
		Data struct {
			Attributes struct {
				Symbol          string `json:"symbol"`
				PriceUSD        string `json:"price_usd"`
				FDVUSD          string `json:"fdv_usd"`
				MarketCapUSD    string `json:"market_cap_usd"`
				VolumeUSD       struct {
					H24 string `json:"h24"`
				} `json:"volume_usd"`
				TotalReserveUSD string `json:"total_reserve_in_usd"`
				TotalSupply     string `json:"total_supply"`
			} `json:"attributes"`
		} `json:"data"`
	}

	if err := getJSON(ctx, g.client, g.name, url, nil, &result); err != nil {
		return nil, err
	}

	attrs := result.Data.Attributes
	price := parseNum(attrs.PriceUSD)
	if price <= 0 {
		return nil, errs.Tag(errs.KindProviderEmpty, g.name, "token has no USD price")
	}

	mcap := parseNum(attrs.MarketCapUSD)
	if mcap == 0 {
		mcap = parseNum(attrs.FDVUSD)
	}

	return finalize(&models.PriceSnapshot{
		PriceUSD:     price,
		MarketCap:    mcap,
		Volume24h:    parseNum(attrs.VolumeUSD.H24),
		LiquidityUSD: parseNum(attrs.TotalReserveUSD),
		Supply:       parseNum(attrs.TotalSupply),
		Symbol:       attrs.Symbol,
	}, g.name), nil
}

// parseNum tolerates the API's habit of returning numbers as strings or null.
func parseNum(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
