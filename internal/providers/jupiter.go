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

// Jupiter is the Solana specialist: first in the failover order for Solana
// mints, unused for every other chain.
type Jupiter struct {
	name    string
	baseURL string
	client  *http.Client
}

// NewJupiter creates the adapter.
func NewJupiter(baseURL string, timeout time.Duration) *Jupiter {
	if baseURL == "" {
		baseURL = "https://price.jup.ag/v6"
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Jupiter{
		name:    "jupiter",
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (j *Jupiter) Name() string { return j.name }

func (j *Jupiter) Supports(chain models.Chain) bool {
	return chain == models.ChainSolana
}

func (j *Jupiter) CurrentPrice(ctx context.Context, address string, chain models.Chain) (*models.PriceSnapshot, error) {
	if chain != models.ChainSolana {
		return nil, errs.Tag(errs.KindProviderEmpty, j.name, "solana only")
	}
	url := fmt.Sprintf("%s/price?ids=%s", j.baseURL, address)

	var result struct {
		Data map[string]struct {
			ID            string      `json:"id"`
			MintSymbol    string      `json:"mintSymbol"`
			Price         interface{} `json:"price"` // number or string depending on API version
		} `json:"data"`
	}

	if err := getJSON(ctx, j.client, j.name, url, nil, &result); err != nil {
		return nil, err
	}

	entry, ok := result.Data[address]
	if !ok {
		return nil, errs.Tag(errs.KindProviderEmpty, j.name, "unknown mint")
	}

	price := asFloat(entry.Price)
	if price <= 0 {
		return nil, errs.Tag(errs.KindProviderEmpty, j.name, "no route price")
	}

	return finalize(&models.PriceSnapshot{
		PriceUSD: price,
		Symbol:   entry.MintSymbol,
	}, j.name), nil
}

func asFloat(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
