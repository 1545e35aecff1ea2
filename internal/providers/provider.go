// Package providers contains the market-data provider adapters. Each adapter
// normalizes its venue's response shape into the pipeline's snapshot and
// candle types; callers identify providers only by their string tag.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sawpanic/signalrun/internal/errs"
	"github.com/sawpanic/signalrun/internal/models"
)

// Provider serves current prices by token address.
type Provider interface {
	Name() string
	Supports(chain models.Chain) bool
	CurrentPrice(ctx context.Context, address string, chain models.Chain) (*models.PriceSnapshot, error)
}

// Historical additionally serves point-in-time prices and daily OHLC.
type Historical interface {
	Name() string
	PriceAt(ctx context.Context, symbol string, at time.Time) (float64, error)
	DailyOHLC(ctx context.Context, symbol string, start time.Time, days int) ([]models.Candle, error)
}

// getJSON performs a GET and decodes the JSON body into out. HTTP 429 and
// 5xx map to transient errors so the retry layer attempts them again; 404
// maps to provider-empty so failover moves on immediately.
func getJSON(ctx context.Context, client *http.Client, name, url string, headers map[string]string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errs.E(errs.KindFatal, name, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errs.E(errs.KindCancelled, name, ctx.Err())
		}
		return errs.E(errs.KindTransientNetwork, name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return errs.Tag(errs.KindProviderEmpty, name, "not found")
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return errs.Tag(errs.KindTransientNetwork, name, fmt.Sprintf("HTTP %d", resp.StatusCode))
	default:
		return errs.Tag(errs.KindProviderEmpty, name, fmt.Sprintf("HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.E(errs.KindTransientNetwork, name, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errs.E(errs.KindProviderEmpty, name, fmt.Errorf("unmarshal response: %w", err))
	}
	return nil
}

// finalize stamps provider metadata and derives supply from market cap when
// the venue does not report it directly.
func finalize(snap *models.PriceSnapshot, provider string) *models.PriceSnapshot {
	snap.Provider = provider
	snap.ObservedAt = time.Now().UTC()
	if snap.Supply == 0 && snap.PriceUSD > 0 && snap.MarketCap > 0 {
		snap.Supply = snap.MarketCap / snap.PriceUSD
	}
	return snap
}
