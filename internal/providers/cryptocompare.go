package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sawpanic/signalrun/internal/errs"
	"github.com/sawpanic/signalrun/internal/models"
)

// CryptoCompare is the secondary historical provider, used when the primary
// returns empty or errors for a point-in-time or OHLC window request.
type CryptoCompare struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewCryptoCompare creates the adapter.
func NewCryptoCompare(baseURL, apiKey string, timeout time.Duration) *CryptoCompare {
	if baseURL == "" {
		baseURL = "https://min-api.cryptocompare.com"
	}
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &CryptoCompare{
		name:    "cryptocompare",
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *CryptoCompare) Name() string { return c.name }

func (c *CryptoCompare) headers() map[string]string {
	if c.apiKey == "" {
		return nil
	}
	return map[string]string{"authorization": "Apikey " + c.apiKey}
}

// PriceAt returns the historical USD price of symbol at the given instant.
func (c *CryptoCompare) PriceAt(ctx context.Context, symbol string, at time.Time) (float64, error) {
	sym := strings.ToUpper(symbol)
	url := fmt.Sprintf("%s/data/pricehistorical?fsym=%s&tsyms=USD&ts=%d", c.baseURL, sym, at.Unix())

	var result map[string]map[string]float64
	if err := getJSON(ctx, c.client, c.name, url, c.headers(), &result); err != nil {
		return 0, err
	}

	price := result[sym]["USD"]
	if price <= 0 {
		return 0, errs.Tag(errs.KindProviderEmpty, c.name, "no historical price")
	}
	return price, nil
}

// DailyOHLC returns daily candles covering [start, start+days].
func (c *CryptoCompare) DailyOHLC(ctx context.Context, symbol string, start time.Time, days int) ([]models.Candle, error) {
	sym := strings.ToUpper(symbol)
	// histoday is anchored at toTs and walks backwards.
	toTs := start.AddDate(0, 0, days).Unix()
	url := fmt.Sprintf("%s/data/v2/histoday?fsym=%s&tsym=USD&limit=%d&toTs=%d", c.baseURL, sym, days, toTs)

	var result struct {
		Response string `json:"Response"`
		Message  string `json:"Message"`
		Data     struct {
			Data []struct {
				Time  int64   `json:"time"`
				Open  float64 `json:"open"`
				High  float64 `json:"high"`
				Low   float64 `json:"low"`
				Close float64 `json:"close"`
			} `json:"Data"`
		} `json:"Data"`
	}
	if err := getJSON(ctx, c.client, c.name, url, c.headers(), &result); err != nil {
		return nil, err
	}
	if result.Response == "Error" {
		return nil, errs.Tag(errs.KindProviderEmpty, c.name, result.Message)
	}

	var out []models.Candle
	startUnix := start.Unix()
	for _, row := range result.Data.Data {
		if row.Time < startUnix {
			continue
		}
		if row.Open == 0 && row.High == 0 && row.Low == 0 && row.Close == 0 {
			// Zero-filled rows mean the venue has no data for that day.
			continue
		}
		out = append(out, models.Candle{
			Open:      row.Open,
			High:      row.High,
			Low:       row.Low,
			Close:     row.Close,
			Timestamp: row.Time,
			Timeframe: models.TimeframeDay,
		})
	}
	if len(out) == 0 {
		return nil, errs.Tag(errs.KindProviderEmpty, c.name, "no candles in window")
	}
	return out, nil
}
