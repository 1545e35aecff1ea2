package prices

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/signalrun/internal/errs"
	"github.com/sawpanic/signalrun/internal/models"
)

type fakeHistorical struct {
	name        string
	prices      map[int64]float64 // unix -> price
	candles     []models.Candle
	priceErr    error
	candleErr   error
	priceCalls  int
	candleCalls int
}

func (f *fakeHistorical) Name() string { return f.name }
func (f *fakeHistorical) PriceAt(ctx context.Context, symbol string, at time.Time) (float64, error) {
	f.priceCalls++
	if f.priceErr != nil {
		return 0, f.priceErr
	}
	if p, ok := f.prices[at.Unix()]; ok {
		return p, nil
	}
	return 0, errs.ErrProviderEmpty
}
func (f *fakeHistorical) DailyOHLC(ctx context.Context, symbol string, start time.Time, days int) ([]models.Candle, error) {
	f.candleCalls++
	if f.candleErr != nil {
		return nil, f.candleErr
	}
	if f.candles == nil {
		return nil, errs.ErrProviderEmpty
	}
	return f.candles, nil
}

type memWindowStore struct {
	windows map[string]*ATHWindow
	puts    int
}

func (m *memWindowStore) GetWindow(key string) (*ATHWindow, bool, error) {
	w, ok := m.windows[key]
	return w, ok, nil
}
func (m *memWindowStore) PutWindow(key string, w *ATHWindow) error {
	if m.windows == nil {
		m.windows = make(map[string]*ATHWindow)
	}
	m.windows[key] = w
	m.puts++
	return nil
}

func TestEntryPriceAt_ExactRungWins(t *testing.T) {
	at := time.Unix(1700000123, 0)
	primary := &fakeHistorical{name: "coingecko", prices: map[int64]float64{at.Unix(): 42.0}}
	r := NewRetriever(primary, nil, nil)

	price, source, err := r.EntryPriceAt(context.Background(), "SOL", at, 40.0)
	require.NoError(t, err)
	assert.Equal(t, 42.0, price)
	assert.Equal(t, models.SourceExact, source)
}

func TestEntryPriceAt_BucketRungTagsSource(t *testing.T) {
	at := time.Unix(1700000123, 0)
	hourBucket := at.Truncate(time.Hour).Unix()
	primary := &fakeHistorical{name: "coingecko", prices: map[int64]float64{hourBucket: 41.5}}
	r := NewRetriever(primary, nil, nil)

	price, source, err := r.EntryPriceAt(context.Background(), "SOL", at, 40.0)
	require.NoError(t, err)
	assert.Equal(t, 41.5, price)
	assert.Equal(t, models.SourceBucket1h, source)
}

func TestEntryPriceAt_FallsThroughToCurrent(t *testing.T) {
	primary := &fakeHistorical{name: "coingecko"}
	secondary := &fakeHistorical{name: "cryptocompare"}
	r := NewRetriever(primary, secondary, nil)

	price, source, err := r.EntryPriceAt(context.Background(), "NOBODY", time.Unix(1700000000, 0), 0.003)
	require.NoError(t, err)
	assert.Equal(t, 0.003, price)
	assert.Equal(t, models.SourceCurrentFallback, source)
	assert.Greater(t, secondary.priceCalls, 0, "secondary must be consulted before falling back")
}

func TestEntryPriceAt_SecondaryFailover(t *testing.T) {
	at := time.Unix(1700000000, 0)
	primary := &fakeHistorical{name: "coingecko", priceErr: errs.ErrProviderEmpty}
	secondary := &fakeHistorical{name: "cryptocompare", prices: map[int64]float64{at.Unix(): 7.7}}
	r := NewRetriever(primary, secondary, nil)

	price, source, err := r.EntryPriceAt(context.Background(), "PEPE", at, 0)
	require.NoError(t, err)
	assert.Equal(t, 7.7, price)
	assert.Equal(t, models.SourceExact, source)
}

func dayCandles(start time.Time, closes ...float64) []models.Candle {
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		out[i] = models.Candle{
			Open: c * 0.95, High: c * 1.1, Low: c * 0.9, Close: c,
			Timestamp: start.AddDate(0, 0, i+1).Unix(),
			Timeframe: models.TimeframeDay,
		}
	}
	return out
}

func TestForwardATHWindow_ComputesATHAndCompleteness(t *testing.T) {
	entry := time.Unix(1700000000, 0)
	candles := dayCandles(entry, 1.0, 3.0, 2.0)
	primary := &fakeHistorical{name: "coingecko", candles: candles}
	store := &memWindowStore{}
	r := NewRetriever(primary, nil, store)

	w, err := r.ForwardATHWindow(context.Background(), "PEPE", entry, 7)
	require.NoError(t, err)

	assert.InDelta(t, 3.3, w.ATHPrice, 1e-9) // high of the 3.0-close day
	assert.Equal(t, candles[1].Timestamp, w.ATHTimestamp)
	assert.Equal(t, 2, w.DaysToATH)
	assert.InDelta(t, 3.0/7.0, w.Completeness, 1e-9)
	assert.Equal(t, 1, store.puts)
}

func TestForwardATHWindow_DiskCacheHitSkipsProviders(t *testing.T) {
	entry := time.Unix(1700000000, 0)
	key := WindowKey("PEPE", entry, 7)
	store := &memWindowStore{windows: map[string]*ATHWindow{key: {ATHPrice: 9.9}}}
	primary := &fakeHistorical{name: "coingecko"}
	r := NewRetriever(primary, nil, store)

	w, err := r.ForwardATHWindow(context.Background(), "PEPE", entry, 7)
	require.NoError(t, err)
	assert.Equal(t, 9.9, w.ATHPrice)
	assert.Equal(t, 0, primary.candleCalls)
}

func TestForwardATHWindow_SecondaryFailover(t *testing.T) {
	entry := time.Unix(1700000000, 0)
	primary := &fakeHistorical{name: "coingecko", candleErr: errs.ErrProviderEmpty}
	secondary := &fakeHistorical{name: "cryptocompare", candles: dayCandles(entry, 2.0)}
	r := NewRetriever(primary, secondary, nil)

	w, err := r.ForwardATHWindow(context.Background(), "PEPE", entry, 7)
	require.NoError(t, err)
	assert.InDelta(t, 2.2, w.ATHPrice, 1e-9)
}

func TestCheckpointMultipliers_NearestAtOrBefore(t *testing.T) {
	entry := time.Unix(1700000000, 0)
	candles := dayCandles(entry, 2.0, 4.0, 1.0) // closes at +1d, +2d, +3d

	out := CheckpointMultipliers(1.0, entry, candles, models.CheckpointOffsets())

	_, ok := out.Get("1h")
	assert.False(t, ok, "no candle closes at or before entry+1h")

	m, ok := out.Get("3d")
	require.True(t, ok)
	assert.Equal(t, 1.0, m, "3d checkpoint uses the +3d close")

	m, ok = out.Get("7d")
	require.True(t, ok)
	assert.Equal(t, 1.0, m, "7d falls back to the latest close at or before it")

	_, ok = out.Get("24h")
	require.True(t, ok)
}

func TestCheckpointMultipliers_ZeroEntryProducesNothing(t *testing.T) {
	out := CheckpointMultipliers(0, time.Now(), dayCandles(time.Now(), 1), models.CheckpointOffsets())
	_, ok := out.Get("24h")
	assert.False(t, ok)
}
