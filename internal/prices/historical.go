package prices

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalrun/internal/cache"
	"github.com/sawpanic/signalrun/internal/errs"
	"github.com/sawpanic/signalrun/internal/models"
	"github.com/sawpanic/signalrun/internal/providers"
)

// ATHWindow is the forward-looking all-time-high result for one signal.
type ATHWindow struct {
	ATHPrice     float64         `json:"ath_price"`
	ATHTimestamp int64           `json:"ath_timestamp"`
	DaysToATH    int             `json:"days_to_ath"`
	Candles      []models.Candle `json:"candles"`
	Completeness float64         `json:"completeness"`
}

// WindowStore persists forward-ATH windows on disk. Entries are immutable
// and never expire.
type WindowStore interface {
	GetWindow(key string) (*ATHWindow, bool, error)
	PutWindow(key string, w *ATHWindow) error
}

// WindowKey builds the disk-cache key for a forward-ATH window.
func WindowKey(symbol string, start time.Time, windowDays int) string {
	bucket := start.Truncate(24 * time.Hour).Unix()
	return fmt.Sprintf("%s:%d:%d", symbol, bucket, windowDays)
}

// Retriever resolves point-in-time prices and forward OHLC windows, failing
// over from the primary historical provider to the secondary.
type Retriever struct {
	primary   providers.Historical
	secondary providers.Historical
	store     WindowStore
	memo      *cache.TTLCache // point-in-time prices, immortal
}

// NewRetriever builds the retriever. secondary and store may be nil.
func NewRetriever(primary, secondary providers.Historical, store WindowStore) *Retriever {
	return &Retriever{
		primary:   primary,
		secondary: secondary,
		store:     store,
		memo:      cache.NewTTLCache(4096, 0),
	}
}

// entry-price ladder rungs, coarsest last.
var ladder = []struct {
	source models.PriceSource
	bucket time.Duration
}{
	{models.SourceExact, 0},
	{models.SourceBucket1h, time.Hour},
	{models.SourceBucket6h, 6 * time.Hour},
	{models.SourceBucket24h, 24 * time.Hour},
}

// EntryPriceAt resolves the price of symbol at t, walking the bucket ladder
// from exact to a 24h bucket. The first non-null result wins and the source
// tag records the rung. current is the last-resort fallback, tagged
// current_fallback; zero means no fallback is available.
func (r *Retriever) EntryPriceAt(ctx context.Context, symbol string, t time.Time, current float64) (float64, models.PriceSource, error) {
	for _, rung := range ladder {
		at := t
		if rung.bucket > 0 {
			at = t.Truncate(rung.bucket)
		}

		key := cache.HistKey(symbol, at.Unix())
		if snap, ok := r.memo.Get(key); ok {
			return snap.PriceUSD, rung.source, nil
		}

		price, err := r.priceAt(ctx, symbol, at)
		if err != nil {
			if errs.IsCancelled(err) {
				return 0, "", err
			}
			continue
		}
		if price > 0 {
			r.memo.SetTTL(key, models.PriceSnapshot{PriceUSD: price, Symbol: symbol}, 0)
			return price, rung.source, nil
		}
	}

	if current > 0 {
		return current, models.SourceCurrentFallback, nil
	}
	return 0, "", errs.Tag(errs.KindProviderEmpty, "historical.entry", "no rung produced a price")
}

func (r *Retriever) priceAt(ctx context.Context, symbol string, at time.Time) (float64, error) {
	price, err := r.primary.PriceAt(ctx, symbol, at)
	if err == nil && price > 0 {
		return price, nil
	}
	if err != nil && errs.IsCancelled(err) {
		return 0, err
	}
	if r.secondary == nil {
		return 0, err
	}
	log.Debug().
		Str("symbol", symbol).
		Time("at", at).
		Msg("historical primary empty, trying secondary")
	return r.secondary.PriceAt(ctx, symbol, at)
}

// ForwardATHWindow fetches daily OHLC for [entry, entry+windowDays] and
// reduces it to the window's high. Results are cached on disk and immutable.
func (r *Retriever) ForwardATHWindow(ctx context.Context, symbol string, entry time.Time, windowDays int) (*ATHWindow, error) {
	key := WindowKey(symbol, entry, windowDays)
	if r.store != nil {
		if w, ok, err := r.store.GetWindow(key); err == nil && ok {
			return w, nil
		}
	}

	candles, err := r.dailyOHLC(ctx, symbol, entry, windowDays)
	if err != nil {
		return nil, err
	}

	w := ReduceWindow(entry, windowDays, candles)
	if r.store != nil {
		if err := r.store.PutWindow(key, w); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("forward-ATH window cache write failed")
		}
	}
	return w, nil
}

func (r *Retriever) dailyOHLC(ctx context.Context, symbol string, entry time.Time, days int) ([]models.Candle, error) {
	candles, err := r.primary.DailyOHLC(ctx, symbol, entry, days)
	if err == nil && len(candles) > 0 {
		return candles, nil
	}
	if err != nil && errs.IsCancelled(err) {
		return nil, err
	}
	if r.secondary == nil {
		return nil, err
	}
	return r.secondary.DailyOHLC(ctx, symbol, entry, days)
}

// ReduceWindow computes the ATH over the candle set. The ATH timestamp is
// the winning candle's close time; completeness is returned candles over
// expected candles.
func ReduceWindow(entry time.Time, windowDays int, candles []models.Candle) *ATHWindow {
	w := &ATHWindow{Candles: candles}
	if windowDays > 0 {
		w.Completeness = float64(len(candles)) / float64(windowDays)
		if w.Completeness > 1 {
			w.Completeness = 1
		}
	}
	for _, c := range candles {
		if c.High > w.ATHPrice {
			w.ATHPrice = c.High
			w.ATHTimestamp = c.Timestamp
		}
	}
	if w.ATHTimestamp > 0 {
		w.DaysToATH = int(time.Unix(w.ATHTimestamp, 0).Sub(entry).Hours() / 24)
		if w.DaysToATH < 0 {
			w.DaysToATH = 0
		}
	}
	return w
}

// CheckpointMultipliers fills per-checkpoint multipliers from candles: for
// each offset, the candle closing nearest at-or-before the checkpoint
// instant supplies close/entry. Offsets with no candle stay unset.
func CheckpointMultipliers(entryPrice float64, entryT time.Time, candles []models.Candle, offsets []models.CheckpointOffset) models.CheckpointMultipliers {
	var out models.CheckpointMultipliers
	if entryPrice <= 0 || len(candles) == 0 {
		return out
	}

	for _, cp := range offsets {
		instant := entryT.Add(cp.Offset).Unix()
		var best *models.Candle
		for i := range candles {
			c := &candles[i]
			if c.Timestamp > instant {
				continue
			}
			if best == nil || c.Timestamp > best.Timestamp {
				best = c
			}
		}
		if best != nil && best.Close > 0 {
			out.Set(cp.Label, best.Close/entryPrice)
		}
	}
	return out
}
