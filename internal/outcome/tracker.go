// Package outcome tracks signals through their lifecycle: open on first
// admission, price and ATH updates while in progress, completion when the
// tracking window elapses or the token dies.
package outcome

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalrun/internal/deadtoken"
	"github.com/sawpanic/signalrun/internal/models"
	"github.com/sawpanic/signalrun/internal/prices"
	"github.com/sawpanic/signalrun/internal/store"
	"github.com/sawpanic/signalrun/internal/telemetry"
)

// WinnerThreshold is the ATH multiplier at which a completed signal counts
// as a winner.
const WinnerThreshold = 2.0

// Repository is the tracker's persistence collaborator. The tracker itself
// performs no retries; all I/O policy lives behind this interface.
type Repository interface {
	LoadActive() (map[string]models.SignalOutcome, error)
	SaveActive(map[string]models.SignalOutcome) error
	LoadCompleted() ([]models.SignalOutcome, error)
	AppendCompleted(models.SignalOutcome) error
}

// Tracker owns all signal outcomes. Every mutation runs under one lock, so
// updates for a single (channel, address, ordinal) never interleave.
type Tracker struct {
	mu         sync.Mutex
	repo       Repository
	active     map[string]models.SignalOutcome
	history    map[string][]int // (channel,address) -> completed ordinals
	windowDays int
	metrics    *telemetry.Metrics
	now        func() time.Time
}

// NewTracker loads the active store and indexes completed history for the
// fresh-start rule.
func NewTracker(repo Repository, windowDays int, metrics *telemetry.Metrics) (*Tracker, error) {
	if windowDays < 1 {
		windowDays = 7
	}
	if metrics == nil {
		metrics = telemetry.Nop()
	}

	active, err := repo.LoadActive()
	if err != nil {
		return nil, fmt.Errorf("load active store: %w", err)
	}
	completed, err := repo.LoadCompleted()
	if err != nil {
		return nil, fmt.Errorf("load completed store: %w", err)
	}

	history := make(map[string][]int)
	for _, o := range completed {
		k := store.Key(o.ChannelID, o.Address)
		history[k] = append(history[k], o.SignalOrdinal)
	}

	return &Tracker{
		repo:       repo,
		active:     active,
		history:    history,
		windowDays: windowDays,
		metrics:    metrics,
		now:        time.Now,
	}, nil
}

// OpenParams describes a new signal admission.
type OpenParams struct {
	ChannelID   string
	ChannelName string
	Address     string
	Chain       models.Chain
	Symbol      string
	MessageID   int64
	EntryPrice  float64
	EntryTime   time.Time
	EntrySource models.PriceSource
}

// Open admits a signal. If (channel, address) is already active the call is
// idempotent and returns the existing outcome. A prior completed signal does
// not block: the new signal gets the next ordinal with previous_signals
// populated from history (the fresh-start rule). An unknown entry price
// yields a terminal insufficient_data outcome that is never tracked.
func (t *Tracker) Open(p OpenParams) (models.SignalOutcome, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := store.Key(p.ChannelID, p.Address)
	if existing, ok := t.active[key]; ok {
		return existing, false, nil
	}

	prior := t.history[key]
	o := models.SignalOutcome{
		ChannelID:       p.ChannelID,
		ChannelName:     p.ChannelName,
		Address:         p.Address,
		Chain:           p.Chain,
		Symbol:          p.Symbol,
		FirstMessageID:  p.MessageID,
		EntryPrice:      p.EntryPrice,
		EntryTime:       p.EntryTime,
		EntrySource:     p.EntrySource,
		SignalOrdinal:   1 + len(prior),
		PreviousSignals: append([]int(nil), prior...),
		LastUpdated:     t.now(),
	}

	if p.EntryPrice <= 0 {
		o.Status = models.StatusInsufficientData
		o.CompletionCause = "no_entry_price"
		return o, false, nil
	}

	o.Status = models.StatusInProgress
	o.CurrentPrice = p.EntryPrice
	o.ATHPrice = p.EntryPrice
	o.ATHTime = p.EntryTime
	o.ATHMultiplier = 1.0
	o.CurrentMult = 1.0

	t.active[key] = o
	if err := t.repo.SaveActive(t.active); err != nil {
		delete(t.active, key)
		return models.SignalOutcome{}, false, err
	}

	t.metrics.SignalsOpened.Inc()
	log.Info().
		Str("channel", p.ChannelID).
		Str("address", p.Address).
		Int("ordinal", o.SignalOrdinal).
		Float64("entry", p.EntryPrice).
		Str("entry_source", string(p.EntrySource)).
		Msg("signal opened")
	return o, true, nil
}

// UpdatePrice advances an active outcome with a live price observation.
func (t *Tracker) UpdatePrice(channelID, address string, price float64, at time.Time) error {
	if price <= 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	key := store.Key(channelID, address)
	o, ok := t.active[key]
	if !ok {
		return nil
	}

	o.CurrentPrice = price
	o.CurrentMult = price / o.EntryPrice
	if price > o.ATHPrice {
		o.ATHPrice = price
		o.ATHTime = at
		o.ATHMultiplier = price / o.EntryPrice
	}
	o.LastUpdated = t.now()

	// Live updates may fill checkpoints that candles never did.
	for _, cp := range ReachedCheckpoints(at, o.EntryTime) {
		if _, set := o.Checkpoints.Get(cp.Label); !set {
			o.Checkpoints.Set(cp.Label, o.CurrentMult)
		}
	}

	t.active[key] = o
	return t.repo.SaveActive(t.active)
}

// ApplyWindow backfills an active outcome from a forward-ATH window:
// checkpoint multipliers from candle closes, and the window ATH when it
// beats the live-observed one.
func (t *Tracker) ApplyWindow(channelID, address string, w *prices.ATHWindow) error {
	if w == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	key := store.Key(channelID, address)
	o, ok := t.active[key]
	if !ok {
		return nil
	}

	if w.ATHPrice > o.ATHPrice {
		o.ATHPrice = w.ATHPrice
		o.ATHTime = time.Unix(w.ATHTimestamp, 0).UTC()
		o.ATHMultiplier = w.ATHPrice / o.EntryPrice
	}

	filled := prices.CheckpointMultipliers(o.EntryPrice, o.EntryTime, w.Candles, ReachedCheckpoints(t.now(), o.EntryTime))
	for _, cp := range models.CheckpointOffsets() {
		if v, ok := filled.Get(cp.Label); ok {
			o.Checkpoints.Set(cp.Label, v)
		}
	}

	o.LastUpdated = t.now()
	t.active[key] = o
	return t.repo.SaveActive(t.active)
}

// ReachedCheckpoints returns the checkpoint offsets already elapsed since
// entry, in ascending order.
func ReachedCheckpoints(now, entry time.Time) []models.CheckpointOffset {
	elapsed := now.Sub(entry)
	var out []models.CheckpointOffset
	for _, cp := range models.CheckpointOffsets() {
		if cp.Offset <= elapsed {
			out = append(out, cp)
		}
	}
	return out
}

// Complete terminates an active outcome and archives it atomically: the
// outcome leaves the active store and enters the completed store in one
// mutation.
func (t *Tracker) Complete(channelID, address, cause string) (models.SignalOutcome, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completeLocked(channelID, address, cause)
}

func (t *Tracker) completeLocked(channelID, address, cause string) (models.SignalOutcome, error) {
	key := store.Key(channelID, address)
	o, ok := t.active[key]
	if !ok {
		return models.SignalOutcome{}, fmt.Errorf("complete: no active outcome for %s", key)
	}

	o.Status = models.StatusCompleted
	o.CompletionCause = cause
	o.IsWinner = o.ATHMultiplier >= WinnerThreshold
	o.LastUpdated = t.now()

	if err := t.repo.AppendCompleted(o); err != nil {
		return models.SignalOutcome{}, err
	}
	delete(t.active, key)
	if err := t.repo.SaveActive(t.active); err != nil {
		return models.SignalOutcome{}, err
	}
	t.history[key] = append(t.history[key], o.SignalOrdinal)

	t.metrics.SignalsCompleted.WithLabelValues(cause).Inc()
	log.Info().
		Str("channel", channelID).
		Str("address", address).
		Int("ordinal", o.SignalOrdinal).
		Float64("ath_multiplier", o.ATHMultiplier).
		Bool("winner", o.IsWinner).
		Str("cause", cause).
		Msg("signal completed")
	return o, nil
}

// MarkDead completes an active outcome immediately with the dead category's
// multiplier.
func (t *Tracker) MarkDead(channelID, address string, cls deadtoken.Classification) (models.SignalOutcome, error) {
	mult, ok := cls.Multiplier()
	if !ok {
		return models.SignalOutcome{}, fmt.Errorf("mark dead: %s is not a dead classification", cls)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := store.Key(channelID, address)
	o, exists := t.active[key]
	if !exists {
		return models.SignalOutcome{}, fmt.Errorf("mark dead: no active outcome for %s", key)
	}

	o.Dead = true
	o.DeadReason = string(cls)
	o.CurrentMult = mult
	o.ATHMultiplier = mult
	if mult == 0 {
		o.ATHPrice = o.EntryPrice // preserved for reporting; the multiplier is authoritative
	}
	t.active[key] = o

	return t.completeLocked(channelID, address, "dead_token")
}

// Expire completes every active outcome whose tracking window has elapsed.
func (t *Tracker) Expire(now time.Time) ([]models.SignalOutcome, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	window := time.Duration(t.windowDays) * 24 * time.Hour
	var done []models.SignalOutcome
	for _, o := range t.active {
		if now.Sub(o.EntryTime) < window {
			continue
		}
		completed, err := t.completeLocked(o.ChannelID, o.Address, "window_elapsed")
		if err != nil {
			return done, err
		}
		done = append(done, completed)
	}
	return done, nil
}

// Rescan re-evaluates checkpoints against the wall clock. Checkpoints
// crossed while the process was down are marked from the last known price
// so restart gaps never leave holes behind live updates.
func (t *Tracker) Rescan(now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	changed := false
	for key, o := range t.active {
		for _, cp := range ReachedCheckpoints(now, o.EntryTime) {
			if _, set := o.Checkpoints.Get(cp.Label); !set && o.CurrentMult > 0 {
				o.Checkpoints.Set(cp.Label, o.CurrentMult)
				changed = true
			}
		}
		t.active[key] = o
	}
	if !changed {
		return nil
	}
	return t.repo.SaveActive(t.active)
}

// Active returns a copy of the active outcome for (channel, address).
func (t *Tracker) Active(channelID, address string) (models.SignalOutcome, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.active[store.Key(channelID, address)]
	return o, ok
}

// ActiveOutcomes returns a snapshot of all active outcomes.
func (t *Tracker) ActiveOutcomes() []models.SignalOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.SignalOutcome, 0, len(t.active))
	for _, o := range t.active {
		out = append(out, o)
	}
	return out
}
