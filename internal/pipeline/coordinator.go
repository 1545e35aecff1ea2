// Package pipeline is the per-message orchestrator: filter, price, track,
// persist. One Handle call per processed message; per-address work inside a
// message runs on a bounded worker set with error isolation.
package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalrun/internal/address"
	"github.com/sawpanic/signalrun/internal/deadtoken"
	"github.com/sawpanic/signalrun/internal/errs"
	"github.com/sawpanic/signalrun/internal/models"
	"github.com/sawpanic/signalrun/internal/outcome"
	"github.com/sawpanic/signalrun/internal/prices"
	"github.com/sawpanic/signalrun/internal/registry"
	"github.com/sawpanic/signalrun/internal/tables"
	"github.com/sawpanic/signalrun/internal/telemetry"
)

// Coordinator drives one message through the full signal pipeline.
type Coordinator struct {
	registry  *registry.Registry
	engine    *prices.Engine
	retriever *prices.Retriever
	detector  *deadtoken.Detector
	tracker   *outcome.Tracker
	writer    *tables.Writer
	metrics   *telemetry.Metrics

	parallelism   int
	entryTimeout  time.Duration
	windowTimeout time.Duration
	windowDays    int
	now           func() time.Time
}

// Opts wires the coordinator's collaborators and knobs.
type Opts struct {
	Registry  *registry.Registry
	Engine    *prices.Engine
	Retriever *prices.Retriever
	Detector  *deadtoken.Detector
	Tracker   *outcome.Tracker
	Writer    *tables.Writer
	Metrics   *telemetry.Metrics

	AddressParallelism int
	EntryTimeout       time.Duration
	WindowTimeout      time.Duration
	WindowDays         int
}

// New builds a coordinator.
func New(o Opts) *Coordinator {
	if o.AddressParallelism < 1 {
		o.AddressParallelism = 5
	}
	if o.EntryTimeout <= 0 {
		o.EntryTimeout = 30 * time.Second
	}
	if o.WindowTimeout <= 0 {
		o.WindowTimeout = 20 * time.Second
	}
	if o.WindowDays < 1 {
		o.WindowDays = 30
	}
	if o.Metrics == nil {
		o.Metrics = telemetry.Nop()
	}
	return &Coordinator{
		registry:      o.Registry,
		engine:        o.Engine,
		retriever:     o.Retriever,
		detector:      o.Detector,
		tracker:       o.Tracker,
		writer:        o.Writer,
		metrics:       o.Metrics,
		parallelism:   o.AddressParallelism,
		entryTimeout:  o.EntryTimeout,
		windowTimeout: o.WindowTimeout,
		windowDays:    o.WindowDays,
		now:           time.Now,
	}
}

// Handle processes one classified message. Non-relevant and commentary
// messages return before any provider call is made. Cancellation is the
// only error that propagates; per-address failures are logged and isolated.
func (c *Coordinator) Handle(ctx context.Context, msg models.ProcessedMessage) error {
	if !msg.CryptoRelevant || len(msg.Mentions) == 0 {
		c.metrics.MessagesSeen.WithLabelValues("irrelevant").Inc()
		return nil
	}

	if err := c.writer.WriteMessage(ctx, msg); err != nil {
		log.Error().Err(err).Int64("message_id", msg.Event.MessageID).Msg("messages table write failed")
	}

	symbols, rawAddrs := splitMentions(msg.Mentions)

	if len(rawAddrs) == 0 && registry.IsCommentary(msg.Event.Text, symbols) {
		c.metrics.MessagesSeen.WithLabelValues("commentary").Inc()
		log.Debug().Int64("message_id", msg.Event.MessageID).Msg("commentary short-circuit")
		return nil
	}
	c.metrics.MessagesSeen.WithLabelValues("signal").Inc()

	candidates := c.resolveCandidates(ctx, symbols, rawAddrs, msg.Event.Text)
	if len(candidates) == 0 {
		return ctx.Err()
	}

	return c.fanOut(ctx, msg, candidates)
}

// splitMentions separates address-shaped mentions from ticker symbols.
func splitMentions(mentions []string) (symbols, rawAddrs []string) {
	for _, m := range mentions {
		a := address.Classify(m)
		if a.Valid {
			rawAddrs = append(rawAddrs, m)
		} else {
			symbols = append(symbols, m)
		}
	}
	return symbols, rawAddrs
}

// resolveCandidates turns mentions into deduplicated, filtered addresses.
// Snapshots fetched for filtering are attached so downstream work reuses
// them instead of re-calling providers.
func (c *Coordinator) resolveCandidates(ctx context.Context, symbols, rawAddrs []string, text string) []models.Address {
	snapCache := make(map[string]*models.PriceSnapshot)
	snapshotOf := func(a models.Address) *models.PriceSnapshot {
		key := string(a.Chain) + ":" + a.Raw
		if snap, ok := snapCache[key]; ok {
			return snap
		}
		snap, err := c.engine.GetPrice(ctx, a.Raw, a.Chain)
		if err != nil {
			snapCache[key] = nil
			return nil
		}
		snapCache[key] = snap
		return snap
	}

	seen := make(map[string]struct{})
	var out []models.Address
	keep := func(a models.Address) {
		key := string(a.Chain) + ":" + strings.ToLower(a.Raw)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, a)
	}

	extracted := address.Extract(rawAddrs)

	// Bare addresses carry no ticker claim: they pass the non-major floor
	// checks directly.
	kept, _ := c.registry.Filter("", extracted, text, snapshotOf)
	for _, a := range kept {
		keep(a)
	}

	for _, sym := range symbols {
		resolved := c.registry.ResolveSymbol(sym)
		if len(resolved) == 0 {
			// A prefixed unknown ticker with no address to anchor it
			// resolves to nothing.
			continue
		}
		symKept, _ := c.registry.Filter(sym, resolved, text, snapshotOf)
		for _, a := range symKept {
			keep(a)
		}
	}
	return out
}

// fanOut runs per-address work on a bounded worker set. A failing address
// never poisons its siblings.
func (c *Coordinator) fanOut(ctx context.Context, msg models.ProcessedMessage, candidates []models.Address) error {
	sem := make(chan struct{}, c.parallelism)
	var wg sync.WaitGroup

	for _, cand := range candidates {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(a models.Address) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := c.handleAddress(ctx, msg, a); err != nil && !errs.IsCancelled(err) {
				log.Error().Err(err).
					Str("address", a.Raw).
					Int64("message_id", msg.Event.MessageID).
					Msg("address pipeline failed")
			}
		}(cand)
	}

	wg.Wait()
	if err := ctx.Err(); err != nil {
		return errs.E(errs.KindCancelled, "pipeline.fanOut", err)
	}
	return nil
}

func (c *Coordinator) handleAddress(ctx context.Context, msg models.ProcessedMessage, a models.Address) error {
	channelID := msg.Event.ChannelID

	if c.detector != nil {
		if entry, ok := c.detector.IsBlacklisted(a.Raw); ok {
			if _, active := c.tracker.Active(channelID, a.Raw); active {
				_, err := c.tracker.MarkDead(channelID, a.Raw, deadtoken.Classification(entry.Reason))
				return err
			}
			log.Debug().Str("address", a.Raw).Str("reason", entry.Reason).Msg("blacklisted address skipped")
			return nil
		}
	}

	snap := a.Snapshot
	if snap == nil {
		var err error
		snap, err = c.engine.GetPrice(ctx, a.Raw, a.Chain)
		if err != nil {
			return err
		}
		a.Snapshot = snap
	}

	if c.detector != nil {
		cls, err := c.detector.Check(ctx, a.Raw, a.Chain)
		if err != nil && errs.IsCancelled(err) {
			return err
		}
		if err == nil && cls.IsDead() {
			if _, active := c.tracker.Active(channelID, a.Raw); active {
				_, err := c.tracker.MarkDead(channelID, a.Raw, cls)
				return err
			}
			return nil
		}
	}

	if snap != nil {
		if err := c.writer.WriteTokenPrice(ctx, a); err != nil {
			log.Error().Err(err).Str("address", a.Raw).Msg("token_prices write failed")
		}
	}

	current := 0.0
	symbol := a.Ticker
	if snap != nil {
		current = snap.PriceUSD
		if symbol == "" {
			symbol = snap.Symbol
		}
	}

	if _, active := c.tracker.Active(channelID, a.Raw); active {
		if current > 0 {
			if err := c.tracker.UpdatePrice(channelID, a.Raw, current, msg.Event.Timestamp); err != nil {
				return err
			}
		}
		return c.writePerformance(ctx, channelID, a.Raw)
	}

	entryPrice, entrySource := c.entryPrice(ctx, symbol, msg.Event.Timestamp, current)
	if err := ctx.Err(); err != nil {
		return errs.E(errs.KindCancelled, "pipeline.handleAddress", err)
	}

	opened, wasNew, err := c.tracker.Open(outcome.OpenParams{
		ChannelID:   channelID,
		ChannelName: msg.Event.ChannelName,
		Address:     a.Raw,
		Chain:       a.Chain,
		Symbol:      symbol,
		MessageID:   msg.Event.MessageID,
		EntryPrice:  entryPrice,
		EntryTime:   msg.Event.Timestamp,
		EntrySource: entrySource,
	})
	if err != nil {
		return err
	}
	if opened.Status == models.StatusInsufficientData {
		log.Warn().Str("address", a.Raw).Int64("message_id", msg.Event.MessageID).Msg("no entry price, signal not tracked")
		return nil
	}

	if wasNew && symbol != "" {
		c.backfillWindow(ctx, channelID, a, symbol, msg.Event.Timestamp, current)
	}

	return c.writePerformance(ctx, channelID, a.Raw)
}

// entryPrice resolves the entry price. Fresh mentions take the live price
// directly; only messages older than an hour walk the historical ladder,
// under its own timeout. A timeout is a normal failure: the current price
// becomes the fallback.
func (c *Coordinator) entryPrice(ctx context.Context, symbol string, at time.Time, current float64) (float64, models.PriceSource) {
	if c.now().Sub(at) < time.Hour {
		if current > 0 {
			return current, models.SourceLive
		}
		return 0, ""
	}
	if symbol == "" || c.retriever == nil {
		if current > 0 {
			return current, models.SourceCurrentFallback
		}
		return 0, ""
	}

	tctx, cancel := context.WithTimeout(ctx, c.entryTimeout)
	defer cancel()

	price, source, err := c.retriever.EntryPriceAt(tctx, symbol, at, current)
	if err != nil {
		if ctx.Err() == nil && current > 0 {
			return current, models.SourceCurrentFallback
		}
		return 0, ""
	}
	return price, source
}

// backfillWindow fetches the forward-ATH window for a message old enough to
// have history, under its own timeout, folds it into the outcome and upserts
// the window's extremes into the HISTORICAL table.
func (c *Coordinator) backfillWindow(ctx context.Context, channelID string, a models.Address, symbol string, entry time.Time, current float64) {
	if c.retriever == nil || c.now().Sub(entry) < time.Hour {
		return
	}

	tctx, cancel := context.WithTimeout(ctx, c.windowTimeout)
	defer cancel()

	w, err := c.retriever.ForwardATHWindow(tctx, symbol, entry, c.windowDays)
	if err != nil {
		if !errs.IsCancelled(err) || ctx.Err() == nil {
			log.Debug().Err(err).Str("symbol", symbol).Msg("forward-ATH window unavailable")
		}
		return
	}
	if err := c.tracker.ApplyWindow(channelID, a.Raw, w); err != nil {
		log.Error().Err(err).Str("address", a.Raw).Msg("window backfill failed")
	}
	c.writeExtremes(ctx, a, w, current)
}

// writeExtremes reduces a window's candles to all-time high/low rows.
func (c *Coordinator) writeExtremes(ctx context.Context, a models.Address, w *prices.ATHWindow, current float64) {
	if w == nil || len(w.Candles) == 0 {
		return
	}
	ext := tables.Extremes{Address: a.Raw, Chain: a.Chain, CurrentUSD: current}
	for _, cd := range w.Candles {
		if cd.High > ext.ATH {
			ext.ATH = cd.High
			ext.ATHDate = time.Unix(cd.Timestamp, 0).UTC()
		}
		if cd.Low > 0 && (ext.ATL == 0 || cd.Low < ext.ATL) {
			ext.ATL = cd.Low
			ext.ATLDate = time.Unix(cd.Timestamp, 0).UTC()
		}
	}
	if err := c.writer.WriteHistorical(ctx, ext); err != nil {
		log.Error().Err(err).Str("address", a.Raw).Msg("historical table write failed")
	}
}

func (c *Coordinator) writePerformance(ctx context.Context, channelID, addr string) error {
	o, ok := c.tracker.Active(channelID, addr)
	if !ok {
		return nil
	}
	return c.writer.WritePerformance(ctx, o)
}
