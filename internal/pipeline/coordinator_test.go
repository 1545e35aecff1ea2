package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/signalrun/internal/cache"
	"github.com/sawpanic/signalrun/internal/models"
	"github.com/sawpanic/signalrun/internal/outcome"
	"github.com/sawpanic/signalrun/internal/prices"
	"github.com/sawpanic/signalrun/internal/providers"
	"github.com/sawpanic/signalrun/internal/registry"
	"github.com/sawpanic/signalrun/internal/store"
	"github.com/sawpanic/signalrun/internal/tables"
)

const usdtContract = "0xdAC17F958D2ee523a2206206994597C13D831ec7"

// countingProvider serves canned snapshots and counts calls so tests can
// assert the zero-provider-call property.
type countingProvider struct {
	mu    sync.Mutex
	calls int
	snaps map[string]*models.PriceSnapshot
}

func (p *countingProvider) Name() string               { return "geckoterminal" }
func (p *countingProvider) Supports(models.Chain) bool { return true }
func (p *countingProvider) CurrentPrice(_ context.Context, addr string, _ models.Chain) (*models.PriceSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.snaps[addr], nil
}

func (p *countingProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// countingHistorical serves a flat point-in-time price and canned candles,
// counting calls.
type countingHistorical struct {
	mu         sync.Mutex
	price      float64
	candles    []models.Candle
	priceCalls int
	ohlcCalls  int
}

func (h *countingHistorical) Name() string { return "coingecko" }
func (h *countingHistorical) PriceAt(_ context.Context, _ string, _ time.Time) (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.priceCalls++
	return h.price, nil
}

func (h *countingHistorical) DailyOHLC(_ context.Context, _ string, _ time.Time, _ int) ([]models.Candle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ohlcCalls++
	return h.candles, nil
}

func (h *countingHistorical) counts() (priceCalls, ohlcCalls int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.priceCalls, h.ohlcCalls
}

type fixture struct {
	coord    *Coordinator
	provider *countingProvider
	tracker  *outcome.Tracker
	outRoot  string
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithHistory(t, nil)
}

func newFixtureWithHistory(t *testing.T, hist *countingHistorical) *fixture {
	t.Helper()

	p := &countingProvider{snaps: map[string]*models.PriceSnapshot{
		usdtContract: {PriceUSD: 0.002, MarketCap: 5e6, Supply: 1e9, Symbol: "MEME"},
	}}
	engine := prices.NewEngine([]providers.Provider{p}, prices.EngineOpts{
		Cache: cache.NewTTLCache(64, time.Minute),
	})

	s, err := store.New(t.TempDir())
	require.NoError(t, err)
	tracker, err := outcome.NewTracker(s, 7, nil)
	require.NoError(t, err)

	var ret *prices.Retriever
	if hist != nil {
		ret = prices.NewRetriever(hist, nil, nil)
	}

	outRoot := t.TempDir()
	coord := New(Opts{
		Registry:  registry.New(),
		Engine:    engine,
		Retriever: ret,
		Tracker:   tracker,
		Writer:    tables.NewWriter(outRoot, nil, nil),
	})
	return &fixture{coord: coord, provider: p, tracker: tracker, outRoot: outRoot}
}

func message(text string) models.ProcessedMessage {
	return models.ProcessedMessage{
		Event: models.MessageEvent{
			ChannelID: "c1", ChannelName: "Alpha Calls", MessageID: 10,
			Text: text, Timestamp: time.Now().Add(-10 * time.Minute),
		},
		CryptoRelevant: true,
		Confidence:     0.8,
	}
}

func TestHandle_IrrelevantMessageMakesNoCalls(t *testing.T) {
	f := newFixture(t)

	msg := message("gm everyone")
	msg.CryptoRelevant = false
	msg.Mentions = nil

	require.NoError(t, f.coord.Handle(context.Background(), msg))
	assert.Zero(t, f.provider.callCount())
}

func TestHandle_CommentaryShortCircuitsBeforeProviders(t *testing.T) {
	f := newFixture(t)

	msg := message("thinking about where $ETH goes from here this cycle")
	msg.Mentions = []string{"ETH"}

	require.NoError(t, f.coord.Handle(context.Background(), msg))
	assert.Zero(t, f.provider.callCount(), "commentary must never reach a provider")
}

func TestHandle_AddressMentionOpensSignal(t *testing.T) {
	f := newFixture(t)

	msg := message("aping " + usdtContract + " right now")
	msg.Mentions = []string{usdtContract}

	require.NoError(t, f.coord.Handle(context.Background(), msg))
	assert.Greater(t, f.provider.callCount(), 0)

	o, ok := f.tracker.Active("c1", usdtContract)
	require.True(t, ok, "a priced address mention opens a signal")
	assert.Equal(t, 0.002, o.EntryPrice)
	assert.Equal(t, models.SourceLive, o.EntrySource)
	assert.Equal(t, "MEME", o.Symbol)
}

func TestHandle_RepeatMentionUpdatesNotReopens(t *testing.T) {
	f := newFixture(t)

	msg := message("aping " + usdtContract + " right now")
	msg.Mentions = []string{usdtContract}
	require.NoError(t, f.coord.Handle(context.Background(), msg))

	f.provider.mu.Lock()
	f.provider.snaps[usdtContract].PriceUSD = 0.004
	f.provider.mu.Unlock()

	later := message("still aping " + usdtContract)
	later.Mentions = []string{usdtContract}
	later.Event.MessageID = 11
	later.Event.Timestamp = time.Now()
	require.NoError(t, f.coord.Handle(context.Background(), later))

	o, ok := f.tracker.Active("c1", usdtContract)
	require.True(t, ok)
	assert.Equal(t, 1, o.SignalOrdinal, "repeat mention advances the same signal")
	assert.Equal(t, 0.002, o.EntryPrice, "entry never moves")
}

func TestHandle_UnpricedAddressIsNotTracked(t *testing.T) {
	f := newFixture(t)
	unknown := "0x1111111111111111111111111111111111111111"

	msg := message("buy " + unknown + " now")
	msg.Mentions = []string{unknown}

	require.NoError(t, f.coord.Handle(context.Background(), msg))
	_, ok := f.tracker.Active("c1", unknown)
	assert.False(t, ok, "no provider price means nothing to track")
}

func TestHandle_FreshMessageUsesLivePrice(t *testing.T) {
	hist := &countingHistorical{price: 0.001}
	f := newFixtureWithHistory(t, hist)

	msg := message("aping " + usdtContract + " right now")
	msg.Mentions = []string{usdtContract}

	require.NoError(t, f.coord.Handle(context.Background(), msg))

	o, ok := f.tracker.Active("c1", usdtContract)
	require.True(t, ok)
	assert.Equal(t, 0.002, o.EntryPrice, "a fresh mention takes the live price")
	assert.Equal(t, models.SourceLive, o.EntrySource)

	priceCalls, ohlcCalls := hist.counts()
	assert.Zero(t, priceCalls, "no historical lookup inside the first hour")
	assert.Zero(t, ohlcCalls)
}

func TestHandle_StaleMessageWalksHistoricalLadder(t *testing.T) {
	hist := &countingHistorical{price: 0.001}
	f := newFixtureWithHistory(t, hist)

	msg := message("aping " + usdtContract + " right now")
	msg.Mentions = []string{usdtContract}
	msg.Event.Timestamp = time.Now().Add(-5 * time.Hour)

	require.NoError(t, f.coord.Handle(context.Background(), msg))

	o, ok := f.tracker.Active("c1", usdtContract)
	require.True(t, ok)
	assert.Equal(t, 0.001, o.EntryPrice, "an aged mention takes the point-in-time price")
	assert.Equal(t, models.SourceExact, o.EntrySource)

	priceCalls, _ := hist.counts()
	assert.Greater(t, priceCalls, 0)
}

func TestHandle_BackfillWritesHistoricalTable(t *testing.T) {
	entryTs := time.Now().Add(-5 * time.Hour)
	hist := &countingHistorical{
		price: 0.001,
		candles: []models.Candle{
			{Open: 0.001, High: 0.004, Low: 0.0008, Close: 0.003, Timestamp: entryTs.Add(time.Hour).Unix(), Timeframe: models.TimeframeDay},
			{Open: 0.003, High: 0.01, Low: 0.002, Close: 0.009, Timestamp: entryTs.Add(3 * time.Hour).Unix(), Timeframe: models.TimeframeDay},
		},
	}
	f := newFixtureWithHistory(t, hist)

	msg := message("aping " + usdtContract + " right now")
	msg.Mentions = []string{usdtContract}
	msg.Event.Timestamp = entryTs

	require.NoError(t, f.coord.Handle(context.Background(), msg))

	path := filepath.Join(f.outRoot, time.Now().Format("2006-01-02"), tables.HistoricalTable)
	data, err := os.ReadFile(path)
	require.NoError(t, err, "backfill must land a row in the historical table")
	assert.Contains(t, string(data), usdtContract)
	assert.Contains(t, string(data), "0.01", "window high is the all-time ATH")
	assert.Contains(t, string(data), "0.0008", "window low is the all-time ATL")

	o, ok := f.tracker.Active("c1", usdtContract)
	require.True(t, ok)
	assert.Equal(t, 0.01, o.ATHPrice, "the window high folds into the outcome")
}

func TestSplitMentions(t *testing.T) {
	symbols, addrs := splitMentions([]string{"ETH", usdtContract, "PEPE"})
	assert.Equal(t, []string{"ETH", "PEPE"}, symbols)
	assert.Equal(t, []string{usdtContract}, addrs)
}
