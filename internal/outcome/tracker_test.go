package outcome

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/signalrun/internal/deadtoken"
	"github.com/sawpanic/signalrun/internal/models"
	"github.com/sawpanic/signalrun/internal/prices"
	"github.com/sawpanic/signalrun/internal/store"
)

var entryT = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTracker(t *testing.T) (*Tracker, *store.Store) {
	t.Helper()
	s, err := store.New(t.TempDir())
	require.NoError(t, err)
	tr, err := NewTracker(s, 7, nil)
	require.NoError(t, err)
	return tr, s
}

func openParams(price float64) OpenParams {
	return OpenParams{
		ChannelID:   "c1",
		ChannelName: "Alpha Calls",
		Address:     "0xabc",
		Chain:       models.ChainEVM,
		Symbol:      "PEPE",
		MessageID:   42,
		EntryPrice:  price,
		EntryTime:   entryT,
		EntrySource: models.SourceExact,
	}
}

func TestOpen_FirstSignal(t *testing.T) {
	tr, _ := newTracker(t)

	o, opened, err := tr.Open(openParams(0.5))
	require.NoError(t, err)
	assert.True(t, opened)
	assert.Equal(t, 1, o.SignalOrdinal)
	assert.Empty(t, o.PreviousSignals)
	assert.Equal(t, models.StatusInProgress, o.Status)
	assert.Equal(t, 0.5, o.ATHPrice)
	assert.Equal(t, 1.0, o.ATHMultiplier)
}

func TestOpen_Idempotent(t *testing.T) {
	tr, _ := newTracker(t)

	first, _, err := tr.Open(openParams(0.5))
	require.NoError(t, err)

	again, opened, err := tr.Open(openParams(9.9))
	require.NoError(t, err)
	assert.False(t, opened)
	assert.Equal(t, first.EntryPrice, again.EntryPrice, "second admission must not reset entry")
}

func TestOpen_NoEntryPriceIsTerminal(t *testing.T) {
	tr, _ := newTracker(t)

	o, opened, err := tr.Open(openParams(0))
	require.NoError(t, err)
	assert.False(t, opened)
	assert.Equal(t, models.StatusInsufficientData, o.Status)

	_, active := tr.Active("c1", "0xabc")
	assert.False(t, active, "insufficient_data outcomes are never tracked")
}

func TestOpen_FreshStartOrdinal(t *testing.T) {
	tr, _ := newTracker(t)

	_, _, err := tr.Open(openParams(0.5))
	require.NoError(t, err)
	_, err = tr.Complete("c1", "0xabc", "window_elapsed")
	require.NoError(t, err)

	o, opened, err := tr.Open(openParams(0.8))
	require.NoError(t, err)
	assert.True(t, opened)
	assert.Equal(t, 2, o.SignalOrdinal)
	assert.Equal(t, []int{1}, o.PreviousSignals)
}

func TestHistorySurvivesRestart(t *testing.T) {
	s, err := store.New(t.TempDir())
	require.NoError(t, err)

	tr, err := NewTracker(s, 7, nil)
	require.NoError(t, err)
	_, _, err = tr.Open(openParams(0.5))
	require.NoError(t, err)
	_, err = tr.Complete("c1", "0xabc", "window_elapsed")
	require.NoError(t, err)

	reloaded, err := NewTracker(s, 7, nil)
	require.NoError(t, err)
	o, opened, err := reloaded.Open(openParams(0.8))
	require.NoError(t, err)
	assert.True(t, opened)
	assert.Equal(t, 2, o.SignalOrdinal)
}

func TestUpdatePrice_ATHNeverFalls(t *testing.T) {
	tr, _ := newTracker(t)
	_, _, err := tr.Open(openParams(1.0))
	require.NoError(t, err)

	require.NoError(t, tr.UpdatePrice("c1", "0xabc", 3.0, entryT.Add(time.Hour)))
	require.NoError(t, tr.UpdatePrice("c1", "0xabc", 1.5, entryT.Add(2*time.Hour)))

	o, ok := tr.Active("c1", "0xabc")
	require.True(t, ok)
	assert.Equal(t, 1.5, o.CurrentPrice)
	assert.Equal(t, 3.0, o.ATHPrice)
	assert.Equal(t, 3.0, o.ATHMultiplier)
	assert.Equal(t, entryT.Add(time.Hour), o.ATHTime)
}

func TestUpdatePrice_FillsReachedCheckpoints(t *testing.T) {
	tr, _ := newTracker(t)
	_, _, err := tr.Open(openParams(1.0))
	require.NoError(t, err)

	require.NoError(t, tr.UpdatePrice("c1", "0xabc", 2.0, entryT.Add(5*time.Hour)))

	o, _ := tr.Active("c1", "0xabc")
	h1, ok := o.Checkpoints.Get("1h")
	require.True(t, ok)
	assert.Equal(t, 2.0, h1)
	h4, ok := o.Checkpoints.Get("4h")
	require.True(t, ok)
	assert.Equal(t, 2.0, h4)
	_, ok = o.Checkpoints.Get("24h")
	assert.False(t, ok, "unreached checkpoints stay empty")
}

func TestApplyWindow_BackfillsATHAndCheckpoints(t *testing.T) {
	tr, _ := newTracker(t)
	tr.now = func() time.Time { return entryT.Add(48 * time.Hour) }

	_, _, err := tr.Open(openParams(1.0))
	require.NoError(t, err)

	w := &prices.ATHWindow{
		ATHPrice:     4.0,
		ATHTimestamp: entryT.Add(20 * time.Hour).Unix(),
		Candles: []models.Candle{
			{Timestamp: entryT.Add(1 * time.Hour).Unix(), Close: 1.2},
			{Timestamp: entryT.Add(4 * time.Hour).Unix(), Close: 1.8},
			{Timestamp: entryT.Add(24 * time.Hour).Unix(), Close: 3.5},
		},
	}
	require.NoError(t, tr.ApplyWindow("c1", "0xabc", w))

	o, _ := tr.Active("c1", "0xabc")
	assert.Equal(t, 4.0, o.ATHPrice)
	assert.Equal(t, 4.0, o.ATHMultiplier)

	h24, ok := o.Checkpoints.Get("24h")
	require.True(t, ok)
	assert.Equal(t, 3.5, h24)
}

func TestReachedCheckpoints(t *testing.T) {
	got := ReachedCheckpoints(entryT.Add(25*time.Hour), entryT)
	labels := make([]string, len(got))
	for i, cp := range got {
		labels[i] = cp.Label
	}
	assert.Equal(t, []string{"1h", "4h", "24h"}, labels)

	assert.Empty(t, ReachedCheckpoints(entryT.Add(30*time.Minute), entryT))
}

func TestComplete_WinnerThreshold(t *testing.T) {
	tr, _ := newTracker(t)
	_, _, err := tr.Open(openParams(1.0))
	require.NoError(t, err)
	require.NoError(t, tr.UpdatePrice("c1", "0xabc", 2.0, entryT.Add(time.Hour)))

	done, err := tr.Complete("c1", "0xabc", "window_elapsed")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.True(t, done.IsWinner, "a 2.0x ATH multiplier is a winner")

	_, stillActive := tr.Active("c1", "0xabc")
	assert.False(t, stillActive)
}

func TestComplete_ArchivesAtomically(t *testing.T) {
	tr, s := newTracker(t)
	_, _, err := tr.Open(openParams(1.0))
	require.NoError(t, err)

	_, err = tr.Complete("c1", "0xabc", "window_elapsed")
	require.NoError(t, err)

	active, err := s.LoadActive()
	require.NoError(t, err)
	assert.Empty(t, active)

	completed, err := s.LoadCompleted()
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, "window_elapsed", completed[0].CompletionCause)
}

func TestMarkDead(t *testing.T) {
	tr, _ := newTracker(t)
	_, _, err := tr.Open(openParams(1.0))
	require.NoError(t, err)

	done, err := tr.MarkDead("c1", "0xabc", deadtoken.DeadLP)
	require.NoError(t, err)
	assert.True(t, done.Dead)
	assert.Equal(t, "dead_lp", done.DeadReason)
	assert.Equal(t, "dead_token", done.CompletionCause)
	assert.Equal(t, deadtoken.DeadLPMultiplier, done.ATHMultiplier)
	assert.False(t, done.IsWinner)
}

func TestMarkDead_RejectsAliveClassifications(t *testing.T) {
	tr, _ := newTracker(t)
	_, _, err := tr.Open(openParams(1.0))
	require.NoError(t, err)

	_, err = tr.MarkDead("c1", "0xabc", deadtoken.TooNew)
	assert.Error(t, err, "protected tokens never complete as dead")
}

func TestExpire(t *testing.T) {
	tr, _ := newTracker(t)
	_, _, err := tr.Open(openParams(1.0))
	require.NoError(t, err)

	done, err := tr.Expire(entryT.Add(6 * 24 * time.Hour))
	require.NoError(t, err)
	assert.Empty(t, done, "window not yet elapsed")

	done, err = tr.Expire(entryT.Add(8 * 24 * time.Hour))
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "window_elapsed", done[0].CompletionCause)
}

func TestRescan_FillsMissedCheckpoints(t *testing.T) {
	tr, _ := newTracker(t)
	_, _, err := tr.Open(openParams(1.0))
	require.NoError(t, err)
	require.NoError(t, tr.UpdatePrice("c1", "0xabc", 1.4, entryT.Add(30*time.Minute)))

	require.NoError(t, tr.Rescan(entryT.Add(26*time.Hour)))

	o, _ := tr.Active("c1", "0xabc")
	h24, ok := o.Checkpoints.Get("24h")
	require.True(t, ok, "restart gap must not leave reached checkpoints empty")
	assert.Equal(t, 1.4, h24)
}
