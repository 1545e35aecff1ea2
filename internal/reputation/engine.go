// Package reputation aggregates completed outcomes into per-channel scores.
// Aggregates are derived data: each recomputation reads the completed store
// and rebuilds every channel from scratch.
package reputation

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalrun/internal/config"
	"github.com/sawpanic/signalrun/internal/models"
)

// CompletedSource yields the full completed outcome history.
type CompletedSource interface {
	LoadCompleted() ([]models.SignalOutcome, error)
}

// Engine computes channel reputations from completed outcomes only. Active
// signals never influence a score.
type Engine struct {
	source  CompletedSource
	weights config.ReputationConfig
	now     func() time.Time
}

// NewEngine builds a reputation engine with the configured score weights.
func NewEngine(source CompletedSource, weights config.ReputationConfig) *Engine {
	return &Engine{source: source, weights: weights, now: time.Now}
}

// Compute rebuilds every channel's reputation, sorted by descending score.
func (e *Engine) Compute() ([]models.ChannelReputation, error) {
	completed, err := e.source.LoadCompleted()
	if err != nil {
		return nil, err
	}

	byChannel := make(map[string][]models.SignalOutcome)
	for _, o := range completed {
		byChannel[o.ChannelID] = append(byChannel[o.ChannelID], o)
	}

	out := make([]models.ChannelReputation, 0, len(byChannel))
	for id, outcomes := range byChannel {
		out = append(out, e.aggregate(id, outcomes))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChannelID < out[j].ChannelID
	})

	log.Debug().Int("channels", len(out)).Int("outcomes", len(completed)).Msg("reputation recomputed")
	return out, nil
}

func (e *Engine) aggregate(channelID string, outcomes []models.SignalOutcome) models.ChannelReputation {
	rep := models.ChannelReputation{
		ChannelID:    channelID,
		TotalSignals: len(outcomes),
		UpdatedAt:    e.now(),
	}

	var sumATH, sumFinal, sumHoursToATH float64
	var winnersWithATH int
	var newest time.Time

	for _, o := range outcomes {
		sumATH += o.ATHMultiplier
		sumFinal += o.CurrentMult

		switch {
		case o.Dead:
			// Dead tokens are losers with their category multiplier,
			// already folded into the sums above.
			rep.DeadTokens++
			rep.Losers++
		case o.IsWinner:
			rep.Winners++
			if o.ATHTime.After(o.EntryTime) {
				sumHoursToATH += o.ATHTime.Sub(o.EntryTime).Hours()
				winnersWithATH++
			}
		case o.ATHMultiplier < 1.0:
			rep.Losers++
		default:
			rep.Neutrals++
		}

		if o.EntryTime.After(newest) {
			newest = o.EntryTime
		}
	}

	n := float64(len(outcomes))
	if n > 0 {
		rep.AvgATHMultiplier = sumATH / n
		rep.AvgFinalMult = sumFinal / n
		rep.WinRate = float64(rep.Winners) / n
	}
	if winnersWithATH > 0 {
		rep.MeanTimeToATH = sumHoursToATH / float64(winnersWithATH)
	}

	rep.Score = e.score(rep, newest)
	return rep
}

// score is the weighted composite, clipped to [0, 1]. Monotone
// non-decreasing in win rate and average ATH multiplier.
func (e *Engine) score(rep models.ChannelReputation, newest time.Time) float64 {
	w := e.weights

	// 5x average is treated as a perfect multiplier component.
	multComponent := math.Min(rep.AvgATHMultiplier/5.0, 1.0)

	// Volume saturates at 50 completed signals on a log scale.
	volComponent := math.Min(math.Log1p(float64(rep.TotalSignals))/math.Log1p(50), 1.0)

	// Recency decays linearly to zero over 90 days of silence.
	recComponent := 0.0
	if !newest.IsZero() {
		age := e.now().Sub(newest).Hours() / 24
		recComponent = math.Max(0, 1-age/90)
	}

	s := w.WinRateWeight*rep.WinRate +
		w.AvgMultWeight*multComponent +
		w.VolumeWeight*volComponent +
		w.RecencyWeight*recComponent

	return math.Max(0, math.Min(1, s))
}
