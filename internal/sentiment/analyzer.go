// Package sentiment defines the analyzer contract and a deterministic
// lexicon-based default implementation.
package sentiment

import (
	"strings"

	"github.com/sawpanic/signalrun/internal/models"
)

// Analyzer scores the sentiment of a message body. Implementations must be
// deterministic and stateless from the pipeline's perspective.
type Analyzer interface {
	Analyze(text string) (models.SentimentLabel, float64)
}

// Lexicon is a word-list analyzer. Score is the normalized balance of
// positive and negative hits, in [-1, 1].
type Lexicon struct {
	positive map[string]struct{}
	negative map[string]struct{}
}

// NewLexicon builds the analyzer with the built-in crypto-flavored word lists.
func NewLexicon() *Lexicon {
	l := &Lexicon{
		positive: make(map[string]struct{}),
		negative: make(map[string]struct{}),
	}
	for _, w := range []string{
		"moon", "mooning", "pump", "pumping", "bullish", "gem", "gains", "win",
		"winner", "early", "huge", "massive", "rocket", "fire", "strong", "breakout",
		"golden", "alpha", "lfg", "send", "rip", "ripping", "parabolic", "undervalued",
	} {
		l.positive[w] = struct{}{}
	}
	for _, w := range []string{
		"dump", "dumping", "rug", "rugged", "scam", "bearish", "crash", "rekt",
		"dead", "exit", "avoid", "warning", "drain", "drained", "honeypot", "loss",
		"down", "weak", "fear", "panic", "capitulation",
	} {
		l.negative[w] = struct{}{}
	}
	return l
}

// Analyze tokenizes on whitespace and punctuation and scores the balance.
func (l *Lexicon) Analyze(text string) (models.SentimentLabel, float64) {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})

	var pos, neg int
	for _, w := range words {
		if _, ok := l.positive[w]; ok {
			pos++
		}
		if _, ok := l.negative[w]; ok {
			neg++
		}
	}

	total := pos + neg
	if total == 0 {
		return models.SentimentNeutral, 0
	}

	score := float64(pos-neg) / float64(total)
	switch {
	case score > 0.2:
		return models.SentimentPositive, score
	case score < -0.2:
		return models.SentimentNegative, score
	default:
		return models.SentimentNeutral, score
	}
}
