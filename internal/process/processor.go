// Package process classifies raw message events: crypto relevance, mention
// extraction, engagement and confidence scoring. Deterministic; no external
// calls happen here.
package process

import (
	"regexp"
	"strings"

	"github.com/sawpanic/signalrun/internal/models"
	"github.com/sawpanic/signalrun/internal/registry"
	"github.com/sawpanic/signalrun/internal/sentiment"
)

// Confidence weights. Engagement dominates: a forwarded call is worth more
// than a long one.
const (
	weightEngagement = 0.40
	weightRelevance  = 0.30
	weightSentiment  = 0.20
	weightLength     = 0.10

	lengthNormalizer = 200.0
)

var addrShapedRe = regexp.MustCompile(`0x[0-9a-fA-F]{40}|[1-9A-HJ-NP-Za-km-z]{32,44}`)

// Processor turns message events into processed messages.
type Processor struct {
	registry  *registry.Registry
	analyzer  sentiment.Analyzer
	minLen    int
	icMax     float64
	threshold float64
}

// New builds a processor. icMax is the engagement normalization ceiling;
// threshold is the high-confidence cutoff.
func New(reg *registry.Registry, analyzer sentiment.Analyzer, minLen int, icMax, threshold float64) *Processor {
	if icMax <= 0 {
		icMax = 1000
	}
	return &Processor{
		registry:  reg,
		analyzer:  analyzer,
		minLen:    minLen,
		icMax:     icMax,
		threshold: threshold,
	}
}

// Process classifies one event. Messages shorter than the minimum length
// produce no mentions and are never crypto-relevant.
func (p *Processor) Process(ev models.MessageEvent) models.ProcessedMessage {
	out := models.ProcessedMessage{
		Event:     ev,
		Sentiment: models.SentimentNeutral,
	}

	if len(ev.Text) >= p.minLen {
		out.Mentions = p.extractMentions(ev.Text)
	}
	out.CryptoRelevant = len(out.Mentions) > 0

	if p.analyzer != nil {
		out.Sentiment, out.SentimentScore = p.analyzer.Analyze(ev.Text)
	}

	out.EngagementScore = p.engagementScore(ev.Engagement)
	out.Confidence = p.confidence(out)
	out.HighConfidence = out.Confidence >= p.threshold
	return out
}

// extractMentions finds ticker and address-shaped mentions, preserving
// first-occurrence order.
func (p *Processor) extractMentions(text string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(m string) {
		key := strings.ToLower(m)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, m)
	}

	for _, tok := range tokenize(text) {
		prefixed := strings.HasPrefix(tok, "$") || strings.HasPrefix(tok, "#")
		word := strings.TrimLeft(tok, "$#")
		if word == "" {
			continue
		}

		if addrShapedRe.MatchString(word) && len(word) >= 32 || (len(word) == 42 && strings.HasPrefix(word, "0x")) {
			add(word)
			continue
		}

		upper := strings.ToUpper(word)
		if !p.registry.IsMajor(upper) && !prefixed {
			continue
		}
		if p.registry.IsAmbiguous(upper) && !prefixed {
			// Bare "ONE" in prose is a word, not a mention.
			continue
		}
		if p.registry.IsMajor(upper) || prefixed {
			if isTickerShaped(word) {
				add(upper)
			}
		}
	}
	return out
}

func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return false
		case r == '$' || r == '#':
			return false
		default:
			return true
		}
	})
}

// isTickerShaped rejects strings that cannot be tickers: too long, too
// short, or containing digits only.
func isTickerShaped(word string) bool {
	if len(word) < 2 || len(word) > 10 {
		return false
	}
	hasAlpha := false
	for _, r := range word {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			hasAlpha = true
		}
	}
	return hasAlpha
}

// engagementScore is the normalized Importance Coefficient:
// IC = forwards + 2*reactions + 0.5*replies, scaled to [0, 100].
func (p *Processor) engagementScore(e models.Engagement) float64 {
	ic := float64(e.Forwards) + 2*float64(e.Reactions) + 0.5*float64(e.Replies)
	score := 100 * ic / p.icMax
	if score > 100 {
		score = 100
	}
	return score
}

func (p *Processor) confidence(m models.ProcessedMessage) float64 {
	relevance := 0.0
	if m.CryptoRelevant {
		relevance = 1.0
	}

	lengthFactor := float64(len(m.Event.Text)) / lengthNormalizer
	if lengthFactor > 1 {
		lengthFactor = 1
	}

	sent := m.SentimentScore
	if sent < 0 {
		sent = -sent
	}

	c := weightEngagement*m.EngagementScore/100 +
		weightRelevance*relevance +
		weightSentiment*sent +
		weightLength*lengthFactor

	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	return c
}
