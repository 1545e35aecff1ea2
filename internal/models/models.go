// Package models defines the core record types shared across the pipeline.
package models

import "time"

// Chain identifies the network family an address belongs to.
type Chain string

const (
	ChainEVM     Chain = "evm"
	ChainSolana  Chain = "solana"
	ChainUnknown Chain = "unknown"
)

// SentimentLabel is the categorical output of the sentiment analyzer.
type SentimentLabel string

const (
	SentimentPositive SentimentLabel = "positive"
	SentimentNeutral  SentimentLabel = "neutral"
	SentimentNegative SentimentLabel = "negative"
)

// PriceSource records which rung of the entry-price ladder produced a price.
type PriceSource string

const (
	SourceExact           PriceSource = "exact"
	SourceBucket1h        PriceSource = "bucket_1h"
	SourceBucket6h        PriceSource = "bucket_6h"
	SourceBucket24h       PriceSource = "bucket_24h"
	SourceCurrentFallback PriceSource = "current_fallback"
	SourceLive            PriceSource = "live"
)

// SignalStatus is the outcome state machine's externally visible state.
type SignalStatus string

const (
	StatusInProgress       SignalStatus = "in_progress"
	StatusCompleted        SignalStatus = "completed"
	StatusInsufficientData SignalStatus = "insufficient_data"
)

// Timeframe for OHLC candles.
type Timeframe string

const (
	TimeframeHour Timeframe = "hour"
	TimeframeDay  Timeframe = "day"
)

// Engagement holds the raw interaction counters attached to a message event.
type Engagement struct {
	Forwards  int `json:"forwards"`
	Views     int `json:"views"`
	Replies   int `json:"replies"`
	Reactions int `json:"reactions"`
}

// MessageEvent is an immutable message delivered by the chat transport.
type MessageEvent struct {
	ChannelID   string     `json:"channel_id"`
	ChannelName string     `json:"channel_name"`
	MessageID   int64      `json:"message_id"`
	Text        string     `json:"text"`
	Timestamp   time.Time  `json:"timestamp"`
	Engagement  Engagement `json:"engagement"`
}

// ProcessedMessage is a message event after classification and scoring.
type ProcessedMessage struct {
	Event           MessageEvent   `json:"event"`
	CryptoRelevant  bool           `json:"crypto_relevant"`
	Mentions        []string       `json:"mentions"`
	Sentiment       SentimentLabel `json:"sentiment"`
	SentimentScore  float64        `json:"sentiment_score"`
	EngagementScore float64        `json:"engagement_score"`
	Confidence      float64        `json:"confidence"`
	HighConfidence  bool           `json:"high_confidence"`
}

// Address is a chain-classified token address candidate.
type Address struct {
	Raw      string         `json:"raw"`
	Chain    Chain          `json:"chain"`
	Valid    bool           `json:"valid"`
	Ticker   string         `json:"ticker,omitempty"`
	Snapshot *PriceSnapshot `json:"snapshot,omitempty"`
}

// PriceSnapshot is a normalized current-price observation from one provider.
type PriceSnapshot struct {
	PriceUSD       float64   `json:"price_usd"`
	MarketCap      float64   `json:"market_cap,omitempty"`
	Volume24h      float64   `json:"volume_24h,omitempty"`
	PriceChange24h float64   `json:"price_change_24h,omitempty"`
	LiquidityUSD   float64   `json:"liquidity_usd,omitempty"`
	Supply         float64   `json:"supply,omitempty"`
	PairCreatedAt  int64     `json:"pair_created_at,omitempty"`
	Symbol         string    `json:"symbol,omitempty"`
	Provider       string    `json:"provider"`
	ObservedAt     time.Time `json:"observed_at"`
}

// Candle is a normalized OHLC bar.
type Candle struct {
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Timestamp int64     `json:"timestamp"`
	Timeframe Timeframe `json:"timeframe"`
}

// Valid reports whether the candle satisfies low <= min(open,close) <= max(open,close) <= high.
func (c Candle) Valid() bool {
	lo, hi := c.Open, c.Close
	if hi < lo {
		lo, hi = hi, lo
	}
	return c.High >= 0 && c.Low <= lo && hi <= c.High
}

// CheckpointMultipliers records close/entry at fixed offsets from entry.
// A nil pointer means the checkpoint has not been reached or backfilled.
type CheckpointMultipliers struct {
	H1  *float64 `json:"1h,omitempty"`
	H4  *float64 `json:"4h,omitempty"`
	H24 *float64 `json:"24h,omitempty"`
	D3  *float64 `json:"3d,omitempty"`
	D7  *float64 `json:"7d,omitempty"`
	D30 *float64 `json:"30d,omitempty"`
}

// SignalOutcome is one tracked call: (channel, address, ordinal).
type SignalOutcome struct {
	ChannelID       string                `json:"channel_id"`
	ChannelName     string                `json:"channel_name,omitempty"`
	Address         string                `json:"address"`
	Chain           Chain                 `json:"chain"`
	Symbol          string                `json:"symbol,omitempty"`
	FirstMessageID  int64                 `json:"first_message_id"`
	EntryPrice      float64               `json:"entry_price"`
	EntryTime       time.Time             `json:"entry_time"`
	EntrySource     PriceSource           `json:"entry_source"`
	SignalOrdinal   int                   `json:"signal_ordinal"`
	PreviousSignals []int                 `json:"previous_signals,omitempty"`
	CurrentPrice    float64               `json:"current_price"`
	ATHPrice        float64               `json:"ath_price"`
	ATHTime         time.Time             `json:"ath_time"`
	ATHMultiplier   float64               `json:"ath_multiplier"`
	CurrentMult     float64               `json:"current_multiplier"`
	Checkpoints     CheckpointMultipliers `json:"checkpoints"`
	Dead            bool                  `json:"dead"`
	DeadReason      string                `json:"dead_reason,omitempty"`
	Status          SignalStatus          `json:"status"`
	CompletionCause string                `json:"completion_cause,omitempty"`
	IsWinner        bool                  `json:"is_winner"`
	LastUpdated     time.Time             `json:"last_updated"`
}

// DaysTracked returns whole days between entry and the given instant.
func (o *SignalOutcome) DaysTracked(now time.Time) int {
	if now.Before(o.EntryTime) {
		return 0
	}
	return int(now.Sub(o.EntryTime).Hours() / 24)
}

// ChannelReputation is a derived aggregate over completed outcomes for one channel.
// Never source of truth: overwritten wholesale on each recomputation.
type ChannelReputation struct {
	ChannelID        string    `json:"channel_id"`
	TotalSignals     int       `json:"total_signals"`
	Winners          int       `json:"winners"`
	Losers           int       `json:"losers"`
	Neutrals         int       `json:"neutrals"`
	DeadTokens       int       `json:"dead_tokens"`
	AvgATHMultiplier float64   `json:"avg_ath_multiplier"`
	AvgFinalMult     float64   `json:"avg_final_multiplier"`
	MeanTimeToATH    float64   `json:"mean_hours_to_ath"`
	WinRate          float64   `json:"win_rate"`
	Score            float64   `json:"reputation_score"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ScrapeProgress is the resumable bootstrap checkpoint for one channel.
type ScrapeProgress struct {
	ChannelID       string    `json:"channel_id"`
	LastMessageID   int64     `json:"last_message_id"`
	TotalScraped    int       `json:"total_scraped"`
	SignalsOpened   int       `json:"signals_opened"`
	ScrapeComplete  bool      `json:"scrape_complete"`
	LastCheckpoint  time.Time `json:"last_checkpoint"`
	RunID           string    `json:"run_id,omitempty"`
}

// BlacklistEntry records a token classified as dead along with the evidence.
type BlacklistEntry struct {
	Address    string    `json:"address"`
	Chain      Chain     `json:"chain"`
	Reason     string    `json:"reason"`
	Supply     float64   `json:"supply"`
	Holders    int       `json:"holders"`
	Transfers  int       `json:"transfers"`
	DetectedAt time.Time `json:"detected_at"`
}
