// Package registry maintains the major-token whitelist and the filter that
// rejects imposters, commentary and illiquid candidates.
package registry

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalrun/internal/models"
)

// Major describes one whitelisted token with its canonical contracts and
// floor constraints.
type Major struct {
	Ticker       string
	Canonical    map[models.Chain]string // chain -> canonical contract, lowercase for EVM
	MinPrice     float64
	MinMarketCap float64
	Stablecoin   bool // stablecoins must also sit inside the price band
}

// Stablecoin price band. A "USDT" trading at 0.40 is not USDT.
const (
	StableBandLow  = 0.95
	StableBandHigh = 1.05
)

// Floors for non-major candidates.
const (
	MinCandidateMarketCap = 10_000.0
)

// Registry is the canonical token whitelist plus the ambiguous-ticker set.
type Registry struct {
	majors    map[string]Major
	ambiguous map[string]struct{}
}

// New builds the registry with the built-in major set. Ambiguous tickers are
// tickers that double as common English words; they require a $ or # prefix
// to count as a mention.
func New(extraAmbiguous ...string) *Registry {
	r := &Registry{
		majors:    make(map[string]Major),
		ambiguous: make(map[string]struct{}),
	}
	for _, m := range builtinMajors() {
		r.majors[m.Ticker] = m
	}
	for _, t := range []string{"ONE", "NEAR", "JUST", "LIKE", "MOON", "SUN", "WIN", "CAKE", "GAS", "OP", "APE", "BOND", "TIME", "PEOPLE"} {
		r.ambiguous[t] = struct{}{}
	}
	for _, t := range extraAmbiguous {
		r.ambiguous[strings.ToUpper(t)] = struct{}{}
	}
	return r
}

func builtinMajors() []Major {
	return []Major{
		{
			Ticker: "ETH",
			Canonical: map[models.Chain]string{
				// WETH
				models.ChainEVM: "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2",
			},
			MinPrice:     100,
			MinMarketCap: 1e10,
		},
		{
			Ticker: "BTC",
			Canonical: map[models.Chain]string{
				// WBTC
				models.ChainEVM: "0x2260fac5e5542a773aa44fbcfedf7c193bc2c599",
			},
			MinPrice:     1000,
			MinMarketCap: 1e11,
		},
		{
			Ticker: "SOL",
			Canonical: map[models.Chain]string{
				models.ChainSolana: "So11111111111111111111111111111111111111112",
			},
			MinPrice:     1,
			MinMarketCap: 1e9,
		},
		{
			Ticker: "USDC",
			Canonical: map[models.Chain]string{
				models.ChainEVM:    "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
				models.ChainSolana: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			},
			MinPrice:     0.5,
			MinMarketCap: 1e9,
			Stablecoin:   true,
		},
		{
			Ticker: "USDT",
			Canonical: map[models.Chain]string{
				models.ChainEVM:    "0xdac17f958d2ee523a2206206994597c13d831ec7",
				models.ChainSolana: "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB",
			},
			MinPrice:     0.5,
			MinMarketCap: 1e9,
			Stablecoin:   true,
		},
		{
			Ticker: "BNB",
			Canonical: map[models.Chain]string{
				models.ChainEVM: "0xb8c77482e45f1f44de1745f52c74426c631bdd52",
			},
			MinPrice:     10,
			MinMarketCap: 1e9,
		},
	}
}

// IsMajor reports whether symbol is on the whitelist.
func (r *Registry) IsMajor(symbol string) bool {
	_, ok := r.majors[strings.ToUpper(symbol)]
	return ok
}

// Major returns the whitelist entry for symbol.
func (r *Registry) Major(symbol string) (Major, bool) {
	m, ok := r.majors[strings.ToUpper(symbol)]
	return m, ok
}

// IsAmbiguous reports whether symbol needs a $ or # prefix to be a mention.
func (r *Registry) IsAmbiguous(symbol string) bool {
	_, ok := r.ambiguous[strings.ToUpper(symbol)]
	return ok
}

// Tickers returns all whitelisted tickers.
func (r *Registry) Tickers() []string {
	out := make([]string, 0, len(r.majors))
	for t := range r.majors {
		out = append(out, t)
	}
	return out
}

// CanonicalAddress resolves a ticker to its canonical contract on a chain.
func (r *Registry) CanonicalAddress(symbol string, chain models.Chain) (string, bool) {
	m, ok := r.majors[strings.ToUpper(symbol)]
	if !ok {
		return "", false
	}
	addr, ok := m.Canonical[chain]
	return addr, ok
}

// ResolveSymbol finds canonical addresses for a ticker across all chains.
func (r *Registry) ResolveSymbol(symbol string) []models.Address {
	m, ok := r.majors[strings.ToUpper(symbol)]
	if !ok {
		return nil
	}
	var out []models.Address
	// Deterministic order: EVM before Solana.
	for _, chain := range []models.Chain{models.ChainEVM, models.ChainSolana} {
		if addr, ok := m.Canonical[chain]; ok {
			out = append(out, models.Address{Raw: addr, Chain: chain, Valid: true, Ticker: m.Ticker})
		}
	}
	return out
}

var (
	actionVerbRe = regexp.MustCompile(`(?i)\b(buy|bought|sell|sold|ape|aping|aped|long|short|entry|enter|accumulate|load|loading|snipe|sniped|pump|send it|bidding|bid)\b`)
	chartLinkRe  = regexp.MustCompile(`(?i)(dexscreener\.com|dextools\.io|birdeye\.so|geckoterminal\.com|chart)`)
	addressRe    = regexp.MustCompile(`0x[0-9a-fA-F]{40}|[1-9A-HJ-NP-Za-km-z]{32,44}`)
)

// IsCommentary applies the market-commentary heuristic: the message names a
// symbol only in prose, with no address, no buy/sell verb and no chart link.
// Commentary must short-circuit the coordinator before any external call.
func IsCommentary(text string, symbols []string) bool {
	if len(symbols) == 0 {
		return false
	}
	if addressRe.MatchString(text) {
		return false
	}
	if actionVerbRe.MatchString(text) {
		return false
	}
	if chartLinkRe.MatchString(text) {
		return false
	}
	return true
}

// Dropped explains why a candidate was rejected.
type Dropped struct {
	Address models.Address
	Reason  string
}

// Filter applies the whitelist rules to the candidates mentioned alongside
// symbol. The caller supplies the message text for the commentary check and
// a snapshot lookup for floor checks.
//
// Major tickers: the canonical contract (if among the candidates) survives;
// everything else claiming that ticker is an imposter. Non-majors survive
// only with a live price, a real market cap and reported supply.
func (r *Registry) Filter(symbol string, candidates []models.Address, text string, snapshotOf func(models.Address) *models.PriceSnapshot) (kept []models.Address, dropped []Dropped) {
	if IsCommentary(text, []string{symbol}) {
		for _, c := range candidates {
			dropped = append(dropped, Dropped{Address: c, Reason: "commentary"})
		}
		return nil, dropped
	}

	major, isMajor := r.Major(symbol)

	for _, c := range candidates {
		if isMajor {
			canonical, ok := major.Canonical[c.Chain]
			if ok && equalAddr(c, canonical) {
				c.Ticker = major.Ticker
				if snap := snapshotOf(c); snap != nil {
					if reason := r.checkMajorFloors(major, snap); reason != "" {
						dropped = append(dropped, Dropped{Address: c, Reason: reason})
						continue
					}
					c.Snapshot = snap
				}
				kept = append(kept, c)
			} else {
				dropped = append(dropped, Dropped{Address: c, Reason: "imposter"})
			}
			continue
		}

		snap := snapshotOf(c)
		if reason := checkCandidateFloors(snap); reason != "" {
			dropped = append(dropped, Dropped{Address: c, Reason: reason})
			continue
		}
		c.Snapshot = snap
		kept = append(kept, c)
	}

	if len(dropped) > 0 {
		log.Debug().
			Str("symbol", symbol).
			Int("kept", len(kept)).
			Int("dropped", len(dropped)).
			Msg("token filter applied")
	}
	return kept, dropped
}

func (r *Registry) checkMajorFloors(m Major, snap *models.PriceSnapshot) string {
	if snap.PriceUSD < m.MinPrice {
		return "below_min_price"
	}
	if snap.MarketCap > 0 && snap.MarketCap < m.MinMarketCap {
		return "below_min_mcap"
	}
	if m.Stablecoin && (snap.PriceUSD < StableBandLow || snap.PriceUSD > StableBandHigh) {
		return "depegged"
	}
	return ""
}

func checkCandidateFloors(snap *models.PriceSnapshot) string {
	if snap == nil || snap.PriceUSD <= 0 {
		return "no_price"
	}
	if snap.MarketCap < MinCandidateMarketCap {
		return "low_mcap"
	}
	if snap.Supply <= 0 {
		return "no_supply"
	}
	return ""
}

func equalAddr(a models.Address, canonical string) bool {
	if a.Chain == models.ChainEVM {
		return strings.EqualFold(a.Raw, canonical)
	}
	return a.Raw == canonical
}
