// Package address parses and validates chain-specific token addresses out of
// raw message mentions.
package address

import (
	"regexp"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"

	"github.com/sawpanic/signalrun/internal/models"
)

var (
	evmRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	// Structural pre-filter only; real validation is the base58 decode.
	base58Re = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
)

// Extract classifies mention strings into chain-tagged addresses.
// Non-address-shaped mentions are discarded. Output preserves input order;
// duplicates are removed case-insensitively within one call.
func Extract(mentions []string) []models.Address {
	var out []models.Address
	seen := make(map[string]struct{})

	for _, m := range mentions {
		m = strings.TrimSpace(m)
		if !shaped(m) {
			continue
		}
		key := strings.ToLower(m)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, Classify(m))
	}
	return out
}

// shaped is the cheap length-and-alphabet pre-check before classification.
func shaped(s string) bool {
	if len(s) < 32 || len(s) > 64 {
		return len(s) == 42 && strings.HasPrefix(s, "0x")
	}
	return true
}

// Classify tags a single candidate with its chain and validity.
func Classify(raw string) models.Address {
	if evmRe.MatchString(raw) {
		return models.Address{Raw: raw, Chain: models.ChainEVM, Valid: true}
	}
	if IsSolana(raw) {
		return models.Address{Raw: raw, Chain: models.ChainSolana, Valid: true}
	}
	return models.Address{Raw: raw, Chain: models.ChainUnknown, Valid: false}
}

// IsSolana reports whether raw base58-decodes to exactly 32 bytes.
// A wallet address passes too; downstream filtering drops it when no
// provider knows the token.
func IsSolana(raw string) bool {
	if !base58Re.MatchString(raw) {
		return false
	}
	decoded := base58.Decode(raw)
	return len(decoded) == 32
}

// Normalize lowercases EVM addresses for use as store and table keys.
// Solana addresses are case-sensitive and pass through unchanged.
func Normalize(a models.Address) string {
	if a.Chain == models.ChainEVM {
		return strings.ToLower(a.Raw)
	}
	return a.Raw
}
