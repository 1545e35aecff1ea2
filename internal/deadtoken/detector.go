// Package deadtoken classifies tokens with no meaningful trading life and
// maintains the persistent blacklist that short-circuits all pricing calls
// for them.
package deadtoken

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalrun/internal/models"
)

// Classification of a token's on-chain liveness.
type Classification string

const (
	Alive      Classification = "alive"
	DeadAtCall Classification = "dead_at_call" // effectively no supply
	DeadLP     Classification = "dead_lp"      // drained pool on an old pair
	Stale      Classification = "stale"        // old token, zero transfers
	TooNew     Classification = "too_new"      // protected: zero transfers but young
)

// Completion multipliers per dead category. Dead LP keeps a residual because
// the pool once existed; everything else scores zero.
const (
	DeadAtCallMultiplier = 0.0
	DeadLPMultiplier     = 0.2
	StaleMultiplier      = 0.0
)

// Thresholds for the classification rules.
const (
	minLiveSupply   = 1000.0
	minLPSupply     = 10000.0
	protectionAge   = 7 * 24 * time.Hour
)

// ChainReader is the optional on-chain capability: supply, transfer count,
// pair age and whether the contract exposes a reserves accessor.
type ChainReader interface {
	TokenStats(ctx context.Context, address string, chain models.Chain) (*TokenStats, error)
}

// TokenStats is the on-chain evidence a classification is based on.
type TokenStats struct {
	Supply       float64
	Holders      int
	Transfers    int
	CreatedAt    time.Time
	HasReserves  bool
}

// Multiplier returns the completion multiplier for a dead classification.
// Alive and TooNew have no dead multiplier.
func (c Classification) Multiplier() (float64, bool) {
	switch c {
	case DeadAtCall:
		return DeadAtCallMultiplier, true
	case DeadLP:
		return DeadLPMultiplier, true
	case Stale:
		return StaleMultiplier, true
	default:
		return 0, false
	}
}

// IsDead reports whether the classification blacklists the token.
func (c Classification) IsDead() bool {
	return c == DeadAtCall || c == DeadLP || c == Stale
}

// Classify applies the liveness rules to on-chain stats.
func Classify(stats *TokenStats, now time.Time) Classification {
	if stats == nil {
		return Alive
	}
	age := now.Sub(stats.CreatedAt)

	if stats.Supply < minLiveSupply {
		return DeadAtCall
	}
	if stats.Supply < minLPSupply && stats.HasReserves && age >= protectionAge {
		return DeadLP
	}
	if stats.Transfers == 0 {
		if age > protectionAge {
			return Stale
		}
		return TooNew
	}
	return Alive
}

// BlacklistStore persists blacklist entries across restarts.
type BlacklistStore interface {
	LoadBlacklist() ([]models.BlacklistEntry, error)
	SaveBlacklist([]models.BlacklistEntry) error
}

// Detector owns the blacklist. All mutation goes through its operations;
// nothing else writes the blacklist file.
type Detector struct {
	mu      sync.RWMutex
	entries map[string]models.BlacklistEntry // keyed by address
	reader  ChainReader
	store   BlacklistStore
	now     func() time.Time
}

// NewDetector builds a detector, loading any persisted blacklist. reader may
// be nil when no on-chain capability is configured; Check then relies solely
// on the persisted blacklist.
func NewDetector(reader ChainReader, store BlacklistStore) (*Detector, error) {
	d := &Detector{
		entries: make(map[string]models.BlacklistEntry),
		reader:  reader,
		store:   store,
		now:     time.Now,
	}
	if store != nil {
		loaded, err := store.LoadBlacklist()
		if err != nil {
			return nil, err
		}
		for _, e := range loaded {
			d.entries[e.Address] = e
		}
	}
	return d, nil
}

// IsBlacklisted reports whether the address was previously classified dead.
// Blacklisted addresses skip all pricing calls.
func (d *Detector) IsBlacklisted(address string) (models.BlacklistEntry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[address]
	return e, ok
}

// Check classifies an address, blacklisting it when dead. Already
// blacklisted addresses return immediately without an on-chain call.
func (d *Detector) Check(ctx context.Context, address string, chain models.Chain) (Classification, error) {
	if e, ok := d.IsBlacklisted(address); ok {
		return Classification(e.Reason), nil
	}
	if d.reader == nil {
		return Alive, nil
	}

	stats, err := d.reader.TokenStats(ctx, address, chain)
	if err != nil {
		// No on-chain evidence is not evidence of death.
		return Alive, err
	}

	cls := Classify(stats, d.now())
	if cls.IsDead() {
		if err := d.blacklist(address, chain, cls, stats); err != nil {
			return cls, err
		}
		log.Info().
			Str("address", address).
			Str("chain", string(chain)).
			Str("reason", string(cls)).
			Float64("supply", stats.Supply).
			Msg("token blacklisted")
	}
	return cls, nil
}

func (d *Detector) blacklist(address string, chain models.Chain, cls Classification, stats *TokenStats) error {
	d.mu.Lock()
	d.entries[address] = models.BlacklistEntry{
		Address:    address,
		Chain:      chain,
		Reason:     string(cls),
		Supply:     stats.Supply,
		Holders:    stats.Holders,
		Transfers:  stats.Transfers,
		DetectedAt: d.now(),
	}
	snapshot := make([]models.BlacklistEntry, 0, len(d.entries))
	for _, e := range d.entries {
		snapshot = append(snapshot, e)
	}
	d.mu.Unlock()

	if d.store == nil {
		return nil
	}
	return d.store.SaveBlacklist(snapshot)
}

// Size returns the number of blacklisted addresses.
func (d *Detector) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}
