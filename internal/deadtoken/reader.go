package deadtoken

import (
	"context"
	"time"

	"github.com/sawpanic/signalrun/internal/errs"
	"github.com/sawpanic/signalrun/internal/models"
)

// SnapshotSource resolves a current price snapshot for an address. The
// price engine satisfies this.
type SnapshotSource interface {
	GetPrice(ctx context.Context, address string, chain models.Chain) (*models.PriceSnapshot, error)
}

// SnapshotReader derives liveness evidence from provider snapshots: supply
// as reported, pair age from the pair-created timestamp, a reserves
// accessor inferred from reported liquidity and transfer activity inferred
// from 24h volume. A snapshot without a supply figure yields no evidence
// at all, never a classification.
type SnapshotReader struct {
	source SnapshotSource
	now    func() time.Time
}

// NewSnapshotReader builds a reader over a snapshot source.
func NewSnapshotReader(source SnapshotSource) *SnapshotReader {
	return &SnapshotReader{source: source, now: time.Now}
}

// TokenStats maps a price snapshot onto the classification inputs.
func (r *SnapshotReader) TokenStats(ctx context.Context, address string, chain models.Chain) (*TokenStats, error) {
	const op = "deadtoken.TokenStats"

	snap, err := r.source.GetPrice(ctx, address, chain)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, errs.Tag(errs.KindProviderEmpty, op, "no snapshot for address")
	}
	if snap.Supply <= 0 {
		// An unreported supply is no evidence either way.
		return nil, errs.Tag(errs.KindProviderEmpty, op, "no supply reported")
	}

	stats := &TokenStats{
		Supply:      snap.Supply,
		HasReserves: snap.LiquidityUSD > 0,
		CreatedAt:   r.now(),
	}
	if snap.PairCreatedAt > 0 {
		stats.CreatedAt = time.Unix(snap.PairCreatedAt, 0)
	}
	if snap.Volume24h > 0 {
		stats.Transfers = 1
	}
	return stats, nil
}
