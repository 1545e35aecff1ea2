package deadtoken

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/signalrun/internal/errs"
	"github.com/sawpanic/signalrun/internal/models"
)

type fakeSnapshotSource struct {
	snaps map[string]*models.PriceSnapshot
	calls int
}

func (f *fakeSnapshotSource) GetPrice(_ context.Context, address string, _ models.Chain) (*models.PriceSnapshot, error) {
	f.calls++
	return f.snaps[address], nil
}

func TestSnapshotReader_DrainedOldPairGetsBlacklisted(t *testing.T) {
	old := time.Now().Add(-400 * 24 * time.Hour).Unix()
	src := &fakeSnapshotSource{snaps: map[string]*models.PriceSnapshot{
		"0xdead": {PriceUSD: 0.0001, Supply: 5000, LiquidityUSD: 120, PairCreatedAt: old},
	}}
	store := &memBlacklist{}
	d, err := NewDetector(NewSnapshotReader(src), store)
	require.NoError(t, err)

	cls, err := d.Check(context.Background(), "0xdead", models.ChainEVM)
	require.NoError(t, err)
	assert.Equal(t, DeadLP, cls)
	assert.Equal(t, 1, store.saves)

	cls, err = d.Check(context.Background(), "0xdead", models.ChainEVM)
	require.NoError(t, err)
	assert.Equal(t, DeadLP, cls)
	assert.Equal(t, 1, src.calls, "blacklisted address must not be priced again")
}

func TestSnapshotReader_NoSupplyIsNoEvidence(t *testing.T) {
	src := &fakeSnapshotSource{snaps: map[string]*models.PriceSnapshot{
		"0xthin": {PriceUSD: 1.5},
	}}
	r := NewSnapshotReader(src)

	_, err := r.TokenStats(context.Background(), "0xthin", models.ChainEVM)
	require.Error(t, err)
	assert.Equal(t, errs.KindProviderEmpty, errs.KindOf(err))

	d, err := NewDetector(r, nil)
	require.NoError(t, err)
	cls, _ := d.Check(context.Background(), "0xthin", models.ChainEVM)
	assert.Equal(t, Alive, cls, "a token without reported supply stays alive")
	assert.Zero(t, d.Size())
}

func TestSnapshotReader_UnknownAddressIsNoEvidence(t *testing.T) {
	r := NewSnapshotReader(&fakeSnapshotSource{})

	_, err := r.TokenStats(context.Background(), "0xnobody", models.ChainEVM)
	require.Error(t, err)
	assert.Equal(t, errs.KindProviderEmpty, errs.KindOf(err))
}

func TestSnapshotReader_YoungSilentPairIsProtected(t *testing.T) {
	young := time.Now().Add(-2 * 24 * time.Hour).Unix()
	src := &fakeSnapshotSource{snaps: map[string]*models.PriceSnapshot{
		"0xnew": {PriceUSD: 0.01, Supply: 1e6, PairCreatedAt: young},
	}}
	d, err := NewDetector(NewSnapshotReader(src), nil)
	require.NoError(t, err)

	cls, err := d.Check(context.Background(), "0xnew", models.ChainEVM)
	require.NoError(t, err)
	assert.Equal(t, TooNew, cls)
	assert.Zero(t, d.Size(), "protected tokens are never blacklisted")
}
