package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sawpanic/signalrun/internal/models"
)

const usdtCanonical = "0xdac17f958d2ee523a2206206994597c13d831ec7"

func addr(raw string, chain models.Chain) models.Address {
	return models.Address{Raw: raw, Chain: chain, Valid: true}
}

func snapFor(price, mcap, supply float64) func(models.Address) *models.PriceSnapshot {
	return func(models.Address) *models.PriceSnapshot {
		return &models.PriceSnapshot{PriceUSD: price, MarketCap: mcap, Supply: supply, Provider: "test"}
	}
}

func TestIsCommentary(t *testing.T) {
	cases := []struct {
		name string
		text string
		want bool
	}{
		{"prose only", "near future we'll see gains", true},
		{"buy verb", "Buy ETH before it rips", false},
		{"chart link", "ETH https://dexscreener.com/ethereum/weth", false},
		{"inline address", "ETH 0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", false},
		{"no symbols", "gm everyone", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			syms := []string{"ETH"}
			if tc.name == "no symbols" {
				syms = nil
			}
			assert.Equal(t, tc.want, IsCommentary(tc.text, syms))
		})
	}
}

func TestFilter_CommentaryDropsEverything(t *testing.T) {
	r := New()
	candidates := []models.Address{addr(usdtCanonical, models.ChainEVM)}

	kept, dropped := r.Filter("USDT", candidates, "usdt holding steady as always", snapFor(1.0, 9e10, 1e9))

	assert.Empty(t, kept)
	require.Len(t, dropped, 1)
	assert.Equal(t, "commentary", dropped[0].Reason)
}

func TestFilter_MajorKeepsCanonicalDropsImposters(t *testing.T) {
	r := New()
	imposter := addr("0x1111111111111111111111111111111111111111", models.ChainEVM)
	canonical := addr("0xdAC17F958D2ee523a2206206994597C13D831ec7", models.ChainEVM) // mixed case

	kept, dropped := r.Filter("USDT", []models.Address{imposter, canonical},
		"buy USDT here 0xdAC17F958D2ee523a2206206994597C13D831ec7", snapFor(1.0, 9e10, 1e9))

	require.Len(t, kept, 1)
	assert.Equal(t, canonical.Raw, kept[0].Raw)
	assert.Equal(t, "USDT", kept[0].Ticker)
	require.Len(t, dropped, 1)
	assert.Equal(t, "imposter", dropped[0].Reason)
}

func TestFilter_DepeggedStablecoinDropped(t *testing.T) {
	r := New()
	canonical := addr(usdtCanonical, models.ChainEVM)

	kept, dropped := r.Filter("USDT", []models.Address{canonical},
		"buy the dip 0xdac17f958d2ee523a2206206994597c13d831ec7", snapFor(0.62, 9e10, 1e9))

	assert.Empty(t, kept)
	require.Len(t, dropped, 1)
	assert.Equal(t, "below_min_price", dropped[0].Reason)
}

func TestFilter_NonMajorFloors(t *testing.T) {
	r := New()
	c := addr("0x2222222222222222222222222222222222222222", models.ChainEVM)
	text := "aping 0x2222222222222222222222222222222222222222"

	kept, _ := r.Filter("WAGMI", []models.Address{c}, text, snapFor(0.001, 50_000, 5e7))
	require.Len(t, kept, 1)
	assert.NotNil(t, kept[0].Snapshot)

	_, dropped := r.Filter("WAGMI", []models.Address{c}, text, snapFor(0.001, 5_000, 5e7))
	require.Len(t, dropped, 1)
	assert.Equal(t, "low_mcap", dropped[0].Reason)

	_, dropped = r.Filter("WAGMI", []models.Address{c}, text, snapFor(0, 50_000, 5e7))
	require.Len(t, dropped, 1)
	assert.Equal(t, "no_price", dropped[0].Reason)

	_, dropped = r.Filter("WAGMI", []models.Address{c}, text, snapFor(0.001, 50_000, 0))
	require.Len(t, dropped, 1)
	assert.Equal(t, "no_supply", dropped[0].Reason)
}

func TestResolveSymbol_DeterministicOrder(t *testing.T) {
	r := New()
	got := r.ResolveSymbol("usdc")
	require.Len(t, got, 2)
	assert.Equal(t, models.ChainEVM, got[0].Chain)
	assert.Equal(t, models.ChainSolana, got[1].Chain)

	assert.Nil(t, r.ResolveSymbol("NOTATOKEN"))
}

func TestAmbiguousTickers(t *testing.T) {
	r := New("CUSTOM")
	assert.True(t, r.IsAmbiguous("ONE"))
	assert.True(t, r.IsAmbiguous("near"))
	assert.True(t, r.IsAmbiguous("custom"))
	assert.False(t, r.IsAmbiguous("PEPE"))
}
