package address

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/sawpanic/signalrun/internal/models"
)

const (
	usdtAddr = "0xdAC17F958D2ee523a2206206994597C13D831ec7"
	wsolAddr = "So11111111111111111111111111111111111111112"
)

func TestExtract_ClassifiesEVM(t *testing.T) {
	got := Extract([]string{usdtAddr})
	assert.Len(t, got, 1)
	assert.Equal(t, models.ChainEVM, got[0].Chain)
	assert.True(t, got[0].Valid)
}

func TestExtract_ClassifiesSolana(t *testing.T) {
	got := Extract([]string{wsolAddr})
	assert.Len(t, got, 1)
	assert.Equal(t, models.ChainSolana, got[0].Chain)
	assert.True(t, got[0].Valid)
}

func TestExtract_DiscardsNonAddressShapes(t *testing.T) {
	got := Extract([]string{"ETH", "$PEPE", "gm", "0x1234"})
	assert.Empty(t, got)
}

func TestExtract_PreservesOrderAndDedupes(t *testing.T) {
	lower := "0xdac17f958d2ee523a2206206994597c13d831ec7"
	got := Extract([]string{wsolAddr, usdtAddr, lower, wsolAddr})
	assert.Len(t, got, 2, "case-insensitive duplicates removed")
	assert.Equal(t, models.ChainSolana, got[0].Chain)
	assert.Equal(t, models.ChainEVM, got[1].Chain)
}

func TestExtract_Idempotent(t *testing.T) {
	first := Extract([]string{usdtAddr, wsolAddr})
	raws := make([]string, len(first))
	for i, a := range first {
		raws[i] = a.Raw
	}
	second := Extract(raws)
	assert.Equal(t, first, second, "extract on its own output must be stable")
}

func TestClassify_BadBase58LengthIsUnknown(t *testing.T) {
	// 44 chars of valid alphabet but decodes to 44 bytes, not 32.
	a := Classify("11111111111111111111111111111111111111111111")
	assert.Equal(t, models.ChainUnknown, a.Chain)
	assert.False(t, a.Valid)
}

func TestIsSolana_WalletAddressStillClassifies(t *testing.T) {
	// A system account is structurally indistinguishable from a mint;
	// classification accepts it and the token filter rejects it later.
	assert.True(t, IsSolana("11111111111111111111111111111111"))
}

func TestNormalize_LowercasesEVMOnly(t *testing.T) {
	evm := Classify(usdtAddr)
	sol := Classify(wsolAddr)
	assert.Equal(t, "0xdac17f958d2ee523a2206206994597c13d831ec7", Normalize(evm))
	assert.Equal(t, wsolAddr, Normalize(sol))
}
