package stableswap

import (
	"testing"

	"github.com/defistate/defistate-stableswap-go/protocols/stableswap/calculator/invariant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPool(t *testing.T) {
	params := PoolParams{
		ID:                  7,
		Name:                "usdc-dai",
		Coins:               []uint64{1, 2},
		A:                   100,
		Fee:                 4_000_000,
		OffpegFeeMultiplier: 20_000_000_000,
	}

	p, err := NewPool(params, 1000)
	require.NoError(t, err)
	require.NoError(t, p.Validate())
	assert.Equal(t, 2, p.NCoins())
	assert.True(t, p.TotalSupply.IsZero())
	assert.Len(t, p.Oracle.LastPrices, 1)
	assert.Equal(t, uint64(1000), p.Oracle.LastUpdate)
	assert.Equal(t, uint64(10000), p.Amp.At(1000).Uint64())

	t.Run("coin count", func(t *testing.T) {
		bad := params
		bad.Coins = []uint64{1}
		_, err := NewPool(bad, 0)
		assert.ErrorIs(t, err, invariant.ErrInvalidCoinCount)
	})

	t.Run("fee cap", func(t *testing.T) {
		bad := params
		bad.Fee = 5_000_000_001
		bad.OffpegFeeMultiplier = 0
		_, err := NewPool(bad, 0)
		assert.ErrorIs(t, err, ErrInvalidFee)
	})

	t.Run("off-peg multiplier cap", func(t *testing.T) {
		bad := params
		bad.Fee = 1_000_000_000
		bad.OffpegFeeMultiplier = 60_000_000_000
		_, err := NewPool(bad, 0)
		assert.ErrorIs(t, err, ErrInvalidFee)
	})

	t.Run("amp", func(t *testing.T) {
		bad := params
		bad.A = 0
		_, err := NewPool(bad, 0)
		assert.ErrorIs(t, err, ErrInvalidAmp)
	})
}

func TestPoolValidate(t *testing.T) {
	p, err := NewPool(PoolParams{ID: 1, Coins: []uint64{1, 2, 3}, A: 200, Fee: 1_000_000}, 0)
	require.NoError(t, err)

	broken := p.Clone()
	broken.Balances = broken.Balances[:2]
	assert.ErrorIs(t, broken.Validate(), ErrInvalidPool)

	broken = p.Clone()
	broken.Oracle.LastPrices = nil
	assert.ErrorIs(t, broken.Validate(), ErrInvalidPool)

	broken = p.Clone()
	broken.TotalSupply = nil
	assert.ErrorIs(t, broken.Validate(), ErrInvalidPool)
}
