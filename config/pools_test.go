package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/defistate/defistate-stableswap-go/protocols/stableswap"
	"github.com/defistate/defistate-stableswap-go/protocols/tokenregistry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validPools = `
tokens:
  - id: 1
    address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
    name: USD Coin
    symbol: USDC
    decimals: 6
  - id: 2
    address: "0xdAC17F958D2ee523a2206206994597C13D831ec7"
    name: Tether USD
    symbol: USDT
    decimals: 6
  - id: 3
    address: "0x6B175474E89094C44Da98b954EedeAC495271d0F"
    name: Dai Stablecoin
    symbol: DAI
    decimals: 18
pools:
  - id: 1
    name: 3pool
    coins: [DAI, USDC, USDT]
    a: 2000
    fee: 1000000
    offpeg_fee_multiplier: 20000000000
  - id: 2
    name: usdc-dai
    coins: [USDC, DAI]
    a: 200
    fee: 4000000
    ma_exp_time: 600
    d_ma_time: 3600
    exchange_rates: ["1000000000000000000", "1020000000000000000"]
accounts:
  - address: "0x00000000000000000000000000000000000000a1"
    balances:
      USDC: "5000000000000"
      DAI: "5000000000000000000000000"
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pools.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	f, err := Load(writeFile(t, validPools))
	require.NoError(t, err)

	reg, err := f.Registry()
	require.NoError(t, err)
	require.Len(t, reg.All(), 3)

	params, err := f.Pools[0].Params(reg)
	require.NoError(t, err)
	assert.Equal(t, stableswap.PoolParams{
		ID:                  1,
		Name:                "3pool",
		Coins:               []uint64{3, 1, 2},
		A:                   2000,
		Fee:                 1_000_000,
		OffpegFeeMultiplier: 20_000_000_000,
	}, params)

	rates, err := f.Pools[0].Rates()
	require.NoError(t, err)
	assert.Nil(t, rates)

	rates, err = f.Pools[1].Rates()
	require.NoError(t, err)
	require.Len(t, rates, 2)
	assert.Equal(t, "1020000000000000000", rates[1].Dec())

	addr, balances, err := f.Accounts[0].Allocation(reg)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xa1"), addr)
	assert.Equal(t, "5000000000000", balances[1].Dec())
	assert.Equal(t, "5000000000000000000000000", balances[3].Dec())
}

func TestLoadRejectsInvalidFiles(t *testing.T) {
	tokens := `
tokens:
  - {id: 1, address: "0x0000000000000000000000000000000000000001", symbol: AAA, decimals: 18}
  - {id: 2, address: "0x0000000000000000000000000000000000000002", symbol: BBB, decimals: 6}
`
	tests := []struct {
		name    string
		content string
	}{
		{"unknown key", tokens + "pools:\n  - {id: 1, coins: [AAA, BBB], a: 100, amp: 3}\n"},
		{"no pools", tokens},
		{"no tokens", "pools:\n  - {id: 1, coins: [AAA, BBB], a: 100}\n"},
		{"unknown coin", tokens + "pools:\n  - {id: 1, coins: [AAA, CCC], a: 100}\n"},
		{"repeated coin", tokens + "pools:\n  - {id: 1, coins: [AAA, AAA], a: 100}\n"},
		{"single coin", tokens + "pools:\n  - {id: 1, coins: [AAA], a: 100}\n"},
		{"zero amplification", tokens + "pools:\n  - {id: 1, coins: [AAA, BBB], a: 0}\n"},
		{"fee too large", tokens + "pools:\n  - {id: 1, coins: [AAA, BBB], a: 100, fee: 6000000000}\n"},
		{"duplicate pool", tokens + "pools:\n  - {id: 1, coins: [AAA, BBB], a: 100}\n  - {id: 1, coins: [BBB, AAA], a: 100}\n"},
		{"rate count", tokens + "pools:\n  - {id: 1, coins: [AAA, BBB], a: 100, exchange_rates: [\"1\"]}\n"},
		{"zero rate", tokens + "pools:\n  - {id: 1, coins: [AAA, BBB], a: 100, exchange_rates: [\"0\", \"1\"]}\n"},
		{"bad address", "tokens:\n  - {id: 1, address: nope, symbol: AAA}\npools:\n  - {id: 1, coins: [AAA], a: 100}\n"},
		{"too many decimals", "tokens:\n  - {id: 1, address: \"0x0000000000000000000000000000000000000001\", symbol: AAA, decimals: 40}\npools: []\n"},
		{"bad balance", tokens + "pools:\n  - {id: 1, coins: [AAA, BBB], a: 100}\naccounts:\n  - {address: \"0x0000000000000000000000000000000000000009\", balances: {AAA: \"abc\"}}\n"},
		{"unknown balance token", tokens + "pools:\n  - {id: 1, coins: [AAA, BBB], a: 100}\naccounts:\n  - {address: \"0x0000000000000000000000000000000000000009\", balances: {ZZZ: \"5\"}}\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tc.content))
			assert.Error(t, err)
		})
	}

	t.Run("errors are classified", func(t *testing.T) {
		_, err := Load(writeFile(t, tokens+"pools:\n  - {id: 1, coins: [AAA, CCC], a: 100}\n"))
		assert.ErrorIs(t, err, ErrInvalidConfig)
		assert.ErrorIs(t, err, tokenregistry.ErrUnknownToken)

		_, err = Load(writeFile(t, tokens+"pools:\n  - {id: 1, coins: [AAA, BBB], a: 0}\n"))
		assert.ErrorIs(t, err, stableswap.ErrInvalidAmp)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}
