package stableswap

import (
	"github.com/defistate/defistate-stableswap-go/protocols/stableswap/calculator"
	"github.com/defistate/defistate-stableswap-go/protocols/stableswap/calculator/safemath"
	"github.com/defistate/defistate-stableswap-go/protocols/stableswap/oracle"
	"github.com/holiman/uint256"
)

// Pool is a serialisable snapshot of one StableSwap pool.
type Pool struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
	// Coins are token registry IDs, in pool slot order.
	Coins []uint64 `json:"coins"`
	// Balances exclude AdminBalances.
	Balances      []*uint256.Int `json:"balances"`
	AdminBalances []*uint256.Int `json:"adminBalances"`
	TotalSupply   *uint256.Int   `json:"totalSupply"`
	Amp           AmpRamp        `json:"amp"`
	// Fee and OffpegFeeMultiplier are expressed over calculator.FeeDenominator.
	Fee                 *uint256.Int `json:"fee"`
	OffpegFeeMultiplier *uint256.Int `json:"offpegFeeMultiplier"`
	Oracle              oracle.State `json:"oracle"`
	// Nonce increases with every committed operation.
	Nonce uint64 `json:"nonce"`
}

// NCoins returns the number of coins in the pool.
func (p Pool) NCoins() int {
	return len(p.Coins)
}

// Clone returns a deep copy of the pool.
func (p Pool) Clone() Pool {
	out := p
	out.Coins = append([]uint64(nil), p.Coins...)
	out.Balances = safemath.Clone(p.Balances)
	out.AdminBalances = safemath.Clone(p.AdminBalances)
	if p.TotalSupply != nil {
		out.TotalSupply = p.TotalSupply.Clone()
	}
	if p.Fee != nil {
		out.Fee = p.Fee.Clone()
	}
	if p.OffpegFeeMultiplier != nil {
		out.OffpegFeeMultiplier = p.OffpegFeeMultiplier.Clone()
	}
	out.Amp = p.Amp.Clone()
	out.Oracle = p.Oracle.Clone()
	return out
}

// CalcState returns the calculator view of the pool at now under rates.
func (p Pool) CalcState(rates []*uint256.Int, now uint64) calculator.State {
	return calculator.State{
		Balances:            p.Balances,
		Rates:               rates,
		Amp:                 p.Amp.At(now),
		Fee:                 p.Fee,
		OffpegFeeMultiplier: p.OffpegFeeMultiplier,
		TotalSupply:         p.TotalSupply,
	}
}
