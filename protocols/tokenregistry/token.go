package tokenregistry

import (
	"github.com/defistate/defistate-stableswap-go/protocols/stableswap/calculator"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Token is a safe, structured representation of a token's data for external use.
type Token struct {
	ID       uint64         `json:"id"`
	Address  common.Address `json:"address"`
	Name     string         `json:"name"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

// RateMultiplier returns the 1e18-scaled rate that normalizes raw balances
// of the token onto the common 1e18 basis.
func (t Token) RateMultiplier() (*uint256.Int, error) {
	return calculator.RateMultiplier(t.Decimals)
}
