// Package expmath implements the integer-only exponential used by the EMA
// oracles, so that every evaluator of the same inputs gets the same bits.
package expmath

import (
	"github.com/holiman/uint256"
)

// WAD is the 1e18 fixed-point unit.
var WAD = uint256.NewInt(1e18)

var (
	e36 = new(uint256.Int).Mul(WAD, WAD)
	e54 = new(uint256.Int).Mul(e36, WAD)

	// ln(2) scaled by 1e36.
	ln2E36 = uint256.MustFromDecimal("693147180559945309417232121458176568")
)

// maxTerms bounds the Taylor expansion of e^r for r in [0, ln 2). The terms
// fall below one unit at 1e36 long before this.
const maxTerms = 64

// ExpNeg returns e^(-x) where x and the result are 1e18 fixed-point values.
//
// x is reduced as x = k*ln2 + r with 0 <= r < ln2, e^r is summed as a Taylor
// series at 1e36 precision and the result is 2^-k / e^r. The result never
// increases when x increases and is exactly WAD for x = 0.
func ExpNeg(x *uint256.Int) *uint256.Int {
	if x.IsZero() {
		return WAD.Clone()
	}

	x36, overflow := new(uint256.Int).MulOverflow(x, WAD)
	if overflow {
		return new(uint256.Int)
	}

	k := new(uint256.Int).Div(x36, ln2E36)
	if !k.IsUint64() || k.Uint64() >= 64 {
		// 1e18 >> 64 is already zero.
		return new(uint256.Int)
	}
	r := new(uint256.Int).Sub(x36, new(uint256.Int).Mul(k, ln2E36))

	sum := e36.Clone()
	term := e36.Clone()
	denom := new(uint256.Int)
	for n := uint64(1); n <= maxTerms; n++ {
		term.Mul(term, r)
		denom.Mul(uint256.NewInt(n), e36)
		term.Div(term, denom)
		if term.IsZero() {
			break
		}
		sum.Add(sum, term)
	}

	out := new(uint256.Int).Div(e54, sum)
	return out.Rsh(out, uint(k.Uint64()))
}

// DecayWeight returns exp(-dt/tau) in 1e18 fixed point. A zero tau is
// treated as an instantly forgetting average and yields zero weight for any
// positive dt.
func DecayWeight(dt, tau uint64) *uint256.Int {
	if dt == 0 {
		return WAD.Clone()
	}
	if tau == 0 {
		return new(uint256.Int)
	}
	x := new(uint256.Int).Mul(uint256.NewInt(dt), WAD)
	x.Div(x, uint256.NewInt(tau))
	return ExpNeg(x)
}
