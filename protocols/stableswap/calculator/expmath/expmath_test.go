package expmath

import (
	"math"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
)

func wadToFloat(x *uint256.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(x.ToBig()), big.NewFloat(1e18)).Float64()
	return f
}

func wadFromFloat(x float64) *uint256.Int {
	i, _ := new(big.Float).Mul(big.NewFloat(x), big.NewFloat(1e18)).Int(nil)
	return uint256.MustFromBig(i)
}

func TestExpNegAccuracy(t *testing.T) {
	for _, x := range []float64{0.001, 0.1, 0.5, 0.693, 1, 2.5, 7, 11} {
		in := wadFromFloat(x)
		got := wadToFloat(ExpNeg(in))
		assert.InEpsilon(t, math.Exp(-x), got, 1e-9, "x=%v", x)
	}
}

func TestExpNegEdges(t *testing.T) {
	assert.Equal(t, WAD.Dec(), ExpNeg(new(uint256.Int)).Dec())
	assert.True(t, ExpNeg(uint256.MustFromDecimal("1000000000000000000000")).IsZero())
	assert.True(t, ExpNeg(new(uint256.Int).SetAllOne()).IsZero())
}

func TestExpNegMonotone(t *testing.T) {
	prev := ExpNeg(new(uint256.Int))
	step := uint256.NewInt(37_000_000_000_000_000)
	x := new(uint256.Int)
	for i := 0; i < 500; i++ {
		x.Add(x, step)
		cur := ExpNeg(x)
		assert.False(t, cur.Gt(prev), "exp must not increase at step %d", i)
		prev = cur
	}
}

func TestDecayWeight(t *testing.T) {
	tests := []struct {
		name string
		dt   uint64
		tau  uint64
	}{
		{"one second", 1, 866},
		{"one window", 866, 866},
		{"one hour", 3600, 866},
		{"four windows", 3464, 866},
		{"long window", 100_000, 86_400},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			want := math.Exp(-float64(tc.dt) / float64(tc.tau))
			got := wadToFloat(DecayWeight(tc.dt, tc.tau))
			assert.InEpsilon(t, want, got, 1e-5)
		})
	}

	assert.Equal(t, WAD.Dec(), DecayWeight(0, 866).Dec())
	assert.True(t, DecayWeight(10, 0).IsZero())
	assert.True(t, DecayWeight(1_000_000, 866).IsZero())
}
