// Package oracle maintains the exponential moving averages a StableSwap pool
// publishes: one EMA per non-reference coin price and one EMA of D.
//
// The averages advance lazily. A state-changing operation first calls
// BeforeMutate, which blends the samples recorded by the previous operation
// into the averages over the time elapsed since then, and afterwards calls
// Record with the samples its own result produced. The averages therefore
// always lag one operation behind the pool. Reads fold the elapsed time in
// without writing anything back.
package oracle

import (
	"errors"
	"fmt"

	"github.com/defistate/defistate-stableswap-go/protocols/stableswap/calculator/expmath"
	"github.com/defistate/defistate-stableswap-go/protocols/stableswap/calculator/invariant"
	"github.com/holiman/uint256"
)

// DefaultMATime is the EMA time constant used when none is configured, in seconds.
const DefaultMATime = 866

var (
	// PriceCap bounds every recorded price sample at twice the peg.
	PriceCap = uint256.NewInt(2e18)

	wad = expmath.WAD
)

var (
	// ErrClockRegression is returned when now is earlier than the last update.
	ErrClockRegression = errors.New("clock moved backwards")
	// ErrSampleLength is returned when a price sample does not cover every coin.
	ErrSampleLength = errors.New("price sample length mismatch")
)

// State is the oracle state of one pool.
type State struct {
	// LastPrices holds the latest spot price of coin k+1 in coin 0.
	LastPrices []*uint256.Int `json:"lastPrices"`
	// PriceEMAs holds the moving average of LastPrices.
	PriceEMAs []*uint256.Int `json:"priceEMAs"`
	// LastD is the latest sampled invariant.
	LastD *uint256.Int `json:"lastD"`
	// DEMA is the moving average of LastD.
	DEMA *uint256.Int `json:"dEMA"`
	// LastUpdate is the timestamp the averages were last advanced to.
	LastUpdate uint64 `json:"lastUpdate"`
	// PriceMATime and DMATime are the time constants of the averages in seconds.
	PriceMATime uint64 `json:"priceMATime"`
	DMATime     uint64 `json:"dMATime"`
}

// New returns the state of a fresh pool of nCoins coins. Prices start at the
// peg, D starts at zero until the first deposit resets it.
func New(nCoins int, priceMATime, dMATime, now uint64) State {
	if priceMATime == 0 {
		priceMATime = DefaultMATime
	}
	if dMATime == 0 {
		dMATime = DefaultMATime
	}
	s := State{
		LastD:       new(uint256.Int),
		DEMA:        new(uint256.Int),
		LastUpdate:  now,
		PriceMATime: priceMATime,
		DMATime:     dMATime,
	}
	for k := 1; k < nCoins; k++ {
		s.LastPrices = append(s.LastPrices, wad.Clone())
		s.PriceEMAs = append(s.PriceEMAs, wad.Clone())
	}
	return s
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	out := s
	out.LastPrices = cloneAll(s.LastPrices)
	out.PriceEMAs = cloneAll(s.PriceEMAs)
	if s.LastD != nil {
		out.LastD = s.LastD.Clone()
	}
	if s.DEMA != nil {
		out.DEMA = s.DEMA.Clone()
	}
	return out
}

func cloneAll(xs []*uint256.Int) []*uint256.Int {
	if xs == nil {
		return nil
	}
	out := make([]*uint256.Int, len(xs))
	for k, x := range xs {
		out[k] = x.Clone()
	}
	return out
}

// Fresh reports whether the averages were already advanced to now.
func (s State) Fresh(now uint64) bool {
	return s.LastUpdate == now
}

// blend returns (sample*(1e18-w) + ema*w) / 1e18.
func blend(ema, sample, w *uint256.Int) *uint256.Int {
	out := new(uint256.Int).Mul(sample, new(uint256.Int).Sub(wad, w))
	out.Add(out, new(uint256.Int).Mul(ema, w))
	return out.Div(out, wad)
}

func (s State) elapsed(now uint64) (uint64, error) {
	if now < s.LastUpdate {
		return 0, fmt.Errorf("%w: now %d, last update %d", ErrClockRegression, now, s.LastUpdate)
	}
	return now - s.LastUpdate, nil
}

// BeforeMutate advances the averages to now by blending in the samples of
// the previous operation. It must run at the start of every state-changing
// operation, before the pool is touched. Calling it twice at the same
// timestamp is a no-op.
func BeforeMutate(s *State, now uint64) error {
	dt, err := s.elapsed(now)
	if err != nil {
		return err
	}
	if dt == 0 {
		return nil
	}

	w := expmath.DecayWeight(dt, s.PriceMATime)
	for k := range s.PriceEMAs {
		s.PriceEMAs[k] = blend(s.PriceEMAs[k], s.LastPrices[k], w)
	}
	wd := expmath.DecayWeight(dt, s.DMATime)
	s.DEMA = blend(s.DEMA, s.LastD, wd)
	s.LastUpdate = now
	return nil
}

// Record stores the samples produced by an operation. Prices above PriceCap
// are capped. prev holds the price averages as they were before BeforeMutate
// ran; a zero price keeps the previous sample and puts the average of its
// slot back to prev, so that slot neither samples nor decays. A nil prev
// leaves the averages as they are.
func Record(s *State, prev, prices []*uint256.Int, d *uint256.Int) error {
	if len(prices) != len(s.LastPrices) {
		return fmt.Errorf("%w: got %d, want %d", ErrSampleLength, len(prices), len(s.LastPrices))
	}
	if prev != nil && len(prev) != len(s.PriceEMAs) {
		return fmt.Errorf("%w: got %d averages, want %d", ErrSampleLength, len(prev), len(s.PriceEMAs))
	}
	for k, p := range prices {
		if p == nil || p.IsZero() {
			if prev != nil {
				s.PriceEMAs[k] = prev[k].Clone()
			}
			continue
		}
		if p.Gt(PriceCap) {
			s.LastPrices[k] = PriceCap.Clone()
			continue
		}
		s.LastPrices[k] = p.Clone()
	}
	RecordD(s, d)
	return nil
}

// RecordD stores an invariant sample without touching the price samples.
func RecordD(s *State, d *uint256.Int) {
	s.LastD = d.Clone()
}

// ResetD sets both the D sample and its average to d. Pools use it when the
// first deposit brings D up from zero.
func ResetD(s *State, d *uint256.Int) {
	s.LastD = d.Clone()
	s.DEMA = d.Clone()
}

// DecayAndUpdate advances the averages to now and then records the new
// samples, in that order.
func DecayAndUpdate(s *State, prices []*uint256.Int, d *uint256.Int, now uint64) error {
	prev := cloneAll(s.PriceEMAs)
	if err := BeforeMutate(s, now); err != nil {
		return err
	}
	return Record(s, prev, prices, d)
}

// LastPrice returns the latest price sample of coin k+1.
func (s State) LastPrice(k int) (*uint256.Int, error) {
	if k < 0 || k >= len(s.LastPrices) {
		return nil, fmt.Errorf("%w: price index %d", invariant.ErrInvalidAssetIndex, k)
	}
	return s.LastPrices[k].Clone(), nil
}

// PriceOracle returns the price average of coin k+1 as of now.
func (s State) PriceOracle(k int, now uint64) (*uint256.Int, error) {
	if k < 0 || k >= len(s.PriceEMAs) {
		return nil, fmt.Errorf("%w: price index %d", invariant.ErrInvalidAssetIndex, k)
	}
	dt, err := s.elapsed(now)
	if err != nil {
		return nil, err
	}
	return blend(s.PriceEMAs[k], s.LastPrices[k], expmath.DecayWeight(dt, s.PriceMATime)), nil
}

// DOracle returns the average of D as of now.
func (s State) DOracle(now uint64) (*uint256.Int, error) {
	dt, err := s.elapsed(now)
	if err != nil {
		return nil, err
	}
	return blend(s.DEMA, s.LastD, expmath.DecayWeight(dt, s.DMATime)), nil
}
