package stableswap

import (
	"errors"
	"fmt"

	"github.com/defistate/defistate-stableswap-go/protocols/stableswap/calculator/invariant"
	"github.com/holiman/uint256"
)

const (
	// MaxA is the largest amplification coefficient, before A_PRECISION scaling.
	MaxA = 1_000_000
	// MaxAChange bounds how far a single ramp may move A, as a factor.
	MaxAChange = 10
	// MinRampTime is the minimum duration of a ramp and the minimum spacing
	// between ramps, in seconds.
	MinRampTime = 86_400
)

var (
	// ErrInvalidAmp is returned for an amplification outside (0, MaxA).
	ErrInvalidAmp = errors.New("invalid amplification coefficient")
	// ErrRampTooSoon is returned when a ramp starts or ends too close to now.
	ErrRampTooSoon = errors.New("amplification ramp too soon")
	// ErrRampTooSteep is returned when a ramp changes A by more than MaxAChange.
	ErrRampTooSteep = errors.New("amplification ramp too steep")
)

// AmpRamp describes the amplification coefficient as a linear function of
// time between two endpoints. Both A values carry A_PRECISION.
type AmpRamp struct {
	InitialA    *uint256.Int `json:"initialA"`
	FutureA     *uint256.Int `json:"futureA"`
	InitialTime uint64       `json:"initialTime"`
	FutureTime  uint64       `json:"futureTime"`
}

// NewAmpRamp returns a constant ramp at a, given without A_PRECISION.
func NewAmpRamp(a uint64, now uint64) (AmpRamp, error) {
	if a == 0 || a >= MaxA {
		return AmpRamp{}, fmt.Errorf("%w: %d", ErrInvalidAmp, a)
	}
	precise := new(uint256.Int).Mul(uint256.NewInt(a), invariant.APrecision)
	return AmpRamp{
		InitialA:    precise,
		FutureA:     precise.Clone(),
		InitialTime: now,
		FutureTime:  now,
	}, nil
}

// At returns the A_PRECISION-scaled amplification at now.
func (r AmpRamp) At(now uint64) *uint256.Int {
	if now >= r.FutureTime || r.FutureTime <= r.InitialTime {
		return r.FutureA.Clone()
	}
	if now <= r.InitialTime {
		return r.InitialA.Clone()
	}

	elapsed := uint256.NewInt(now - r.InitialTime)
	span := uint256.NewInt(r.FutureTime - r.InitialTime)
	if r.FutureA.Gt(r.InitialA) {
		delta := new(uint256.Int).Sub(r.FutureA, r.InitialA)
		delta.Mul(delta, elapsed).Div(delta, span)
		return delta.Add(r.InitialA, delta)
	}
	delta := new(uint256.Int).Sub(r.InitialA, r.FutureA)
	delta.Mul(delta, elapsed).Div(delta, span)
	return delta.Sub(r.InitialA, delta)
}

// Ramping reports whether A is still moving at now.
func (r AmpRamp) Ramping(now uint64) bool {
	return now < r.FutureTime && !r.InitialA.Eq(r.FutureA)
}

// Ramp starts a new ramp from the current A towards futureA (without
// A_PRECISION), reached at futureTime.
func (r AmpRamp) Ramp(futureA, futureTime, now uint64) (AmpRamp, error) {
	if now < r.InitialTime+MinRampTime {
		return AmpRamp{}, fmt.Errorf("%w: last ramp started at %d", ErrRampTooSoon, r.InitialTime)
	}
	if futureTime < now+MinRampTime {
		return AmpRamp{}, fmt.Errorf("%w: ramp must last at least %d seconds", ErrRampTooSoon, MinRampTime)
	}
	if futureA == 0 || futureA >= MaxA {
		return AmpRamp{}, fmt.Errorf("%w: %d", ErrInvalidAmp, futureA)
	}

	current := r.At(now)
	target := new(uint256.Int).Mul(uint256.NewInt(futureA), invariant.APrecision)
	limit := uint256.NewInt(MaxAChange)
	if target.Lt(current) {
		if new(uint256.Int).Mul(target, limit).Lt(current) {
			return AmpRamp{}, fmt.Errorf("%w: %s to %s", ErrRampTooSteep, current, target)
		}
	} else if target.Gt(new(uint256.Int).Mul(current, limit)) {
		return AmpRamp{}, fmt.Errorf("%w: %s to %s", ErrRampTooSteep, current, target)
	}

	return AmpRamp{
		InitialA:    current,
		FutureA:     target,
		InitialTime: now,
		FutureTime:  futureTime,
	}, nil
}

// Stop freezes A at its value at now.
func (r AmpRamp) Stop(now uint64) AmpRamp {
	current := r.At(now)
	return AmpRamp{
		InitialA:    current,
		FutureA:     current.Clone(),
		InitialTime: now,
		FutureTime:  now,
	}
}

// Clone returns a deep copy of the ramp.
func (r AmpRamp) Clone() AmpRamp {
	out := r
	if r.InitialA != nil {
		out.InitialA = r.InitialA.Clone()
	}
	if r.FutureA != nil {
		out.FutureA = r.FutureA.Clone()
	}
	return out
}
