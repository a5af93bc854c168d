// Package safemath provides overflow-checked uint256 arithmetic for the
// StableSwap calculators.
//
// A Checker records the first failure it observes and turns every later
// operation into a no-op returning zero. Callers chain arithmetic freely and
// inspect Err once at the end.
package safemath

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	// ErrOverflow is returned when a result does not fit in 256 bits.
	ErrOverflow = errors.New("arithmetic overflow")
	// ErrUnderflow is returned when a subtraction would go below zero.
	ErrUnderflow = errors.New("arithmetic underflow")
	// ErrDivisionByZero is returned when a divisor is zero.
	ErrDivisionByZero = errors.New("division by zero")
)

// Checker performs checked arithmetic and remembers the first error.
// The zero value is ready to use. A Checker is not safe for concurrent use.
type Checker struct {
	err error
}

// Err returns the first error recorded by the checker, if any.
func (c *Checker) Err() error {
	return c.err
}

// Fail records err unless an earlier error is already recorded.
func (c *Checker) Fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

// Add returns x + y.
func (c *Checker) Add(x, y *uint256.Int) *uint256.Int {
	if c.err != nil {
		return new(uint256.Int)
	}
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		c.err = ErrOverflow
		return new(uint256.Int)
	}
	return z
}

// Sub returns x - y.
func (c *Checker) Sub(x, y *uint256.Int) *uint256.Int {
	if c.err != nil {
		return new(uint256.Int)
	}
	z, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		c.err = ErrUnderflow
		return new(uint256.Int)
	}
	return z
}

// Mul returns x * y.
func (c *Checker) Mul(x, y *uint256.Int) *uint256.Int {
	if c.err != nil {
		return new(uint256.Int)
	}
	z, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		c.err = ErrOverflow
		return new(uint256.Int)
	}
	return z
}

// Div returns x / y truncated toward zero.
func (c *Checker) Div(x, y *uint256.Int) *uint256.Int {
	if c.err != nil {
		return new(uint256.Int)
	}
	if y.IsZero() {
		c.err = ErrDivisionByZero
		return new(uint256.Int)
	}
	return new(uint256.Int).Div(x, y)
}

// MulDiv returns x * y / d. The intermediate product must fit in 256 bits.
func (c *Checker) MulDiv(x, y, d *uint256.Int) *uint256.Int {
	return c.Div(c.Mul(x, y), d)
}

// MulU64 returns x * n.
func (c *Checker) MulU64(x *uint256.Int, n uint64) *uint256.Int {
	return c.Mul(x, uint256.NewInt(n))
}

// DivU64 returns x / n.
func (c *Checker) DivU64(x *uint256.Int, n uint64) *uint256.Int {
	return c.Div(x, uint256.NewInt(n))
}

// AbsDiff returns |x - y|. It never fails.
func AbsDiff(x, y *uint256.Int) *uint256.Int {
	if x.Gt(y) {
		return new(uint256.Int).Sub(x, y)
	}
	return new(uint256.Int).Sub(y, x)
}

// Clone returns a deep copy of a slice of integers. Nil entries stay nil.
func Clone(xs []*uint256.Int) []*uint256.Int {
	if xs == nil {
		return nil
	}
	out := make([]*uint256.Int, len(xs))
	for i, x := range xs {
		if x != nil {
			out[i] = x.Clone()
		}
	}
	return out
}

// Pow10 returns 10^n. It panics if n > 77.
func Pow10(n uint) *uint256.Int {
	if n > 77 {
		panic("safemath: power of ten out of range")
	}
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(n)))
}
