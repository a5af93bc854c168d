package api

import (
	"errors"

	"github.com/defistate/defistate-stableswap-go/engine"
)

// Error codes returned to RPC clients, in the server-defined range.
const (
	CodeInternal       = -32000
	CodeUnknownPool    = -32001
	CodeInvalidIndex   = -32002
	CodeSlippage       = -32003
	CodeConvergence    = -32004
	CodeOverflow       = -32005
	CodeZeroAmount     = -32006
	CodeSettlement     = -32007
	CodeClockRegressed = -32008
)

var codes = []struct {
	target error
	code   int
}{
	{ErrUnknownPool, CodeUnknownPool},
	{engine.ErrInvalidAssetIndex, CodeInvalidIndex},
	{engine.ErrSlippageExceeded, CodeSlippage},
	{engine.ErrConvergence, CodeConvergence},
	{engine.ErrArithmeticOverflow, CodeOverflow},
	{engine.ErrZeroAmount, CodeZeroAmount},
	{engine.ErrSettlement, CodeSettlement},
	{engine.ErrClockRegression, CodeClockRegressed},
}

// rpcError carries a JSON-RPC error code for an engine error.
type rpcError struct {
	err  error
	code int
}

func (e *rpcError) Error() string  { return e.err.Error() }
func (e *rpcError) ErrorCode() int { return e.code }
func (e *rpcError) Unwrap() error  { return e.err }

func wrap(err error) error {
	if err == nil {
		return nil
	}
	for _, c := range codes {
		if errors.Is(err, c.target) {
			return &rpcError{err: err, code: c.code}
		}
	}
	return &rpcError{err: err, code: CodeInternal}
}
