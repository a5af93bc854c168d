// Package storage persists pool snapshots and oracle observations.
package storage

import (
	"context"

	"github.com/defistate/defistate-stableswap-go/engine"
	"github.com/defistate/defistate-stableswap-go/protocols/stableswap"
	"github.com/holiman/uint256"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Observation is a point-in-time reading of a pool's oracle.
type Observation struct {
	PoolID       uint64         `json:"poolId"`
	Timestamp    uint64         `json:"timestamp"`
	Nonce        uint64         `json:"nonce"`
	LastPrices   []*uint256.Int `json:"lastPrices"`
	PriceOracles []*uint256.Int `json:"priceOracles"`
	DOracle      *uint256.Int   `json:"dOracle"`
	VirtualPrice *uint256.Int   `json:"virtualPrice,omitempty"`
}

// Store persists pool snapshots as a replica of the running engines.
type Store interface {
	// ApplyDiff writes one snapshot diff atomically.
	ApplyDiff(ctx context.Context, diff stableswap.StableSwapSystemDiff) error
	// Checkpoint writes a snapshot diff and replaces the stored settlement
	// ledger in one transaction, so pools and balances are restored together.
	Checkpoint(ctx context.Context, diff stableswap.StableSwapSystemDiff, ledger engine.Ledger) error
	// LoadPools returns every stored snapshot ordered by pool ID.
	LoadPools(ctx context.Context) ([]stableswap.Pool, error)
	// LoadLedger returns the stored ledger, or nil if none was ever written.
	LoadLedger(ctx context.Context) (*engine.Ledger, error)
	RecordObservation(ctx context.Context, obs Observation) error
	// Observations returns up to limit of the most recent observations of
	// a pool, newest first.
	Observations(ctx context.Context, poolID uint64, limit int) ([]Observation, error)
	Close() error
}
