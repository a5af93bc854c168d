package storage

import (
	"context"

	"github.com/defistate/defistate-stableswap-go/engine"
	"github.com/defistate/defistate-stableswap-go/protocols/stableswap"
)

// NoopStore is used when no database is configured.
type NoopStore struct{}

func NewNoopStore() *NoopStore {
	return &NoopStore{}
}

func (n *NoopStore) ApplyDiff(context.Context, stableswap.StableSwapSystemDiff) error {
	return nil
}

func (n *NoopStore) Checkpoint(context.Context, stableswap.StableSwapSystemDiff, engine.Ledger) error {
	return nil
}

func (n *NoopStore) LoadPools(context.Context) ([]stableswap.Pool, error) {
	return nil, nil
}

func (n *NoopStore) LoadLedger(context.Context) (*engine.Ledger, error) {
	return nil, nil
}

func (n *NoopStore) RecordObservation(context.Context, Observation) error {
	return nil
}

func (n *NoopStore) Observations(context.Context, uint64, int) ([]Observation, error) {
	return nil, nil
}

func (n *NoopStore) Close() error {
	return nil
}

var _ Store = (*NoopStore)(nil)
