package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/defistate/defistate-stableswap-go/engine"
	"github.com/defistate/defistate-stableswap-go/protocols/stableswap"
	"github.com/defistate/defistate-stableswap-go/storage"
	"github.com/holiman/uint256"
)

// snapshotJob persists the pools that changed since its previous run,
// together with the account ledger, and records an oracle observation for
// each changed pool.
type snapshotJob struct {
	engines map[uint64]*engine.Engine
	ordered []*engine.Engine
	settler engine.LedgerSource
	store   storage.Store
	clock   engine.Clock
	logger  *slog.Logger

	mu        sync.Mutex
	persisted []stableswap.Pool
}

func newSnapshotJob(engines []*engine.Engine, settler engine.LedgerSource, store storage.Store, clock engine.Clock, persisted []stableswap.Pool, logger *slog.Logger) *snapshotJob {
	byID := make(map[uint64]*engine.Engine, len(engines))
	for _, e := range engines {
		byID[e.ID()] = e
	}
	return &snapshotJob{
		engines:   byID,
		ordered:   engines,
		settler:   settler,
		store:     store,
		clock:     clock,
		logger:    logger,
		persisted: persisted,
	}
}

// Run writes one checkpoint. Runs are serialized.
func (j *snapshotJob) Run(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	current, ledger := engine.Capture(j.ordered, j.settler)
	diff := stableswap.Differ(j.persisted, current)
	if diff.IsEmpty() {
		return nil
	}
	if err := j.store.Checkpoint(ctx, diff, ledger); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}
	next, err := stableswap.Patcher(j.persisted, diff)
	if err != nil {
		return err
	}
	j.persisted = next

	changed := append(append([]stableswap.Pool(nil), diff.Additions...), diff.Updates...)
	for _, p := range changed {
		obs, err := j.observe(ctx, p)
		if err != nil {
			return fmt.Errorf("observe pool %d: %w", p.ID, err)
		}
		if err := j.store.RecordObservation(ctx, obs); err != nil {
			return fmt.Errorf("record observation: %w", err)
		}
	}
	j.logger.Debug("Persisted snapshot",
		"added", len(diff.Additions),
		"updated", len(diff.Updates),
		"deleted", len(diff.Deletions),
	)
	return nil
}

// observe reads the oracle of pool p from its engine. The virtual price is
// left empty while the pool has no liquidity.
func (j *snapshotJob) observe(ctx context.Context, p stableswap.Pool) (storage.Observation, error) {
	e := j.engines[p.ID]
	obs := storage.Observation{
		PoolID:    p.ID,
		Timestamp: j.clock.Now(),
		Nonce:     p.Nonce,
	}
	for k := 0; k < p.NCoins()-1; k++ {
		last, err := e.LastPrice(k)
		if err != nil {
			return storage.Observation{}, err
		}
		ema, err := e.PriceOracle(k)
		if err != nil {
			return storage.Observation{}, err
		}
		obs.LastPrices = append(obs.LastPrices, last)
		obs.PriceOracles = append(obs.PriceOracles, ema)
	}
	d, err := e.DOracle()
	if err != nil {
		return storage.Observation{}, err
	}
	obs.DOracle = d

	if p.TotalSupply != nil && !p.TotalSupply.IsZero() {
		vp, err := e.GetVirtualPrice(ctx)
		if err != nil {
			return storage.Observation{}, err
		}
		obs.VirtualPrice = vp
	}
	return obs, nil
}

// formatAmount renders nil amounts as "-".
func formatAmount(v *uint256.Int) string {
	if v == nil {
		return "-"
	}
	return v.Dec()
}
