package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/defistate/defistate-stableswap-go/engine"
	"github.com/defistate/defistate-stableswap-go/protocols/stableswap"
	"github.com/holiman/uint256"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists snapshots and observations to a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	logger Logger
}

// NewSQLiteStore opens (or creates) the SQLite database at path and runs
// migrations.
func NewSQLiteStore(path string, logger Logger) (*SQLiteStore, error) {
	if logger == nil {
		return nil, errors.New("storage: Logger cannot be nil")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL lets readers run while the snapshot job writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info("SQLite store opened", "path", path)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pool_snapshots (
			pool_id    INTEGER PRIMARY KEY,
			nonce      INTEGER NOT NULL,
			data       TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS observations (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			pool_id       INTEGER NOT NULL,
			timestamp     INTEGER NOT NULL,
			nonce         INTEGER NOT NULL,
			last_prices   TEXT NOT NULL,
			price_oracles TEXT NOT NULL,
			d_oracle      TEXT NOT NULL,
			virtual_price TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_observations_pool_ts ON observations(pool_id, timestamp)`,

		`CREATE TABLE IF NOT EXISTS ledger (
			id   INTEGER PRIMARY KEY CHECK (id = 1),
			data TEXT NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// ApplyDiff upserts the added and updated snapshots and removes the deleted
// ones in a single transaction.
func (s *SQLiteStore) ApplyDiff(ctx context.Context, diff stableswap.StableSwapSystemDiff) error {
	if diff.IsEmpty() {
		return nil
	}
	return s.write(ctx, diff, nil)
}

// Checkpoint applies diff and replaces the ledger in a single transaction.
func (s *SQLiteStore) Checkpoint(ctx context.Context, diff stableswap.StableSwapSystemDiff, ledger engine.Ledger) error {
	return s.write(ctx, diff, &ledger)
}

func (s *SQLiteStore) write(ctx context.Context, diff stableswap.StableSwapSystemDiff, ledger *engine.Ledger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	upsert := func(p stableswap.Pool) error {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode pool %d: %w", p.ID, err)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO pool_snapshots (pool_id, nonce, data)
			VALUES (?,?,?)
			ON CONFLICT(pool_id) DO UPDATE SET nonce = excluded.nonce, data = excluded.data`,
			p.ID, p.Nonce, string(data),
		)
		if err != nil {
			return fmt.Errorf("upsert pool %d: %w", p.ID, err)
		}
		return nil
	}

	for _, p := range diff.Additions {
		if err := upsert(p); err != nil {
			return err
		}
	}
	for _, p := range diff.Updates {
		if err := upsert(p); err != nil {
			return err
		}
	}
	for _, id := range diff.Deletions {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pool_snapshots WHERE pool_id = ?`, id); err != nil {
			return fmt.Errorf("delete pool %d: %w", id, err)
		}
	}

	if ledger != nil {
		data, err := json.Marshal(ledger)
		if err != nil {
			return fmt.Errorf("encode ledger: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO ledger (id, data) VALUES (1, ?)
			ON CONFLICT(id) DO UPDATE SET data = excluded.data`, string(data)); err != nil {
			return fmt.Errorf("store ledger: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("Snapshot diff stored",
		"additions", len(diff.Additions),
		"updates", len(diff.Updates),
		"deletions", len(diff.Deletions),
		"ledger", ledger != nil,
	)
	return nil
}

func (s *SQLiteStore) LoadLedger(ctx context.Context) (*engine.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM ledger WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	var ledger engine.Ledger
	if err := json.Unmarshal([]byte(data), &ledger); err != nil {
		return nil, fmt.Errorf("decode ledger: %w", err)
	}
	return &ledger, nil
}

func (s *SQLiteStore) LoadPools(ctx context.Context) ([]stableswap.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT pool_id, data FROM pool_snapshots ORDER BY pool_id`)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var pools []stableswap.Pool
	for rows.Next() {
		var (
			id   uint64
			data string
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		var p stableswap.Pool
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("decode pool %d: %w", id, err)
		}
		pools = append(pools, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return pools, nil
}

func (s *SQLiteStore) RecordObservation(ctx context.Context, obs Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lastPrices, err := json.Marshal(obs.LastPrices)
	if err != nil {
		return fmt.Errorf("encode last prices: %w", err)
	}
	priceOracles, err := json.Marshal(obs.PriceOracles)
	if err != nil {
		return fmt.Errorf("encode price oracles: %w", err)
	}
	var virtualPrice sql.NullString
	if obs.VirtualPrice != nil {
		virtualPrice = sql.NullString{String: obs.VirtualPrice.Dec(), Valid: true}
	}
	dOracle := new(uint256.Int)
	if obs.DOracle != nil {
		dOracle = obs.DOracle
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO observations
		(pool_id, timestamp, nonce, last_prices, price_oracles, d_oracle, virtual_price)
		VALUES (?,?,?,?,?,?,?)`,
		obs.PoolID, obs.Timestamp, obs.Nonce,
		string(lastPrices), string(priceOracles), dOracle.Dec(), virtualPrice,
	)
	return err
}

func (s *SQLiteStore) Observations(ctx context.Context, poolID uint64, limit int) ([]Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT timestamp, nonce, last_prices, price_oracles, d_oracle, virtual_price
		FROM observations WHERE pool_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		poolID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var out []Observation
	for rows.Next() {
		var (
			obs                      = Observation{PoolID: poolID}
			lastPrices, priceOracles string
			dOracle                  string
			virtualPrice             sql.NullString
		)
		if err := rows.Scan(&obs.Timestamp, &obs.Nonce, &lastPrices, &priceOracles, &dOracle, &virtualPrice); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		if err := json.Unmarshal([]byte(lastPrices), &obs.LastPrices); err != nil {
			return nil, fmt.Errorf("decode last prices: %w", err)
		}
		if err := json.Unmarshal([]byte(priceOracles), &obs.PriceOracles); err != nil {
			return nil, fmt.Errorf("decode price oracles: %w", err)
		}
		if obs.DOracle, err = uint256.FromDecimal(dOracle); err != nil {
			return nil, fmt.Errorf("decode D oracle: %w", err)
		}
		if virtualPrice.Valid {
			if obs.VirtualPrice, err = uint256.FromDecimal(virtualPrice.String); err != nil {
				return nil, fmt.Errorf("decode virtual price: %w", err)
			}
		}
		out = append(out, obs)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.logger.Info("Closing SQLite store")
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
