// Package store persists cycle bookkeeping in PostgreSQL and encodes raster
// files into SQL batches for the PostGIS raster table.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gfsweather/gfs-etl-service/internal/tracker"
)

// Postgres wraps a PostgreSQL connection pool. It implements tracker.Store.
type Postgres struct {
	pool        *pgxpool.Pool
	rasterTable string
}

// Open opens a connection pool and verifies connectivity.
func Open(ctx context.Context, connStr, rasterTable string) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Postgres{pool: pool, rasterTable: rasterTable}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// cycle_hour_key joins raster rows to their hour, so it carries its own
// UNIQUE constraint rather than relying on derivation from (cycle_id, hour).
const schemaSQL = `
	CREATE TABLE IF NOT EXISTS forecast_cycles (
		id           BIGSERIAL PRIMARY KEY,
		datetime     TIMESTAMPTZ NOT NULL UNIQUE,
		is_complete  BOOLEAN NOT NULL DEFAULT FALSE,
		completed_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS cycle_hours (
		cycle_id       BIGINT NOT NULL REFERENCES forecast_cycles(id) ON DELETE CASCADE,
		hour           INTEGER NOT NULL,
		cycle_hour_key TEXT NOT NULL UNIQUE,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (cycle_id, hour)
	);
	`

// CreateSchema creates the cycle bookkeeping tables. The raster table itself
// is created and constrained by the raster loader on first append.
func (p *Postgres) CreateSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Register runs fn inside a transaction, committing only when it returns
// nil.
func (p *Postgres) Register(ctx context.Context, fn func(tx tracker.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin registration: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx, rasterTable: p.rasterTable}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit registration: %w", err)
	}
	return nil
}

// pgTx implements tracker.Tx over one pgx transaction.
type pgTx struct {
	tx          pgx.Tx
	rasterTable string
}

func (t *pgTx) UpsertCycle(ctx context.Context, cycleTime time.Time) (int64, error) {
	// Insert-or-select in one statement so concurrent registrations of the
	// same cycle converge on a single row without racing.
	const q = `
	WITH upsert AS (
		INSERT INTO forecast_cycles (datetime, is_complete)
		VALUES ($1, false)
		ON CONFLICT (datetime) DO NOTHING
		RETURNING id
	)
	SELECT id FROM upsert
	UNION
		SELECT id FROM forecast_cycles WHERE datetime = $1
	`
	var id int64
	if err := t.tx.QueryRow(ctx, q, cycleTime).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (t *pgTx) InsertHour(ctx context.Context, cycleID int64, hour int, cycleHourKey string) error {
	const q = `
	INSERT INTO cycle_hours (cycle_id, hour, cycle_hour_key)
	VALUES ($1, $2, $3)
	ON CONFLICT (cycle_id, hour) DO NOTHING
	`
	_, err := t.tx.Exec(ctx, q, cycleID, hour, cycleHourKey)
	return err
}

func (t *pgTx) Exec(ctx context.Context, sql string) error {
	_, err := t.tx.Exec(ctx, sql)
	return err
}

func (t *pgTx) CycleHours(ctx context.Context, cycleID int64) ([]int, error) {
	rows, err := t.tx.Query(ctx, `SELECT hour FROM cycle_hours WHERE cycle_id = $1 ORDER BY hour`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hours []int
	for rows.Next() {
		var h int
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hours = append(hours, h)
	}
	return hours, rows.Err()
}

func (t *pgTx) MarkComplete(ctx context.Context, cycleID int64, completedAt time.Time) (bool, error) {
	const q = `
	UPDATE forecast_cycles
	SET is_complete = true, completed_at = $2
	WHERE id = $1 AND NOT is_complete
	`
	tag, err := t.tx.Exec(ctx, q, cycleID, completedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// rasterDeleteSQL clears the raster rows of every cycle older than $1. The
// raster table has no foreign key back to cycle_hours (it is owned by the
// raster loader), so its rows go first, joined by key.
func rasterDeleteSQL(rasterTable string) string {
	return fmt.Sprintf(`
	DELETE FROM %s r
	USING cycle_hours h
	JOIN forecast_cycles c ON c.id = h.cycle_id
	WHERE r.cycle_hour_key = h.cycle_hour_key
	  AND c.datetime < (SELECT datetime FROM forecast_cycles WHERE id = $1)
	`, rasterTable)
}

func (t *pgTx) DeleteOlderCycles(ctx context.Context, cycleID int64) ([]time.Time, error) {
	if _, err := t.tx.Exec(ctx, rasterDeleteSQL(t.rasterTable), cycleID); err != nil {
		return nil, fmt.Errorf("delete raster rows: %w", err)
	}

	const q = `
	DELETE FROM forecast_cycles
	WHERE datetime < (SELECT datetime FROM forecast_cycles WHERE id = $1)
	RETURNING datetime
	`
	rows, err := t.tx.Query(ctx, q, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var removed []time.Time
	for rows.Next() {
		var dt time.Time
		if err := rows.Scan(&dt); err != nil {
			return nil, err
		}
		removed = append(removed, dt)
	}
	return removed, rows.Err()
}
