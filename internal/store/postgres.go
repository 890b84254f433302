package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/curve-optimizer/internal/curve"
	"github.com/atmx/curve-optimizer/internal/model"
)

// Schema creates the tables used by PostgresStore. Curve state is float64
// (DOUBLE PRECISION) like the optimizer math; run amounts are NUMERIC.
const Schema = `
CREATE TABLE IF NOT EXISTS curves (
	seq        BIGSERIAL,
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	pair       TEXT NOT NULL,
	k          DOUBLE PRECISION NOT NULL,
	x          DOUBLE PRECISION NOT NULL,
	y          DOUBLE PRECISION NOT NULL,
	x_act      DOUBLE PRECISION NOT NULL,
	y_act      DOUBLE PRECISION NOT NULL,
	alpha      DOUBLE PRECISION NOT NULL,
	fee        DOUBLE PRECISION NOT NULL,
	meta       JSONB NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	target      TEXT NOT NULL,
	method      TEXT NOT NULL,
	status      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	profit      NUMERIC NOT NULL,
	prices      JSONB NOT NULL DEFAULT '{}',
	curve_ids   TEXT[] NOT NULL DEFAULT '{}',
	removed     TEXT[] NOT NULL DEFAULT '{}',
	iterations  INTEGER NOT NULL,
	elapsed_ms  BIGINT NOT NULL,
	duality_gap DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_target_created ON runs (target, created_at DESC);

CREATE TABLE IF NOT EXISTS run_instructions (
	run_id         TEXT NOT NULL REFERENCES runs (id),
	seq            INTEGER NOT NULL,
	curve_id       TEXT NOT NULL,
	exchange       TEXT NOT NULL DEFAULT '',
	token_in       TEXT NOT NULL,
	amount_in      NUMERIC NOT NULL,
	token_out      TEXT NOT NULL,
	amount_out     NUMERIC NOT NULL,
	amount_in_wei  NUMERIC NOT NULL,
	amount_out_wei NUMERIC NOT NULL,
	error          TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, seq)
);`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Run amounts are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies Schema. It is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

func (s *PostgresStore) UpsertCurves(ctx context.Context, recs []curve.Record) error {
	batch := &pgx.Batch{}
	for _, r := range recs {
		if r.ID == "" {
			return fmt.Errorf("upsert curve %s: missing id", r.Pair)
		}
		meta, err := json.Marshal(r.Meta)
		if err != nil {
			return fmt.Errorf("encode meta for curve %s: %w", r.ID, err)
		}
		batch.Queue(
			`INSERT INTO curves (id, kind, pair, k, x, y, x_act, y_act, alpha, fee, meta)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::JSONB)
			 ON CONFLICT (id) DO UPDATE SET
			     kind = EXCLUDED.kind, pair = EXCLUDED.pair,
			     k = EXCLUDED.k, x = EXCLUDED.x, y = EXCLUDED.y,
			     x_act = EXCLUDED.x_act, y_act = EXCLUDED.y_act,
			     alpha = EXCLUDED.alpha, fee = EXCLUDED.fee, meta = EXCLUDED.meta`,
			r.ID, r.Kind, r.Pair, r.K, r.X, r.Y, r.XAct, r.YAct, r.Alpha, r.Fee, string(meta),
		)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

func (s *PostgresStore) GetCurve(ctx context.Context, id string) (*curve.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, kind, pair, k, x, y, x_act, y_act, alpha, fee, meta
		 FROM curves WHERE id = $1`, id)
	r, err := scanCurve(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("curve %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get curve %s: %w", id, err)
	}
	return &r, nil
}

func (s *PostgresStore) ListCurves(ctx context.Context) ([]curve.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, pair, k, x, y, x_act, y_act, alpha, fee, meta
		 FROM curves ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []curve.Record
	for rows.Next() {
		r, err := scanCurve(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func (s *PostgresStore) DeleteCurves(ctx context.Context, ids ...string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM curves WHERE id = ANY($1)`, ids)
	return err
}

func (s *PostgresStore) InsertRun(ctx context.Context, run *model.Run) error {
	prices, err := json.Marshal(run.Prices)
	if err != nil {
		return fmt.Errorf("encode prices for run %s: %w", run.ID, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO runs (id, target, method, status, error, profit, prices, curve_ids, removed,
		                   iterations, elapsed_ms, duality_gap, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::JSONB, $8, $9, $10, $11, $12, $13)`,
		run.ID, run.Target, run.Method, run.Status, run.Error,
		run.Profit.String(), string(prices), nonNil(run.CurveIDs), nonNil(run.Removed),
		run.Iterations, run.ElapsedMS, run.DualityGap, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	for _, in := range run.Instructions {
		_, err = tx.Exec(ctx,
			`INSERT INTO run_instructions (run_id, seq, curve_id, exchange, token_in, amount_in,
			                               token_out, amount_out, amount_in_wei, amount_out_wei, error)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11)`,
			run.ID, in.Seq, in.CurveID, in.Exchange,
			in.TokenIn, in.AmountIn.String(),
			in.TokenOut, in.AmountOut.String(),
			in.AmountInWei.String(), in.AmountOutWei.String(),
			in.Error,
		)
		if err != nil {
			return fmt.Errorf("insert instruction %d of run %s: %w", in.Seq, run.ID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx, runSelect+` WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT run_id, seq, curve_id, exchange, token_in, amount_in::TEXT,
		        token_out, amount_out::TEXT, amount_in_wei::TEXT, amount_out_wei::TEXT, error
		 FROM run_instructions WHERE run_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var in model.RunInstruction
		var amtIn, amtOut, weiIn, weiOut string
		if err := rows.Scan(&in.RunID, &in.Seq, &in.CurveID, &in.Exchange,
			&in.TokenIn, &amtIn, &in.TokenOut, &amtOut, &weiIn, &weiOut, &in.Error); err != nil {
			return nil, err
		}
		in.AmountIn, _ = decimal.NewFromString(amtIn)
		in.AmountOut, _ = decimal.NewFromString(amtOut)
		in.AmountInWei, _ = decimal.NewFromString(weiIn)
		in.AmountOutWei, _ = decimal.NewFromString(weiOut)
		run.Instructions = append(run.Instructions, in)
	}
	return &run, rows.Err()
}

func (s *PostgresStore) ListRuns(ctx context.Context, f model.RunFilter) ([]model.Run, error) {
	limit := any(nil)
	if f.Limit > 0 {
		limit = f.Limit
	}
	rows, err := s.pool.Query(ctx,
		runSelect+`
		 WHERE ($1 = '' OR target = $1) AND ($2 = '' OR method = $2)
		 ORDER BY created_at DESC LIMIT $3`,
		f.Target, f.Method, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

const runSelect = `SELECT id, target, method, status, error, profit::TEXT, prices, curve_ids, removed,
        iterations, elapsed_ms, duality_gap, created_at
 FROM runs`

func scanCurve(row pgx.Row) (curve.Record, error) {
	var r curve.Record
	var meta []byte
	if err := row.Scan(&r.ID, &r.Kind, &r.Pair, &r.K, &r.X, &r.Y,
		&r.XAct, &r.YAct, &r.Alpha, &r.Fee, &meta); err != nil {
		return curve.Record{}, err
	}
	if err := json.Unmarshal(meta, &r.Meta); err != nil {
		return curve.Record{}, fmt.Errorf("decode meta for curve %s: %w", r.ID, err)
	}
	return r, nil
}

func scanRun(row pgx.Row) (model.Run, error) {
	var run model.Run
	var profit string
	var prices []byte
	if err := row.Scan(&run.ID, &run.Target, &run.Method, &run.Status, &run.Error,
		&profit, &prices, &run.CurveIDs, &run.Removed,
		&run.Iterations, &run.ElapsedMS, &run.DualityGap, &run.CreatedAt); err != nil {
		return model.Run{}, err
	}
	run.Profit, _ = decimal.NewFromString(profit)
	if err := json.Unmarshal(prices, &run.Prices); err != nil {
		return model.Run{}, fmt.Errorf("decode prices for run %s: %w", run.ID, err)
	}
	return run, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
