// Package store defines the persistence interface for curve snapshots and
// the optimizer run ledger. Implementations include PostgreSQL (source of
// truth), Redis (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/curve-optimizer/internal/curve"
	"github.com/atmx/curve-optimizer/internal/model"
)

// ErrNotFound is returned when a curve or run does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Curve snapshot ---

	// UpsertCurves inserts or replaces curves by id. Records must carry
	// an id.
	UpsertCurves(ctx context.Context, recs []curve.Record) error

	// GetCurve retrieves one curve record by id.
	GetCurve(ctx context.Context, id string) (*curve.Record, error)

	// ListCurves returns all curve records in insertion order.
	ListCurves(ctx context.Context) ([]curve.Record, error)

	// DeleteCurves removes curves by id. Unknown ids are ignored.
	DeleteCurves(ctx context.Context, ids ...string) error

	// --- Immutable run ledger ---

	// InsertRun appends a run together with its instructions.
	InsertRun(ctx context.Context, run *model.Run) error

	// GetRun retrieves a run with its instructions.
	GetRun(ctx context.Context, id string) (*model.Run, error)

	// ListRuns returns matching runs, newest first, without instructions.
	ListRuns(ctx context.Context, f model.RunFilter) ([]model.Run, error)
}
