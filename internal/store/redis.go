package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/curve-optimizer/internal/curve"
	"github.com/atmx/curve-optimizer/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. Runs are immutable, so
// they are cached on insert and never invalidated.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) UpsertCurves(ctx context.Context, recs []curve.Record) error {
	if err := s.primary.UpsertCurves(ctx, recs); err != nil {
		return err
	}
	keys := []string{curveListKey}
	for _, r := range recs {
		keys = append(keys, curveKey(r.ID))
	}
	s.rdb.Del(ctx, keys...)
	return nil
}

func (s *CachedStore) DeleteCurves(ctx context.Context, ids ...string) error {
	if err := s.primary.DeleteCurves(ctx, ids...); err != nil {
		return err
	}
	keys := []string{curveListKey}
	for _, id := range ids {
		keys = append(keys, curveKey(id))
	}
	s.rdb.Del(ctx, keys...)
	return nil
}

func (s *CachedStore) InsertRun(ctx context.Context, run *model.Run) error {
	if err := s.primary.InsertRun(ctx, run); err != nil {
		return err
	}
	s.cache(ctx, runKey(run.ID), run)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetCurve(ctx context.Context, id string) (*curve.Record, error) {
	var r curve.Record
	if s.lookup(ctx, curveKey(id), &r) {
		return &r, nil
	}

	// Cache miss: read from primary.
	rec, err := s.primary.GetCurve(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, curveKey(id), rec)
	return rec, nil
}

func (s *CachedStore) ListCurves(ctx context.Context) ([]curve.Record, error) {
	var recs []curve.Record
	if s.lookup(ctx, curveListKey, &recs) {
		return recs, nil
	}

	recs, err := s.primary.ListCurves(ctx)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, curveListKey, recs)
	return recs, nil
}

func (s *CachedStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	var run model.Run
	if s.lookup(ctx, runKey(id), &run) {
		return &run, nil
	}

	r, err := s.primary.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, runKey(id), r)
	return r, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListRuns(ctx context.Context, f model.RunFilter) ([]model.Run, error) {
	return s.primary.ListRuns(ctx, f)
}

// --- Cache helpers ---

func (s *CachedStore) lookup(ctx context.Context, key string, v any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	return err == nil && json.Unmarshal(data, v) == nil
}

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

const curveListKey = "curves:all"

func curveKey(id string) string { return fmt.Sprintf("curve:%s", id) }
func runKey(id string) string   { return fmt.Sprintf("run:%s", id) }
