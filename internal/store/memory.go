package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/atmx/curve-optimizer/internal/curve"
	"github.com/atmx/curve-optimizer/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu     sync.RWMutex
	curves map[string]curve.Record
	order  []string
	runs   []*model.Run
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		curves: make(map[string]curve.Record),
	}
}

func (s *MemoryStore) UpsertCurves(_ context.Context, recs []curve.Record) error {
	for _, r := range recs {
		if r.ID == "" {
			return fmt.Errorf("upsert curve %s: missing id", r.Pair)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range recs {
		if _, ok := s.curves[r.ID]; !ok {
			s.order = append(s.order, r.ID)
		}
		s.curves[r.ID] = cloneRecord(r)
	}
	return nil
}

func (s *MemoryStore) GetCurve(_ context.Context, id string) (*curve.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.curves[id]
	if !ok {
		return nil, fmt.Errorf("curve %s: %w", id, ErrNotFound)
	}
	r = cloneRecord(r)
	return &r, nil
}

func (s *MemoryStore) ListCurves(_ context.Context) ([]curve.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]curve.Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneRecord(s.curves[id]))
	}
	return out, nil
}

func (s *MemoryStore) DeleteCurves(_ context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		delete(s.curves, id)
	}
	s.order = slices.DeleteFunc(s.order, func(id string) bool {
		_, ok := s.curves[id]
		return !ok
	})
	return nil
}

func (s *MemoryStore) InsertRun(_ context.Context, run *model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.runs {
		if existing.ID == run.ID {
			return fmt.Errorf("run %s already exists", run.ID)
		}
	}
	s.runs = append(s.runs, cloneRun(run, true))
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (*model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.runs {
		if r.ID == id {
			return cloneRun(r, true), nil
		}
	}
	return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
}

func (s *MemoryStore) ListRuns(_ context.Context, f model.RunFilter) ([]model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Run
	for i := len(s.runs) - 1; i >= 0; i-- {
		if !f.Match(s.runs[i]) {
			continue
		}
		out = append(out, *cloneRun(s.runs[i], false))
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func cloneRecord(r curve.Record) curve.Record {
	if r.Meta.Extras != nil {
		r.Meta.Extras = maps.Clone(r.Meta.Extras)
	}
	return r
}

func cloneRun(r *model.Run, withInstructions bool) *model.Run {
	c := *r
	c.Prices = maps.Clone(r.Prices)
	c.CurveIDs = slices.Clone(r.CurveIDs)
	c.Removed = slices.Clone(r.Removed)
	c.Instructions = nil
	if withInstructions {
		c.Instructions = slices.Clone(r.Instructions)
	}
	return &c
}
