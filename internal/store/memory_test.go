package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/curve-optimizer/internal/curve"
	"github.com/atmx/curve-optimizer/internal/model"
)

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*CachedStore)(nil)
)

func rec(id string, x float64) curve.Record {
	return curve.Record{
		ID: id, Kind: "constant_product", Pair: "ETH/USDC",
		K: x * 2000 * x, X: x, Y: 2000 * x, XAct: x, YAct: 2000 * x, Alpha: 0.5,
		Meta: curve.Metadata{Exchange: "uniswap_v2", Extras: map[string]string{"pool": id}},
	}
}

// --- Curves ---

func TestMemoryStore_UpsertAndList(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.UpsertCurves(ctx, []curve.Record{rec("b", 1), rec("a", 2)}); err != nil {
		t.Fatal(err)
	}
	// Replacing keeps the original position.
	if err := s.UpsertCurves(ctx, []curve.Record{rec("b", 3)}); err != nil {
		t.Fatal(err)
	}

	recs, err := s.ListCurves(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].ID != "b" || recs[1].ID != "a" {
		t.Fatalf("got %+v", recs)
	}
	if recs[0].X != 3 {
		t.Errorf("upsert did not replace: x = %g", recs[0].X)
	}
}

func TestMemoryStore_MissingID(t *testing.T) {
	s := NewMemoryStore()
	if err := s.UpsertCurves(context.Background(), []curve.Record{rec("", 1)}); err == nil {
		t.Error("expected error for record without id")
	}
}

func TestMemoryStore_GetCurveCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.UpsertCurves(ctx, []curve.Record{rec("a", 1)})

	r, err := s.GetCurve(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	r.Meta.Extras["pool"] = "mutated"

	again, _ := s.GetCurve(ctx, "a")
	if again.Meta.Extras["pool"] != "a" {
		t.Error("stored record was mutated through a returned copy")
	}

	if _, err := s.GetCurve(ctx, "zz"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_DeleteCurves(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.UpsertCurves(ctx, []curve.Record{rec("a", 1), rec("b", 1), rec("c", 1)})

	if err := s.DeleteCurves(ctx, "b", "unknown"); err != nil {
		t.Fatal(err)
	}
	recs, _ := s.ListCurves(ctx)
	if len(recs) != 2 || recs[0].ID != "a" || recs[1].ID != "c" {
		t.Fatalf("got %+v", recs)
	}
}

// --- Runs ---

func run(id, target, method string, at time.Time) *model.Run {
	return &model.Run{
		ID: id, Target: target, Method: method, Status: "converged",
		Profit:    decimal.NewFromFloat(0.05),
		Prices:    map[string]decimal.Decimal{"ETH": decimal.NewFromInt(1550)},
		CurveIDs:  []string{"0", "1"},
		CreatedAt: at,
		Instructions: []model.RunInstruction{
			{RunID: id, Seq: 0, CurveID: "0", TokenIn: "ETH", AmountIn: decimal.NewFromInt(1),
				TokenOut: "USDC", AmountOut: decimal.NewFromInt(-1500)},
		},
	}
}

func TestMemoryStore_Runs(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, r := range []*model.Run{
		run("r1", "USDC", "margp", t0),
		run("r2", "ETH", "margp", t0.Add(time.Second)),
		run("r3", "USDC", "convex", t0.Add(2*time.Second)),
	} {
		if err := s.InsertRun(ctx, r); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	if err := s.InsertRun(ctx, run("r1", "USDC", "margp", t0)); err == nil {
		t.Error("expected duplicate run error")
	}

	got, err := s.GetRun(ctx, "r2")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Instructions) != 1 || !got.Instructions[0].AmountOut.Equal(decimal.NewFromInt(-1500)) {
		t.Errorf("instructions: %+v", got.Instructions)
	}
	if !got.Converged() {
		t.Error("expected converged run")
	}

	all, _ := s.ListRuns(ctx, model.RunFilter{})
	if len(all) != 3 || all[0].ID != "r3" || all[2].ID != "r1" {
		t.Fatalf("expected newest first, got %v", ids(all))
	}
	if all[0].Instructions != nil {
		t.Error("listing should omit instructions")
	}

	usdc, _ := s.ListRuns(ctx, model.RunFilter{Target: "USDC"})
	if len(usdc) != 2 {
		t.Errorf("target filter: got %v", ids(usdc))
	}
	limited, _ := s.ListRuns(ctx, model.RunFilter{Target: "USDC", Limit: 1})
	if len(limited) != 1 || limited[0].ID != "r3" {
		t.Errorf("limit: got %v", ids(limited))
	}
	convex, _ := s.ListRuns(ctx, model.RunFilter{Method: "convex"})
	if len(convex) != 1 || convex[0].ID != "r3" {
		t.Errorf("method filter: got %v", ids(convex))
	}

	if _, err := s.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func ids(runs []model.Run) []string {
	out := make([]string, len(runs))
	for i, r := range runs {
		out[i] = r.ID
	}
	return out
}
