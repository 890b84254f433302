package optimizer

import (
	"errors"
	"math"
	"testing"

	"github.com/atmx/curve-optimizer/internal/container"
	"github.com/atmx/curve-optimizer/internal/curve"
	"github.com/atmx/curve-optimizer/internal/pair"
)

const conservationTol = 1e-5

func xy(t *testing.T, p string, x, y float64) curve.Curve {
	t.Helper()
	c, err := curve.FromXY(pair.MustParse(p), x, y)
	if err != nil {
		t.Fatalf("FromXY(%s): %v", p, err)
	}
	return c
}

func build(t *testing.T, curves ...curve.Curve) *container.Container {
	t.Helper()
	c, err := container.New(curves)
	if err != nil {
		t.Fatalf("container.New: %v", err)
	}
	return c
}

// scenarioA: two unlevered pools at 1500 and 1600 USDC per ETH.
func scenarioA(t *testing.T) *container.Container {
	return build(t, xy(t, "ETH/USDC", 100, 150_000), xy(t, "ETH/USDC", 100, 160_000))
}

// scenarioB: an inconsistent triangle, B/C should be 1.0 but is 1.2.
func scenarioB(t *testing.T) *container.Container {
	return build(t,
		xy(t, "A/B", 100, 200_000),
		xy(t, "A/C", 100, 200_000),
		xy(t, "B/C", 100_000, 120_000),
	)
}

// checkConservation verifies that every non-target token nets to zero and
// that the reported value is the aggregate target flow.
func checkConservation(t *testing.T, r *Result) {
	t.Helper()
	sums := make(map[string]float64)
	for _, d := range r.Deltas {
		sums[d.Pair.Base] += d.DX
		sums[d.Pair.Quote] += d.DY
	}
	for tkn, s := range sums {
		if math.Abs(s-r.NetFlows[tkn]) > 1e-9*math.Max(1, math.Abs(s)) {
			t.Errorf("%s: net flow %g disagrees with summed deltas %g", tkn, r.NetFlows[tkn], s)
		}
		if tkn != r.Target && math.Abs(s) > conservationTol {
			t.Errorf("%s: non-target net flow %g exceeds %g", tkn, s, conservationTol)
		}
	}
	if r.Value != r.NetFlows[r.Target] {
		t.Errorf("value %g differs from target net flow %g", r.Value, r.NetFlows[r.Target])
	}
}

// --- MarginalPrice ---

func TestMarginalPrice_ScenarioA(t *testing.T) {
	r, err := NewMarginalPrice(Config{}).Optimize(scenarioA(t), "ETH")
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if !r.Converged() {
		t.Fatalf("expected convergence, got %s: %s", r.Status, r.Error)
	}
	price := 1 / r.Prices["USDC"]
	if price < 1540 || price > 1560 {
		t.Errorf("expected price near 1550, got %g", price)
	}

	// Both pools trade to sqrt(P) = (y1+y2)/(sqrt(k1)+sqrt(k2)).
	depth := math.Sqrt(100*150_000.0) + math.Sqrt(100*160_000.0)
	sp := 310_000 / depth
	if math.Abs(price-sp*sp) > 1e-6*sp*sp {
		t.Errorf("expected price %g, got %g", sp*sp, price)
	}
	wantValue := depth/sp - 200
	if math.Abs(r.Value-wantValue) > 1e-8 {
		t.Errorf("expected value %g, got %g", wantValue, r.Value)
	}
	if !(r.Value < 0) || r.Profit() != -r.Value {
		t.Errorf("expected a profit, got value %g", r.Value)
	}
	for _, d := range r.Deltas {
		if d.DX == 0 || d.DY == 0 {
			t.Errorf("curve %s should trade, got %+v", d.CurveID, d)
		}
	}
	checkConservation(t, r)
}

func TestMarginalPrice_ScenarioB(t *testing.T) {
	r, err := NewMarginalPrice(Config{}).Optimize(scenarioB(t), "A")
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if !r.Converged() {
		t.Fatalf("expected convergence, got %s: %s", r.Status, r.Error)
	}
	if !(r.Value < 0) {
		t.Errorf("inconsistent triangle should be profitable, got value %g", r.Value)
	}
	checkConservation(t, r)
}

func TestMarginalPrice_ConsistentTriangleHasNoProfit(t *testing.T) {
	c := build(t,
		xy(t, "A/B", 100, 200_000),
		xy(t, "A/C", 100, 200_000),
		xy(t, "B/C", 100_000, 100_000),
	)
	r, err := NewMarginalPrice(Config{}).Optimize(c, "A")
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if !r.Converged() || math.Abs(r.Value) > 1e-9 {
		t.Errorf("expected a converged zero-profit result, got %s value %g", r.Status, r.Value)
	}
}

func TestMarginalPrice_ScenarioC_OrderCapacity(t *testing.T) {
	order, err := curve.FromOrder(pair.MustParse("ETH/USDC"), 1000, 500, 2100, 2050, curve.WithID("order"))
	if err != nil {
		t.Fatal(err)
	}
	pool, err := curve.FromXY(pair.MustParse("ETH/USDC"), 1000, 2_000_000, curve.WithID("pool"))
	if err != nil {
		t.Fatal(err)
	}
	c := build(t, order, pool)

	for _, target := range []string{"USDC", "ETH"} {
		r, err := NewMarginalPrice(Config{}).Optimize(c, target)
		if err != nil {
			t.Fatalf("%s: Optimize: %v", target, err)
		}
		if !r.Converged() {
			t.Fatalf("%s: expected convergence, got %s: %s", target, r.Status, r.Error)
		}
		for _, d := range r.Deltas {
			if d.CurveID != "order" {
				continue
			}
			if d.DY < -order.YAct()-1e-9 {
				t.Errorf("%s: order paid out %g, more than its %g", target, -d.DY, order.YAct())
			}
			if math.Abs(d.DY+order.YAct()) > 1e-6 {
				t.Errorf("%s: order should be filled completely, dy=%g", target, d.DY)
			}
			if d.DX < 0 {
				t.Errorf("%s: order cannot pay out its base token, dx=%g", target, d.DX)
			}
		}
		if !(r.Value < 0) {
			t.Errorf("%s: expected a profit, got %g", target, r.Value)
		}
		checkConservation(t, r)
	}
}

// mixedTriangle prices ETH at 2000 USDC and 2010 DAI and closes the loop
// through a stable DAI/USDC pool holding 1e6 DAI and the given USDC.
func mixedTriangle(t *testing.T, usdc float64) *container.Container {
	t.Helper()
	w, err := curve.FromWeighted(pair.MustParse("ETH/DAI"), 100, 50_250, 0.8)
	if err != nil {
		t.Fatal(err)
	}
	st, err := curve.FromStable(pair.MustParse("DAI/USDC"), 1_000_000, usdc)
	if err != nil {
		t.Fatal(err)
	}
	return build(t, xy(t, "ETH/USDC", 100, 200_000), w, st)
}

// stablePair is a stable DAI/USDC pool at par next to a small constant
// product pool pricing DAI at 1.01 USDC.
func stablePair(t *testing.T) *container.Container {
	t.Helper()
	st, err := curve.FromStable(pair.MustParse("DAI/USDC"), 1_000_000, 1_000_000)
	if err != nil {
		t.Fatal(err)
	}
	return build(t, st, xy(t, "DAI/USDC", 1000, 1010))
}

func TestMarginalPrice_MixedFamilies(t *testing.T) {
	// Near par the stable pool's holdings move like cbrt(p-1).
	for _, usdc := range []float64{1_000_000, 1_000_500, 1_010_000, 1_200_000} {
		r, err := NewMarginalPrice(Config{}).Optimize(mixedTriangle(t, usdc), "USDC")
		if err != nil {
			t.Fatalf("usdc=%g: Optimize: %v", usdc, err)
		}
		if !r.Converged() {
			t.Errorf("usdc=%g: expected convergence, got %s: %s", usdc, r.Status, r.Error)
			continue
		}
		if !(r.Value < 0) {
			t.Errorf("usdc=%g: 2000 vs 2010 should leave a profit, got %g", usdc, r.Value)
		}
		checkConservation(t, r)
	}
}

func TestStableNearPar_Pair(t *testing.T) {
	for _, opt := range []Optimizer{NewMarginalPrice(Config{}), NewPairBisection(Config{})} {
		r, err := opt.Optimize(stablePair(t), "USDC")
		if err != nil {
			t.Fatalf("%s: Optimize: %v", opt.Name(), err)
		}
		if !r.Converged() {
			t.Errorf("%s: expected convergence, got %s: %s", opt.Name(), r.Status, r.Error)
			continue
		}
		// Buying about 5 DAI at par and selling it at 1.01 earns a few cents.
		if !(r.Value < 0) || r.Value < -0.1 {
			t.Errorf("%s: expected a small profit, got value %g", opt.Name(), r.Value)
		}
		if p := r.Prices["DAI"]; p < 1 || p > 1+1e-9 {
			t.Errorf("%s: stable pool should pin DAI at par, got %.17g", opt.Name(), p)
		}
		checkConservation(t, r)
	}
}

func TestMarginalPrice_StartPrices(t *testing.T) {
	cfg := Config{StartPrices: map[string]float64{"USDC": 1.0 / 900}}
	r, err := NewMarginalPrice(cfg).Optimize(scenarioA(t), "ETH")
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if !r.Converged() {
		t.Fatalf("expected convergence from a distant start, got %s: %s", r.Status, r.Error)
	}
	if p := 1 / r.Prices["USDC"]; p < 1540 || p > 1560 {
		t.Errorf("expected price near 1550, got %g", p)
	}
}

func TestMarginalPrice_IterationCap(t *testing.T) {
	cfg := Config{MaxIterations: 1, StartPrices: map[string]float64{"USDC": 1.0 / 900}}
	r, err := NewMarginalPrice(cfg).Optimize(scenarioA(t), "ETH")
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if r.Status != StatusDiverged || r.Error == "" {
		t.Errorf("expected diverged with a message, got %s %q", r.Status, r.Error)
	}
	if r.Iterations != 1 {
		t.Errorf("expected 1 iteration, got %d", r.Iterations)
	}
}

func TestMarginalPrice_StructuralErrors(t *testing.T) {
	opt := NewMarginalPrice(Config{})
	if _, err := opt.Optimize(scenarioA(t), "DOGE"); !errors.Is(err, ErrUnknownToken) {
		t.Errorf("expected ErrUnknownToken, got %v", err)
	}
	if _, err := opt.Optimize(container.Empty(), "ETH"); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
	disconnected := build(t, xy(t, "ETH/USDC", 1, 2000), xy(t, "FOO/BAR", 1, 1))
	if _, err := opt.Optimize(disconnected, "ETH"); !errors.Is(err, container.ErrNoPriceFound) {
		t.Errorf("expected ErrNoPriceFound, got %v", err)
	}
}

// --- Plateau ---

// plateau builds two disjoint ranges with nothing in between: one sits at
// the top of [1600, 1700] holding only USDC, the other at the bottom of
// [1500, 1550] holding only ETH. Between 1550 and 1600 no flow depends on
// price.
func plateau(t *testing.T) (*container.Container, Config) {
	t.Helper()
	hi, err := curve.FromRange(pair.MustParse("ETH/USDC"), 1700, 1600, 1700, 1000)
	if err != nil {
		t.Fatal(err)
	}
	lo, err := curve.FromRange(pair.MustParse("ETH/USDC"), 1500, 1500, 1550, 1000)
	if err != nil {
		t.Fatal(err)
	}
	return build(t, hi, lo), Config{StartPrices: map[string]float64{"ETH": 1575}}
}

func TestMarginalPrice_PlateauStalls(t *testing.T) {
	c, cfg := plateau(t)
	r, err := NewMarginalPrice(cfg).Optimize(c, "USDC")
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if r.Status != StatusStalled {
		t.Fatalf("expected stalled, got %s", r.Status)
	}
	if r.Converged() || r.Error == "" {
		t.Error("a stalled result must not look converged")
	}
	if math.Abs(r.NetFlows["ETH"]) < conservationTol {
		t.Errorf("plateau result should fail the flow check, got %g", r.NetFlows["ETH"])
	}
}

func TestPairBisection_SolvesPlateau(t *testing.T) {
	c, cfg := plateau(t)
	r, err := NewPairBisection(cfg).Optimize(c, "USDC")
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if !r.Converged() {
		t.Fatalf("expected convergence, got %s: %s", r.Status, r.Error)
	}
	if p := r.Prices["ETH"]; p <= 1600 || p >= 1700 {
		t.Errorf("expected the clearing price inside the upper range, got %g", p)
	}
	if !(r.Value < 0) {
		t.Errorf("expected a profit, got %g", r.Value)
	}
	if math.Abs(r.NetFlows["ETH"]) > 1e-9 {
		t.Errorf("expected ETH to net to zero, got %g", r.NetFlows["ETH"])
	}
	checkConservation(t, r)
}

func TestFallback_PlateauFallsBackToBisection(t *testing.T) {
	c, cfg := plateau(t)
	opt := Fallback{Primary: NewMarginalPrice(cfg), Secondary: NewPairBisection(cfg)}
	r, err := opt.Optimize(c, "USDC")
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if !r.Converged() || r.Method != MethodPairBisection {
		t.Errorf("expected converged bisection result, got %s via %s", r.Status, r.Method)
	}
	if opt.Name() != "margp+bisection" {
		t.Errorf("unexpected name %q", opt.Name())
	}
}

func TestFallback_KeepsConvergedPrimary(t *testing.T) {
	cfg := Config{}
	opt := Fallback{Primary: NewMarginalPrice(cfg), Secondary: NewPairBisection(cfg)}
	r, err := opt.Optimize(scenarioA(t), "ETH")
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if r.Method != MethodMarginalPrice {
		t.Errorf("converged primary should be kept, got %s", r.Method)
	}
}

// --- PairBisection ---

func TestPairBisection_MatchesMarginalPrice(t *testing.T) {
	c := scenarioA(t)
	want, err := NewMarginalPrice(Config{}).Optimize(c, "ETH")
	if err != nil {
		t.Fatal(err)
	}
	got, err := NewPairBisection(Config{}).Optimize(c, "ETH")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Converged() {
		t.Fatalf("expected convergence, got %s: %s", got.Status, got.Error)
	}
	if math.Abs(got.Value-want.Value) > 1e-8 {
		t.Errorf("bisection value %g differs from gradient value %g", got.Value, want.Value)
	}
	checkConservation(t, got)
}

func TestPairBisection_NotAPair(t *testing.T) {
	if _, err := NewPairBisection(Config{}).Optimize(scenarioB(t), "A"); !errors.Is(err, ErrNotAPair) {
		t.Errorf("expected ErrNotAPair, got %v", err)
	}
}

func TestPairBisection_ConvergedMeansCleared(t *testing.T) {
	plateauC, plateauCfg := plateau(t)
	cases := []struct {
		name     string
		c        *container.Container
		target   string
		cfg      Config
		solvable bool
	}{
		{"scenarioA", scenarioA(t), "ETH", Config{}, true},
		{"stable near par", stablePair(t), "USDC", Config{}, true},
		{"plateau", plateauC, "USDC", plateauCfg, true},
		// No representable price clears within this tolerance.
		{"unreachable tolerance", stablePair(t), "USDC", Config{Tolerance: 1e-300, ReserveTolerance: 1e-300}, false},
	}
	for _, tc := range cases {
		cfg := tc.cfg.withDefaults()
		r, err := NewPairBisection(tc.cfg).Optimize(tc.c, tc.target)
		if err != nil {
			t.Fatalf("%s: Optimize: %v", tc.name, err)
		}
		var reserve float64
		for _, cv := range tc.c.Curves() {
			if cv.TokenX() != tc.target {
				reserve += cv.X()
			}
			if cv.TokenY() != tc.target {
				reserve += cv.Y()
			}
		}
		within := r.MaxResidual() <= cfg.Tolerance+cfg.ReserveTolerance*reserve
		switch {
		case r.Converged() && !within:
			t.Errorf("%s: converged with residual %g", tc.name, r.MaxResidual())
		case !r.Converged() && tc.solvable:
			t.Errorf("%s: expected convergence, got %s: %s", tc.name, r.Status, r.Error)
		case !r.Converged() && (r.Status != StatusStalled || r.Error == ""):
			t.Errorf("%s: expected a stalled result with a message, got %s %q", tc.name, r.Status, r.Error)
		}
	}
}

// --- Status ---

func TestStatus_Text(t *testing.T) {
	for _, s := range []Status{StatusConverged, StatusStalled, StatusDiverged} {
		b, _ := s.MarshalText()
		var back Status
		if err := back.UnmarshalText(b); err != nil || back != s {
			t.Errorf("%s: text round trip gave %s (%v)", s, back, err)
		}
	}
	var s Status
	if err := s.UnmarshalText([]byte("exploded")); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestNew_Methods(t *testing.T) {
	for _, m := range []string{MethodMarginalPrice, MethodPairBisection, MethodConvex} {
		opt, err := New(m, Config{})
		if err != nil || opt.Name() != m {
			t.Errorf("New(%q) = %v, %v", m, opt, err)
		}
	}
	if _, err := New("simplex", Config{}); !errors.Is(err, ErrUnknownMethod) {
		t.Errorf("expected ErrUnknownMethod, got %v", err)
	}
}
