package container

import (
	"errors"
	"math"
	"testing"

	"github.com/atmx/curve-optimizer/internal/curve"
	"github.com/atmx/curve-optimizer/internal/pair"
)

func mustXY(t *testing.T, p string, x, y float64, opts ...curve.Option) curve.Curve {
	t.Helper()
	c, err := curve.FromXY(pair.MustParse(p), x, y, opts...)
	if err != nil {
		t.Fatalf("FromXY(%s): %v", p, err)
	}
	return c
}

func mustNew(t *testing.T, curves ...curve.Curve) *Container {
	t.Helper()
	c, err := New(curves)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

// sample returns a small multi-exchange universe.
func sample(t *testing.T) *Container {
	t.Helper()
	uni := curve.Metadata{Exchange: "uniswap_v2", DecimalsX: 18, DecimalsY: 6}
	sushi := curve.Metadata{Exchange: "sushiswap", DecimalsX: 18, DecimalsY: 6}
	rng, err := curve.FromRange(pair.MustParse("ETH/USDC"), 2000, 1800, 2200, 5000,
		curve.WithID("v3"), curve.WithMeta(curve.Metadata{Exchange: "uniswap_v3", Extras: map[string]string{"tier": "500"}}))
	if err != nil {
		t.Fatal(err)
	}
	return mustNew(t,
		mustXY(t, "ETH/USDC", 100, 200_000, curve.WithMeta(uni)),
		mustXY(t, "USDC/ETH", 400_000, 200, curve.WithMeta(sushi), curve.WithFee(0.003)),
		mustXY(t, "WBTC/ETH", 10, 150, curve.WithMeta(uni)),
		rng,
	)
}

// --- Construction ---

func TestNew_AssignsIDs(t *testing.T) {
	c := sample(t)
	if c.Len() != 4 {
		t.Fatalf("expected 4 curves, got %d", c.Len())
	}
	for _, id := range []string{"0", "1", "2", "v3"} {
		if _, ok := c.ByID(id); !ok {
			t.Errorf("expected curve %q", id)
		}
	}
}

func TestNew_DuplicateID(t *testing.T) {
	a := mustXY(t, "ETH/USDC", 1, 2000, curve.WithID("a"))
	b := mustXY(t, "ETH/DAI", 1, 2000, curve.WithID("a"))
	if _, err := New([]curve.Curve{a, b}); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID, got %v", err)
	}
}

func TestAdd_DoesNotMutate(t *testing.T) {
	c := sample(t)
	next, err := c.Add(mustXY(t, "ETH/DAI", 10, 20_000))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if c.Len() != 4 || next.Len() != 5 {
		t.Errorf("expected 4 and 5 curves, got %d and %d", c.Len(), next.Len())
	}
	if _, ok := next.ByID("4"); !ok {
		t.Error("appended curve should get the next positional id")
	}
	if _, err := next.Add(mustXY(t, "ETH/DAI", 1, 1, curve.WithID("v3"))); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID on colliding Add, got %v", err)
	}
}

func TestAutoID_SkipsExplicitCollision(t *testing.T) {
	c := mustNew(t,
		mustXY(t, "ETH/USDC", 1, 2000, curve.WithID("1")),
		mustXY(t, "ETH/DAI", 1, 2000),
	)
	if c.Len() != 2 {
		t.Fatalf("expected 2 curves, got %d", c.Len())
	}
	if cv := c.Curves()[1]; cv.ID() == "1" {
		t.Errorf("auto id collided with explicit id")
	}
}

// --- Filters ---

func TestFilterByPair(t *testing.T) {
	c := sample(t)
	directed := c.FilterByPair(pair.MustParse("ETH/USDC"), true)
	if directed.Len() != 2 {
		t.Errorf("expected 2 directed ETH/USDC curves, got %d", directed.Len())
	}
	undirected := c.FilterByPair(pair.MustParse("ETH/USDC"), false)
	if undirected.Len() != 3 {
		t.Errorf("expected 3 undirected ETH/USDC curves, got %d", undirected.Len())
	}
}

func TestFilterByTokenAndMetadata(t *testing.T) {
	c := sample(t)
	if got := c.FilterByToken("WBTC").Len(); got != 1 {
		t.Errorf("expected 1 WBTC curve, got %d", got)
	}
	if got := c.FilterByToken("ETH").Len(); got != 4 {
		t.Errorf("expected 4 ETH curves, got %d", got)
	}
	if got := c.FilterByMetadata(curve.MetaExchange, "uniswap_v2").Len(); got != 2 {
		t.Errorf("expected 2 uniswap_v2 curves, got %d", got)
	}
	if got := c.FilterByMetadata("tier", "500").Len(); got != 1 {
		t.Errorf("expected 1 curve with tier=500, got %d", got)
	}
	if got := c.FilterByKind(curve.KindRanged).Len(); got != 1 {
		t.Errorf("expected 1 ranged curve, got %d", got)
	}
	if got := c.FilterByTokens("ETH", "USDC").Len(); got != 3 {
		t.Errorf("expected 3 ETH-USDC curves, got %d", got)
	}
	if got := c.Without("0", "v3").Len(); got != 2 {
		t.Errorf("expected 2 curves after Without, got %d", got)
	}
}

func TestSelect(t *testing.T) {
	c := sample(t)
	sub, err := c.Select("v3", "0")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if ids := []string{sub.Curves()[0].ID(), sub.Curves()[1].ID()}; ids[0] != "v3" || ids[1] != "0" {
		t.Errorf("Select should keep the requested order, got %v", ids)
	}
	if _, err := c.Select("nope"); !errors.Is(err, ErrUnknownCurve) {
		t.Errorf("expected ErrUnknownCurve, got %v", err)
	}
}

// --- Aggregates ---

func TestPairsAndTokens(t *testing.T) {
	c := sample(t)
	primary := c.Pairs(true)
	want := []pair.Pair{pair.MustParse("ETH/USDC"), pair.MustParse("WBTC/ETH")}
	if len(primary) != len(want) {
		t.Fatalf("expected %v, got %v", want, primary)
	}
	for i := range want {
		if primary[i] != want[i] {
			t.Errorf("pair %d: expected %v, got %v", i, want[i], primary[i])
		}
	}
	if got := len(c.Pairs(false)); got != 3 {
		t.Errorf("expected 3 directed pairs, got %d", got)
	}
	tokens := c.Tokens()
	if len(tokens) != 3 || tokens[0] != "ETH" || tokens[1] != "USDC" || tokens[2] != "WBTC" {
		t.Errorf("unexpected tokens %v", tokens)
	}
	ex := c.Exchanges()
	if len(ex) != 3 || ex[0] != "sushiswap" {
		t.Errorf("unexpected exchanges %v", ex)
	}
}

// --- Serialization ---

func TestRecords_RoundTrip(t *testing.T) {
	c := sample(t)
	back, err := FromRecords(c.Records())
	if err != nil {
		t.Fatalf("FromRecords: %v", err)
	}
	if !back.Equal(c) {
		t.Error("record round trip changed the container")
	}
}

func TestTable_RoundTrip(t *testing.T) {
	c := sample(t)
	tbl := c.Table()
	if len(tbl.Rows) != c.Len() || len(tbl.Columns) != len(TableColumns) {
		t.Fatalf("unexpected table shape %dx%d", len(tbl.Rows), len(tbl.Columns))
	}
	back, err := FromTable(tbl)
	if err != nil {
		t.Fatalf("FromTable: %v", err)
	}
	if !back.Equal(c) {
		t.Error("table round trip changed the container")
	}

	// Table and records agree with each other.
	viaRecords, err := FromRecords(back.Records())
	if err != nil {
		t.Fatalf("FromRecords: %v", err)
	}
	if !viaRecords.Table().equal(tbl) {
		t.Error("table -> records -> table is not the identity")
	}
}

func TestFromTable_ReorderedColumns(t *testing.T) {
	c := sample(t)
	tbl := c.Table()
	n := len(tbl.Columns)
	rev := Table{Columns: make([]string, n), Rows: make([][]string, len(tbl.Rows))}
	for i, name := range tbl.Columns {
		rev.Columns[n-1-i] = name
	}
	for r, row := range tbl.Rows {
		rev.Rows[r] = make([]string, n)
		for i, v := range row {
			rev.Rows[r][n-1-i] = v
		}
	}
	back, err := FromTable(rev)
	if err != nil {
		t.Fatalf("FromTable: %v", err)
	}
	if !back.Equal(c) {
		t.Error("reordered table should load the same container")
	}
}

func TestFromTable_Invalid(t *testing.T) {
	c := sample(t)
	tbl := c.Table()
	tbl.Rows[0][3] = "not-a-number"
	if _, err := FromTable(tbl); !errors.Is(err, curve.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	if _, err := FromTable(Table{Columns: []string{"cid"}}); !errors.Is(err, curve.ErrValidation) {
		t.Errorf("expected ErrValidation for missing columns, got %v", err)
	}
}

// --- Price estimation ---

func TestPriceEstimate_DirectWeighted(t *testing.T) {
	// Log-prices are weighted by the curve depths sqrt(x*y).
	a := mustXY(t, "ETH/USDC", 100, 150_000) // p=1500, depth ~3873
	b := mustXY(t, "USDC/ETH", 160_000, 100) // p(ETH/USDC)=1600, depth 4000
	c := mustNew(t, a, b)

	got, err := c.PriceEstimate("ETH", "USDC")
	if err != nil {
		t.Fatalf("PriceEstimate: %v", err)
	}
	wa, wb := a.Depth(), b.Depth()
	want := math.Exp((wa*math.Log(1500) + wb*math.Log(1600)) / (wa + wb))
	if math.Abs(got-want) > 1e-9*want {
		t.Errorf("expected %g, got %g", want, got)
	}
	if got <= 1500 || got >= 1600 {
		t.Errorf("estimate %g outside the curve prices", got)
	}
	inv, _ := c.PriceEstimate("USDC", "ETH")
	if math.Abs(inv*got-1) > 1e-12 {
		t.Errorf("reverse estimate %g is not the reciprocal of %g", inv, got)
	}
}

func TestPriceEstimate_SkipsBoundaryCurves(t *testing.T) {
	full := mustXY(t, "ETH/USDC", 100, 200_000)
	order, err := curve.FromOrder(pair.MustParse("ETH/USDC"), 1_000_000, 1_000_000, 3000, 2900)
	if err != nil {
		t.Fatal(err)
	}
	c := mustNew(t, full, order)
	got, _ := c.PriceEstimate("ETH", "USDC")
	if math.Abs(got-2000) > 1e-9 {
		t.Errorf("boundary curve should be ignored, got %g", got)
	}

	// Alone, the boundary curve still yields a price.
	only := mustNew(t, order)
	got, err = only.PriceEstimate("ETH", "USDC")
	if err != nil || math.Abs(got-3000) > 1e-6 {
		t.Errorf("expected fallback to boundary curve price 3000, got %g (%v)", got, err)
	}
}

func TestPriceEstimate_Triangulated(t *testing.T) {
	c := mustNew(t,
		mustXY(t, "WBTC/ETH", 10, 150),      // 15 ETH per WBTC
		mustXY(t, "ETH/USDC", 100, 200_000), // 2000 USDC per ETH
		mustXY(t, "WBTC/DAI", 10, 300_000),  // 30000 DAI per WBTC
		mustXY(t, "USDC/DAI", 1_000, 1_000), // par
	)
	got, err := c.PriceEstimate("WBTC", "USDC")
	if err != nil {
		t.Fatalf("PriceEstimate: %v", err)
	}
	// Via ETH: 15*2000 = 30000. Via DAI: 30000/1 = 30000.
	if math.Abs(got-30_000) > 1e-6 {
		t.Errorf("expected 30000, got %g", got)
	}

	restricted, err := New(c.Curves(), WithIntermediaries("ETH"))
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := restricted.PriceEstimate("WBTC", "USDC"); math.Abs(got-30_000) > 1e-6 {
		t.Errorf("expected 30000 via ETH, got %g", got)
	}
}

func TestPriceEstimates_MissingAndStrict(t *testing.T) {
	c := mustNew(t,
		mustXY(t, "ETH/USDC", 100, 200_000),
		mustXY(t, "FOO/BAR", 1, 1),
	)
	prices, missing, err := c.PriceEstimates([]string{"ETH", "FOO", "USDC"}, "USDC", false)
	if err != nil {
		t.Fatalf("PriceEstimates: %v", err)
	}
	if math.Abs(prices["ETH"]-2000) > 1e-9 || prices["USDC"] != 1 {
		t.Errorf("unexpected prices %v", prices)
	}
	if len(missing) != 1 || missing[0] != pair.New("FOO", "USDC") {
		t.Errorf("expected FOO/USDC missing, got %v", missing)
	}

	if _, _, err := c.PriceEstimates([]string{"ETH", "FOO"}, "USDC", true); !errors.Is(err, ErrNoPriceFound) {
		t.Errorf("expected ErrNoPriceFound in strict mode, got %v", err)
	}
	if _, err := c.PriceEstimate("FOO", "ETH"); !errors.Is(err, ErrNoPriceFound) {
		t.Errorf("expected ErrNoPriceFound, got %v", err)
	}
}

func (t Table) equal(o Table) bool {
	if len(t.Columns) != len(o.Columns) || len(t.Rows) != len(o.Rows) {
		return false
	}
	for i := range t.Columns {
		if t.Columns[i] != o.Columns[i] {
			return false
		}
	}
	for r := range t.Rows {
		for i := range t.Rows[r] {
			if t.Rows[r][i] != o.Rows[r][i] {
				return false
			}
		}
	}
	return true
}
