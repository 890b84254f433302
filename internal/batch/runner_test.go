package batch

import (
	"context"
	"errors"
	"testing"

	"github.com/atmx/curve-optimizer/internal/container"
	"github.com/atmx/curve-optimizer/internal/curve"
	"github.com/atmx/curve-optimizer/internal/optimizer"
	"github.com/atmx/curve-optimizer/internal/pair"
)

func mustContainer(t *testing.T, curves ...curve.Curve) *container.Container {
	t.Helper()
	c, err := container.New(curves)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// mustCurve unwraps a constructor result: mustCurve(t)(FromXY(...)).
func mustCurve(t *testing.T) func(curve.Curve, error) curve.Curve {
	return func(c curve.Curve, err error) curve.Curve {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
		return c
	}
}

func miniverses(t *testing.T) []*container.Container {
	ethUSDC := pair.MustParse("ETH/USDC")
	arb := mustContainer(t,
		mustCurve(t)(curve.FromXY(ethUSDC, 100, 150_000)),
		mustCurve(t)(curve.FromXY(ethUSDC, 100, 160_000)),
	)
	// Disjoint ranges with the seed between them.
	plateau := mustContainer(t,
		mustCurve(t)(curve.FromRange(ethUSDC, 1700, 1600, 1700, 1000)),
		mustCurve(t)(curve.FromRange(ethUSDC, 1500, 1500, 1550, 1000)),
	)
	wrongTarget := mustContainer(t, mustCurve(t)(curve.FromXY(pair.MustParse("A/B"), 1, 1)))
	return []*container.Container{arb, plateau, container.Empty(), wrongTarget}
}

func TestRun_IsolatesFailures(t *testing.T) {
	cfg := optimizer.Config{StartPrices: map[string]float64{"ETH": 1575}}
	runner := NewRunner(optimizer.NewMarginalPrice(cfg), 2)

	outcomes, err := runner.Run(context.Background(), "USDC", miniverses(t))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outcomes) != 4 {
		t.Fatalf("expected 4 outcomes, got %d", len(outcomes))
	}
	for i, o := range outcomes {
		if o.Index != i {
			t.Errorf("outcome %d carries index %d", i, o.Index)
		}
	}
	if !outcomes[0].Profitable() {
		t.Errorf("arbitrage miniverse should be profitable: %+v", outcomes[0])
	}
	if got := outcomes[1].Label(); got != "stalled" {
		t.Errorf("plateau miniverse should stall without fallback, got %s", got)
	}
	if !errors.Is(outcomes[2].Err, optimizer.ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", outcomes[2].Err)
	}
	if !errors.Is(outcomes[3].Err, optimizer.ErrUnknownToken) {
		t.Errorf("expected ErrUnknownToken, got %v", outcomes[3].Err)
	}

	sum := Summary(outcomes)
	if sum["converged"] != 1 || sum["stalled"] != 1 || sum[OutcomeError] != 2 {
		t.Errorf("unexpected summary %v", sum)
	}
}

func TestRun_Fallback(t *testing.T) {
	cfg := optimizer.Config{StartPrices: map[string]float64{"ETH": 1575}}
	runner := NewRunner(optimizer.NewMarginalPrice(cfg), 4, WithFallback(optimizer.NewPairBisection(cfg)))

	outcomes, err := runner.Run(context.Background(), "USDC", miniverses(t)[:2])
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, o := range outcomes {
		if !o.Profitable() {
			t.Errorf("miniverse %d should be solved with fallback: %s", o.Index, o.Label())
		}
	}
	if outcomes[1].Result.Method != optimizer.MethodPairBisection {
		t.Errorf("plateau should be solved by bisection, got %s", outcomes[1].Result.Method)
	}
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := NewRunner(optimizer.NewMarginalPrice(optimizer.Config{}), 1)

	outcomes, err := runner.Run(ctx, "USDC", miniverses(t))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	for _, o := range outcomes {
		if o.Label() != OutcomeCanceled {
			t.Errorf("miniverse %d: expected canceled, got %s", o.Index, o.Label())
		}
	}
}
