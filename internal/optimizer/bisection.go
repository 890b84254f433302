package optimizer

import (
	"fmt"
	"math"

	"github.com/atmx/curve-optimizer/internal/container"
)

const (
	// bisectionMaxIterations is enough halvings to exhaust the float64
	// values between the ends of any bracket the expansion can build.
	bisectionMaxIterations = 1100
	// bisectionWidth is the bracket width in log-price (relative width in
	// price) below which a cleared midpoint ends the search.
	bisectionWidth    = 1e-12
	bracketExpansions = 30
)

// bracketStep widens the initial bracket by a factor of 10 per expansion.
var bracketStep = math.Log(10)

// PairBisection solves curve sets spanning exactly two tokens by bisecting
// on the price of the non-target token. The net flow of that token falls
// as its price rises, so a bracket around the sign change always exists
// unless the flow never crosses zero. The search needs no derivative and
// therefore also terminates on flat regions where MarginalPrice stalls.
type PairBisection struct {
	cfg Config
}

var _ Optimizer = (*PairBisection)(nil)

// NewPairBisection returns the bisection strategy with cfg. Only the
// tolerances, Scale, StartPrices and Logger are used.
func NewPairBisection(cfg Config) *PairBisection {
	return &PairBisection{cfg: cfg.withDefaults()}
}

func (b *PairBisection) Name() string { return MethodPairBisection }

func (b *PairBisection) Optimize(c *container.Container, target string) (*Result, error) {
	elapsed := stopwatch()
	s, err := newSystem(c, target, b.cfg.Scale)
	if err != nil {
		return nil, err
	}
	if s.dim() != 1 {
		return nil, fmt.Errorf("%w: got tokens %v", ErrNotAPair, c.Tokens())
	}
	logp, err := s.seed(c, b.cfg.StartPrices)
	if err != nil {
		return nil, err
	}
	log := b.cfg.Logger.With("component", "optimizer", "method", b.Name(), "target", target)

	f := make([]float64, 1)
	iterations, bracketed := s.solveCoordinate(logp, 0, b.cfg, f)
	status, msg := StatusConverged, ""
	switch {
	case !bracketed:
		status = StatusDiverged
		msg = fmt.Sprintf("no sign change in net %s flow within %d decades of price %g", s.tokens[0], bracketExpansions, math.Exp(logp[0]))
	case !s.cleared(f, b.cfg):
		// The flow jumps across zero, e.g. at the edge of a range with
		// nothing beyond it.
		status = StatusStalled
		msg = fmt.Sprintf("net %s flow does not clear at price %g: residual %g", s.tokens[0], math.Exp(logp[0]), maxAbs(f))
	}

	r := s.result(b.Name(), logp)
	r.Status = status
	r.Error = msg
	r.Iterations = iterations
	r.Elapsed = elapsed()
	log.Debug("optimization finished", "status", status, "iterations", iterations, "value", r.Value)
	return r, nil
}

// solveCoordinate moves logp[i] to where the scaled net flow of token i
// clears, holding every other price fixed. The bracket grows a decade at
// a time from the current price until the flow changes sign, then is
// bisected until a cleared midpoint lies within bisectionWidth or the
// bracket can no longer be split.
//
// It reports the number of bisection steps and whether a sign change was
// found. On return f holds the flows at logp. Without a sign change logp[i]
// is restored.
func (s *system) solveCoordinate(logp []float64, i int, cfg Config, f []float64) (int, bool) {
	flow := func(lp float64) float64 {
		logp[i] = lp
		s.flows(logp, f)
		return f[i]
	}

	start := logp[i]
	fail := func() (int, bool) {
		flow(start)
		return 0, false
	}
	f0 := flow(start)
	if math.IsNaN(f0) {
		return fail()
	}
	if s.tokenCleared(i, f0, cfg) {
		return 0, true
	}
	lo, hi := start, start
	if f0 > 0 {
		fhi := f0
		for k := 0; fhi > 0 && k < bracketExpansions; k++ {
			lo, hi = hi, hi+bracketStep
			fhi = flow(hi)
		}
		if !(fhi <= 0) {
			return fail()
		}
	} else {
		flo := f0
		for k := 0; flo < 0 && k < bracketExpansions; k++ {
			lo, hi = lo-bracketStep, lo
			flo = flow(lo)
		}
		if !(flo >= 0) {
			return fail()
		}
	}

	steps := 0
	for ; steps < bisectionMaxIterations; steps++ {
		mid := lo + (hi-lo)/2
		if mid <= lo || mid >= hi {
			break
		}
		fm := flow(mid)
		if s.tokenCleared(i, fm, cfg) && hi-lo <= bisectionWidth {
			return steps + 1, true
		}
		if fm > 0 {
			lo = mid
		} else {
			hi = mid
		}
	}

	// No cleared point is representable: settle on the closer end.
	if math.Abs(flow(lo)) < math.Abs(flow(hi)) {
		flow(lo)
	}
	return steps, true
}
