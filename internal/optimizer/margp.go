package optimizer

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/atmx/curve-optimizer/internal/container"
)

const (
	// minLineSearchStep is the smallest fraction of a Newton step tried
	// before the line search gives up.
	minLineSearchStep = 1.0 / (1 << 20)
	// slowProgress is the residual ratio above which a Newton step is
	// supplemented by a coordinate sweep.
	slowProgress = 0.5
)

// MarginalPrice is the gradient strategy: Newton iteration on the net
// flows of the non-target tokens as a function of their log-prices, with a
// finite-difference Jacobian.
//
// When a Newton step makes little progress, typically because a flow
// responds to price like a root of it (stable curves near par), the step
// is supplemented by a sweep that bisects each token's own price.
//
// Between disjoint liquidity ranges the flows do not depend on price, the
// Jacobian vanishes and the iteration cannot move. Such runs end in
// StatusStalled; callers decide whether to retry with PairBisection.
type MarginalPrice struct {
	cfg Config
}

var _ Optimizer = (*MarginalPrice)(nil)

// NewMarginalPrice returns the gradient strategy with cfg.
func NewMarginalPrice(cfg Config) *MarginalPrice {
	return &MarginalPrice{cfg: cfg.withDefaults()}
}

func (m *MarginalPrice) Name() string { return MethodMarginalPrice }

func (m *MarginalPrice) Optimize(c *container.Container, target string) (*Result, error) {
	elapsed := stopwatch()
	s, err := newSystem(c, target, m.cfg.Scale)
	if err != nil {
		return nil, err
	}
	logp, err := s.seed(c, m.cfg.StartPrices)
	if err != nil {
		return nil, err
	}
	log := m.cfg.Logger.With("component", "optimizer", "method", m.Name(), "target", target)

	status, msg, iterations := m.iterate(s, logp, log)
	r := s.result(m.Name(), logp)
	r.Status = status
	r.Error = msg
	r.Iterations = iterations
	r.Elapsed = elapsed()
	log.Debug("optimization finished", "status", status, "iterations", iterations, "value", r.Value)
	return r, nil
}

// iterate runs Newton steps on logp in place.
func (m *MarginalPrice) iterate(s *system, logp []float64, log *slog.Logger) (Status, string, int) {
	cfg := m.cfg
	n := s.dim()
	f := make([]float64, n)
	trial := make([]float64, n)
	ft := make([]float64, n)
	rhs := make([]float64, n)
	jac := mat.NewDense(n, n, nil)

	for it := 0; it < cfg.MaxIterations; it++ {
		s.flows(logp, f)
		if !finite(f) {
			return StatusDiverged, fmt.Sprintf("non-finite net flows at iteration %d", it), it
		}
		if s.cleared(f, cfg) {
			return StatusConverged, "", it
		}
		residual := maxAbs(f)

		s.jacobian(logp, cfg.JacobianStep, jac)
		for i := range f {
			rhs[i] = -f[i]
		}
		// A near-singular Jacobian still yields a usable direction; only an
		// exactly singular one means no price moves any flow.
		var step mat.VecDense
		var cond mat.Condition
		if err := step.SolveVec(jac, mat.NewVecDense(n, rhs)); errors.As(err, &cond) && math.IsInf(float64(cond), 1) {
			return StatusStalled, fmt.Sprintf("flat price response at iteration %d: residual %g", it, residual), it
		}

		copy(trial, logp)
		next := residual
		if dp := step.RawVector().Data; finite(dp) {
			next = s.lineSearch(logp, dp, cfg.MaxLogStep, residual, trial, ft)
		}
		if next > slowProgress*residual {
			// Flows that move like a root of the price, as on stable curves
			// near par, make Newton overshoot. Bracketing each token's own
			// price still makes progress there.
			swept := slices.Clone(trial)
			if r := s.sweep(swept, cfg, ft); r < next {
				copy(trial, swept)
				next = r
			}
		}
		if !(next < residual) {
			return StatusStalled, fmt.Sprintf("no descent from residual %g at iteration %d", residual, it), it
		}
		copy(logp, trial)
		log.Debug("newton step", "iteration", it, "residual", next)
	}

	s.flows(logp, f)
	if s.cleared(f, cfg) {
		return StatusConverged, "", cfg.MaxIterations
	}
	return StatusDiverged, fmt.Sprintf("iteration cap %d reached: residual %g", cfg.MaxIterations, maxAbs(f)), cfg.MaxIterations
}

// lineSearch caps dp at maxStep and halves it until the largest residual
// falls below residual. The accepted point is left in trial and its
// residual returned; if no fraction helps, trial holds logp and residual
// is returned unchanged.
func (s *system) lineSearch(logp, dp []float64, maxStep, residual float64, trial, ft []float64) float64 {
	if mx := maxAbs(dp); mx > maxStep {
		for i := range dp {
			dp[i] *= maxStep / mx
		}
	}
	for t := 1.0; t >= minLineSearchStep; t /= 2 {
		for i := range logp {
			trial[i] = logp[i] + t*dp[i]
		}
		s.flows(trial, ft)
		if r := maxAbs(ft); finite(ft) && r < residual {
			return r
		}
	}
	copy(trial, logp)
	return residual
}

// sweep is one nonlinear Gauss-Seidel pass: each token's price is moved
// to clear its own flow with the others held fixed. It returns the largest
// residual at the swept point, +Inf if the flows stop being finite.
func (s *system) sweep(logp []float64, cfg Config, f []float64) float64 {
	for i := range logp {
		s.solveCoordinate(logp, i, cfg, f)
	}
	s.flows(logp, f)
	if !finite(f) {
		return math.Inf(1)
	}
	return maxAbs(f)
}

// jacobian fills jac with central differences of the scaled flows with
// respect to log-price.
func (s *system) jacobian(logp []float64, h float64, jac *mat.Dense) {
	n := s.dim()
	up := make([]float64, n)
	down := make([]float64, n)
	probe := slices.Clone(logp)
	for j := 0; j < n; j++ {
		probe[j] = logp[j] + h
		s.flows(probe, up)
		probe[j] = logp[j] - h
		s.flows(probe, down)
		probe[j] = logp[j]
		for i := 0; i < n; i++ {
			jac.Set(i, j, (up[i]-down[i])/(2*h))
		}
	}
}
