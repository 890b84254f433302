package optimizer

import (
	"fmt"
	"math"
	"slices"

	"github.com/atmx/curve-optimizer/internal/container"
	"github.com/atmx/curve-optimizer/internal/curve"
	"github.com/atmx/curve-optimizer/internal/pair"
)

// Cone is the conic constraint of one constant product curve. With the
// post-trade reserves (x', y') it reads 2*x'*y' >= W^2 where W^2 = 2k, a
// rotated second-order cone.
type Cone struct {
	CurveID string    `json:"cid"`
	Pair    pair.Pair `json:"pair"`
	X       float64   `json:"x"`
	Y       float64   `json:"y"`
	K       float64   `json:"k"`
}

// W returns the cone radius sqrt(2k).
func (c Cone) W() float64 { return math.Sqrt(2 * c.K) }

// ConicProblem is the convex form of an optimization:
//
//	minimize    sum over curves of the target inflow
//	subject to  net inflow of every non-target token = 0
//	            (x'_c, y'_c) in the rotated cone of curve c
type ConicProblem struct {
	Target string   `json:"target"`
	Tokens []string `json:"tokens"`
	Cones  []Cone   `json:"cones"`
	// Start holds initial prices of the non-target tokens in target units.
	Start map[string]float64 `json:"start"`
	Scale Scale              `json:"scale,omitempty"`
}

// ConicSolution carries the optimal dual prices (the multipliers of the
// flow constraints) and the post-trade reserves of every cone.
type ConicSolution struct {
	Prices     map[string]float64 `json:"prices"`
	Reserves   [][2]float64       `json:"reserves"`
	Status     Status             `json:"status"`
	Error      string             `json:"error,omitempty"`
	Iterations int                `json:"iterations"`
	DualityGap float64            `json:"duality_gap"`
}

// ConicSolver solves a ConicProblem. Solve blocks until the solver
// finishes; it has no cancellation.
type ConicSolver interface {
	Solve(p *ConicProblem) (*ConicSolution, error)
}

// BuildProblem converts a curve set into its conic form. Only unlevered
// constant product curves have a cone representation; anything else fails
// with ErrUnsupportedFamily.
func BuildProblem(c *container.Container, target string, start map[string]float64, scale Scale) (*ConicProblem, error) {
	if c == nil || c.Len() == 0 {
		return nil, ErrEmpty
	}
	if !slices.Contains(c.Tokens(), target) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownToken, target)
	}
	p := &ConicProblem{Target: target, Start: make(map[string]float64), Scale: scale}
	for cv := range c.All() {
		if cv.Kind() != curve.KindConstantProduct {
			return nil, fmt.Errorf("%w: curve %s is %s, only %s curves have a conic form",
				ErrUnsupportedFamily, cv.ID(), cv.Kind(), curve.KindConstantProduct)
		}
		p.Cones = append(p.Cones, Cone{CurveID: cv.ID(), Pair: cv.Pair(), X: cv.X(), Y: cv.Y(), K: cv.K()})
	}
	for _, t := range c.Tokens() {
		if t == target {
			continue
		}
		p.Tokens = append(p.Tokens, t)
		if v, ok := start[t]; ok && v > 0 {
			p.Start[t] = v
			continue
		}
		est, err := c.PriceEstimate(t, target)
		if err != nil {
			return nil, err
		}
		p.Start[t] = est
	}
	return p, nil
}

// Convex solves constant product curve sets through their conic form. It
// serves as a cross-check of the other strategies: the solver certifies
// optimality with a duality gap.
type Convex struct {
	cfg    Config
	solver ConicSolver
}

var _ Optimizer = (*Convex)(nil)

// NewConvex returns the convex strategy. A nil solver selects the
// DualNewtonSolver configured from cfg.
func NewConvex(cfg Config, solver ConicSolver) *Convex {
	cfg = cfg.withDefaults()
	if solver == nil {
		solver = NewDualNewtonSolver(cfg)
	}
	return &Convex{cfg: cfg, solver: solver}
}

func (x *Convex) Name() string { return MethodConvex }

func (x *Convex) Optimize(c *container.Container, target string) (*Result, error) {
	elapsed := stopwatch()
	prob, err := BuildProblem(c, target, x.cfg.StartPrices, x.cfg.Scale)
	if err != nil {
		return nil, err
	}
	sol, err := x.solver.Solve(prob)
	if err != nil {
		return nil, fmt.Errorf("conic solver: %w", err)
	}

	s, err := newSystem(c, target, x.cfg.Scale)
	if err != nil {
		return nil, err
	}
	logp := make([]float64, s.dim())
	for i, t := range s.tokens {
		logp[i] = math.Log(sol.Prices[t])
	}
	r := s.result(x.Name(), logp)
	r.Status = sol.Status
	r.Error = sol.Error
	r.Iterations = sol.Iterations
	r.DualityGap = sol.DualityGap
	r.Elapsed = elapsed()
	x.cfg.Logger.Debug("optimization finished", "component", "optimizer", "method", x.Name(),
		"target", target, "status", r.Status, "gap", r.DualityGap)
	return r, nil
}
