package optimizer

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	dualNewtonMinIterations = 100
	armijo                  = 1e-4
	// positivityMargin keeps a step from moving any price more than this
	// fraction of the way to zero.
	positivityMargin = 0.9
)

// DualNewtonSolver solves a ConicProblem through its dual. For a price
// vector p (target price fixed at 1) every cone's best response is
// x' = sqrt(k*pb/pa), y' = sqrt(k*pa/pb), and the dual objective
//
//	g(p) = sum over cones of pa*x + pb*y - 2*sqrt(k*pa*pb)
//
// is convex with gradient equal to minus the net inflow. The solver runs
// damped Newton on g in price-scaled coordinates with an Armijo line
// search that keeps every price positive.
type DualNewtonSolver struct {
	Tolerance        float64
	ReserveTolerance float64
	MaxIterations    int
}

var _ ConicSolver = (*DualNewtonSolver)(nil)

// NewDualNewtonSolver returns a solver using the tolerances of cfg.
func NewDualNewtonSolver(cfg Config) *DualNewtonSolver {
	cfg = cfg.withDefaults()
	return &DualNewtonSolver{
		Tolerance:        cfg.Tolerance,
		ReserveTolerance: cfg.ReserveTolerance,
		MaxIterations:    max(cfg.MaxIterations, dualNewtonMinIterations),
	}
}

// dualState is the problem indexed for the solver.
type dualState struct {
	prob    *ConicProblem
	index   map[string]int
	scale   []float64
	reserve []float64
}

func (d *dualState) price(p []float64, tkn string) float64 {
	if i, ok := d.index[tkn]; ok {
		return p[i]
	}
	return 1
}

// objective returns g(p) and the magnitude of the summed terms, which
// bounds the rounding error of g.
func (d *dualState) objective(p []float64) (g, mag float64) {
	for _, c := range d.prob.Cones {
		pa, pb := d.price(p, c.Pair.Base), d.price(p, c.Pair.Quote)
		lin := pa*c.X + pb*c.Y
		g += lin - 2*math.Sqrt(c.K*pa*pb)
		mag += lin
	}
	return g, mag
}

// flows returns the unscaled net inflow of every non-target token.
func (d *dualState) flows(p []float64) []float64 {
	f := make([]float64, len(p))
	for _, c := range d.prob.Cones {
		pa, pb := d.price(p, c.Pair.Base), d.price(p, c.Pair.Quote)
		if i, ok := d.index[c.Pair.Base]; ok {
			f[i] += math.Sqrt(c.K*pb/pa) - c.X
		}
		if i, ok := d.index[c.Pair.Quote]; ok {
			f[i] += math.Sqrt(c.K*pa/pb) - c.Y
		}
	}
	return f
}

// hessian returns D*H*D with D = diag(p).
func (d *dualState) hessian(p []float64) *mat.SymDense {
	h := mat.NewSymDense(len(p), nil)
	for _, c := range d.prob.Cones {
		pa, pb := d.price(p, c.Pair.Base), d.price(p, c.Pair.Quote)
		ia, aok := d.index[c.Pair.Base]
		ib, bok := d.index[c.Pair.Quote]
		// With D applied, each entry of the cone's Hessian becomes
		// sqrt(k*pa*pb)/2 times +1 on the diagonal and -1 off it.
		w := 0.5 * math.Sqrt(c.K*pa*pb)
		if aok {
			h.SetSym(ia, ia, h.At(ia, ia)+w)
		}
		if bok {
			h.SetSym(ib, ib, h.At(ib, ib)+w)
		}
		if aok && bok {
			h.SetSym(ia, ib, h.At(ia, ib)-w)
		}
	}
	return h
}

func (d *dualState) cleared(f []float64, tol, reserveTol float64) bool {
	for i, v := range f {
		if !(math.Abs(v) <= tol*d.scale[i]+reserveTol*d.reserve[i]) {
			return false
		}
	}
	return true
}

func (s *DualNewtonSolver) Solve(prob *ConicProblem) (*ConicSolution, error) {
	if prob == nil || len(prob.Cones) == 0 {
		return nil, ErrEmpty
	}
	n := len(prob.Tokens)
	d := &dualState{
		prob:    prob,
		index:   make(map[string]int, n),
		scale:   make([]float64, n),
		reserve: make([]float64, n),
	}
	p := make([]float64, n)
	for i, t := range prob.Tokens {
		d.index[t] = i
		d.scale[i] = prob.Scale.Of(t)
		p[i] = prob.Start[t]
		if !(p[i] > 0) || math.IsInf(p[i], 0) {
			return nil, fmt.Errorf("conic: start price of %s must be positive, got %g", t, p[i])
		}
	}
	for _, c := range prob.Cones {
		if i, ok := d.index[c.Pair.Base]; ok {
			d.reserve[i] += c.X
		}
		if i, ok := d.index[c.Pair.Quote]; ok {
			d.reserve[i] += c.Y
		}
	}

	sol := &ConicSolution{Status: StatusConverged}
	trial := make([]float64, n)
	rhs := make([]float64, n)
	maxIter := max(s.MaxIterations, 1)
	it := 0
	for ; it < maxIter; it++ {
		f := d.flows(p)
		if !finite(f) {
			sol.Status, sol.Error = StatusDiverged, fmt.Sprintf("non-finite flows at iteration %d", it)
			break
		}
		if d.cleared(f, s.Tolerance, s.ReserveTolerance) {
			break
		}

		// Scaled gradient D*grad g = -D*f.
		for i := range f {
			rhs[i] = p[i] * f[i]
		}
		var step mat.VecDense
		if err := step.SolveVec(d.hessian(p), mat.NewVecDense(n, rhs)); err != nil {
			sol.Status, sol.Error = StatusStalled, fmt.Sprintf("singular dual hessian at iteration %d: %v", it, err)
			break
		}
		sv := step.RawVector().Data

		// Largest step keeping p*(1+t*s) positive.
		t := 1.0
		for _, v := range sv {
			if v < 0 {
				t = math.Min(t, -positivityMargin/v)
			}
		}
		// Directional derivative of g along the price step D*s.
		var slope float64
		for i := range sv {
			slope -= f[i] * p[i] * sv[i]
		}
		g0, mag := d.objective(p)
		slack := 1e-14 * mag
		accepted := false
		for ; t >= minLineSearchStep; t /= 2 {
			for i := range p {
				trial[i] = p[i] * (1 + t*sv[i])
			}
			if g1, _ := d.objective(trial); g1 <= g0+armijo*t*slope+slack {
				accepted = true
				break
			}
		}
		if !accepted {
			sol.Status, sol.Error = StatusStalled, fmt.Sprintf("line search failed at iteration %d", it)
			break
		}
		copy(p, trial)
	}
	if it == maxIter {
		if f := d.flows(p); !d.cleared(f, s.Tolerance, s.ReserveTolerance) {
			sol.Status, sol.Error = StatusDiverged, fmt.Sprintf("iteration cap %d reached", maxIter)
		}
	}

	sol.Iterations = it
	sol.Prices = make(map[string]float64, n+1)
	sol.Prices[prob.Target] = 1
	f := d.flows(p)
	for i, t := range prob.Tokens {
		sol.Prices[t] = p[i]
		sol.DualityGap += p[i] * f[i]
	}
	sol.DualityGap = math.Abs(sol.DualityGap)
	for _, c := range prob.Cones {
		pa, pb := d.price(p, c.Pair.Base), d.price(p, c.Pair.Quote)
		sol.Reserves = append(sol.Reserves, [2]float64{math.Sqrt(c.K * pb / pa), math.Sqrt(c.K * pa / pb)})
	}
	if sol.Status == StatusConverged && math.IsNaN(sol.DualityGap) {
		return nil, errors.New("conic: duality gap is not a number")
	}
	return sol, nil
}
