package optimizer

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/atmx/curve-optimizer/internal/container"
	"github.com/atmx/curve-optimizer/internal/curve"
	"github.com/atmx/curve-optimizer/internal/pair"
)

// CurveDelta is the trade of one curve in a result. Positive amounts flow
// into the curve.
type CurveDelta struct {
	CurveID string    `json:"cid"`
	Pair    pair.Pair `json:"pair"`
	DX      float64   `json:"dx"`
	DY      float64   `json:"dy"`
}

// Flow returns the amount of tkn flowing into the curve.
func (d CurveDelta) Flow(tkn string) float64 {
	switch tkn {
	case d.Pair.Base:
		return d.DX
	case d.Pair.Quote:
		return d.DY
	}
	return 0
}

// Result is the outcome of one optimizer run. Flows are seen from the
// curves: a negative Value means the target token leaves the curves,
// which is the extractable profit.
type Result struct {
	Method     string             `json:"method"`
	Target     string             `json:"target"`
	Status     Status             `json:"status"`
	Error      string             `json:"error,omitempty"`
	Value      float64            `json:"value"`
	Prices     map[string]float64 `json:"prices"`
	Deltas     []CurveDelta       `json:"deltas"`
	NetFlows   map[string]float64 `json:"net_flows"`
	Iterations int                `json:"iterations"`
	Elapsed    time.Duration      `json:"elapsed_ns"`
	DualityGap float64            `json:"duality_gap,omitempty"`
}

// Profit is the amount of target token extracted.
func (r *Result) Profit() float64 { return -r.Value }

// Converged reports whether the result passed its tolerance check.
func (r *Result) Converged() bool { return r.Status == StatusConverged }

// MaxResidual is the largest absolute net flow among non-target tokens.
func (r *Result) MaxResidual() float64 {
	var m float64
	for tkn, f := range r.NetFlows {
		if tkn != r.Target {
			m = math.Max(m, math.Abs(f))
		}
	}
	return m
}

// system is the flow function of a curve set for one target: the prices
// of the non-target tokens, held as log-prices, determine every curve's
// trade.
type system struct {
	target  string
	tokens  []string
	index   map[string]int
	curves  []curve.Curve
	scale   []float64
	reserve []float64
}

func newSystem(c *container.Container, target string, scale Scale) (*system, error) {
	if c == nil || c.Len() == 0 {
		return nil, ErrEmpty
	}
	tokens := c.Tokens()
	if !slices.Contains(tokens, target) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownToken, target)
	}
	s := &system{
		target: target,
		index:  make(map[string]int, len(tokens)),
		curves: c.Curves(),
	}
	for _, t := range tokens {
		if t == target {
			continue
		}
		s.index[t] = len(s.tokens)
		s.tokens = append(s.tokens, t)
		s.scale = append(s.scale, scale.Of(t))
	}
	s.index[target] = -1
	s.reserve = make([]float64, len(s.tokens))
	for _, cv := range s.curves {
		if i := s.index[cv.TokenX()]; i >= 0 {
			s.reserve[i] += cv.X()
		}
		if i := s.index[cv.TokenY()]; i >= 0 {
			s.reserve[i] += cv.Y()
		}
	}
	return s, nil
}

func (s *system) dim() int { return len(s.tokens) }

func (s *system) logPrice(logp []float64, tkn string) float64 {
	if i := s.index[tkn]; i >= 0 {
		return logp[i]
	}
	return 0
}

// curveLogPrice is the log of the marginal price a curve is traded to:
// the price of its base in units of its quote. Curves are evaluated in
// log-price so that prices within an ulp of one stay distinct.
func (s *system) curveLogPrice(logp []float64, cv curve.Curve) float64 {
	return s.logPrice(logp, cv.TokenX()) - s.logPrice(logp, cv.TokenY())
}

// flows writes the scaled net flow of every non-target token into out and
// returns the unscaled target flow.
func (s *system) flows(logp, out []float64) float64 {
	clear(out)
	var target float64
	for _, cv := range s.curves {
		dx, dy := cv.DeltaAtLogPrice(s.curveLogPrice(logp, cv))
		if i := s.index[cv.TokenX()]; i >= 0 {
			out[i] += dx / s.scale[i]
		} else {
			target += dx
		}
		if i := s.index[cv.TokenY()]; i >= 0 {
			out[i] += dy / s.scale[i]
		} else {
			target += dy
		}
	}
	return target
}

// cleared reports whether every scaled flow is within tolerance.
func (s *system) cleared(f []float64, cfg Config) bool {
	for i, v := range f {
		if !s.tokenCleared(i, v, cfg) {
			return false
		}
	}
	return true
}

// tokenCleared reports whether the scaled flow v of token i is within
// tolerance.
func (s *system) tokenCleared(i int, v float64, cfg Config) bool {
	return math.Abs(v) <= cfg.Tolerance+cfg.ReserveTolerance*s.reserve[i]/s.scale[i]
}

// seed returns starting log-prices from explicit prices, falling back to
// the container's estimate of each token in target units.
func (s *system) seed(c *container.Container, start map[string]float64) ([]float64, error) {
	logp := make([]float64, s.dim())
	for i, t := range s.tokens {
		if p, ok := start[t]; ok && p > 0 && !math.IsInf(p, 0) {
			logp[i] = math.Log(p)
			continue
		}
		p, err := c.PriceEstimate(t, s.target)
		if err != nil {
			return nil, err
		}
		logp[i] = math.Log(p)
	}
	return logp, nil
}

// result evaluates the curve set at logp.
func (s *system) result(method string, logp []float64) *Result {
	r := &Result{
		Method:   method,
		Target:   s.target,
		Prices:   make(map[string]float64, s.dim()+1),
		Deltas:   make([]CurveDelta, 0, len(s.curves)),
		NetFlows: make(map[string]float64, s.dim()+1),
	}
	r.Prices[s.target] = 1
	for i, t := range s.tokens {
		r.Prices[t] = math.Exp(logp[i])
	}
	for _, cv := range s.curves {
		dx, dy := cv.DeltaAtLogPrice(s.curveLogPrice(logp, cv))
		r.Deltas = append(r.Deltas, CurveDelta{CurveID: cv.ID(), Pair: cv.Pair(), DX: dx, DY: dy})
		r.NetFlows[cv.TokenX()] += dx
		r.NetFlows[cv.TokenY()] += dy
	}
	r.Value = r.NetFlows[s.target]
	return r
}

func finite(v []float64) bool {
	for _, f := range v {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

func maxAbs(v []float64) float64 {
	var m float64
	for _, f := range v {
		m = math.Max(m, math.Abs(f))
	}
	return m
}
