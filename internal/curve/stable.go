package curve

import "math"

// stableSeriesThreshold is the value of r = k/x^4 below which the series
// expansion replaces the closed form root. At this size the truncation
// error of the series is below r^9.
const stableSeriesThreshold = 1e-5

// stableRatio returns the unique positive t with t^3 + t = r.
//
// Cardano gives t = a - 1/(3a) with a = cbrt(r/2 + sqrt(r^2/4 + 1/27)).
// For small r both terms approach 1/sqrt(3) and the subtraction loses
// every significant digit. Rewriting a - b as (a^3 - b^3)/(a^2 + ab + b^2)
// with a^3 - b^3 = r and ab = 1/3 removes the subtraction entirely:
//
//	t = r / (a^2 + 1/3 + 1/(9a^2))
//
// Below stableSeriesThreshold the series t = r - r^3 + 3r^5 - 12r^7 is used.
func stableRatio(r float64) float64 {
	if r <= 0 || math.IsNaN(r) {
		return 0
	}
	if math.IsInf(r, 1) {
		return math.Inf(1)
	}
	if r < stableSeriesThreshold {
		r2 := r * r
		return r * (1 - r2*(1-r2*(3-12*r2)))
	}
	a := math.Cbrt(r/2 + math.Hypot(r/2, 1/math.Sqrt(27)))
	t := r / (a*a + 1.0/3 + 1/(9*a*a))
	// One Newton step tidies the last ulp.
	return t - (t*t*t+t-r)/(3*t*t+1)
}

// stableRatioAtPrice returns s = y/x at which the stable-swap marginal
// price equals p, i.e. (3s + s^3)/(1 + 3s^2) = p.
//
// With c = cbrt((1-p)/(1+p)) the closed form is s = (1-c)/(1+c). Both
// 1-c (p near 0) and 1+c (p large) cancel, so prices above one use the
// reflection s(p) = 1/s(1/p) and 1-c is rewritten as e/(1 + c + c^2) with
// e = 1 - c^3 = 2p/(1+p).
func stableRatioAtPrice(p float64) float64 {
	switch {
	case p <= 0 || math.IsNaN(p):
		return 0
	case math.IsInf(p, 1):
		return math.Inf(1)
	case p == 1:
		return 1
	case p > 1:
		return 1 / stableRatioAtPrice(1/p)
	}
	e := 2 * p / (1 + p)
	c := math.Cbrt((1 - p) / (1 + p))
	return e / ((1 + c + c*c) * (1 + c))
}

// stableRatioAtLogPrice is stableRatioAtPrice for p = exp(lp). The cube
// root argument (1-p)/(1+p) equals -tanh(lp/2), which keeps full relative
// precision for |lp| far below the spacing of floats around one.
func stableRatioAtLogPrice(lp float64) float64 {
	switch {
	case math.IsNaN(lp) || math.IsInf(lp, -1):
		return 0
	case math.IsInf(lp, 1):
		return math.Inf(1)
	case lp == 0:
		return 1
	case lp > 0:
		return 1 / stableRatioAtLogPrice(-lp)
	}
	h := math.Tanh(lp / 2)
	c := math.Cbrt(-h)
	// e = 1 - c^3 = 2p/(1+p); 1+h cancels once p is small.
	e := 1 + h
	if lp < -1 {
		p := math.Exp(lp)
		e = 2 * p / (1 + p)
	}
	return e / ((1 + c + c*c) * (1 + c))
}
