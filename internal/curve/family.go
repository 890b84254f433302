package curve

import (
	"fmt"
	"math"
)

// Kind tags the position type of a curve. It is derived from the family
// and the leverage of the position, never inspected to pick algebra: the
// algebra lives on the Family implementation.
type Kind int

const (
	// KindConstantProduct is an unlevered symmetric x*y=k pool.
	KindConstantProduct Kind = iota
	// KindRanged is a levered symmetric curve with a bounded price range.
	KindRanged
	// KindOneSided is half of a two-sided order strategy, tradeable in a
	// single direction.
	KindOneSided
	// KindWeighted is an unlevered x^a*y^(1-a)=k pool.
	KindWeighted
	// KindStable is an unlevered x^3*y+x*y^3=k pool.
	KindStable
)

var kindNames = map[Kind]string{
	KindConstantProduct: "constant_product",
	KindRanged:          "ranged",
	KindOneSided:        "one_sided",
	KindWeighted:        "weighted",
	KindStable:          "stable",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// unlevered reports whether positions of this kind always hold their full
// reference state.
func (k Kind) unlevered() bool {
	return k == KindConstantProduct || k == KindWeighted || k == KindStable
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown curve kind %q", ErrValidation, s)
}

// Family is the invariant algebra shared by every curve of one family.
// Prices are marginal prices p = -dy/dx, quoted in y per x.
type Family interface {
	// K evaluates the invariant at (x, y).
	K(x, y float64) float64
	// Y returns the y on the invariant k at x.
	Y(k, x float64) float64
	// X returns the x on the invariant k at y.
	X(k, y float64) float64
	// Price returns the marginal price at (x, y).
	Price(x, y float64) float64
	// XAtPrice returns the x at which the marginal price on k equals p.
	XAtPrice(k, p float64) float64
	// XAtLogPrice is XAtPrice for p = exp(lp).
	XAtLogPrice(k, lp float64) float64
	// Alpha is the weight of x in the invariant (0.5 for symmetric families).
	Alpha() float64
}

var (
	_ Family = Symmetric{}
	_ Family = Weighted{}
	_ Family = Stable{}
)

// Symmetric is the constant product family x*y = k.
type Symmetric struct{}

func (Symmetric) K(x, y float64) float64        { return x * y }
func (Symmetric) Y(k, x float64) float64        { return k / x }
func (Symmetric) X(k, y float64) float64        { return k / y }
func (Symmetric) Price(x, y float64) float64    { return y / x }
func (Symmetric) XAtPrice(k, p float64) float64 { return math.Sqrt(k / p) }
func (Symmetric) Alpha() float64                { return 0.5 }

func (Symmetric) XAtLogPrice(k, lp float64) float64 {
	return math.Sqrt(k) * math.Exp(-lp/2)
}

// Weighted is the asymmetric constant product family x^a * y^(1-a) = k.
// The marginal price is p = a/(1-a) * y/x.
type Weighted struct {
	A float64
}

func (w Weighted) eta() float64 { return w.A / (1 - w.A) }

func (w Weighted) K(x, y float64) float64 {
	return math.Exp(w.A*math.Log(x) + (1-w.A)*math.Log(y))
}

func (w Weighted) Y(k, x float64) float64 {
	return math.Exp((math.Log(k) - w.A*math.Log(x)) / (1 - w.A))
}

func (w Weighted) X(k, y float64) float64 {
	return math.Exp((math.Log(k) - (1-w.A)*math.Log(y)) / w.A)
}

func (w Weighted) Price(x, y float64) float64 { return w.eta() * y / x }

// XAtPrice solves y = p*x/eta on the invariant: x = k * (p/eta)^(a-1).
func (w Weighted) XAtPrice(k, p float64) float64 {
	return math.Exp(math.Log(k) + (w.A-1)*math.Log(p/w.eta()))
}

func (w Weighted) XAtLogPrice(k, lp float64) float64 {
	return math.Exp(math.Log(k) + (w.A-1)*(lp-math.Log(w.eta())))
}

func (w Weighted) Alpha() float64 { return w.A }

// Stable is the quartic stable-swap family x^3*y + x*y^3 = k.
type Stable struct{}

func (Stable) K(x, y float64) float64 { return x * y * (x*x + y*y) }

// Y returns x*t where t solves t^3 + t = k/x^4.
func (Stable) Y(k, x float64) float64 {
	return x * stableRatio(k/(x*x*x*x))
}

func (Stable) X(k, y float64) float64 {
	return y * stableRatio(k/(y*y*y*y))
}

func (Stable) Price(x, y float64) float64 {
	return y * (3*x*x + y*y) / (x * (x*x + 3*y*y))
}

// XAtPrice finds the ratio s = y/x with marginal price p, then scales it
// onto the invariant: k = x^4 * s * (1 + s^2).
func (Stable) XAtPrice(k, p float64) float64 {
	s := stableRatioAtPrice(p)
	return math.Pow(k/(s*(1+s*s)), 0.25)
}

// XAtLogPrice resolves prices within an ulp of par, where XAtPrice cannot:
// near p = 1 the ratio moves like cbrt(p-1).
func (Stable) XAtLogPrice(k, lp float64) float64 {
	s := stableRatioAtLogPrice(lp)
	return math.Pow(k/(s*(1+s*s)), 0.25)
}

func (Stable) Alpha() float64 { return 0.5 }
