package curve

import (
	"fmt"
	"math"

	"github.com/atmx/curve-optimizer/internal/pair"
)

// orderWidening is the relative width given to an order whose start and
// end prices coincide, which would otherwise need infinite liquidity.
const orderWidening = 1e-6

// Option customizes a curve during construction.
type Option func(*Curve)

// WithID sets the curve identifier. Containers assign one by position
// when it is left empty.
func WithID(id string) Option {
	return func(c *Curve) { c.id = id }
}

// WithFee sets the fee rate (0.003 = 30bp).
func WithFee(fee float64) Option {
	return func(c *Curve) { c.fee = fee }
}

// WithMeta attaches exchange metadata.
func WithMeta(m Metadata) Option {
	return func(c *Curve) { c.meta = m.clone() }
}

// FromXY builds an unlevered symmetric constant product curve (k = x*y).
func FromXY(p pair.Pair, x, y float64, opts ...Option) (Curve, error) {
	if err := positive("x", x, "y", y); err != nil {
		return Curve{}, err
	}
	return build(p, KindConstantProduct, Symmetric{}, x*y, x, y, x, y, opts)
}

// FromPK builds an unlevered symmetric curve from its marginal price and k.
func FromPK(p pair.Pair, price, k float64, opts ...Option) (Curve, error) {
	if err := positive("price", price, "k", k); err != nil {
		return Curve{}, err
	}
	x := math.Sqrt(k / price)
	y := math.Sqrt(k * price)
	return build(p, KindConstantProduct, Symmetric{}, k, x, y, x, y, opts)
}

// FromRange builds a levered symmetric curve holding liquidity L over the
// price range [pa, pb] (a concentrated-liquidity position). The current
// price is clamped into the range.
func FromRange(p pair.Pair, price, pa, pb, liquidity float64, opts ...Option) (Curve, error) {
	if err := positive("price", price, "pa", pa, "pb", pb, "liquidity", liquidity); err != nil {
		return Curve{}, err
	}
	if pa >= pb {
		return Curve{}, fmt.Errorf("%w: range requires pa < pb (pa=%g pb=%g)", ErrValidation, pa, pb)
	}
	price = clamp(price, pa, pb)
	sp := math.Sqrt(price)
	x := liquidity / sp
	y := liquidity * sp
	xAct := liquidity * (1/sp - 1/math.Sqrt(pb))
	yAct := liquidity * (sp - math.Sqrt(pa))
	return build(p, KindRanged, Symmetric{}, liquidity*liquidity, x, y, math.Max(xAct, 0), math.Max(yAct, 0), opts)
}

// FromOrder builds a one-sided order that sells the quote token y for the
// base token x. yint is the order capacity, y the amount left, and the
// marginal price (y per x) runs from pa when full down to pb when empty.
//
// The order is modelled as a symmetric curve sitting on its upper price
// boundary: x_act is zero, so it can only receive x and pay out y. An
// order with y == 0 is exhausted and never trades.
func FromOrder(p pair.Pair, yint, y, pa, pb float64, opts ...Option) (Curve, error) {
	if err := positive("yint", yint, "pa", pa, "pb", pb); err != nil {
		return Curve{}, err
	}
	if y < 0 || y > yint {
		return Curve{}, fmt.Errorf("%w: order requires 0 <= y <= yint (y=%g yint=%g)", ErrValidation, y, yint)
	}
	if pa < pb {
		return Curve{}, fmt.Errorf("%w: order requires pa >= pb (pa=%g pb=%g)", ErrValidation, pa, pb)
	}
	if pa/pb-1 < orderWidening {
		pa = pb * (1 + orderWidening)
	}
	sa, sb := math.Sqrt(pa), math.Sqrt(pb)
	width := sa - sb
	liquidity := yint / width
	marginal := sb + width*y/yint
	k := liquidity * liquidity
	x := liquidity / marginal
	return build(p, KindOneSided, Symmetric{}, k, x, k/x, 0, y, opts)
}

// FromWeighted builds an unlevered weighted curve x^alpha * y^(1-alpha) = k.
func FromWeighted(p pair.Pair, x, y, alpha float64, opts ...Option) (Curve, error) {
	if err := positive("x", x, "y", y); err != nil {
		return Curve{}, err
	}
	if !(alpha > 0 && alpha < 1) {
		return Curve{}, fmt.Errorf("%w: alpha must lie in (0,1), got %g", ErrValidation, alpha)
	}
	fam := Weighted{A: alpha}
	return build(p, KindWeighted, fam, fam.K(x, y), x, y, x, y, opts)
}

// FromStable builds an unlevered stable-swap curve x^3*y + x*y^3 = k.
func FromStable(p pair.Pair, x, y float64, opts ...Option) (Curve, error) {
	if err := positive("x", x, "y", y); err != nil {
		return Curve{}, err
	}
	fam := Stable{}
	return build(p, KindStable, fam, fam.K(x, y), x, y, x, y, opts)
}

func build(p pair.Pair, kind Kind, fam Family, k, x, y, xAct, yAct float64, opts []Option) (Curve, error) {
	c := Curve{
		pair:   p,
		kind:   kind,
		family: fam,
		k:      k,
		x:      x,
		y:      y,
		xAct:   xAct,
		yAct:   yAct,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if err := c.validate(); err != nil {
		return Curve{}, err
	}
	c.computeBounds()
	return c, nil
}

func (c *Curve) validate() error {
	if c.pair.Base == "" || c.pair.Quote == "" {
		return fmt.Errorf("%w: pair %q is missing a token", ErrValidation, c.pair)
	}
	if c.pair.Base == c.pair.Quote {
		return fmt.Errorf("%w: pair %q uses the same token twice", ErrValidation, c.pair)
	}
	if err := positive("k", c.k, "x", c.x, "y", c.y); err != nil {
		return err
	}
	if c.xAct < 0 || c.yAct < 0 || math.IsNaN(c.xAct) || math.IsNaN(c.yAct) {
		return fmt.Errorf("%w: negative actual holdings (x_act=%g y_act=%g)", ErrValidation, c.xAct, c.yAct)
	}
	if c.xAct > c.x*(1+boundsEpsilon) || c.yAct > c.y*(1+boundsEpsilon) {
		return fmt.Errorf("%w: actual holdings exceed reference state (x_act=%g x=%g y_act=%g y=%g)",
			ErrValidation, c.xAct, c.x, c.yAct, c.y)
	}
	if c.kind.unlevered() && (c.xAct < c.x*(1-boundsEpsilon) || c.yAct < c.y*(1-boundsEpsilon)) {
		return fmt.Errorf("%w: %s curves cannot be levered", ErrValidation, c.kind)
	}
	if got := c.family.K(c.x, c.y); math.Abs(got-c.k) > InvariantTolerance*math.Abs(c.k) {
		return fmt.Errorf("%w: k=%g inconsistent with invariant at (x=%g, y=%g): %g",
			ErrValidation, c.k, c.x, c.y, got)
	}
	if c.fee < 0 || c.fee >= 1 {
		return fmt.Errorf("%w: fee must lie in [0,1), got %g", ErrValidation, c.fee)
	}
	c.xAct = math.Min(c.xAct, c.x)
	c.yAct = math.Min(c.yAct, c.y)
	return nil
}

// positive checks name/value pairs for strictly positive finite values.
func positive(kv ...any) error {
	for i := 0; i+1 < len(kv); i += 2 {
		v := kv[i+1].(float64)
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be positive and finite, got %g", ErrValidation, kv[i], v)
		}
	}
	return nil
}
