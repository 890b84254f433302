// Package curve implements the automated-market-maker curve entity: one
// liquidity position's invariant, state, and bounds.
//
// A Curve is an immutable value. Queries never mutate it and a trade
// (Execute) returns a new Curve. All internal math is float64; callers
// that need exact token amounts convert at the boundary with decimal.
//
// Conventions: x is the base token (pair.Base), y is the quote token
// (pair.Quote), and the marginal price is p = -dy/dx in y per x. The
// reference state (x, y) may be partly virtual: only x_act <= x and
// y_act <= y are actually tradeable, which models leverage (ranged
// positions) and one-sided orders.
package curve

import (
	"fmt"
	"math"

	"github.com/atmx/curve-optimizer/internal/pair"
)

// InvariantTolerance is the relative tolerance within which a supplied k
// must match the family invariant evaluated at (x, y).
const InvariantTolerance = 1e-6

// boundsEpsilon is the relative slack granted to bound checks so that a
// state computed exactly at a boundary is not rejected for rounding.
const boundsEpsilon = 1e-9

// Bounds are the quantity and price limits implied by the actual holdings.
// Unbounded sides are reported as +Inf (maxima) or 0 (minima).
type Bounds struct {
	XMin float64 `json:"x_min"`
	XMax float64 `json:"x_max"`
	YMin float64 `json:"y_min"`
	YMax float64 `json:"y_max"`
	PMin float64 `json:"p_min"`
	PMax float64 `json:"p_max"`
}

// State is a point on a curve together with its marginal price.
type State struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	P float64 `json:"p"`
}

// Curve is a single AMM position.
type Curve struct {
	id     string
	pair   pair.Pair
	kind   Kind
	family Family
	k      float64
	x      float64
	y      float64
	xAct   float64
	yAct   float64
	fee    float64
	meta   Metadata
	bounds Bounds
}

func (c Curve) ID() string       { return c.id }
func (c Curve) Pair() pair.Pair  { return c.pair }
func (c Curve) TokenX() string   { return c.pair.Base }
func (c Curve) TokenY() string   { return c.pair.Quote }
func (c Curve) Kind() Kind       { return c.kind }
func (c Curve) Family() Family   { return c.family }
func (c Curve) K() float64       { return c.k }
func (c Curve) X() float64       { return c.x }
func (c Curve) Y() float64       { return c.y }
func (c Curve) XAct() float64    { return c.xAct }
func (c Curve) YAct() float64    { return c.yAct }
func (c Curve) Fee() float64     { return c.fee }
func (c Curve) Alpha() float64   { return c.family.Alpha() }
func (c Curve) Bounds() Bounds   { return c.bounds }
func (c Curve) Meta() Metadata   { return c.meta.clone() }
func (c Curve) Tokens() []string { return []string{c.pair.Base, c.pair.Quote} }
func (c Curve) State() State     { return State{X: c.x, Y: c.y, P: c.Price()} }
func (c Curve) Price() float64   { return c.family.Price(c.x, c.y) }
func (c Curve) IsLevered() bool  { return c.bounds.XMin > 0 || c.bounds.YMin > 0 }

func (c Curve) String() string {
	return fmt.Sprintf("Curve(%s %s %s p=%g)", c.id, c.pair, c.kind, c.Price())
}

// Depth is the liquidity weight of the curve, sqrt(x*y). For symmetric
// curves it equals sqrt(k).
func (c Curve) Depth() float64 { return math.Sqrt(c.x * c.y) }

// IsAtBoundary reports whether the curve is fully depleted in one
// direction, i.e. it can only trade one way.
func (c Curve) IsAtBoundary() bool {
	return c.xAct <= boundsEpsilon*c.x || c.yAct <= boundsEpsilon*c.y
}

// WithID returns a copy of the curve carrying id.
func (c Curve) WithID(id string) Curve {
	c.id = id
	c.meta = c.meta.clone()
	return c
}

// Invert returns the same position seen from the reversed pair. Prices
// of the inverted curve are the reciprocals of the original ones.
func (c Curve) Invert() Curve {
	inv := c
	inv.pair = c.pair.Reverse()
	inv.x, inv.y = c.y, c.x
	inv.xAct, inv.yAct = c.yAct, c.xAct
	if w, ok := c.family.(Weighted); ok {
		inv.family = Weighted{A: 1 - w.A}
	}
	inv.meta = c.meta.swapped()
	inv.computeBounds()
	return inv
}

// StateAtPrice returns the state the curve reaches when traded to the
// marginal price p. Prices outside [p_min, p_max] return the boundary
// state rather than an extrapolated one, so unconstrained searches can
// probe any price. Non-positive prices return the current state.
func (c Curve) StateAtPrice(p float64) State {
	b := c.bounds
	switch {
	case !(p > 0):
		return c.State()
	case p >= b.PMax:
		return State{X: b.XMin, Y: b.YMax, P: b.PMax}
	case p <= b.PMin:
		return State{X: b.XMax, Y: b.YMin, P: b.PMin}
	}
	x := clamp(c.family.XAtPrice(c.k, p), b.XMin, b.XMax)
	return State{X: x, Y: c.family.Y(c.k, x), P: p}
}

// StateAtLogPrice is StateAtPrice for p = exp(lp). Searches that work in
// log-price use it to reach prices closer to one than a float64 p can
// represent.
func (c Curve) StateAtLogPrice(lp float64) State {
	b := c.bounds
	switch {
	case math.IsNaN(lp) || math.IsInf(lp, -1):
		return c.State()
	case lp >= math.Log(b.PMax):
		return State{X: b.XMin, Y: b.YMax, P: b.PMax}
	case lp <= math.Log(b.PMin):
		return State{X: b.XMax, Y: b.YMin, P: b.PMin}
	}
	x := clamp(c.family.XAtLogPrice(c.k, lp), b.XMin, b.XMax)
	return State{X: x, Y: c.family.Y(c.k, x), P: math.Exp(lp)}
}

// DeltaAtLogPrice is DeltaAtPrice for p = exp(lp).
func (c Curve) DeltaAtLogPrice(lp float64) (dx, dy float64) {
	s := c.StateAtLogPrice(lp)
	return s.X - c.x, s.Y - c.y
}

// DeltaAtPrice is StateAtPrice expressed as changes of the curve's
// holdings: positive values flow into the curve.
func (c Curve) DeltaAtPrice(p float64) (dx, dy float64) {
	s := c.StateAtPrice(p)
	return s.X - c.x, s.Y - c.y
}

// StateFromX returns the state at reference quantity x. The boolean is
// false when x lies outside [x_min, x_max] unless ignoreBounds is set.
func (c Curve) StateFromX(x float64, ignoreBounds bool) (State, bool) {
	if !(x > 0) {
		return State{}, false
	}
	if !ignoreBounds && !within(x, c.bounds.XMin, c.bounds.XMax) {
		return State{}, false
	}
	y := c.family.Y(c.k, x)
	return State{X: x, Y: y, P: c.family.Price(x, y)}, true
}

// StateFromY is StateFromX for the quote side.
func (c Curve) StateFromY(y float64, ignoreBounds bool) (State, bool) {
	if !(y > 0) {
		return State{}, false
	}
	if !ignoreBounds && !within(y, c.bounds.YMin, c.bounds.YMax) {
		return State{}, false
	}
	x := c.family.X(c.k, y)
	return State{X: x, Y: y, P: c.family.Price(x, y)}, true
}

// DeltaFromDX returns the dy matching a change dx of the curve's x.
func (c Curve) DeltaFromDX(dx float64, ignoreBounds bool) (float64, bool) {
	s, ok := c.StateFromX(c.x+dx, ignoreBounds)
	if !ok {
		return 0, false
	}
	return s.Y - c.y, true
}

// DeltaFromDY returns the dx matching a change dy of the curve's y.
func (c Curve) DeltaFromDY(dy float64, ignoreBounds bool) (float64, bool) {
	s, ok := c.StateFromY(c.y+dy, ignoreBounds)
	if !ok {
		return 0, false
	}
	return s.X - c.x, true
}

// ExecuteDX returns the curve after it received dx of the base token
// (negative dx: it paid out). The quote side moves along the invariant.
// A trade that drives actual holdings below zero fails with ErrBounds
// unless ignoreBounds is set; exhausting the virtual reserve always fails.
func (c Curve) ExecuteDX(dx float64, ignoreBounds bool) (Curve, error) {
	newX := c.x + dx
	if !(newX > 0) {
		return Curve{}, fmt.Errorf("%w: curve %s: dx=%g exhausts reserve x=%g", ErrBounds, c.id, dx, c.x)
	}
	return c.executed(newX, c.family.Y(c.k, newX), ignoreBounds)
}

// ExecuteDY is ExecuteDX for the quote side.
func (c Curve) ExecuteDY(dy float64, ignoreBounds bool) (Curve, error) {
	newY := c.y + dy
	if !(newY > 0) {
		return Curve{}, fmt.Errorf("%w: curve %s: dy=%g exhausts reserve y=%g", ErrBounds, c.id, dy, c.y)
	}
	return c.executed(c.family.X(c.k, newY), newY, ignoreBounds)
}

func (c Curve) executed(newX, newY float64, ignoreBounds bool) (Curve, error) {
	xAct := c.xAct + (newX - c.x)
	yAct := c.yAct + (newY - c.y)
	if !ignoreBounds {
		if xAct < -boundsEpsilon*c.x {
			return Curve{}, fmt.Errorf("%w: curve %s: x_act would become %g", ErrBounds, c.id, xAct)
		}
		if yAct < -boundsEpsilon*c.y {
			return Curve{}, fmt.Errorf("%w: curve %s: y_act would become %g", ErrBounds, c.id, yAct)
		}
		xAct = math.Max(xAct, 0)
		yAct = math.Max(yAct, 0)
	}
	next := c
	next.x, next.y = newX, newY
	next.xAct = math.Min(xAct, newX)
	next.yAct = math.Min(yAct, newY)
	if c.kind.unlevered() {
		next.xAct, next.yAct = newX, newY
	}
	next.meta = c.meta.clone()
	next.computeBounds()
	return next, nil
}

// Equal reports whether two curves are identical value for value.
func (c Curve) Equal(o Curve) bool {
	return c.id == o.id &&
		c.pair == o.pair &&
		c.kind == o.kind &&
		c.family == o.family &&
		c.k == o.k &&
		c.x == o.x &&
		c.y == o.y &&
		c.xAct == o.xAct &&
		c.yAct == o.yAct &&
		c.fee == o.fee &&
		c.meta.Equal(o.meta)
}

func (c *Curve) computeBounds() {
	b := Bounds{
		XMin: math.Max(c.x-c.xAct, 0),
		YMin: math.Max(c.y-c.yAct, 0),
		XMax: math.Inf(1),
		YMax: math.Inf(1),
		PMax: math.Inf(1),
	}
	if b.YMin > 0 {
		b.XMax = c.x
		if c.yAct > 0 {
			b.XMax = c.family.X(c.k, b.YMin)
		}
		b.PMin = c.family.Price(b.XMax, b.YMin)
	}
	if b.XMin > 0 {
		b.YMax = c.y
		if c.xAct > 0 {
			b.YMax = c.family.Y(c.k, b.XMin)
		}
		b.PMax = c.family.Price(b.XMin, b.YMax)
	}
	c.bounds = b
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func within(v, lo, hi float64) bool {
	return v >= lo*(1-boundsEpsilon) && v <= hi*(1+boundsEpsilon)
}
