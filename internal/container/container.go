// Package container holds collections of curves with the indices the
// optimizers and the price estimator query: by id, by directed pair and by
// token.
//
// A Container is immutable once built. Add and every filter return a new
// container, so one container can be handed to several concurrent
// optimizer runs without locking.
package container

import (
	"cmp"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strconv"

	"github.com/atmx/curve-optimizer/internal/curve"
	"github.com/atmx/curve-optimizer/internal/pair"
)

var (
	ErrDuplicateID  = errors.New("container: duplicate curve id")
	ErrNoPriceFound = errors.New("container: no price found")
	ErrUnknownCurve = errors.New("container: unknown curve id")
)

// Option customizes a container.
type Option func(*Container)

// WithRanking sets the quote ranking used for primary pair orientation.
func WithRanking(r *pair.Ranking) Option {
	return func(c *Container) { c.ranking = r }
}

// WithIntermediaries restricts triangulation to the given tokens. By
// default every other token in the container is tried.
func WithIntermediaries(tokens ...string) Option {
	return func(c *Container) { c.intermediaries = slices.Clone(tokens) }
}

// Container is an indexed, immutable set of curves.
type Container struct {
	curves         []curve.Curve
	byID           map[string]int
	byPair         map[pair.Pair][]int
	byToken        map[string][]int
	ranking        *pair.Ranking
	intermediaries []string
}

// New builds a container from curves. Curves without an id are given one
// derived from their position; an explicit id that collides fails with
// ErrDuplicateID.
func New(curves []curve.Curve, opts ...Option) (*Container, error) {
	c := &Container{
		byID:    make(map[string]int, len(curves)),
		byPair:  make(map[pair.Pair][]int),
		byToken: make(map[string][]int),
		ranking: pair.NewRanking(nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, cv := range curves {
		if err := c.append(cv); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Empty returns a container with no curves.
func Empty(opts ...Option) *Container {
	c, _ := New(nil, opts...)
	return c
}

// Add returns a new container holding the receiver's curves followed by
// curves. The receiver is not modified.
func (c *Container) Add(curves ...curve.Curve) (*Container, error) {
	next := c.derive(len(c.curves) + len(curves))
	for _, cv := range c.curves {
		next.index(cv)
	}
	for _, cv := range curves {
		if err := next.append(cv); err != nil {
			return nil, err
		}
	}
	return next, nil
}

// derive returns an empty container sharing the receiver's settings.
func (c *Container) derive(capacity int) *Container {
	return &Container{
		curves:         make([]curve.Curve, 0, capacity),
		byID:           make(map[string]int, capacity),
		byPair:         make(map[pair.Pair][]int),
		byToken:        make(map[string][]int),
		ranking:        c.ranking,
		intermediaries: c.intermediaries,
	}
}

func (c *Container) append(cv curve.Curve) error {
	if cv.ID() == "" {
		cv = cv.WithID(c.autoID())
	}
	if _, ok := c.byID[cv.ID()]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateID, cv.ID())
	}
	c.index(cv)
	return nil
}

func (c *Container) autoID() string {
	id := strconv.Itoa(len(c.curves))
	for n := 1; ; n++ {
		if _, ok := c.byID[id]; !ok {
			return id
		}
		id = strconv.Itoa(len(c.curves)) + "-" + strconv.Itoa(n)
	}
}

func (c *Container) index(cv curve.Curve) {
	i := len(c.curves)
	c.curves = append(c.curves, cv)
	c.byID[cv.ID()] = i
	c.byPair[cv.Pair()] = append(c.byPair[cv.Pair()], i)
	c.byToken[cv.TokenX()] = append(c.byToken[cv.TokenX()], i)
	c.byToken[cv.TokenY()] = append(c.byToken[cv.TokenY()], i)
}

// Len returns the number of curves.
func (c *Container) Len() int { return len(c.curves) }

// Curves returns a copy of the curves in insertion order.
func (c *Container) Curves() []curve.Curve { return slices.Clone(c.curves) }

// All iterates over the curves in insertion order.
func (c *Container) All() iter.Seq[curve.Curve] {
	return func(yield func(curve.Curve) bool) {
		for _, cv := range c.curves {
			if !yield(cv) {
				return
			}
		}
	}
}

// Ranking returns the quote ranking used for primary orientation.
func (c *Container) Ranking() *pair.Ranking { return c.ranking }

// ByID returns the curve with the given id.
func (c *Container) ByID(id string) (curve.Curve, bool) {
	i, ok := c.byID[id]
	if !ok {
		return curve.Curve{}, false
	}
	return c.curves[i], true
}

// Equal reports whether both containers hold equal curves in the same order.
func (c *Container) Equal(o *Container) bool {
	return slices.EqualFunc(c.curves, o.curves, curve.Curve.Equal)
}

// Pairs returns the distinct pairs in the container, sorted. With primary
// set, reversed duplicates collapse onto their primary orientation.
func (c *Container) Pairs(primary bool) []pair.Pair {
	seen := make(map[pair.Pair]struct{}, len(c.byPair))
	for p := range c.byPair {
		if primary {
			p = c.ranking.Primary(p)
		}
		seen[p] = struct{}{}
	}
	out := make([]pair.Pair, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	slices.SortFunc(out, comparePairs)
	return out
}

// Tokens returns the distinct tokens in the container, sorted.
func (c *Container) Tokens() []string {
	out := make([]string, 0, len(c.byToken))
	for t := range c.byToken {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Exchanges returns the distinct non-empty exchange names, sorted.
func (c *Container) Exchanges() []string {
	seen := make(map[string]struct{})
	for _, cv := range c.curves {
		if ex := cv.Meta().Exchange; ex != "" {
			seen[ex] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for ex := range seen {
		out = append(out, ex)
	}
	slices.Sort(out)
	return out
}

func comparePairs(a, b pair.Pair) int {
	return cmp.Or(cmp.Compare(a.Base, b.Base), cmp.Compare(a.Quote, b.Quote))
}
