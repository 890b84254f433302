package optimizer

import (
	"errors"
	"fmt"

	"github.com/atmx/curve-optimizer/internal/container"
)

// Method names accepted by New.
const (
	MethodMarginalPrice = "margp"
	MethodPairBisection = "bisection"
	MethodConvex        = "convex"
)

var ErrUnknownMethod = errors.New("optimizer: unknown method")

// New returns the strategy registered under method.
func New(method string, cfg Config) (Optimizer, error) {
	switch method {
	case MethodMarginalPrice, "":
		return NewMarginalPrice(cfg), nil
	case MethodPairBisection:
		return NewPairBisection(cfg), nil
	case MethodConvex:
		return NewConvex(cfg, nil), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
}

// Fallback runs Primary and, only when its result did not converge,
// Secondary on the same input. The converged secondary result replaces
// the primary one; otherwise the primary result is returned with the
// secondary's failure appended to its error.
type Fallback struct {
	Primary   Optimizer
	Secondary Optimizer
}

var _ Optimizer = Fallback{}

func (f Fallback) Name() string { return f.Primary.Name() + "+" + f.Secondary.Name() }

func (f Fallback) Optimize(c *container.Container, target string) (*Result, error) {
	r, err := f.Primary.Optimize(c, target)
	if err != nil || r.Converged() {
		return r, err
	}
	r2, err := f.Secondary.Optimize(c, target)
	switch {
	case err != nil:
		r.Error = fmt.Sprintf("%s; %s fallback: %v", r.Error, f.Secondary.Name(), err)
		return r, nil
	case !r2.Converged():
		r.Error = fmt.Sprintf("%s; %s fallback: %s", r.Error, f.Secondary.Name(), r2.Error)
		return r, nil
	}
	r2.Iterations += r.Iterations
	r2.Elapsed += r.Elapsed
	return r2, nil
}
