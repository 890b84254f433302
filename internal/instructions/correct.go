package instructions

import (
	"fmt"
	"slices"

	"github.com/atmx/curve-optimizer/internal/container"
	"github.com/atmx/curve-optimizer/internal/curve"
	"github.com/atmx/curve-optimizer/internal/optimizer"
	"github.com/atmx/curve-optimizer/internal/pair"
)

// Correction is the outcome of CorrectDirection.
type Correction struct {
	Result       *optimizer.Result
	Instructions []Instruction
	Curves       *container.Container
	Removed      []string
	Passes       int
}

// WrongDirection returns the one-sided orders in instrs that trade the
// same way as the other curves on their pair. On a pair, the non-order
// curves take in some token on balance; an order taking in that same
// token cannot be part of a consistent solution.
func WrongDirection(instrs []Instruction, c *container.Container) []string {
	type side struct {
		baseIn float64
		orders []Instruction
	}
	pairs := make(map[pair.Pair]*side)
	for _, i := range instrs {
		if !i.OK() {
			continue
		}
		cv, ok := c.ByID(i.CurveID)
		if !ok {
			continue
		}
		p := cv.Pair().Undirected()
		s := pairs[p]
		if s == nil {
			s = &side{}
			pairs[p] = s
		}
		if cv.Kind() == curve.KindOneSided {
			s.orders = append(s.orders, i)
			continue
		}
		if i.TokenIn == p.Base {
			s.baseIn += i.AmountIn
		} else {
			s.baseIn += i.AmountOut
		}
	}

	var wrong []string
	for p, s := range pairs {
		if s.baseIn == 0 {
			continue
		}
		netIn := p.Base
		if s.baseIn < 0 {
			netIn = p.Quote
		}
		for _, o := range s.orders {
			if o.TokenIn == netIn {
				wrong = append(wrong, o.CurveID)
			}
		}
	}
	slices.Sort(wrong)
	return wrong
}

// CorrectDirection optimizes c, removes wrong-direction orders and
// optimizes again until no order is removed. maxPasses bounds the number
// of optimizer runs; zero means one per curve.
func CorrectDirection(opt optimizer.Optimizer, c *container.Container, target string, maxPasses int) (*Correction, error) {
	if maxPasses <= 0 {
		maxPasses = c.Len() + 1
	}
	corr := &Correction{Curves: c}
	for corr.Passes < maxPasses {
		r, err := opt.Optimize(corr.Curves, target)
		if err != nil {
			return nil, fmt.Errorf("pass %d: %w", corr.Passes+1, err)
		}
		corr.Passes++
		corr.Result = r
		corr.Instructions = Build(r, corr.Curves)
		wrong := WrongDirection(corr.Instructions, corr.Curves)
		if len(wrong) == 0 {
			return corr, nil
		}
		corr.Removed = append(corr.Removed, wrong...)
		corr.Curves = corr.Curves.Without(wrong...)
	}
	return corr, nil
}
