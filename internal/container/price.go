package container

import (
	"errors"
	"fmt"
	"math"

	"github.com/atmx/curve-optimizer/internal/pair"
)

// PriceEstimate returns the price of base in units of quote.
//
// Curves on the pair (either orientation) contribute the log of their
// marginal price weighted by depth, so the estimate of quote/base is the
// exact reciprocal of base/quote. Curves at a boundary are only used when
// nothing else is available. Without a direct curve the price is
// triangulated through every intermediary m as price(base/m) /
// price(quote/m), and the routes are averaged in log-price.
func (c *Container) PriceEstimate(base, quote string) (float64, error) {
	if base == quote {
		return 1, nil
	}
	if p, ok := c.directPrice(base, quote); ok {
		return p, nil
	}
	if p, ok := c.triangulate(base, quote); ok {
		return p, nil
	}
	return 0, fmt.Errorf("%w: %s/%s", ErrNoPriceFound, base, quote)
}

// PriceEstimates prices every token in bases against quote. With strict
// set, the first unpriceable token fails the call with ErrNoPriceFound;
// otherwise it is left out of the map and reported in missing.
func (c *Container) PriceEstimates(bases []string, quote string, strict bool) (map[string]float64, []pair.Pair, error) {
	prices := make(map[string]float64, len(bases))
	var missing []pair.Pair
	for _, b := range bases {
		p, err := c.PriceEstimate(b, quote)
		if errors.Is(err, ErrNoPriceFound) {
			if strict {
				return nil, nil, err
			}
			missing = append(missing, pair.New(b, quote))
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		prices[b] = p
	}
	return prices, missing, nil
}

func (c *Container) directPrice(base, quote string) (float64, bool) {
	idx := append(append([]int(nil), c.byPair[pair.New(base, quote)]...), c.byPair[pair.New(quote, base)]...)
	if len(idx) == 0 {
		return 0, false
	}
	if p, ok := c.weightedPrice(base, idx, false); ok {
		return p, true
	}
	return c.weightedPrice(base, idx, true)
}

func (c *Container) weightedPrice(base string, idx []int, includeBoundary bool) (float64, bool) {
	var sum, weight float64
	for _, i := range idx {
		cv := c.curves[i]
		if !includeBoundary && cv.IsAtBoundary() {
			continue
		}
		lp := math.Log(cv.Price())
		if cv.TokenX() != base {
			lp = -lp
		}
		w := cv.Depth()
		if !(w > 0) || math.IsInf(lp, 0) || math.IsNaN(lp) {
			continue
		}
		sum += w * lp
		weight += w
	}
	if !(weight > 0) {
		return 0, false
	}
	return math.Exp(sum / weight), true
}

func (c *Container) triangulate(base, quote string) (float64, bool) {
	via := c.intermediaries
	if len(via) == 0 {
		via = c.Tokens()
	}
	var sum float64
	var n int
	for _, m := range via {
		if m == base || m == quote {
			continue
		}
		pb, ok := c.directPrice(base, m)
		if !ok {
			continue
		}
		pq, ok := c.directPrice(quote, m)
		if !ok || !(pq > 0) {
			continue
		}
		sum += math.Log(pb / pq)
		n++
	}
	if n == 0 {
		return 0, false
	}
	return math.Exp(sum / float64(n)), true
}
