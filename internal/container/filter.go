package container

import (
	"fmt"

	"github.com/atmx/curve-optimizer/internal/curve"
	"github.com/atmx/curve-optimizer/internal/pair"
)

// subset returns a container over the curves at idx, in the given order.
func (c *Container) subset(idx []int) *Container {
	next := c.derive(len(idx))
	for _, i := range idx {
		next.index(c.curves[i])
	}
	return next
}

// FilterFunc returns the curves for which keep returns true.
func (c *Container) FilterFunc(keep func(curve.Curve) bool) *Container {
	var idx []int
	for i, cv := range c.curves {
		if keep(cv) {
			idx = append(idx, i)
		}
	}
	return c.subset(idx)
}

// FilterByIDs returns the curves whose id is listed. Unknown ids are
// ignored; use Select to fail on them.
func (c *Container) FilterByIDs(ids ...string) *Container {
	idx := make([]int, 0, len(ids))
	seen := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		i, ok := c.byID[id]
		if !ok {
			continue
		}
		if _, dup := seen[i]; dup {
			continue
		}
		seen[i] = struct{}{}
		idx = append(idx, i)
	}
	return c.subset(idx)
}

// Select is FilterByIDs that fails with ErrUnknownCurve on a missing id.
func (c *Container) Select(ids ...string) (*Container, error) {
	for _, id := range ids {
		if _, ok := c.byID[id]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCurve, id)
		}
	}
	return c.FilterByIDs(ids...), nil
}

// FilterByPair returns the curves on p. When directed is false, curves on
// the reversed pair are included too.
func (c *Container) FilterByPair(p pair.Pair, directed bool) *Container {
	if directed {
		return c.subset(c.byPair[p])
	}
	rev := p.Reverse()
	return c.FilterFunc(func(cv curve.Curve) bool {
		return cv.Pair() == p || cv.Pair() == rev
	})
}

// FilterByToken returns the curves that trade tkn on either side.
func (c *Container) FilterByToken(tkn string) *Container {
	return c.subset(c.byToken[tkn])
}

// FilterByTokens returns the curves whose both tokens are in tokens.
func (c *Container) FilterByTokens(tokens ...string) *Container {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return c.FilterFunc(func(cv curve.Curve) bool {
		_, okx := set[cv.TokenX()]
		_, oky := set[cv.TokenY()]
		return okx && oky
	})
}

// FilterByMetadata returns the curves whose metadata has value under key.
func (c *Container) FilterByMetadata(key, value string) *Container {
	return c.FilterFunc(func(cv curve.Curve) bool {
		v, ok := cv.Meta().Get(key)
		return ok && v == value
	})
}

// FilterByKind returns the curves of the given kinds.
func (c *Container) FilterByKind(kinds ...curve.Kind) *Container {
	return c.FilterFunc(func(cv curve.Curve) bool {
		for _, k := range kinds {
			if cv.Kind() == k {
				return true
			}
		}
		return false
	})
}

// Without returns the container minus the curves with the given ids.
func (c *Container) Without(ids ...string) *Container {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	return c.FilterFunc(func(cv curve.Curve) bool {
		_, ok := drop[cv.ID()]
		return !ok
	})
}
