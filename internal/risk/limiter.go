// Package risk limits how much of each token an instruction batch may
// route through curves before it is handed to execution.
//
// Exposure to a token is the total amount of it that must be delivered
// into curves. Correlated tokens (all USD stablecoins, ETH and its wrapped
// forms) are also capped as a group, valued in target units.
package risk

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/atmx/curve-optimizer/internal/instructions"
	"github.com/atmx/curve-optimizer/internal/pair"
)

var (
	// ErrTokenLimitExceeded is returned when a batch would deliver more of
	// a single token than its limit.
	ErrTokenLimitExceeded = errors.New("risk: per-token exposure limit exceeded")

	// ErrGroupLimitExceeded is returned when the combined value delivered
	// across a group of correlated tokens exceeds the group limit.
	ErrGroupLimitExceeded = errors.New("risk: correlated group exposure limit exceeded")
)

// ExposureLimiter enforces per-token and per-group exposure limits. Zero
// limits are disabled.
type ExposureLimiter struct {
	// TokenLimits caps the exposure of individual tokens, keyed by symbol.
	TokenLimits map[string]decimal.Decimal

	// DefaultTokenLimit applies to tokens missing from TokenLimits.
	DefaultTokenLimit decimal.Decimal

	// Groups maps a group name to the symbols it contains.
	Groups map[string][]string

	// GroupLimit caps the summed value, in target units, of each group.
	GroupLimit decimal.Decimal
}

// NewExposureLimiter creates a limiter. Symbols are matched case
// insensitively and without address suffixes.
func NewExposureLimiter(tokenLimits map[string]decimal.Decimal, groups map[string][]string, groupLimit decimal.Decimal) *ExposureLimiter {
	l := &ExposureLimiter{
		TokenLimits: make(map[string]decimal.Decimal, len(tokenLimits)),
		Groups:      make(map[string][]string, len(groups)),
		GroupLimit:  groupLimit,
	}
	for tkn, lim := range tokenLimits {
		l.TokenLimits[normalize(tkn)] = lim
	}
	for name, members := range groups {
		for _, m := range members {
			l.Groups[name] = append(l.Groups[name], normalize(m))
		}
	}
	return l
}

// Exposures returns the amount of each token delivered into curves by the
// valid instructions.
func Exposures(instrs []instructions.Instruction) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, i := range instrs {
		if !i.OK() {
			continue
		}
		out[i.TokenIn] = out[i.TokenIn].Add(decimal.NewFromFloat(i.AmountIn))
	}
	return out
}

// Check validates a batch. prices (in target units) value the group
// exposure; tokens without a price do not count towards their group.
func (l *ExposureLimiter) Check(instrs []instructions.Instruction, prices map[string]float64) error {
	exposures := Exposures(instrs)
	tokens := make([]string, 0, len(exposures))
	for tkn := range exposures {
		tokens = append(tokens, tkn)
	}
	slices.Sort(tokens)

	// 1. Per-token limit.
	for _, tkn := range tokens {
		limit, ok := l.TokenLimits[normalize(tkn)]
		if !ok {
			limit = l.DefaultTokenLimit
		}
		if limit.IsPositive() && exposures[tkn].GreaterThan(limit) {
			return fmt.Errorf("%w: %s exposure %s > %s", ErrTokenLimitExceeded, tkn, exposures[tkn], limit)
		}
	}

	// 2. Correlated group value.
	if !l.GroupLimit.IsPositive() {
		return nil
	}
	names := make([]string, 0, len(l.Groups))
	for name := range l.Groups {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		total := decimal.Zero
		for _, tkn := range tokens {
			p, ok := prices[tkn]
			if !ok || !slices.Contains(l.Groups[name], normalize(tkn)) {
				continue
			}
			total = total.Add(exposures[tkn].Mul(decimal.NewFromFloat(p)))
		}
		if total.GreaterThan(l.GroupLimit) {
			return fmt.Errorf("%w: group %s value %s > %s", ErrGroupLimitExceeded, name, total, l.GroupLimit)
		}
	}
	return nil
}

// normalize maps a token identifier to the upper-case symbol.
func normalize(tkn string) string {
	return strings.ToUpper(pair.Symbol(tkn))
}
