// Package pair handles token and pair identifiers and the primary
// (canonical) orientation used to de-duplicate reversed pairs.
//
// A pair is written BASE/QUOTE. Prices on a pair are always quoted as
// QUOTE per BASE, which matches the curve convention p = dy/dx where x is
// the base token and y the quote token.
package pair

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// pairRegex matches: {base}/{quote}
// Example: WETH-6Cc2/USDC-eB48
var pairRegex = regexp.MustCompile(`^([^/\s]+)/([^/\s]+)$`)

var (
	ErrInvalidPair = errors.New("pair: invalid pair format")
	ErrSameToken   = errors.New("pair: base and quote must differ")
)

// DefaultQuoteRanking orders token symbols by how strongly they prefer to
// be the quote side of a pair. Stablecoins outrank majors, majors outrank
// everything else.
var DefaultQuoteRanking = []string{
	"USDC", "USDT", "DAI", "TUSD", "BUSD", "LUSD", "FRAX", "USD",
	"WETH", "ETH", "WBTC", "BTC",
}

// Pair is a directed token pair.
type Pair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// New returns the directed pair base/quote.
func New(base, quote string) Pair {
	return Pair{Base: base, Quote: quote}
}

// Parse parses and validates a pair string.
// Format: {base}/{quote}
func Parse(s string) (Pair, error) {
	matches := pairRegex.FindStringSubmatch(strings.TrimSpace(s))
	if matches == nil {
		return Pair{}, fmt.Errorf("%w: %q (expected {base}/{quote})", ErrInvalidPair, s)
	}
	if matches[1] == matches[2] {
		return Pair{}, fmt.Errorf("%w: %q", ErrSameToken, s)
	}
	return Pair{Base: matches[1], Quote: matches[2]}, nil
}

// MustParse is Parse for literals; it panics on malformed input.
func MustParse(s string) Pair {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Pair) String() string { return p.Base + "/" + p.Quote }

// Reverse returns quote/base.
func (p Pair) Reverse() Pair { return Pair{Base: p.Quote, Quote: p.Base} }

// Contains reports whether tkn is either side of the pair.
func (p Pair) Contains(tkn string) bool { return p.Base == tkn || p.Quote == tkn }

// Other returns the token opposite tkn, or "" if tkn is not in the pair.
func (p Pair) Other(tkn string) string {
	switch tkn {
	case p.Base:
		return p.Quote
	case p.Quote:
		return p.Base
	}
	return ""
}

// Undirected returns an orientation-independent key for the pair.
func (p Pair) Undirected() Pair {
	if p.Base > p.Quote {
		return p.Reverse()
	}
	return p
}

// Symbol strips an address suffix from a token identifier:
// "WETH-6Cc2" -> "WETH".
func Symbol(token string) string {
	if i := strings.IndexByte(token, '-'); i > 0 {
		return token[:i]
	}
	return token
}

// Ranking decides the primary orientation of pairs.
type Ranking struct {
	rank map[string]int
}

// NewRanking builds a ranking from symbols listed best quote first.
// An empty list falls back to DefaultQuoteRanking.
func NewRanking(symbols []string) *Ranking {
	if len(symbols) == 0 {
		symbols = DefaultQuoteRanking
	}
	r := &Ranking{rank: make(map[string]int, len(symbols))}
	for i, s := range symbols {
		s = strings.ToUpper(s)
		if _, ok := r.rank[s]; !ok {
			r.rank[s] = i
		}
	}
	return r
}

func (r *Ranking) lookup(token string) (int, bool) {
	if r == nil {
		return 0, false
	}
	i, ok := r.rank[strings.ToUpper(Symbol(token))]
	return i, ok
}

// Primary returns the canonical orientation of p: the better-ranked token
// is the quote. When neither token is ranked, the lexicographically
// smaller identifier is the base.
func (r *Ranking) Primary(p Pair) Pair {
	bi, bok := r.lookup(p.Base)
	qi, qok := r.lookup(p.Quote)
	switch {
	case bok && qok:
		if bi < qi {
			return p.Reverse()
		}
		if bi == qi && p.Base > p.Quote {
			return p.Reverse()
		}
		return p
	case bok:
		return p.Reverse()
	case qok:
		return p
	}
	return p.Undirected()
}

// IsPrimary reports whether p already has the canonical orientation.
func (r *Ranking) IsPrimary(p Pair) bool {
	return r.Primary(p) == p
}
