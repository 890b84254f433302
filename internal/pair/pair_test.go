package pair

import (
	"errors"
	"testing"
)

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		input string
		base  string
		quote string
	}{
		{"ETH/USDC", "ETH", "USDC"},
		{"WETH-6Cc2/USDC-eB48", "WETH-6Cc2", "USDC-eB48"},
		{"  LINK/DAI ", "LINK", "DAI"},
	}
	for _, tt := range tests {
		p, err := Parse(tt.input)
		if err != nil {
			t.Fatalf("Parse(%q): unexpected error: %v", tt.input, err)
		}
		if p.Base != tt.base || p.Quote != tt.quote {
			t.Errorf("Parse(%q) = %v, want %s/%s", tt.input, p, tt.base, tt.quote)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []string{"", "ETH", "ETH/", "/USDC", "ETH/USDC/DAI", "ETH USDC"}
	for _, input := range tests {
		if _, err := Parse(input); !errors.Is(err, ErrInvalidPair) {
			t.Errorf("Parse(%q): expected ErrInvalidPair, got %v", input, err)
		}
	}
}

func TestParse_SameToken(t *testing.T) {
	if _, err := Parse("ETH/ETH"); !errors.Is(err, ErrSameToken) {
		t.Errorf("expected ErrSameToken, got %v", err)
	}
}

func TestPair_OtherAndReverse(t *testing.T) {
	p := New("ETH", "USDC")
	if p.Other("ETH") != "USDC" || p.Other("USDC") != "ETH" || p.Other("DAI") != "" {
		t.Errorf("Other returned unexpected values for %v", p)
	}
	if p.Reverse() != New("USDC", "ETH") {
		t.Errorf("Reverse() = %v", p.Reverse())
	}
	if p.Undirected() != p.Reverse().Undirected() {
		t.Error("Undirected should not depend on orientation")
	}
}

func TestRanking_Primary(t *testing.T) {
	r := NewRanking(nil)
	tests := []struct {
		in   Pair
		want Pair
	}{
		{New("USDC", "ETH"), New("ETH", "USDC")},
		{New("ETH", "USDC"), New("ETH", "USDC")},
		{New("WETH-6Cc2", "USDT-1ec7"), New("WETH-6Cc2", "USDT-1ec7")},
		{New("DAI", "LINK"), New("LINK", "DAI")},
		{New("ZRX", "AAVE"), New("AAVE", "ZRX")},
		{New("WBTC", "WETH"), New("WBTC", "WETH")},
	}
	for _, tt := range tests {
		if got := r.Primary(tt.in); got != tt.want {
			t.Errorf("Primary(%v) = %v, want %v", tt.in, got, tt.want)
		}
		if !r.IsPrimary(tt.want) {
			t.Errorf("IsPrimary(%v) should be true", tt.want)
		}
	}
}

func TestSymbol(t *testing.T) {
	if Symbol("WETH-6Cc2") != "WETH" || Symbol("ETH") != "ETH" {
		t.Error("Symbol should strip the address suffix")
	}
}
