package instructions

import (
	"slices"
)

// Summary row labels of a FlowTable, in the order they are appended.
const (
	RowPrice  = "PRICE"
	RowAMMIn  = "AMMIn"
	RowAMMOut = "AMMOut"
	RowNet    = "TOTAL NET"
)

// FlowRow is one row of a FlowTable keyed by token.
type FlowRow struct {
	Label string             `json:"label"`
	Flows map[string]float64 `json:"flows"`
}

// FlowTable is the per-token view of a set of instructions: one row per
// instruction followed by the summary rows PRICE, AMMIn, AMMOut and
// TOTAL NET. TOTAL NET is near zero for every token but the target.
type FlowTable struct {
	Tokens []string  `json:"tokens"`
	Rows   []FlowRow `json:"rows"`
}

// Table aggregates valid instructions. prices (in target units) fills the
// PRICE row; tokens without a price are left out of it.
func Table(instrs []Instruction, prices map[string]float64) FlowTable {
	var t FlowTable
	in := make(map[string]float64)
	outflow := make(map[string]float64)
	net := make(map[string]float64)
	for _, i := range instrs {
		if !i.OK() {
			continue
		}
		t.Rows = append(t.Rows, FlowRow{
			Label: i.CurveID,
			Flows: map[string]float64{i.TokenIn: i.AmountIn, i.TokenOut: i.AmountOut},
		})
		in[i.TokenIn] += i.AmountIn
		outflow[i.TokenOut] += i.AmountOut
		net[i.TokenIn] += i.AmountIn
		net[i.TokenOut] += i.AmountOut
	}
	for tkn := range net {
		t.Tokens = append(t.Tokens, tkn)
	}
	slices.Sort(t.Tokens)

	priceRow := make(map[string]float64, len(t.Tokens))
	for _, tkn := range t.Tokens {
		if p, ok := prices[tkn]; ok {
			priceRow[tkn] = p
		}
	}
	t.Rows = append(t.Rows,
		FlowRow{Label: RowPrice, Flows: priceRow},
		FlowRow{Label: RowAMMIn, Flows: in},
		FlowRow{Label: RowAMMOut, Flows: outflow},
		FlowRow{Label: RowNet, Flows: net},
	)
	return t
}

// Row returns the row with the given label.
func (t FlowTable) Row(label string) (FlowRow, bool) {
	for _, r := range t.Rows {
		if r.Label == label {
			return r, true
		}
	}
	return FlowRow{}, false
}

// Net returns the TOTAL NET row.
func (t FlowTable) Net() map[string]float64 {
	r, _ := t.Row(RowNet)
	return r.Flows
}
