// Package instructions turns optimizer results into directional trade
// instructions for the execution side, and aggregates them into a
// per-token flow table.
package instructions

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/curve-optimizer/internal/container"
	"github.com/atmx/curve-optimizer/internal/optimizer"
)

// Instruction is one curve's trade. Amounts are seen from the curve:
// AmountIn (> 0) of TokenIn enters it and AmountOut (< 0) of TokenOut
// leaves it. A problem with the trade is recorded in Error instead of
// failing the batch.
type Instruction struct {
	CurveID      string          `json:"cid"`
	Exchange     string          `json:"exchange,omitempty"`
	TokenIn      string          `json:"tkn_in"`
	AmountIn     float64         `json:"amt_in"`
	TokenOut     string          `json:"tkn_out"`
	AmountOut    float64         `json:"amt_out"`
	AmountInWei  decimal.Decimal `json:"amt_in_wei"`
	AmountOutWei decimal.Decimal `json:"amt_out_wei"`
	Error        string          `json:"error,omitempty"`
}

// OK reports whether the instruction passed validation.
func (i Instruction) OK() bool { return i.Error == "" }

// Validate checks the sign convention: a positive inflow and a negative
// outflow of two different tokens.
func (i Instruction) Validate() error {
	switch {
	case i.TokenIn == "" || i.TokenOut == "":
		return fmt.Errorf("curve %s: missing token", i.CurveID)
	case i.TokenIn == i.TokenOut:
		return fmt.Errorf("curve %s: token in and out are both %s", i.CurveID, i.TokenIn)
	case !(i.AmountIn > 0):
		return fmt.Errorf("curve %s: amount in must be positive, got %g", i.CurveID, i.AmountIn)
	case !(i.AmountOut < 0):
		return fmt.Errorf("curve %s: amount out must be negative, got %g", i.CurveID, i.AmountOut)
	}
	return nil
}

// Build converts the per-curve deltas of r into instructions. Curves that
// did not trade are skipped. Curve metadata from c supplies exchange names
// and token decimals; c may be nil.
func Build(r *optimizer.Result, c *container.Container) []Instruction {
	out := make([]Instruction, 0, len(r.Deltas))
	for _, d := range r.Deltas {
		if d.DX == 0 && d.DY == 0 {
			continue
		}
		var decX, decY int
		ins := Instruction{CurveID: d.CurveID}
		if c != nil {
			if cv, ok := c.ByID(d.CurveID); ok {
				meta := cv.Meta()
				ins.Exchange = meta.Exchange
				decX, decY = meta.DecimalsX, meta.DecimalsY
			}
		}
		decIn, decOut := decX, decY
		if d.DX > 0 || (d.DX == 0 && d.DY < 0) {
			ins.TokenIn, ins.AmountIn = d.Pair.Base, d.DX
			ins.TokenOut, ins.AmountOut = d.Pair.Quote, d.DY
		} else {
			ins.TokenIn, ins.AmountIn = d.Pair.Quote, d.DY
			ins.TokenOut, ins.AmountOut = d.Pair.Base, d.DX
			decIn, decOut = decY, decX
		}
		ins.AmountInWei = ToWei(ins.AmountIn, decIn, true)
		ins.AmountOutWei = ToWei(ins.AmountOut, decOut, false)
		if err := ins.Validate(); err != nil {
			ins.Error = err.Error()
		}
		out = append(out, ins)
	}
	return out
}

// ToWei converts a token amount to integer base units with the token's
// decimals. Amounts entering a curve round up and amounts leaving it round
// down, so executing the rounded trade never asks more of the curve.
func ToWei(amount float64, decimals int, roundUp bool) decimal.Decimal {
	v := decimal.NewFromFloat(amount).Shift(int32(decimals))
	if roundUp {
		return v.Ceil()
	}
	if v.IsNegative() {
		return v.Neg().Floor().Neg()
	}
	return v.Floor()
}

// Split separates valid instructions from the ones carrying an error.
func Split(instrs []Instruction) (ok, bad []Instruction) {
	for _, i := range instrs {
		if i.OK() {
			ok = append(ok, i)
		} else {
			bad = append(bad, i)
		}
	}
	return ok, bad
}
