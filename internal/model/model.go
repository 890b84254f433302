// Package model defines the persisted records shared by the store and the
// HTTP layer. Token amounts that leave the optimizer are decimals here;
// the float64 math stays inside the optimizer packages.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Run is an immutable record of one optimizer invocation. Once stored it
// is never modified.
type Run struct {
	ID         string                     `json:"id" db:"id"`
	Target     string                     `json:"target" db:"target"`
	Method     string                     `json:"method" db:"method"`
	Status     string                     `json:"status" db:"status"` // "converged", "stalled", "diverged"
	Error      string                     `json:"error,omitempty" db:"error"`
	Profit     decimal.Decimal            `json:"profit" db:"profit"` // target token extracted
	Prices     map[string]decimal.Decimal `json:"prices" db:"prices"`
	CurveIDs   []string                   `json:"curve_ids" db:"curve_ids"`
	Removed    []string                   `json:"removed,omitempty" db:"removed"` // wrong-direction orders
	Iterations int                        `json:"iterations" db:"iterations"`
	ElapsedMS  int64                      `json:"elapsed_ms" db:"elapsed_ms"`
	DualityGap float64                    `json:"duality_gap,omitempty" db:"duality_gap"`
	CreatedAt  time.Time                  `json:"created_at" db:"created_at"`

	Instructions []RunInstruction `json:"instructions"`
}

// Converged reports whether the run ended in the converged state.
func (r *Run) Converged() bool { return r.Status == "converged" }

// RunInstruction is one curve's trade within a run. Amounts are seen from
// the curve: AmountIn enters it, AmountOut (negative) leaves it.
type RunInstruction struct {
	RunID        string          `json:"run_id" db:"run_id"`
	Seq          int             `json:"seq" db:"seq"`
	CurveID      string          `json:"cid" db:"curve_id"`
	Exchange     string          `json:"exchange,omitempty" db:"exchange"`
	TokenIn      string          `json:"tkn_in" db:"token_in"`
	AmountIn     decimal.Decimal `json:"amt_in" db:"amount_in"`
	TokenOut     string          `json:"tkn_out" db:"token_out"`
	AmountOut    decimal.Decimal `json:"amt_out" db:"amount_out"`
	AmountInWei  decimal.Decimal `json:"amt_in_wei" db:"amount_in_wei"`
	AmountOutWei decimal.Decimal `json:"amt_out_wei" db:"amount_out_wei"`
	Error        string          `json:"error,omitempty" db:"error"`
}

// RunFilter narrows a run listing. Zero values match everything; Limit
// <= 0 means no limit.
type RunFilter struct {
	Target string
	Method string
	Limit  int
}

// Match reports whether r passes the filter, ignoring Limit.
func (f RunFilter) Match(r *Run) bool {
	return (f.Target == "" || f.Target == r.Target) &&
		(f.Method == "" || f.Method == r.Method)
}
