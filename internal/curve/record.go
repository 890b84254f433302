package curve

import (
	"fmt"

	"github.com/atmx/curve-optimizer/internal/pair"
)

// Record is the plain structured form of a curve exchanged with snapshot
// collaborators. FromRecord(c.Record()) reproduces c exactly.
type Record struct {
	ID    string   `json:"cid"`
	Kind  string   `json:"kind"`
	Pair  string   `json:"pair"`
	K     float64  `json:"k"`
	X     float64  `json:"x"`
	Y     float64  `json:"y"`
	XAct  float64  `json:"x_act"`
	YAct  float64  `json:"y_act"`
	Alpha float64  `json:"alpha"`
	Fee   float64  `json:"fee"`
	Meta  Metadata `json:"meta"`
}

// Record returns the structured form of the curve.
func (c Curve) Record() Record {
	return Record{
		ID:    c.id,
		Kind:  c.kind.String(),
		Pair:  c.pair.String(),
		K:     c.k,
		X:     c.x,
		Y:     c.y,
		XAct:  c.xAct,
		YAct:  c.yAct,
		Alpha: c.family.Alpha(),
		Fee:   c.fee,
		Meta:  c.meta.clone(),
	}
}

// FromRecord rebuilds a curve from its structured form, validating that k
// matches the family invariant at (x, y).
func FromRecord(r Record) (Curve, error) {
	p, err := pair.Parse(r.Pair)
	if err != nil {
		return Curve{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	kind, err := ParseKind(r.Kind)
	if err != nil {
		return Curve{}, err
	}
	var fam Family
	switch kind {
	case KindWeighted:
		if !(r.Alpha > 0 && r.Alpha < 1) {
			return Curve{}, fmt.Errorf("%w: alpha must lie in (0,1), got %g", ErrValidation, r.Alpha)
		}
		fam = Weighted{A: r.Alpha}
	case KindStable:
		fam = Stable{}
	default:
		fam = Symmetric{}
	}
	return build(p, kind, fam, r.K, r.X, r.Y, r.XAct, r.YAct, []Option{
		WithID(r.ID),
		WithFee(r.Fee),
		WithMeta(r.Meta),
	})
}
