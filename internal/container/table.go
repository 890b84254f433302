package container

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/atmx/curve-optimizer/internal/curve"
)

// TableColumns is the fixed column order of Table. FromTable locates
// columns by name, so tables with reordered columns are accepted too.
var TableColumns = []string{
	"cid", "kind", "pair", "k", "x", "y", "x_act", "y_act", "alpha", "fee",
	curve.MetaExchange, curve.MetaTokenXAddr, curve.MetaTokenYAddr,
	curve.MetaDecimalsX, curve.MetaDecimalsY, curve.MetaBlock,
	curve.MetaStrategyID, curve.MetaDescr, "extras",
}

// Table is the tabular (rows by named columns) form of a container. Floats
// use the shortest representation that parses back to the same value.
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Records returns the record form of every curve in order.
func (c *Container) Records() []curve.Record {
	out := make([]curve.Record, len(c.curves))
	for i, cv := range c.curves {
		out[i] = cv.Record()
	}
	return out
}

// FromRecords builds a container from records. The first invalid record
// aborts with its index in the error.
func FromRecords(recs []curve.Record, opts ...Option) (*Container, error) {
	curves := make([]curve.Curve, len(recs))
	for i, r := range recs {
		cv, err := curve.FromRecord(r)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		curves[i] = cv
	}
	return New(curves, opts...)
}

// Table returns the tabular form of the container.
func (c *Container) Table() Table {
	t := Table{Columns: TableColumns, Rows: make([][]string, len(c.curves))}
	for i, cv := range c.curves {
		t.Rows[i] = recordRow(cv.Record())
	}
	return t
}

func recordRow(r curve.Record) []string {
	extras := ""
	if len(r.Meta.Extras) > 0 {
		b, _ := json.Marshal(r.Meta.Extras)
		extras = string(b)
	}
	return []string{
		r.ID, r.Kind, r.Pair,
		formatFloat(r.K), formatFloat(r.X), formatFloat(r.Y),
		formatFloat(r.XAct), formatFloat(r.YAct),
		formatFloat(r.Alpha), formatFloat(r.Fee),
		r.Meta.Exchange, r.Meta.TokenXAddr, r.Meta.TokenYAddr,
		strconv.Itoa(r.Meta.DecimalsX), strconv.Itoa(r.Meta.DecimalsY),
		strconv.FormatUint(r.Meta.Block, 10),
		r.Meta.StrategyID, r.Meta.Descr, extras,
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// FromTable builds a container from its tabular form.
func FromTable(t Table, opts ...Option) (*Container, error) {
	col := make(map[string]int, len(t.Columns))
	for i, name := range t.Columns {
		col[name] = i
	}
	for _, name := range []string{"kind", "pair", "k", "x", "y", "x_act", "y_act"} {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("%w: table is missing column %q", curve.ErrValidation, name)
		}
	}
	recs := make([]curve.Record, len(t.Rows))
	for i, row := range t.Rows {
		r, err := rowRecord(row, col)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		recs[i] = r
	}
	return FromRecords(recs, opts...)
}

// rowReader pulls typed cells out of one row, remembering the first error.
type rowReader struct {
	row []string
	col map[string]int
	err error
}

func (rr *rowReader) str(name string) string {
	i, ok := rr.col[name]
	if !ok || i >= len(rr.row) {
		return ""
	}
	return rr.row[i]
}

func (rr *rowReader) float(name string) float64 {
	s := rr.str(name)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil && rr.err == nil {
		rr.err = fmt.Errorf("%w: column %s: %v", curve.ErrValidation, name, err)
	}
	return f
}

func (rr *rowReader) uint(name string) uint64 {
	s := rr.str(name)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil && rr.err == nil {
		rr.err = fmt.Errorf("%w: column %s: %v", curve.ErrValidation, name, err)
	}
	return v
}

func rowRecord(row []string, col map[string]int) (curve.Record, error) {
	rr := &rowReader{row: row, col: col}
	r := curve.Record{
		ID:    rr.str("cid"),
		Kind:  rr.str("kind"),
		Pair:  rr.str("pair"),
		K:     rr.float("k"),
		X:     rr.float("x"),
		Y:     rr.float("y"),
		XAct:  rr.float("x_act"),
		YAct:  rr.float("y_act"),
		Alpha: rr.float("alpha"),
		Fee:   rr.float("fee"),
		Meta: curve.Metadata{
			Exchange:   rr.str(curve.MetaExchange),
			TokenXAddr: rr.str(curve.MetaTokenXAddr),
			TokenYAddr: rr.str(curve.MetaTokenYAddr),
			DecimalsX:  int(rr.uint(curve.MetaDecimalsX)),
			DecimalsY:  int(rr.uint(curve.MetaDecimalsY)),
			Block:      rr.uint(curve.MetaBlock),
			StrategyID: rr.str(curve.MetaStrategyID),
			Descr:      rr.str(curve.MetaDescr),
		},
	}
	if extras := rr.str("extras"); extras != "" {
		if err := json.Unmarshal([]byte(extras), &r.Meta.Extras); err != nil {
			return curve.Record{}, fmt.Errorf("%w: column extras: %v", curve.ErrValidation, err)
		}
	}
	return r, rr.err
}
