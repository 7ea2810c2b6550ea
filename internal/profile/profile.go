// Package profile summarizes frame columns: missing and distinct counts for
// every column, plus numeric bounds and moments for quantitative ones.
package profile

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aclements/go-moremath/stats"

	"bifrost/internal/coltype"
	"bifrost/internal/frame"
)

// DistinctCap bounds distinct counting per column. Once reached the column
// is reported as capped and its value set is dropped.
const DistinctCap = 10000

// Column is the profile of one column.
//
// Present counts rows where the column has a value; it is the denominator
// of Ratio, not the frame length.
type Column struct {
	Name     string           `json:"name"`
	DType    string           `json:"dtype"`
	Type     coltype.Semantic `json:"type"`
	Present  int              `json:"present"`
	Missing  int              `json:"missing"`
	Distinct int              `json:"distinct"`
	Capped   bool             `json:"capped"`

	// Set for quantitative columns with at least one value.
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
	Mean   *float64 `json:"mean,omitempty"`
	StdDev *float64 `json:"stddev,omitempty"`
}

// Ratio is Distinct/Present, or 0 for a column without values.
func (c Column) Ratio() float64 {
	if c.Present == 0 {
		return 0
	}
	return float64(c.Distinct) / float64(c.Present)
}

// Report is a whole-frame profile in column order.
type Report struct {
	Rows    int      `json:"rows"`
	Columns []Column `json:"columns"`
}

// Profile scans every row of f.
func Profile(f *frame.Frame) Report {
	types := coltype.ClassifyFrame(f)
	rep := Report{Rows: f.Len(), Columns: make([]Column, 0, f.Width())}
	for _, col := range f.Columns() {
		t, _ := types.Get(col.Name)
		pc := Column{Name: col.Name, DType: col.DType, Type: t}

		seen := make(map[string]struct{})
		var xs []float64
		for _, v := range col.Values {
			if frame.Missing(v) {
				pc.Missing++
				continue
			}
			pc.Present++
			if t == coltype.Quantitative {
				if x, ok := Number(v); ok {
					xs = append(xs, x)
				}
			}
			if pc.Capped {
				continue
			}
			seen[key(v)] = struct{}{}
			if len(seen) >= DistinctCap {
				pc.Capped = true
				seen = nil
			}
		}
		if pc.Capped {
			pc.Distinct = DistinctCap
		} else {
			pc.Distinct = len(seen)
		}

		if len(xs) > 0 {
			s := stats.Sample{Xs: xs}
			lo, hi := s.Bounds()
			mean := s.Mean()
			pc.Min, pc.Max, pc.Mean = &lo, &hi, &mean
			if len(xs) > 1 {
				sd := s.StdDev()
				pc.StdDev = &sd
			}
		}
		rep.Columns = append(rep.Columns, pc)
	}
	return rep
}

// Bounds returns [min, max] for every quantitative column of types that
// has a numeric value in recs.
func Bounds(recs []frame.Record, types coltype.Map) map[string][2]float64 {
	out := make(map[string][2]float64)
	for _, name := range types.Columns {
		if t, _ := types.Get(name); t != coltype.Quantitative {
			continue
		}
		var xs []float64
		for _, r := range recs {
			if x, ok := Number(r[name]); ok {
				xs = append(xs, x)
			}
		}
		if len(xs) == 0 {
			continue
		}
		lo, hi := stats.Bounds(xs)
		out[name] = [2]float64{lo, hi}
	}
	return out
}

// Number reports v as a float64 when it is a non-missing number.
func Number(v any) (float64, bool) {
	var x float64
	switch t := v.(type) {
	case int64:
		x = float64(t)
	case int:
		x = float64(t)
	case float64:
		x = t
	default:
		return 0, false
	}
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, false
	}
	return x, true
}

func key(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Format renders rep as a tab-separated table, least unique columns first.
func Format(rep Report) string {
	if rep.Rows == 0 {
		return "profile: no rows"
	}
	cols := append([]Column(nil), rep.Columns...)
	sort.SliceStable(cols, func(i, j int) bool {
		if cols[i].Ratio() == cols[j].Ratio() {
			return cols[i].Name < cols[j].Name
		}
		return cols[i].Ratio() < cols[j].Ratio()
	})

	var b strings.Builder
	fmt.Fprintf(&b, "profile:\trows=%d\n", rep.Rows)
	fmt.Fprintf(&b, "%-15s\t%-12s\t%-7s\t%-7s\tratio\tcapped\trange\n", "col", "type", "unique", "missing")
	for _, c := range cols {
		rng := "-"
		if c.Min != nil {
			rng = fmt.Sprintf("[%g, %g]", *c.Min, *c.Max)
		}
		fmt.Fprintf(&b, "%-15s\t%-12s\t%-7d\t%-7d\t%.1f%%\t%t\t%s\n",
			c.Name, c.Type, c.Distinct, c.Missing, c.Ratio()*100, c.Capped, rng)
	}
	return strings.TrimRight(b.String(), "\n")
}
