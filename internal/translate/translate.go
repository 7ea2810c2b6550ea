// Package translate turns a chart spec edited in the front end into SQL that
// applies the same filters and aggregates to the full dataset.
//
// Generated code reads from the placeholder table $df. Bind substitutes a
// real table name; Export additionally stores the result in an output table.
package translate

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"bifrost/internal/vega"
)

// Placeholder is the table name generated code reads from.
const Placeholder = "$df"

var (
	ErrUnsupportedAggregate = errors.New("translate: unsupported aggregate")
	ErrUnsupportedValue     = errors.New("translate: unsupported filter value")
)

// aggregate describes how one vega aggregate becomes a column.
type aggregate struct {
	suffix string
	// expr renders the aggregate over field q; over is the OVER clause.
	expr func(q, over string) string
	// distinct aggregates cannot be windowed and use a correlated subquery.
	distinct bool
}

var aggregates = map[string]aggregate{
	"count":     {suffix: " count", expr: windowed("COUNT(%s)")},
	"valid":     {suffix: " valid count", expr: windowed("COUNT(%s)")},
	"missing":   {suffix: " missing", expr: windowed("SUM(CASE WHEN %s IS NULL THEN 1 ELSE 0 END)")},
	"distinct":  {suffix: " distinct", distinct: true},
	"sum":       {suffix: " sum", expr: windowed("SUM(%s)")},
	"mean":      {suffix: " mean", expr: windowed("AVG(%s)")},
	"average":   {suffix: " mean", expr: windowed("AVG(%s)")},
	"min":       {suffix: " min", expr: windowed("MIN(%s)")},
	"max":       {suffix: " max", expr: windowed("MAX(%s)")},
	"variance":  {suffix: " var", expr: variance(1)},
	"variancep": {suffix: " population variance", expr: variance(0)},
}

func windowed(format string) func(q, over string) string {
	return func(q, over string) string {
		return fmt.Sprintf(format, q) + " " + over
	}
}

// variance computes sum((x-mean)^2)/(n-ddof) from running sums. SQLite
// yields NULL when n-ddof is zero.
func variance(ddof int) func(q, over string) string {
	return func(q, over string) string {
		x := "CAST(" + q + " AS REAL)"
		n := "COUNT(" + q + ") " + over
		s := "SUM(" + x + ") " + over
		ss := "SUM(" + x + " * " + x + ") " + over
		return fmt.Sprintf("((%s - %s * %s / %s) / (%s - %d))", ss, s, s, n, n, ddof)
	}
}

// Aggregates lists the supported aggregate names, sorted.
func Aggregates() []string {
	out := make([]string, 0, len(aggregates))
	for k := range aggregates {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Translate renders spec as a single SQL query over $df. A spec with
// neither filters nor aggregates yields SELECT * FROM $df. Expression and
// selection filters have no SQL form and are left out.
func Translate(spec vega.ChartSpec) (string, error) {
	where, err := whereClause(spec.Filters())
	if err != nil {
		return "", err
	}

	base := "SELECT * FROM " + Placeholder
	if where != "" {
		base += " WHERE " + where
	}

	steps, err := aggregateSteps(spec.Encoding)
	if err != nil {
		return "", err
	}
	if len(steps) == 0 {
		return base, nil
	}

	var b strings.Builder
	b.WriteString("WITH s0 AS (")
	b.WriteString(base)
	b.WriteString(")")
	for i, step := range steps {
		fmt.Fprintf(&b, ",\ns%d AS (%s)", i+1, step(fmt.Sprintf("s%d", i)))
	}
	fmt.Fprintf(&b, "\nSELECT * FROM s%d", len(steps))
	return b.String(), nil
}

// Bind replaces $df in code with the quoted table name.
func Bind(code, table string) string {
	return strings.ReplaceAll(code, Placeholder, Ident(table))
}

// Export binds code to input and materializes the result as output.
func Export(code, input, output string) string {
	return "DROP TABLE IF EXISTS " + Ident(output) + ";\nCREATE TABLE " + Ident(output) + " AS " + Bind(code, input) + ";"
}

// Ident quotes an SQL identifier.
func Ident(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// whereClause joins the transforms with AND.
func whereClause(filters []vega.Predicate) (string, error) {
	var parts []string
	for _, p := range filters {
		q, err := predicate(p)
		if err != nil {
			return "", err
		}
		if q != "" {
			parts = append(parts, q)
		}
	}
	return strings.Join(parts, " AND "), nil
}

// predicate renders a filter. Compound predicates join their members with
// OR or AND and are parenthesized when there is more than one.
func predicate(p vega.Predicate) (string, error) {
	if !p.Tested() {
		return "", nil
	}
	members, op := p.Or, " OR "
	if members == nil {
		members, op = p.And, " AND "
	}
	if members == nil {
		return fieldPredicate(p)
	}

	parts := make([]string, 0, len(members))
	for _, m := range members {
		q, err := predicate(m)
		if err != nil {
			return "", err
		}
		if q != "" {
			parts = append(parts, q)
		}
	}
	q := strings.Join(parts, op)
	if len(parts) > 1 {
		q = "(" + q + ")"
	}
	return q, nil
}

func fieldPredicate(p vega.Predicate) (string, error) {
	col := Ident(p.Field)
	var terms []string
	add := func(format string, vals ...any) error {
		lits := make([]any, len(vals))
		for i, v := range vals {
			l, err := literal(v)
			if err != nil {
				return fmt.Errorf("field %q: %w", p.Field, err)
			}
			lits[i] = l
		}
		terms = append(terms, fmt.Sprintf(format, lits...))
		return nil
	}

	if p.GTE != nil {
		if err := add("("+col+" >= %s)", p.GTE); err != nil {
			return "", err
		}
	}
	if p.LTE != nil {
		if err := add("("+col+" <= %s)", p.LTE); err != nil {
			return "", err
		}
	}
	if len(p.Range) == 2 {
		if err := add("("+col+" >= %s) AND ("+col+" <= %s)", p.Range[0], p.Range[1]); err != nil {
			return "", err
		}
	}
	if len(p.OneOf) > 0 {
		lits := make([]string, len(p.OneOf))
		for i, v := range p.OneOf {
			l, err := literal(v)
			if err != nil {
				return "", fmt.Errorf("field %q: %w", p.Field, err)
			}
			lits[i] = l
		}
		terms = append(terms, "("+col+" IN ("+strings.Join(lits, ", ")+"))")
	}
	return strings.Join(terms, " AND "), nil
}

func literal(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'", nil
	case bool:
		if t {
			return "TRUE", nil
		}
		return "FALSE", nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case json.Number:
		return t.String(), nil
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

// orderedChannels returns x, y, color first and any other channels sorted.
func orderedChannels(enc map[string]vega.Encoding) []string {
	out := make([]string, 0, len(enc))
	known := map[string]bool{}
	for _, ch := range vega.Channels {
		known[ch] = true
		if _, ok := enc[ch]; ok {
			out = append(out, ch)
		}
	}
	var rest []string
	for ch := range enc {
		if !known[ch] {
			rest = append(rest, ch)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// aggregateSteps builds one CTE body per aggregated channel. Each step adds a
// column computed over the groups formed by the other encoded fields.
func aggregateSteps(enc map[string]vega.Encoding) ([]func(prev string) string, error) {
	channels := orderedChannels(enc)
	var steps []func(string) string
	for _, ch := range channels {
		e := enc[ch]
		if e.Aggregate == "" {
			continue
		}
		agg, ok := aggregates[e.Aggregate]
		if !ok {
			return nil, fmt.Errorf("%w: %q on %s", ErrUnsupportedAggregate, e.Aggregate, ch)
		}
		groups := groupFields(enc, channels, ch)
		field, alias := Ident(e.Field), Ident(e.Field+agg.suffix)

		if agg.distinct {
			steps = append(steps, func(prev string) string {
				var cond []string
				for _, g := range groups {
					cond = append(cond, "i."+Ident(g)+" IS o."+Ident(g))
				}
				sub := "SELECT COUNT(DISTINCT i." + field + ") FROM " + prev + " AS i"
				if len(cond) > 0 {
					sub += " WHERE " + strings.Join(cond, " AND ")
				}
				return "SELECT o.*, (" + sub + ") AS " + alias + " FROM " + prev + " AS o"
			})
			continue
		}

		over := "OVER ()"
		if len(groups) > 0 {
			qs := make([]string, len(groups))
			for i, g := range groups {
				qs[i] = Ident(g)
			}
			over = "OVER (PARTITION BY " + strings.Join(qs, ", ") + ")"
		}
		expr := agg.expr(field, over)
		steps = append(steps, func(prev string) string {
			return "SELECT *, " + expr + " AS " + alias + " FROM " + prev
		})
	}
	return steps, nil
}

// groupFields lists the distinct fields of every channel except self.
func groupFields(enc map[string]vega.Encoding, channels []string, self string) []string {
	seen := map[string]bool{}
	var out []string
	for _, ch := range channels {
		f := enc[ch].Field
		if ch == self || f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
