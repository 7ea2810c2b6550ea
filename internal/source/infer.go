package source

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bifrost/internal/frame"
)

// Coarse text kinds, most specific first.
const (
	kindInteger   = "integer"
	kindBoolean   = "boolean"
	kindDate      = "date"
	kindTimestamp = "timestamp"
	kindFloat     = "float"
	kindText      = "text"
)

var dateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"02/01/2006",
	"01/02/2006",
}

var tsLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
	"02.01.2006 15:04:05",
}

// InferKinds picks a text kind per column. Blank cells are ignored; a column
// with only blank cells is text.
func InferKinds(width int, rows [][]string) []string {
	out := make([]string, width)
	for col := range out {
		var seen bool
		allInt, allFloat, allBool, allDate, allTS := true, true, true, true, true
		for _, r := range rows {
			if col >= len(r) {
				continue
			}
			v := strings.TrimSpace(r[col])
			if v == "" {
				continue
			}
			seen = true
			if allInt {
				_, err := strconv.ParseInt(v, 10, 64)
				allInt = err == nil
			}
			if allFloat {
				_, err := strconv.ParseFloat(v, 64)
				allFloat = err == nil
			}
			if allBool {
				_, allBool = parseBoolLoose(v)
			}
			if allDate {
				_, allDate = parseLayouts(v, dateLayouts)
			}
			if allTS {
				_, allTS = parseLayouts(v, tsLayouts)
			}
		}

		switch {
		case !seen:
			out[col] = kindText
		case allInt:
			out[col] = kindInteger
		case allBool:
			out[col] = kindBoolean
		case allDate:
			out[col] = kindDate
		case allTS:
			out[col] = kindTimestamp
		case allFloat:
			out[col] = kindFloat
		default:
			out[col] = kindText
		}
	}
	return out
}

// FromStrings builds a frame from text cells, inferring dtypes. Blank cells
// are missing.
func FromStrings(names []string, rows [][]string) (*frame.Frame, error) {
	kinds := InferKinds(len(names), rows)
	typed := make([][]any, len(rows))
	for i, r := range rows {
		tr := make([]any, len(names))
		for j := range names {
			if j < len(r) {
				tr[j] = convert(strings.TrimSpace(r[j]), kinds[j])
			}
		}
		typed[i] = tr
	}
	return SettleColumns(names, nil, typed)
}

// FromRecords builds a frame from decoded JSON-like records. Scalars are
// stringified and inferred like text cells; nested values are kept as JSON
// text. Column order is names.
func FromRecords(names []string, recs []map[string]any) (*frame.Frame, error) {
	rows := make([][]string, len(recs))
	for i, rec := range recs {
		r := make([]string, len(names))
		for j, n := range names {
			r[j] = scalarText(rec[n])
		}
		rows[i] = r
	}
	return FromStrings(names, rows)
}

func scalarText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

func convert(v, kind string) any {
	if v == "" {
		return nil
	}
	switch kind {
	case kindInteger:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case kindFloat:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	case kindBoolean:
		b, _ := parseBoolLoose(v)
		return b
	case kindDate:
		t, _ := parseLayouts(v, dateLayouts)
		return t
	case kindTimestamp:
		t, _ := parseLayouts(v, tsLayouts)
		return t
	default:
		return v
	}
}

func parseBoolLoose(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true", "yes", "y":
		return true, true
	case "0", "f", "false", "no", "n":
		return false, true
	default:
		return false, false
	}
}

func parseLayouts(s string, layouts []string) (time.Time, bool) {
	for _, lay := range layouts {
		if t, err := time.Parse(lay, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// UniqueNames renames repeated and blank headers the way dataframe readers
// do: the second "a" becomes "a.1", a blank header at position 3 becomes
// "Unnamed: 3".
func UniqueNames(names []string) []string {
	out := make([]string, len(names))
	seen := make(map[string]int, len(names))
	for i, n := range names {
		if strings.TrimSpace(n) == "" {
			n = "Unnamed: " + strconv.Itoa(i)
		}
		base := n
		for k := seen[base]; ; k++ {
			if _, dup := seen[n]; !dup {
				seen[base] = k
				break
			}
			n = base + "." + strconv.Itoa(k+1)
		}
		seen[n] = 0
		out[i] = n
	}
	return out
}
