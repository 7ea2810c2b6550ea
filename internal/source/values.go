package source

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"bifrost/internal/frame"
)

// Settle normalizes a column of loosely typed values and picks its dtype the
// way a dataframe library would:
//   - all integers: int64, or float64 with NaN when any value is missing
//   - integers mixed with floats: float64
//   - all bools with none missing: bool
//   - all times: datetime with NaT for missing
//   - all durations: timedelta[ns]
//   - anything else: object
//
// hint is the driver's type name, if any. It decides the dtype of an
// entirely missing column and lets decimal text parse as float64.
func Settle(vals []any, hint string) (string, []any) {
	out := make([]any, len(vals))
	var nInt, nFloat, nBool, nTime, nDur, nStr, nMissing int
	for i, v := range vals {
		v = normalize(v)
		out[i] = v
		switch t := v.(type) {
		case nil:
			nMissing++
		case int64:
			nInt++
		case float64:
			if math.IsNaN(t) {
				nMissing++
			} else {
				nFloat++
			}
		case bool:
			nBool++
		case time.Time:
			if t.IsZero() {
				nMissing++
			} else {
				nTime++
			}
		case time.Duration:
			nDur++
		case string:
			nStr++
		}
	}
	present := len(vals) - nMissing

	switch {
	case present == 0:
		return hintDType(hint), out
	case nInt == present && nMissing == 0:
		return frame.DTypeInt64, out
	case nInt+nFloat == present:
		return frame.DTypeFloat64, toFloats(out)
	case nBool == present && nMissing == 0:
		return frame.DTypeBool, out
	case nTime == present:
		for i, v := range out {
			if v == nil {
				out[i] = frame.NaT
			}
		}
		return frame.DTypeDatetime, out
	case nDur == present:
		return frame.DTypeTimedelta, out
	case nStr == present && isDecimal(hint):
		if fs, ok := parseFloats(out); ok {
			return frame.DTypeFloat64, fs
		}
	}
	return frame.DTypeObject, out
}

func normalize(v any) any {
	switch t := v.(type) {
	case nil, int64, float64, bool, string, time.Time, time.Duration:
		return v
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint:
		if t <= math.MaxInt64 {
			return int64(t)
		}
		return float64(t)
	case uint64:
		if t <= math.MaxInt64 {
			return int64(t)
		}
		return float64(t)
	case float32:
		return float64(t)
	case []byte:
		return string(t)
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		return v
	}
}

func toFloats(vals []any) []any {
	for i, v := range vals {
		switch t := v.(type) {
		case int64:
			vals[i] = float64(t)
		case nil:
			vals[i] = math.NaN()
		}
	}
	return vals
}

func parseFloats(vals []any) ([]any, bool) {
	out := make([]any, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			out[i] = math.NaN()
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}

func isDecimal(hint string) bool {
	switch strings.ToUpper(hint) {
	case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
		return true
	}
	return false
}

func hintDType(hint string) string {
	h := strings.ToUpper(hint)
	switch {
	case h == "":
		return frame.DTypeObject
	case strings.Contains(h, "INT"):
		return frame.DTypeInt64
	case strings.Contains(h, "FLOAT"), strings.Contains(h, "REAL"), strings.Contains(h, "DOUBLE"), isDecimal(h):
		return frame.DTypeFloat64
	case strings.Contains(h, "BOOL"), h == "BIT":
		return frame.DTypeBool
	case strings.Contains(h, "DATE"), strings.Contains(h, "TIME"):
		return frame.DTypeDatetime
	case strings.Contains(h, "INTERVAL"):
		return frame.DTypeTimedelta
	}
	return frame.DTypeObject
}

// SettleColumns builds a frame from row-major values, settling every column.
func SettleColumns(names []string, hints []string, rows [][]any) (*frame.Frame, error) {
	cols := make([]frame.Column, len(names))
	for j, name := range names {
		vals := make([]any, len(rows))
		for i, r := range rows {
			if j < len(r) {
				vals[i] = r[j]
			}
		}
		hint := ""
		if j < len(hints) {
			hint = hints[j]
		}
		dt, vals := Settle(vals, hint)
		cols[j] = frame.Column{Name: name, DType: dt, Values: vals}
	}
	return frame.New(cols...)
}
