package frame

import (
	"encoding/json"
	"math"
	"time"
)

// Record is one row keyed by column name. It marshals the way the notebook
// front end expects "records" oriented data: missing values become null,
// times become epoch milliseconds and durations become milliseconds.
type Record map[string]any

// MarshalJSON implements json.Marshaler.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r))
	for k, v := range r {
		out[k] = jsonValue(v)
	}
	return json.Marshal(out)
}

func jsonValue(v any) any {
	if Missing(v) {
		return nil
	}
	switch t := v.(type) {
	case float64:
		if math.IsInf(t, 0) {
			return nil
		}
		return t
	case float32:
		if math.IsInf(float64(t), 0) {
			return nil
		}
		return t
	case time.Time:
		return t.UnixMilli()
	case time.Duration:
		return t.Milliseconds()
	case []byte:
		return string(t)
	default:
		return v
	}
}
