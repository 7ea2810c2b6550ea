// Package coltype maps storage dtypes to the semantic vocabulary used when
// building chart encodings.
package coltype

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"bifrost/internal/frame"
)

// Semantic is the visualization type of a column.
type Semantic int

const (
	Nominal Semantic = iota
	Quantitative
	Temporal
)

func (s Semantic) String() string {
	switch s {
	case Quantitative:
		return "quantitative"
	case Temporal:
		return "temporal"
	default:
		return "nominal"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Semantic) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Semantic) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "quantitative":
		*s = Quantitative
	case "temporal":
		*s = Temporal
	case "nominal":
		*s = Nominal
	default:
		return fmt.Errorf("coltype: unknown semantic type %q", b)
	}
	return nil
}

// Match tells whether a dtype was found in the lookup table.
type Match int

const (
	Known Match = iota
	// Fallback means the dtype was not recognized and Nominal was assumed.
	Fallback
)

var table = map[string]Semantic{
	frame.DTypeInt64:     Quantitative,
	frame.DTypeFloat64:   Quantitative,
	frame.DTypeDatetime:  Temporal,
	frame.DTypeTimedelta: Temporal,
	frame.DTypeObject:    Nominal,
	frame.DTypeCategory:  Nominal,
	frame.DTypeBool:      Nominal,
}

// Lookup classifies dtype and reports whether the fallback arm was taken.
func Lookup(dtype string) (Semantic, Match) {
	if s, ok := table[dtype]; ok {
		return s, Known
	}
	return Nominal, Fallback
}

// Classify is Lookup without the match report. It is total: unknown dtypes
// are Nominal.
func Classify(dtype string) Semantic {
	s, _ := Lookup(dtype)
	return s
}

// Map is the semantic type of every column of one frame snapshot.
type Map struct {
	Columns []string
	Types   map[string]Semantic
}

// Get returns the type of column name.
func (m Map) Get(name string) (Semantic, bool) {
	s, ok := m.Types[name]
	return s, ok
}

// MarshalJSON encodes the map as a column -> type object in column order.
func (m Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range m.Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.WriteString(strconv.Quote(m.Types[c].String()))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a column -> type object. Column order is sorted since
// JSON objects carry none.
func (m *Map) UnmarshalJSON(b []byte) error {
	var raw map[string]Semantic
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	m.Types = raw
	m.Columns = make([]string, 0, len(raw))
	for c := range raw {
		m.Columns = append(m.Columns, c)
	}
	sort.Strings(m.Columns)
	return nil
}

// Rename returns a map keyed by renamed columns.
func (m Map) Rename(names map[string]string) Map {
	out := Map{Columns: make([]string, len(m.Columns)), Types: make(map[string]Semantic, len(m.Types))}
	for i, c := range m.Columns {
		to := c
		if n, ok := names[c]; ok && n != "" {
			to = n
		}
		out.Columns[i] = to
		out.Types[to] = m.Types[c]
	}
	return out
}

// ClassifyFrame classifies every column of f in column order.
func ClassifyFrame(f *frame.Frame) Map {
	cols := f.Columns()
	m := Map{Columns: make([]string, len(cols)), Types: make(map[string]Semantic, len(cols))}
	for i, c := range cols {
		m.Columns[i] = c.Name
		m.Types[c.Name] = Classify(c.DType)
	}
	return m
}

// Fallbacks lists the columns of f whose dtype was not recognized.
func Fallbacks(f *frame.Frame) []string {
	var out []string
	for _, c := range f.Columns() {
		if _, m := Lookup(c.DType); m == Fallback {
			out = append(out, c.Name)
		}
	}
	return out
}
