// Package frame implements the in-memory tabular dataset the rest of the
// module works on.
//
// A Frame is an ordered set of named columns of equal length plus a row
// index. Values are stored as `any`; a value is missing when it is nil, a
// NaN float or the zero time.Time (NaT). Columns carry the storage dtype
// name reported by the source that produced them (int64, float64, object,
// ...), which is what column classification is keyed on.
//
// Frames are treated as immutable snapshots: every operation that changes
// shape or names returns a new Frame. Column value slices may be shared
// between a frame and the frames derived from it.
package frame

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Storage dtype names produced by the sources in this module.
const (
	DTypeInt64     = "int64"
	DTypeFloat64   = "float64"
	DTypeBool      = "bool"
	DTypeObject    = "object"
	DTypeCategory  = "category"
	DTypeDatetime  = "datetime"
	DTypeTimedelta = "timedelta[ns]"
)

// NaT is the missing time value.
var NaT = time.Time{}

var (
	ErrRaggedColumns   = errors.New("frame: columns have different lengths")
	ErrDuplicateColumn = errors.New("frame: duplicate column name")
	ErrColumnNotFound  = errors.New("frame: column not found")
	ErrRowOutOfRange   = errors.New("frame: row out of range")
)

// Column is one named, typed column.
type Column struct {
	Name   string
	DType  string
	Values []any
}

// Frame is an ordered collection of equally long columns.
type Frame struct {
	cols   []Column
	index  []int
	byName map[string]int
}

// New builds a frame from columns. The row index defaults to 0..n-1.
func New(cols ...Column) (*Frame, error) {
	return newWithIndex(cols, nil)
}

func newWithIndex(cols []Column, index []int) (*Frame, error) {
	f := &Frame{
		cols:   make([]Column, len(cols)),
		byName: make(map[string]int, len(cols)),
	}
	n := -1
	for i, c := range cols {
		if _, dup := f.byName[c.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateColumn, c.Name)
		}
		if n >= 0 && len(c.Values) != n {
			return nil, fmt.Errorf("%w: %q has %d rows, want %d", ErrRaggedColumns, c.Name, len(c.Values), n)
		}
		n = len(c.Values)
		if c.DType == "" {
			c.DType = DTypeObject
		}
		f.cols[i] = c
		f.byName[c.Name] = i
	}
	if n < 0 {
		n = 0
	}
	if index == nil {
		index = make([]int, n)
		for i := range index {
			index[i] = i
		}
	}
	f.index = index
	return f, nil
}

// FromRows builds a frame from row-major data. rows[i][j] is the value of
// column names[j] in row i; short rows are padded with nil.
func FromRows(names, dtypes []string, rows [][]any) (*Frame, error) {
	cols := make([]Column, len(names))
	for j, name := range names {
		dt := DTypeObject
		if j < len(dtypes) && dtypes[j] != "" {
			dt = dtypes[j]
		}
		vals := make([]any, len(rows))
		for i, r := range rows {
			if j < len(r) {
				vals[i] = r[j]
			}
		}
		cols[j] = Column{Name: name, DType: dt, Values: vals}
	}
	return New(cols...)
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.index) }

// Width returns the number of columns.
func (f *Frame) Width() int { return len(f.cols) }

// Names returns the column names in order.
func (f *Frame) Names() []string {
	out := make([]string, len(f.cols))
	for i, c := range f.cols {
		out[i] = c.Name
	}
	return out
}

// Columns returns the columns in order. The value slices are shared.
func (f *Frame) Columns() []Column {
	return append([]Column(nil), f.cols...)
}

// Column looks up a column by name.
func (f *Frame) Column(name string) (Column, bool) {
	i, ok := f.byName[name]
	if !ok {
		return Column{}, false
	}
	return f.cols[i], true
}

// Index returns a copy of the row index labels.
func (f *Frame) Index() []int {
	return append([]int(nil), f.index...)
}

// Value returns the value at positional row and column.
func (f *Frame) Value(row, col int) any {
	return f.cols[col].Values[row]
}

// Missing reports whether v counts as a missing value.
func Missing(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(t)
	case float32:
		return math.IsNaN(float64(t))
	case time.Time:
		return t.IsZero()
	default:
		return false
	}
}

// FirstPresent returns the first row position holding a non-missing value in
// column col, or -1 if the column is entirely missing.
func (f *Frame) FirstPresent(col int) int {
	for i, v := range f.cols[col].Values {
		if !Missing(v) {
			return i
		}
	}
	return -1
}

// AllMissing returns the names of columns that contain no non-missing value.
func (f *Frame) AllMissing() []string {
	var out []string
	for i, c := range f.cols {
		if f.FirstPresent(i) < 0 {
			out = append(out, c.Name)
		}
	}
	return out
}

// Take returns a new frame holding the given row positions, in the given
// order. Index labels of the selected rows are preserved.
func (f *Frame) Take(rows []int) (*Frame, error) {
	for _, r := range rows {
		if r < 0 || r >= f.Len() {
			return nil, fmt.Errorf("%w: %d (rows=%d)", ErrRowOutOfRange, r, f.Len())
		}
	}
	cols := make([]Column, len(f.cols))
	for j, c := range f.cols {
		vals := make([]any, len(rows))
		for i, r := range rows {
			vals[i] = c.Values[r]
		}
		cols[j] = Column{Name: c.Name, DType: c.DType, Values: vals}
	}
	index := make([]int, len(rows))
	for i, r := range rows {
		index[i] = f.index[r]
	}
	return newWithIndex(cols, index)
}

// Records converts the given row positions into row-records. A nil rows
// slice selects every row.
func (f *Frame) Records(rows []int) ([]Record, error) {
	if rows == nil {
		rows = make([]int, f.Len())
		for i := range rows {
			rows[i] = i
		}
	}
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		if r < 0 || r >= f.Len() {
			return nil, fmt.Errorf("%w: %d (rows=%d)", ErrRowOutOfRange, r, f.Len())
		}
		rec := make(Record, len(f.cols))
		for _, c := range f.cols {
			rec[c.Name] = c.Values[r]
		}
		out = append(out, rec)
	}
	return out, nil
}

// Rename returns a frame whose columns are renamed according to m. Columns
// absent from m keep their name.
func (f *Frame) Rename(m map[string]string) (*Frame, error) {
	cols := make([]Column, len(f.cols))
	for i, c := range f.cols {
		if to, ok := m[c.Name]; ok && to != "" {
			c.Name = to
		}
		cols[i] = c
	}
	return newWithIndex(cols, f.Index())
}
