package frame

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"
)

func mustFrame(t *testing.T, cols ...Column) *Frame {
	t.Helper()
	f, err := New(cols...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return f
}

// TestNewRejectsBadShapes verifies duplicate names and ragged columns are errors.
func TestNewRejectsBadShapes(t *testing.T) {
	t.Parallel()

	_, err := New(
		Column{Name: "a", Values: []any{1, 2}},
		Column{Name: "a", Values: []any{1, 2}},
	)
	if !errors.Is(err, ErrDuplicateColumn) {
		t.Fatalf("duplicate: err = %v, want ErrDuplicateColumn", err)
	}

	_, err = New(
		Column{Name: "a", Values: []any{1, 2}},
		Column{Name: "b", Values: []any{1}},
	)
	if !errors.Is(err, ErrRaggedColumns) {
		t.Fatalf("ragged: err = %v, want ErrRaggedColumns", err)
	}
}

// TestNewDefaults verifies the default dtype and positional index.
func TestNewDefaults(t *testing.T) {
	t.Parallel()

	f := mustFrame(t, Column{Name: "a", Values: []any{"x", "y", "z"}})
	if got := f.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}
	c, ok := f.Column("a")
	if !ok || c.DType != DTypeObject {
		t.Fatalf("Column(a) = %+v, %v; want dtype %q", c, ok, DTypeObject)
	}
	if got, want := f.Index(), []int{0, 1, 2}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Index() = %v, want %v", got, want)
	}
}

// TestMissing covers nil, NaN and NaT.
func TestMissing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   any
		want bool
	}{
		{nil, true},
		{math.NaN(), true},
		{float32(math.NaN()), true},
		{NaT, true},
		{0.0, false},
		{"", false},
		{false, false},
		{time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		if got := Missing(tt.in); got != tt.want {
			t.Fatalf("Missing(%#v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// TestAllMissing verifies only columns without any value are reported.
func TestAllMissing(t *testing.T) {
	t.Parallel()

	f := mustFrame(t,
		Column{Name: "a", Values: []any{nil, 1.0}},
		Column{Name: "b", Values: []any{nil, math.NaN()}},
		Column{Name: "c", Values: []any{NaT, NaT}},
	)
	got := f.AllMissing()
	want := []string{"b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("AllMissing() = %v, want %v", got, want)
	}
	if got := f.FirstPresent(0); got != 1 {
		t.Fatalf("FirstPresent(0) = %d, want 1", got)
	}
}

// TestTakeKeepsIndexLabels verifies row selection preserves order and labels.
func TestTakeKeepsIndexLabels(t *testing.T) {
	t.Parallel()

	f := mustFrame(t, Column{Name: "a", DType: DTypeInt64, Values: []any{10, 11, 12, 13}})
	sub, err := f.Take([]int{3, 1})
	if err != nil {
		t.Fatalf("Take() error = %v", err)
	}
	c, _ := sub.Column("a")
	if !reflect.DeepEqual(c.Values, []any{13, 11}) {
		t.Fatalf("values = %v, want [13 11]", c.Values)
	}
	if c.DType != DTypeInt64 {
		t.Fatalf("dtype = %q, want %q", c.DType, DTypeInt64)
	}

	sub2, err := sub.Take([]int{0})
	if err != nil {
		t.Fatalf("Take() error = %v", err)
	}
	if got := sub2.Index(); !reflect.DeepEqual(got, []int{3}) {
		t.Fatalf("Index() = %v, want [3]", got)
	}

	if _, err := f.Take([]int{4}); !errors.Is(err, ErrRowOutOfRange) {
		t.Fatalf("Take(4) err = %v, want ErrRowOutOfRange", err)
	}
}

// TestRename verifies renamed frames leave the source untouched.
func TestRename(t *testing.T) {
	t.Parallel()

	f := mustFrame(t,
		Column{Name: "a", Values: []any{1}},
		Column{Name: "b", Values: []any{2}},
	)
	r, err := f.Rename(map[string]string{"a": "Alpha"})
	if err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if got := r.Names(); !reflect.DeepEqual(got, []string{"Alpha", "b"}) {
		t.Fatalf("renamed Names() = %v", got)
	}
	if got := f.Names(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("source Names() = %v, want unchanged", got)
	}

	if _, err := f.Rename(map[string]string{"a": "b"}); !errors.Is(err, ErrDuplicateColumn) {
		t.Fatalf("collision err = %v, want ErrDuplicateColumn", err)
	}
}

// TestRecordsJSON verifies missing values serialize as null and times as epoch ms.
func TestRecordsJSON(t *testing.T) {
	t.Parallel()

	ts := time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC)
	f := mustFrame(t,
		Column{Name: "n", DType: DTypeFloat64, Values: []any{1.5, math.NaN()}},
		Column{Name: "t", DType: DTypeDatetime, Values: []any{ts, NaT}},
		Column{Name: "s", Values: []any{"x", nil}},
	)
	recs, err := f.Records(nil)
	if err != nil {
		t.Fatalf("Records() error = %v", err)
	}
	got, err := json.Marshal(recs)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `[{"n":1.5,"s":"x","t":1614816000000},{"n":null,"s":null,"t":null}]`
	if string(got) != want {
		t.Fatalf("json = %s, want %s", got, want)
	}
}

// TestFromRowsPadsShortRows verifies short rows are padded with nil.
func TestFromRowsPadsShortRows(t *testing.T) {
	t.Parallel()

	f, err := FromRows([]string{"a", "b"}, []string{DTypeInt64}, [][]any{{1, "x"}, {2}})
	if err != nil {
		t.Fatalf("FromRows() error = %v", err)
	}
	b, _ := f.Column("b")
	if b.DType != DTypeObject || b.Values[1] != nil {
		t.Fatalf("column b = %+v", b)
	}
}

// TestHistory verifies append-only indexing.
func TestHistory(t *testing.T) {
	t.Parallel()

	var h History
	if _, ok := h.Latest(); ok {
		t.Fatalf("Latest() on empty history reported a snapshot")
	}
	a := mustFrame(t, Column{Name: "a", Values: []any{1}})
	b := mustFrame(t, Column{Name: "b", Values: []any{2}})
	if i := h.Append(a); i != 0 {
		t.Fatalf("Append(a) = %d, want 0", i)
	}
	if i := h.Append(b); i != 1 {
		t.Fatalf("Append(b) = %d, want 1", i)
	}
	got, err := h.At(0)
	if err != nil || got != a {
		t.Fatalf("At(0) = %p, %v; want %p", got, err, a)
	}
	if _, err := h.At(2); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("At(2) err = %v, want ErrNoSnapshot", err)
	}
	if last, _ := h.Latest(); last != b {
		t.Fatalf("Latest() = %p, want %p", last, b)
	}
}
