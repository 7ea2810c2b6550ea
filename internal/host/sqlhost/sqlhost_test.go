package sqlhost

import (
	"context"
	"math"
	"reflect"
	"testing"
	"time"

	"bifrost/internal/frame"
	"bifrost/internal/host"
)

var _ host.Executor = (*Host)(nil)

func openHost(t *testing.T) *Host {
	t.Helper()
	h, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func sampleFrame(t *testing.T) *frame.Frame {
	t.Helper()
	day := time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC)
	f, err := frame.New(
		frame.Column{Name: "id", DType: frame.DTypeInt64, Values: []any{int64(1), int64(2), int64(3)}},
		frame.Column{Name: "price", DType: frame.DTypeFloat64, Values: []any{1.5, math.NaN(), 3.0}},
		frame.Column{Name: "ok", DType: frame.DTypeBool, Values: []any{true, false, true}},
		frame.Column{Name: "when", DType: frame.DTypeDatetime, Values: []any{day, frame.NaT, day.Add(time.Hour)}},
		frame.Column{Name: "wait", DType: frame.DTypeTimedelta, Values: []any{time.Second, time.Minute, time.Hour}},
		frame.Column{Name: "tag", DType: frame.DTypeObject, Values: []any{"a", nil, "c"}},
	)
	if err != nil {
		t.Fatalf("frame.New() error = %v", err)
	}
	return f
}

// TestPutFrameRoundTrip verifies dtypes and missing values survive a table.
func TestPutFrameRoundTrip(t *testing.T) {
	t.Parallel()

	h := openHost(t)
	ctx := context.Background()
	if err := h.Put(ctx, "df", sampleFrame(t)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, err := h.Frame(ctx, "df")
	if err != nil {
		t.Fatalf("Frame() error = %v", err)
	}
	if got.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", got.Len())
	}
	want := map[string]string{
		"id":    frame.DTypeInt64,
		"price": frame.DTypeFloat64,
		"ok":    frame.DTypeBool,
		"when":  frame.DTypeDatetime,
		"wait":  frame.DTypeTimedelta,
		"tag":   frame.DTypeObject,
	}
	for name, dt := range want {
		c, _ := got.Column(name)
		if c.DType != dt {
			t.Fatalf("column %q dtype = %q, want %q", name, c.DType, dt)
		}
	}
	when, _ := got.Column("when")
	if when.Values[1] != frame.NaT {
		t.Fatalf("when[1] = %#v, want NaT", when.Values[1])
	}
	wait, _ := got.Column("wait")
	if wait.Values[2] != time.Hour {
		t.Fatalf("wait[2] = %#v, want 1h", wait.Values[2])
	}
}

// TestRunCreatesOutput runs exported code and reads its result table.
func TestRunCreatesOutput(t *testing.T) {
	t.Parallel()

	h := openHost(t)
	ctx := context.Background()
	if err := h.Put(ctx, "df", sampleFrame(t)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	code := `DROP TABLE IF EXISTS "out"; CREATE TABLE "out" AS SELECT * FROM "df" WHERE "price" >= 2`
	if err := h.Run(ctx, code); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	out, err := h.Frame(ctx, "out")
	if err != nil {
		t.Fatalf("Frame(out) error = %v", err)
	}
	if out.Len() != 1 {
		t.Fatalf("out.Len() = %d, want 1", out.Len())
	}
	when, _ := out.Column("when")
	if when.DType != frame.DTypeDatetime {
		t.Fatalf("out.when dtype = %q, want datetime", when.DType)
	}
	if err := h.Run(ctx, "SELEC nonsense"); err == nil {
		t.Fatalf("Run(bad sql) err = nil")
	}
	if err := h.Run(ctx, "  "); err != nil {
		t.Fatalf("Run(blank) err = %v", err)
	}
}

func TestCreateSQL(t *testing.T) {
	t.Parallel()

	got := createSQL("my df", sampleFrame(t).Columns())
	want := `CREATE TABLE "my df" ("id" INTEGER, "price" REAL, "ok" BOOLEAN, "when" TIMESTAMP, "wait" INTERVAL, "tag" TEXT)`
	if got != want {
		t.Fatalf("createSQL() = %q, want %q", got, want)
	}
	if got := insertSQL("t", 3); got != `INSERT INTO "t" VALUES (?, ?, ?)` {
		t.Fatalf("insertSQL() = %q", got)
	}
	if !reflect.DeepEqual(cellArg(true), int64(1)) || cellArg(math.NaN()) != nil || cellArg(frame.NaT) != nil {
		t.Fatalf("cellArg mapping wrong")
	}
}
