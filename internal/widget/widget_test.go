package widget

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"math"
	"math/rand/v2"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"bifrost/internal/frame"
	"bifrost/internal/host"
	"bifrost/internal/sampler"
	"bifrost/internal/vega"
)

func quiet() Option { return WithLogger(log.New(io.Discard, "", 0)) }

func seeded() Option { return WithRand(rand.New(rand.NewPCG(1, 2))) }

func mustFrame(t *testing.T, cols ...frame.Column) *frame.Frame {
	t.Helper()
	f, err := frame.New(cols...)
	if err != nil {
		t.Fatalf("frame.New() error = %v", err)
	}
	return f
}

func seqFrame(t *testing.T, n int) *frame.Frame {
	t.Helper()
	ids := make([]any, n)
	for i := range ids {
		ids[i] = int64(i)
	}
	return mustFrame(t, frame.Column{Name: "id", DType: frame.DTypeInt64, Values: ids})
}

func people(t *testing.T) *frame.Frame {
	return mustFrame(t,
		frame.Column{Name: "age", DType: frame.DTypeInt64, Values: []any{int64(31), int64(45), int64(27)}},
		frame.Column{Name: "income", DType: frame.DTypeFloat64, Values: []any{52000.0, math.NaN(), 61000.0}},
		frame.Column{Name: "city", DType: frame.DTypeObject, Values: []any{"Oslo", "Rome", nil}},
	)
}

func record(t *testing.T, w *Widget) *[]Change {
	t.Helper()
	var got []Change
	cancel := w.Subscribe(func(c Change) { got = append(got, c) })
	t.Cleanup(cancel)
	return &got
}

func fields(cs []Change) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Field
	}
	return out
}

// TestConstructEncodings verifies the specs built for an x/y/kind request
// without color.
func TestConstructEncodings(t *testing.T) {
	t.Parallel()

	w, err := New(context.Background(), people(t), nil, vega.Request{X: "age", Y: "income", Kind: "point"}, quiet(), seeded())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	st := w.State()

	var keys []string
	for k := range st.GraphSpec.Encoding {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if !reflect.DeepEqual(keys, []string{"x", "y"}) {
		t.Fatalf("graph_spec encoding keys = %v, want [x y]", keys)
	}
	encs := st.QuerySpec.Spec.Encodings
	if len(encs) != 2 || encs[0].Channel != "x" || encs[1].Channel != "y" {
		t.Fatalf("query_spec encodings = %+v, want x then y", encs)
	}
	if st.PassedKind != "point" || !reflect.DeepEqual(st.SelectedColumns, []string{"age", "income"}) {
		t.Fatalf("passed_kind=%q selected_columns=%v", st.PassedKind, st.SelectedColumns)
	}
	if st.GraphDataConfig != (SampleConfig{SampleSize: 100, DatasetLength: 3}) {
		t.Fatalf("graph_data_config = %+v", st.GraphDataConfig)
	}
	if len(st.GraphData) != 3 {
		t.Fatalf("graph_data rows = %d, want 3", len(st.GraphData))
	}
	if st.GraphBounds["age"] != [2]float64{27, 45} {
		t.Fatalf("graph_bounds[age] = %v", st.GraphBounds["age"])
	}
	if _, ok := st.GraphBounds["city"]; ok {
		t.Fatalf("graph_bounds has nominal column city")
	}
}

// TestConstructAnchorsWidenSample checks that a sample size below the anchor
// count publishes the anchor count.
func TestConstructAnchorsWidenSample(t *testing.T) {
	t.Parallel()

	nan := math.NaN()
	df := mustFrame(t,
		frame.Column{Name: "A", DType: frame.DTypeFloat64, Values: []any{1.0, nan, 3.0}},
		frame.Column{Name: "B", DType: frame.DTypeFloat64, Values: []any{nan, nan, 5.0}},
	)
	w, err := New(context.Background(), df, nil, vega.Request{}, quiet(), seeded(), WithSampleSize(1))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	st := w.State()
	if st.GraphDataConfig.SampleSize != 2 {
		t.Fatalf("sampleSize = %d, want 2", st.GraphDataConfig.SampleSize)
	}
	if len(st.GraphData) != 2 || st.GraphData[0]["A"] != 1.0 || st.GraphData[1]["B"] != 5.0 {
		t.Fatalf("graph_data = %v, want anchor rows 0 and 2", st.GraphData)
	}
	if !st.GraphSpec.Empty() {
		t.Fatalf("graph_spec = %+v, want empty", st.GraphSpec)
	}
	if st.QuerySpec.Spec.Mark != vega.AnyMark {
		t.Fatalf("query_spec mark = %q, want %q", st.QuerySpec.Spec.Mark, vega.AnyMark)
	}
}

func TestConstructErrors(t *testing.T) {
	t.Parallel()

	allMissing := mustFrame(t,
		frame.Column{Name: "a", DType: frame.DTypeInt64, Values: []any{int64(1)}},
		frame.Column{Name: "b", DType: frame.DTypeObject, Values: []any{nil}},
	)
	if _, err := New(context.Background(), allMissing, nil, vega.Request{}, quiet()); !errors.Is(err, sampler.ErrAllMissing) {
		t.Fatalf("New(all missing) err = %v, want ErrAllMissing", err)
	}
	if _, err := New(context.Background(), people(t), nil, vega.Request{X: "nope"}, quiet()); !errors.Is(err, vega.ErrUnknownColumn) {
		t.Fatalf("New(unknown column) err = %v, want ErrUnknownColumn", err)
	}
	if _, err := New(context.Background(), nil, nil, vega.Request{}, quiet()); err == nil {
		t.Fatalf("New(nil) err = nil")
	}
}

// TestConstructNameMap verifies that types keep original names while the
// stored snapshot and later samples use the mapped names.
func TestConstructNameMap(t *testing.T) {
	t.Parallel()

	names := map[string]string{"age": "Age", "income": "Income ($)", "city": "City"}
	w, err := New(context.Background(), people(t), names, vega.Request{X: "age", Y: "income", Kind: "point"}, quiet(), seeded())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	st := w.State()
	if !reflect.DeepEqual(st.DFColumns, []string{"Age", "City", "Income ($)"}) {
		t.Fatalf("df_columns = %v", st.DFColumns)
	}
	if _, ok := st.ColumnTypes.Get("age"); !ok {
		t.Fatalf("column_types = %v, want original names", st.ColumnTypes.Columns)
	}
	if st.GraphSpec.Encoding["x"].Field != "age" {
		t.Fatalf("graph_spec x = %q, want age", st.GraphSpec.Encoding["x"].Field)
	}

	if err := w.SetSampleConfig(context.Background(), SampleConfig{SampleSize: 2}); err != nil {
		t.Fatalf("SetSampleConfig() error = %v", err)
	}
	st = w.State()
	if _, ok := st.GraphData[0]["Age"]; !ok {
		t.Fatalf("resampled record = %v, want renamed columns", st.GraphData[0])
	}
	if _, ok := st.GraphBounds["Age"]; !ok {
		t.Fatalf("graph_bounds = %v, want renamed columns", st.GraphBounds)
	}
	df, err := w.Dataset()
	if err != nil || !reflect.DeepEqual(df.Names(), []string{"Age", "Income ($)", "City"}) {
		t.Fatalf("Dataset() = %v, %v", df, err)
	}
}

// TestSampleConfigNoop verifies that growing an already complete sample
// leaves graph_data alone.
func TestSampleConfigNoop(t *testing.T) {
	t.Parallel()

	w, err := New(context.Background(), seqFrame(t, 40), nil, vega.Request{}, quiet(), seeded())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	before := w.State().GraphData
	changes := record(t, w)

	if err := w.SetSampleConfig(context.Background(), SampleConfig{SampleSize: 50, DatasetLength: 7}); err != nil {
		t.Fatalf("SetSampleConfig() error = %v", err)
	}
	if got := fields(*changes); !reflect.DeepEqual(got, []string{FieldGraphDataConfig}) {
		t.Fatalf("changes = %v, want only graph_data_config", got)
	}
	st := w.State()
	if !reflect.DeepEqual(st.GraphData, before) {
		t.Fatalf("graph_data changed on no-op resample")
	}
	if st.GraphDataConfig != (SampleConfig{SampleSize: 50, DatasetLength: 40}) {
		t.Fatalf("graph_data_config = %+v, want datasetLength echo 40", st.GraphDataConfig)
	}
}

func TestSampleConfigResample(t *testing.T) {
	t.Parallel()

	w, err := New(context.Background(), seqFrame(t, 40), nil, vega.Request{}, quiet(), seeded())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	changes := record(t, w)

	if err := w.SetSampleConfig(context.Background(), SampleConfig{SampleSize: 10}); err != nil {
		t.Fatalf("SetSampleConfig(10) error = %v", err)
	}
	want := []string{FieldGraphDataConfig, FieldGraphData, FieldGraphBounds}
	if got := fields(*changes); !reflect.DeepEqual(got, want) {
		t.Fatalf("changes = %v, want %v", got, want)
	}
	if n := len(w.State().GraphData); n != 10 {
		t.Fatalf("graph_data rows = %d, want 10", n)
	}

	// Shrinking from 10 to 0 is not covered by the no-op rule; 0 samples all.
	if err := w.SetSampleConfig(context.Background(), SampleConfig{}); err != nil {
		t.Fatalf("SetSampleConfig(0) error = %v", err)
	}
	if n := len(w.State().GraphData); n != 40 {
		t.Fatalf("graph_data rows = %d, want 40", n)
	}

	if err := w.SetSampleConfig(context.Background(), SampleConfig{SampleSize: -1}); !errors.Is(err, sampler.ErrNegativeSize) {
		t.Fatalf("SetSampleConfig(-1) err = %v, want ErrNegativeSize", err)
	}
	if w.State().GraphDataConfig.SampleSize != 0 {
		t.Fatalf("failed resample changed graph_data_config")
	}
}

// TestGraphSpecHistory verifies the spec history rule: only changed specs
// with at least one encoding are kept.
func TestGraphSpecHistory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w, err := New(ctx, people(t), nil, vega.Request{X: "age", Y: "income", Kind: "point"}, quiet(), seeded())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	initial := w.State().GraphSpec
	data := w.State().GraphData

	if err := w.SetGraphSpec(ctx, initial); err != nil {
		t.Fatalf("SetGraphSpec(same) error = %v", err)
	}
	if n := len(w.State().SpecHistory); n != 0 {
		t.Fatalf("spec_history after unchanged edit = %d, want 0", n)
	}

	edited := initial
	edited.Mark = "line"
	if err := w.SetGraphSpec(ctx, edited); err != nil {
		t.Fatalf("SetGraphSpec(edited) error = %v", err)
	}
	if err := w.SetGraphSpec(ctx, vega.ChartSpec{Mark: "bar"}); err != nil {
		t.Fatalf("SetGraphSpec(no encoding) error = %v", err)
	}
	st := w.State()
	if len(st.SpecHistory) != 1 || st.SpecHistory[0].Mark != "line" {
		t.Fatalf("spec_history = %+v, want the line edit only", st.SpecHistory)
	}
	if st.GraphSpec.Mark != "bar" {
		t.Fatalf("graph_spec mark = %q, want bar", st.GraphSpec.Mark)
	}
	if !reflect.DeepEqual(st.GraphData, data) {
		t.Fatalf("graph spec edit recomputed graph_data")
	}
}

func TestExportedCode(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	boom := errors.New("boom")
	var ran []string
	exec := host.ExecutorFunc(func(_ context.Context, code string) error {
		ran = append(ran, code)
		if code == "fail" {
			return boom
		}
		return nil
	})

	plain, err := New(ctx, people(t), nil, vega.Request{}, quiet(), WithExecutor(exec))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := plain.SetExportedCode(ctx, "SELECT 1"); err != nil {
		t.Fatalf("SetExportedCode() without output error = %v", err)
	}
	if len(ran) != 0 || plain.State().DFCode != "SELECT 1" {
		t.Fatalf("ran=%v df_code=%q, want stored and not run", ran, plain.State().DFCode)
	}

	tr := host.StaticTracer{PlotOutput: "out", Input: "df", InputURL: "http://example.com/x.csv"}
	w, err := New(ctx, people(t), nil, vega.Request{}, quiet(), WithExecutor(exec), WithTracer(tr))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	st := w.State()
	if st.OutputVariable != "out" || st.DFVariableName != "df" || st.InputURL != "" {
		t.Fatalf("trace fields = %q %q %q", st.OutputVariable, st.DFVariableName, st.InputURL)
	}
	if err := w.SetExportedCode(ctx, "ok"); err != nil {
		t.Fatalf("SetExportedCode(ok) error = %v", err)
	}
	if err := w.SetExportedCode(ctx, "fail"); !errors.Is(err, boom) {
		t.Fatalf("SetExportedCode(fail) err = %v, want boom", err)
	}
	if !reflect.DeepEqual(ran, []string{"ok", "fail"}) || w.State().DFCode != "fail" {
		t.Fatalf("ran=%v df_code=%q", ran, w.State().DFCode)
	}

	bare, err := New(ctx, people(t), nil, vega.Request{}, quiet(), WithTracer(host.StaticTracer{PlotOutput: "out", InputURL: "u"}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if bare.State().InputURL != "u" {
		t.Fatalf("input_url = %q, want u", bare.State().InputURL)
	}
	if err := bare.SetExportedCode(ctx, "x"); !errors.Is(err, host.ErrNoExecutor) {
		t.Fatalf("SetExportedCode() without executor err = %v, want ErrNoExecutor", err)
	}
}

func TestApply(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w, err := New(ctx, seqFrame(t, 40), nil, vega.Request{X: "id", Y: "id", Kind: "point"}, quiet(), seeded())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		field string
		raw   string
		want  error
	}{
		{FieldGraphData, `[]`, ErrReadOnly},
		{FieldSpecHistory, `[]`, ErrReadOnly},
		{"history_node", `{}`, ErrUnknownField},
		{FieldGraphDataConfig, `{"sampleSize":5,"datasetLength":1}`, nil},
		{FieldGraphSpec, `{"mark":{"type":"line"},"encoding":{"x":{"field":"id","type":"quantitative"}},"transform":[{"filter":{"field":"id","gte":3}}]}`, nil},
		{FieldDFCode, `"SELECT * FROM $df"`, nil},
		{FieldCurrentDataframeIndex, `0`, nil},
		{FieldCurrentDataframeIndex, `3`, ErrIndexOutOfRange},
		{FieldSelectedData, `[{"id":1}]`, nil},
		{FieldSuggestedGraphs, `[{"mark":"bar"}]`, nil},
	}
	for _, tt := range tests {
		err := w.Apply(ctx, tt.field, json.RawMessage(tt.raw))
		if tt.want == nil && err != nil {
			t.Fatalf("Apply(%q) error = %v", tt.field, err)
		}
		if tt.want != nil && !errors.Is(err, tt.want) {
			t.Fatalf("Apply(%q) err = %v, want %v", tt.field, err, tt.want)
		}
	}
	if err := w.Apply(ctx, FieldDFCode, json.RawMessage(`42`)); err == nil {
		t.Fatalf("Apply(df_code, 42) err = nil, want decode error")
	}

	st := w.State()
	if len(st.GraphData) != 5 || st.GraphDataConfig.DatasetLength != 40 {
		t.Fatalf("graph_data rows=%d config=%+v", len(st.GraphData), st.GraphDataConfig)
	}
	if st.GraphSpec.Mark != "line" || len(st.GraphSpec.Filters()) != 1 || len(st.SpecHistory) != 1 {
		t.Fatalf("graph_spec=%+v history=%d", st.GraphSpec, len(st.SpecHistory))
	}
	if st.DFCode != "SELECT * FROM $df" || len(st.SelectedData) != 1 || len(st.SuggestedGraphs) != 1 {
		t.Fatalf("df_code=%q selected=%v suggested=%v", st.DFCode, st.SelectedData, st.SuggestedGraphs)
	}
	for f := range settable {
		if readOnly[f] {
			t.Fatalf("field %q is both settable and read-only", f)
		}
	}
}

// TestStateJSON verifies the published attribute names.
func TestStateJSON(t *testing.T) {
	t.Parallel()

	w, err := New(context.Background(), people(t), nil, vega.Request{X: "age", Y: "city", Kind: "bar"}, quiet(), seeded())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	b, err := json.Marshal(w.State())
	if err != nil {
		t.Fatalf("json.Marshal(State) error = %v", err)
	}
	var got map[string]json.RawMessage
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	want := []string{
		FieldSpecHistory, FieldCurrentDataframeIndex, FieldQuerySpec, FieldGraphSpec,
		FieldPassedEncodings, FieldPassedKind, FieldSelectedColumns, FieldGraphData,
		FieldGraphDataConfig, FieldGraphBounds, FieldDFCode, FieldDFColumns, FieldColumnTypes,
		FieldColumnNameMap, FieldOutputVariable, FieldDFVariableName, FieldInputURL,
		FieldSelectedData, FieldSuggestedGraphs,
	}
	if len(got) != len(want) {
		t.Fatalf("State JSON has %d fields, want %d", len(got), len(want))
	}
	for _, f := range want {
		if _, ok := got[f]; !ok {
			t.Fatalf("State JSON missing %q", f)
		}
	}
	if string(got[FieldPassedEncodings]) != `{"color":null,"x":"age","y":"city"}` {
		t.Fatalf("passed_encodings = %s", got[FieldPassedEncodings])
	}
	if string(got[FieldGraphDataConfig]) != `{"sampleSize":100,"datasetLength":3}` {
		t.Fatalf("graph_data_config = %s", got[FieldGraphDataConfig])
	}
	if string(got[FieldColumnTypes]) != `{"age":"quantitative","income":"quantitative","city":"nominal"}` {
		t.Fatalf("column_types = %s", got[FieldColumnTypes])
	}
}

func TestSubscribeCancel(t *testing.T) {
	t.Parallel()

	w, err := New(context.Background(), people(t), nil, vega.Request{}, quiet())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	var n int
	cancel := w.Subscribe(func(c Change) {
		n++
		if c.Field == FieldDFCode && (c.Old != "" || c.New != "a") {
			t.Errorf("change = %+v", c)
		}
		_ = w.State()
	})
	if err := w.SetExportedCode(context.Background(), "a"); err != nil {
		t.Fatalf("SetExportedCode() error = %v", err)
	}
	cancel()
	if err := w.SetExportedCode(context.Background(), "b"); err != nil {
		t.Fatalf("SetExportedCode() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("deliveries = %d, want 1", n)
	}
}

func TestPushAndIndex(t *testing.T) {
	t.Parallel()

	w, err := New(context.Background(), seqFrame(t, 40), nil, vega.Request{}, quiet(), seeded())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if i := w.Push(seqFrame(t, 3)); i != 1 {
		t.Fatalf("Push() = %d, want 1", i)
	}
	if err := w.SetCurrentDataframeIndex(1); err != nil {
		t.Fatalf("SetCurrentDataframeIndex(1) error = %v", err)
	}
	df, err := w.Dataset()
	if err != nil || df.Len() != 3 {
		t.Fatalf("Dataset() len = %v, err = %v", df, err)
	}

	// The latest snapshot now has 3 rows; an old size of 100 and a new one
	// of 2 forces a resample of the tail.
	if err := w.SetSampleConfig(context.Background(), SampleConfig{SampleSize: 2}); err != nil {
		t.Fatalf("SetSampleConfig() error = %v", err)
	}
	st := w.State()
	if len(st.GraphData) != 2 || st.GraphDataConfig.DatasetLength != 3 {
		t.Fatalf("graph_data rows=%d config=%+v", len(st.GraphData), st.GraphDataConfig)
	}
}

// TestGraphSpecKeepsFrontEndMembers verifies that a bin toggle and an
// expression filter are stored, republished and counted as a change.
func TestGraphSpecKeepsFrontEndMembers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w, err := New(ctx, people(t), nil, vega.Request{X: "age", Y: "income", Kind: "bar"}, quiet(), seeded())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	plain := `{"mark":"bar","encoding":{"x":{"field":"age","type":"quantitative"},"y":{"field":"income","type":"quantitative"}},"transform":[{"filter":"datum.age > 30"}]}`
	binned := strings.Replace(plain, `"type":"quantitative"}`, `"type":"quantitative","bin":true}`, 1)
	for _, raw := range []string{plain, binned} {
		if err := w.Apply(ctx, FieldGraphSpec, json.RawMessage(raw)); err != nil {
			t.Fatalf("Apply(graph_spec, %s) error = %v", raw, err)
		}
	}

	st := w.State()
	if len(st.SpecHistory) != 2 {
		t.Fatalf("spec_history len = %d, want 2", len(st.SpecHistory))
	}
	for name, spec := range map[string]vega.ChartSpec{"graph_spec": st.GraphSpec, "spec_history[1]": st.SpecHistory[1]} {
		b, err := json.Marshal(spec)
		if err != nil {
			t.Fatalf("Marshal(%s) error = %v", name, err)
		}
		if !strings.Contains(string(b), `"bin":true`) {
			t.Fatalf("%s = %s, want bin kept", name, b)
		}
		if f := spec.Filters(); len(f) != 1 || f[0].Expr != "datum.age > 30" {
			t.Fatalf("%s filters = %+v, want the expression filter", name, f)
		}
	}
}

// TestSubscriberReadsStateDuringConcurrentTransition verifies a subscriber
// can call State while another transition is waiting to run.
func TestSubscriberReadsStateDuringConcurrentTransition(t *testing.T) {
	t.Parallel()

	w, err := New(context.Background(), people(t), nil, vega.Request{}, quiet())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	w.Subscribe(func(c Change) {
		if c.Field != FieldSelectedData {
			return
		}
		once.Do(func() { close(entered) })
		<-release
		_ = w.State()
	})

	first := make(chan error, 1)
	go func() { first <- w.SetSelectedData([]frame.Record{{"age": int64(31)}}) }()
	<-entered

	second := make(chan error, 1)
	go func() { second <- w.SetSuggestedGraphs([]vega.ChartSpec{{Mark: "line"}}) }()
	time.Sleep(20 * time.Millisecond)
	close(release)

	for name, ch := range map[string]chan error{"SetSelectedData": first, "SetSuggestedGraphs": second} {
		select {
		case err := <-ch:
			if err != nil {
				t.Fatalf("%s() error = %v", name, err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("%s() did not return", name)
		}
	}
	if st := w.State(); len(st.SelectedData) != 1 || len(st.SuggestedGraphs) != 1 {
		t.Fatalf("selected_data=%d suggested_graphs=%d, want 1 and 1", len(st.SelectedData), len(st.SuggestedGraphs))
	}
}
