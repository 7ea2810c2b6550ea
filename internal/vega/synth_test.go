package vega

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"bifrost/internal/coltype"
)

func testTypes() coltype.Map {
	return coltype.Map{
		Columns: []string{"age", "income", "group", "when"},
		Types: map[string]coltype.Semantic{
			"age":    coltype.Quantitative,
			"income": coltype.Quantitative,
			"group":  coltype.Nominal,
			"when":   coltype.Temporal,
		},
	}
}

// TestChartSpecOnlyWhenComplete verifies the chart spec needs x, y and kind.
func TestChartSpecOnlyWhenComplete(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		req       Request
		wantChart bool
	}{
		{"complete", Request{X: "age", Y: "income", Kind: "point"}, true},
		{"complete with color", Request{X: "age", Y: "income", Color: "group", Kind: "bar"}, true},
		{"no kind", Request{X: "age", Y: "income"}, false},
		{"no y", Request{X: "age", Kind: "point"}, false},
		{"no x", Request{Y: "age", Color: "group", Kind: "point"}, false},
		{"nothing", Request{}, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, err := Synthesize(nil, testTypes(), tt.req)
			if err != nil {
				t.Fatalf("Synthesize() error = %v", err)
			}
			if got := !res.ChartSpec.Empty(); got != tt.wantChart {
				t.Fatalf("chart spec present = %v, want %v", got, tt.wantChart)
			}
			if res.QuerySpec.Spec.ChooseBy != ChooseBy || res.QuerySpec.Spec.Width != QueryWidth {
				t.Fatalf("query spec = %+v", res.QuerySpec.Spec)
			}
		})
	}
}

// TestSynthesizeAgeIncomePoint covers x=age, y=income, kind=point without color.
func TestSynthesizeAgeIncomePoint(t *testing.T) {
	t.Parallel()

	res, err := Synthesize(nil, testTypes(), Request{X: "age", Y: "income", Kind: "point"})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}

	keys := make([]string, 0)
	for k := range res.ChartSpec.Encoding {
		keys = append(keys, k)
	}
	if len(keys) != 2 || res.ChartSpec.Encoding["x"].Field != "age" || res.ChartSpec.Encoding["y"].Field != "income" {
		t.Fatalf("encoding = %+v", res.ChartSpec.Encoding)
	}

	var channels []string
	for _, e := range res.QuerySpec.Spec.Encodings {
		channels = append(channels, e.Channel)
	}
	if !reflect.DeepEqual(channels, []string{"x", "y"}) {
		t.Fatalf("query channels = %v, want [x y]", channels)
	}
	if res.Kind != "point" || res.QuerySpec.Spec.Mark != "point" {
		t.Fatalf("kind = %q, mark = %q", res.Kind, res.QuerySpec.Spec.Mark)
	}
}

// TestQuerySpecOrderAndPlaceholder verifies channel order and the "?" mark.
func TestQuerySpecOrderAndPlaceholder(t *testing.T) {
	t.Parallel()

	res, err := Synthesize(nil, testTypes(), Request{Color: "group", X: "when"})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	want := []QueryEncoding{
		{Field: "when", Type: coltype.Temporal, Channel: "x"},
		{Field: "group", Type: coltype.Nominal, Channel: "color"},
	}
	if !reflect.DeepEqual(res.QuerySpec.Spec.Encodings, want) {
		t.Fatalf("encodings = %+v, want %+v", res.QuerySpec.Spec.Encodings, want)
	}
	if res.QuerySpec.Spec.Mark != AnyMark || res.Kind != "" {
		t.Fatalf("mark = %q, kind = %q", res.QuerySpec.Spec.Mark, res.Kind)
	}
	if got := res.Encodings.Selected(); !reflect.DeepEqual(got, []string{"when", "group"}) {
		t.Fatalf("Selected() = %v", got)
	}
}

func TestSynthesizeUnknownColumn(t *testing.T) {
	t.Parallel()

	_, err := Synthesize(nil, testTypes(), Request{X: "nope"})
	if !errors.Is(err, ErrUnknownColumn) {
		t.Fatalf("err = %v, want ErrUnknownColumn", err)
	}
}

// TestWireShapes pins the JSON published to the front end.
func TestWireShapes(t *testing.T) {
	t.Parallel()

	empty, _ := Synthesize(nil, testTypes(), Request{})
	b, _ := json.Marshal(empty.ChartSpec)
	if string(b) != "{}" {
		t.Fatalf("empty chart spec = %s, want {}", b)
	}
	b, _ = json.Marshal(empty.QuerySpec)
	want := `{"spec":{"width":400,"height":200,"data":{"name":"data"},"transform":[],"chooseBy":"effectiveness","mark":"?","encodings":[]}}`
	if string(b) != want {
		t.Fatalf("query spec = %s\nwant %s", b, want)
	}
	b, _ = json.Marshal(empty.Encodings)
	if string(b) != `{"color":null,"x":null,"y":null}` {
		t.Fatalf("encodings = %s", b)
	}

	full, _ := Synthesize(nil, testTypes(), Request{X: "age", Y: "income", Kind: "point"})
	b, _ = json.Marshal(full.ChartSpec)
	want = `{"config":{"mark":{"tooltip":true}},"width":550,"height":405,"mark":"point","params":[{"name":"brush","select":"interval"}],"data":{"name":"data"},"transform":[],"encoding":{"x":{"field":"age","type":"quantitative"},"y":{"field":"income","type":"quantitative"}}}`
	if string(b) != want {
		t.Fatalf("chart spec = %s\nwant %s", b, want)
	}
}

// TestChartSpecDecodesFrontEndEdits verifies object marks, aggregates and filters.
func TestChartSpecDecodesFrontEndEdits(t *testing.T) {
	t.Parallel()

	in := `{"mark":{"type":"bar","tooltip":true},"encoding":{"x":{"field":"group","type":"nominal"},"y":{"field":"income","type":"quantitative","aggregate":"mean"}},"transform":[{"filter":{"field":"age","range":[18,65]}},{"filter":{"or":[{"field":"group","oneOf":["a","b"]},{"field":"age","gte":70}]}}]}`
	var cs ChartSpec
	if err := json.Unmarshal([]byte(in), &cs); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if cs.Mark != "bar" {
		t.Fatalf("Mark = %q, want bar", cs.Mark)
	}
	if cs.Encoding["y"].Aggregate != "mean" {
		t.Fatalf("aggregate = %q", cs.Encoding["y"].Aggregate)
	}
	f := cs.Filters()
	if len(f) != 2 || len(f[0].Range) != 2 || len(f[1].Or) != 2 {
		t.Fatalf("filters = %+v", f)
	}

	var other ChartSpec
	_ = json.Unmarshal([]byte(in), &other)
	if !cs.Equal(other) {
		t.Fatalf("Equal() = false for identical decodes")
	}
	other.Mark = "line"
	if cs.Equal(other) {
		t.Fatalf("Equal() = true after mark change")
	}
}

// TestChartSpecKeepsUnmodelledMembers verifies that members without a typed
// field survive a decode and encode round trip and take part in Equal.
func TestChartSpecKeepsUnmodelledMembers(t *testing.T) {
	t.Parallel()

	in := `{"$schema":"https://vega.github.io/schema/vega-lite/v5.json","mark":{"type":"bar","opacity":0.5},"params":[{"name":"brush","select":{"type":"interval","encodings":["x"]}}],"transform":[{"filter":"datum.age > 30"},{"filter":{"param":"brush"}},{"calculate":"datum.a * 2","as":"b"}],"encoding":{"x":{"field":"age","type":"quantitative","bin":true},"y":{"field":"income","type":"quantitative","aggregate":"mean","scale":{"zero":false}}}}`
	var cs ChartSpec
	if err := json.Unmarshal([]byte(in), &cs); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if cs.Mark != "bar" || cs.Encoding["y"].Aggregate != "mean" {
		t.Fatalf("typed view mark=%q aggregate=%q", cs.Mark, cs.Encoding["y"].Aggregate)
	}
	f := cs.Filters()
	if len(f) != 2 || f[0].Expr != "datum.age > 30" || f[1].Param != "brush" || f[0].Tested() || f[1].Tested() {
		t.Fatalf("filters = %+v", f)
	}

	b, err := json.Marshal(cs)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var got, want any
	_ = json.Unmarshal(b, &got)
	_ = json.Unmarshal([]byte(in), &want)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip =\n%s\nwant\n%s", b, in)
	}

	var unbinned ChartSpec
	if err := json.Unmarshal([]byte(strings.Replace(in, `,"bin":true`, "", 1)), &unbinned); err != nil {
		t.Fatalf("Unmarshal(unbinned) error = %v", err)
	}
	if cs.Equal(unbinned) {
		t.Fatalf("Equal() = true for specs differing only in bin")
	}
}
