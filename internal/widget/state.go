package widget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"

	"bifrost/internal/coltype"
	"bifrost/internal/frame"
	"bifrost/internal/vega"
)

// Published attribute names.
const (
	FieldSpecHistory           = "spec_history"
	FieldCurrentDataframeIndex = "current_dataframe_index"
	FieldQuerySpec             = "query_spec"
	FieldGraphSpec             = "graph_spec"
	FieldPassedEncodings       = "passed_encodings"
	FieldPassedKind            = "passed_kind"
	FieldSelectedColumns       = "selected_columns"
	FieldGraphData             = "graph_data"
	FieldGraphDataConfig       = "graph_data_config"
	FieldGraphBounds           = "graph_bounds"
	FieldDFCode                = "df_code"
	FieldDFColumns             = "df_columns"
	FieldColumnTypes           = "column_types"
	FieldColumnNameMap         = "column_name_map"
	FieldOutputVariable        = "output_variable"
	FieldDFVariableName        = "df_variable_name"
	FieldInputURL              = "input_url"
	FieldSelectedData          = "selected_data"
	FieldSuggestedGraphs       = "suggested_graphs"
)

var (
	ErrReadOnly     = errors.New("widget: field is not settable")
	ErrUnknownField = errors.New("widget: unknown field")
)

// settable lists the fields Apply accepts.
var settable = map[string]bool{
	FieldCurrentDataframeIndex: true,
	FieldGraphSpec:             true,
	FieldGraphDataConfig:       true,
	FieldDFCode:                true,
	FieldSelectedData:          true,
	FieldSuggestedGraphs:       true,
}

var readOnly = map[string]bool{
	FieldSpecHistory:     true,
	FieldQuerySpec:       true,
	FieldPassedEncodings: true,
	FieldPassedKind:      true,
	FieldSelectedColumns: true,
	FieldGraphData:       true,
	FieldGraphBounds:     true,
	FieldDFColumns:       true,
	FieldColumnTypes:     true,
	FieldColumnNameMap:   true,
	FieldOutputVariable:  true,
	FieldDFVariableName:  true,
	FieldInputURL:        true,
}

// Settable reports whether field accepts external writes.
func Settable(field string) bool { return settable[field] }

// SampleConfig is graph_data_config. DatasetLength is an echo of the latest
// snapshot length.
type SampleConfig struct {
	SampleSize    int `json:"sampleSize"`
	DatasetLength int `json:"datasetLength"`
}

// State is the published attribute surface.
type State struct {
	SpecHistory           []vega.ChartSpec      `json:"spec_history"`
	CurrentDataframeIndex int                   `json:"current_dataframe_index"`
	QuerySpec             vega.QueryEnvelope    `json:"query_spec"`
	GraphSpec             vega.ChartSpec        `json:"graph_spec"`
	PassedEncodings       vega.Encodings        `json:"passed_encodings"`
	PassedKind            string                `json:"passed_kind"`
	SelectedColumns       []string              `json:"selected_columns"`
	GraphData             []frame.Record        `json:"graph_data"`
	GraphDataConfig       SampleConfig          `json:"graph_data_config"`
	GraphBounds           map[string][2]float64 `json:"graph_bounds"`
	DFCode                string                `json:"df_code"`
	DFColumns             []string              `json:"df_columns"`
	ColumnTypes           coltype.Map           `json:"column_types"`
	ColumnNameMap         map[string]string     `json:"column_name_map"`
	OutputVariable        string                `json:"output_variable"`
	DFVariableName        string                `json:"df_variable_name"`
	InputURL              string                `json:"input_url"`
	SelectedData          []frame.Record        `json:"selected_data"`
	SuggestedGraphs       []vega.ChartSpec      `json:"suggested_graphs"`
}

// clone copies the containers of s. Records and specs are treated as
// immutable values and stay shared.
func (s State) clone() State {
	s.SpecHistory = append([]vega.ChartSpec{}, s.SpecHistory...)
	s.SelectedColumns = append([]string{}, s.SelectedColumns...)
	s.GraphData = append([]frame.Record{}, s.GraphData...)
	s.GraphBounds = maps.Clone(s.GraphBounds)
	s.DFColumns = append([]string{}, s.DFColumns...)
	s.ColumnTypes = coltype.Map{
		Columns: append([]string{}, s.ColumnTypes.Columns...),
		Types:   maps.Clone(s.ColumnTypes.Types),
	}
	s.ColumnNameMap = maps.Clone(s.ColumnNameMap)
	s.SelectedData = append([]frame.Record{}, s.SelectedData...)
	s.SuggestedGraphs = append([]vega.ChartSpec{}, s.SuggestedGraphs...)
	return s
}

// Change is one published attribute update.
type Change struct {
	Field string
	Old   any
	New   any
}

// State returns a copy of the published attributes.
func (w *Widget) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.clone()
}

// Subscribe registers fn for every later change and returns a function that
// removes it. Changes are delivered synchronously after the transition that
// made them, in order. fn may read State but must not start a transition.
func (w *Widget) Subscribe(fn func(Change)) (cancel func()) {
	w.subsMu.Lock()
	defer w.subsMu.Unlock()
	id := w.nextSub
	w.nextSub++
	w.subs[id] = fn
	return func() {
		w.subsMu.Lock()
		defer w.subsMu.Unlock()
		delete(w.subs, id)
	}
}

// tx collects the changes of one transition.
type tx struct {
	changes []Change
}

// set stores v in *dst and records the change.
func set[T any](t *tx, field string, dst *T, v T) {
	old := *dst
	*dst = v
	t.changes = append(t.changes, Change{Field: field, Old: old, New: v})
}

// transition runs fn under the state lock, then delivers what it changed
// with only txMu held, so subscribers can read State. Lock order is txMu
// then mu. Changes made before fn failed are still published.
func (w *Widget) transition(fn func(*tx) error) error {
	w.txMu.Lock()
	defer w.txMu.Unlock()

	w.mu.Lock()
	var t tx
	err := fn(&t)
	w.mu.Unlock()

	if len(t.changes) == 0 {
		return err
	}
	w.subsMu.Lock()
	subs := make([]func(Change), 0, len(w.subs))
	for id := 0; id < w.nextSub; id++ {
		if fn, ok := w.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	w.subsMu.Unlock()
	for _, c := range t.changes {
		for _, fn := range subs {
			fn(c)
		}
	}
	return err
}

// Apply decodes an external write of field and runs the matching transition.
func (w *Widget) Apply(ctx context.Context, field string, raw json.RawMessage) error {
	if !settable[field] {
		if readOnly[field] {
			return fmt.Errorf("%w: %s", ErrReadOnly, field)
		}
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}

	switch field {
	case FieldCurrentDataframeIndex:
		var i int
		if err := decode(field, raw, &i); err != nil {
			return err
		}
		return w.SetCurrentDataframeIndex(i)
	case FieldGraphSpec:
		var spec vega.ChartSpec
		if err := decode(field, raw, &spec); err != nil {
			return err
		}
		return w.SetGraphSpec(ctx, spec)
	case FieldGraphDataConfig:
		var cfg SampleConfig
		if err := decode(field, raw, &cfg); err != nil {
			return err
		}
		return w.SetSampleConfig(ctx, cfg)
	case FieldDFCode:
		var code string
		if err := decode(field, raw, &code); err != nil {
			return err
		}
		return w.SetExportedCode(ctx, code)
	case FieldSelectedData:
		var recs []frame.Record
		if err := decode(field, raw, &recs); err != nil {
			return err
		}
		return w.SetSelectedData(recs)
	case FieldSuggestedGraphs:
		var specs []vega.ChartSpec
		if err := decode(field, raw, &specs); err != nil {
			return err
		}
		return w.SetSuggestedGraphs(specs)
	}
	return fmt.Errorf("%w: %s", ErrUnknownField, field)
}

func decode(field string, raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("widget: decode %s as %s: %w", field, reflect.TypeOf(v).Elem(), err)
	}
	return nil
}
