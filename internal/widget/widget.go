// Package widget is the reactive chart controller. It owns the dataset
// history and the published attribute surface, and reacts to external writes
// of the settable attributes with one of four transitions:
//
//   - construction (New) validates, samples, types and synthesizes specs,
//   - a sample config edit resamples the latest snapshot,
//   - a graph spec edit is stored and may extend the spec history,
//   - an exported code edit runs the code on the host executor.
//
// Transitions are serialized and run to completion. Observers receive every
// published change in order.
package widget

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"bifrost/internal/coltype"
	"bifrost/internal/frame"
	"bifrost/internal/host"
	"bifrost/internal/metrics"
	"bifrost/internal/profile"
	"bifrost/internal/sampler"
	"bifrost/internal/vega"
)

// DefaultSampleSize is the construction sample size.
const DefaultSampleSize = 100

// Transition names used for metrics.
const (
	TransitionConstruct    = "construct"
	TransitionSampleConfig = "sample_config"
	TransitionGraphSpec    = "graph_spec"
	TransitionExportedCode = "exported_code"
)

var ErrIndexOutOfRange = errors.New("widget: dataframe index out of range")

// Option configures a Widget.
type Option func(*Widget)

// WithLogger sets the logger. The default is log.Default().
func WithLogger(l *log.Logger) Option {
	return func(w *Widget) { w.log = l }
}

// WithRand fixes the sampler's randomness source.
func WithRand(r *rand.Rand) Option {
	return func(w *Widget) { w.rng = r }
}

// WithSampleSize overrides the construction sample size.
func WithSampleSize(n int) Option {
	return func(w *Widget) { w.sampleSize = n }
}

// WithTracer sets the collaborator that reports input and output variables.
func WithTracer(t host.Tracer) Option {
	return func(w *Widget) { w.tracer = t }
}

// WithExecutor sets where exported code runs.
func WithExecutor(e host.Executor) Option {
	return func(w *Widget) { w.exec = e }
}

// Widget is one controller instance. It is safe for concurrent use; writes
// are applied one at a time in arrival order.
type Widget struct {
	log        *log.Logger
	rng        *rand.Rand
	sampleSize int
	tracer     host.Tracer
	exec       host.Executor

	// txMu serializes transitions together with the delivery of their
	// changes. It is taken before mu.
	txMu sync.Mutex

	mu      sync.Mutex
	history frame.History
	state   State
	// types of the renamed columns, used for bounds of resampled data.
	types coltype.Map

	subsMu  sync.Mutex
	subs    map[int]func(Change)
	nextSub int
}

// New constructs a widget over df. nameMap maps original column names to
// display names; nil keeps the original names. req is the requested
// encoding, in original column names. On error nothing is published.
func New(ctx context.Context, df *frame.Frame, nameMap map[string]string, req vega.Request, opts ...Option) (*Widget, error) {
	w := &Widget{
		log:        log.Default(),
		sampleSize: DefaultSampleSize,
		subs:       map[int]func(Change){},
	}
	for _, o := range opts {
		o(w)
	}

	start := time.Now()
	err := w.construct(ctx, df, nameMap, req)
	metrics.RecordTransition(TransitionConstruct, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Widget) construct(ctx context.Context, df *frame.Frame, nameMap map[string]string, req vega.Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if df == nil {
		return errors.New("widget: nil dataset")
	}

	res, err := sampler.Sample(df, sampler.Options{Size: w.sampleSize, Mode: sampler.Recommending, Rand: w.rng})
	if err != nil {
		return fmt.Errorf("widget: construct: %w", err)
	}
	metrics.RecordSample(sampler.Recommending.String(), len(res.Rows))

	types := coltype.ClassifyFrame(df)
	if fb := coltype.Fallbacks(df); len(fb) > 0 {
		w.log.Printf("widget: dtype fallback to nominal columns=%s", strings.Join(fb, ","))
	}

	syn, err := vega.Synthesize(res.Records, types, req)
	if err != nil {
		return fmt.Errorf("widget: construct: %w", err)
	}

	if nameMap == nil {
		nameMap = frame.IdentityNames(df.Names())
	}
	renamed, err := df.Rename(nameMap)
	if err != nil {
		return fmt.Errorf("widget: construct: %w", err)
	}
	idx := w.history.Append(renamed)
	w.types = types.Rename(nameMap)

	size := w.sampleSize
	if res.Adjusted {
		size = res.Size
		w.log.Printf("widget: sample size widened requested=%d anchors=%d", w.sampleSize, res.Size)
	}

	cols := renamed.Names()
	sort.Strings(cols)

	var tr host.Trace
	if w.tracer != nil {
		tr = w.tracer.Trace()
	}
	st := State{
		SpecHistory:           []vega.ChartSpec{},
		CurrentDataframeIndex: idx,
		QuerySpec:             syn.QuerySpec,
		GraphSpec:             syn.ChartSpec,
		PassedEncodings:       syn.Encodings,
		PassedKind:            syn.Kind,
		SelectedColumns:       syn.Encodings.Selected(),
		GraphData:             syn.Data,
		GraphDataConfig:       SampleConfig{SampleSize: size, DatasetLength: renamed.Len()},
		GraphBounds:           profile.Bounds(syn.Data, types),
		DFColumns:             cols,
		ColumnTypes:           types,
		ColumnNameMap:         nameMap,
		OutputVariable:        tr.PlotOutput,
		SelectedData:          []frame.Record{},
		SuggestedGraphs:       []vega.ChartSpec{},
	}
	if tr.Input != "" {
		st.DFVariableName = tr.Input
	} else {
		st.InputURL = tr.InputURL
	}
	w.state = st

	w.log.Printf("widget: constructed rows=%d cols=%d sample=%d kind=%q", renamed.Len(), renamed.Width(), len(res.Rows), req.Kind)
	return nil
}

// SetSampleConfig applies an external write of graph_data_config. The
// dataset length is read-only; the written value is ignored. When both the
// old and the new sample size cover the whole latest snapshot nothing is
// resampled. Otherwise the latest snapshot is sampled uniformly at the new
// size.
func (w *Widget) SetSampleConfig(ctx context.Context, cfg SampleConfig) error {
	start := time.Now()
	err := w.transition(func(t *tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		latest, ok := w.history.Latest()
		if !ok {
			return frame.ErrNoSnapshot
		}
		n := latest.Len()
		old := w.state.GraphDataConfig
		next := SampleConfig{SampleSize: cfg.SampleSize, DatasetLength: n}
		if old.SampleSize >= n && next.SampleSize >= n {
			set(t, FieldGraphDataConfig, &w.state.GraphDataConfig, next)
			return nil
		}

		res, err := sampler.Sample(latest, sampler.Options{Size: next.SampleSize, Mode: sampler.Plain, Rand: w.rng})
		if err != nil {
			return fmt.Errorf("widget: resample: %w", err)
		}
		metrics.RecordSample(sampler.Plain.String(), len(res.Rows))
		w.log.Printf("widget: resample size=%d rows=%d", next.SampleSize, len(res.Rows))

		set(t, FieldGraphDataConfig, &w.state.GraphDataConfig, next)
		set(t, FieldGraphData, &w.state.GraphData, res.Records)
		set(t, FieldGraphBounds, &w.state.GraphBounds, profile.Bounds(res.Records, w.types))
		return nil
	})
	metrics.RecordTransition(TransitionSampleConfig, err, time.Since(start))
	return err
}

// SetGraphSpec stores a front-end chart edit. The spec history grows when
// the edit differs from the current spec and encodes at least one channel.
// Nothing is recomputed.
func (w *Widget) SetGraphSpec(ctx context.Context, spec vega.ChartSpec) error {
	start := time.Now()
	err := w.transition(func(t *tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		changed := !spec.Equal(w.state.GraphSpec)
		set(t, FieldGraphSpec, &w.state.GraphSpec, spec)
		if changed && len(spec.Encoding) > 0 {
			hist := append(append([]vega.ChartSpec(nil), w.state.SpecHistory...), spec)
			set(t, FieldSpecHistory, &w.state.SpecHistory, hist)
		}
		return nil
	})
	metrics.RecordTransition(TransitionGraphSpec, err, time.Since(start))
	return err
}

// SetExportedCode stores code and, when an output variable is configured,
// runs it on the executor. Executor errors are returned unchanged in the
// chain; the stored code is kept either way.
func (w *Widget) SetExportedCode(ctx context.Context, code string) error {
	start := time.Now()
	err := w.transition(func(t *tx) error {
		set(t, FieldDFCode, &w.state.DFCode, code)
		if w.state.OutputVariable == "" {
			return nil
		}
		if w.exec == nil {
			return host.ErrNoExecutor
		}
		w.log.Printf("widget: run exported code output=%s bytes=%d", w.state.OutputVariable, len(code))
		if err := w.exec.Run(ctx, code); err != nil {
			return fmt.Errorf("widget: run exported code: %w", err)
		}
		return nil
	})
	metrics.RecordTransition(TransitionExportedCode, err, time.Since(start))
	return err
}

// SetCurrentDataframeIndex points current_dataframe_index at a history
// snapshot.
func (w *Widget) SetCurrentDataframeIndex(i int) error {
	return w.transition(func(t *tx) error {
		if i < 0 || i >= w.history.Len() {
			return fmt.Errorf("%w: %d (snapshots=%d)", ErrIndexOutOfRange, i, w.history.Len())
		}
		set(t, FieldCurrentDataframeIndex, &w.state.CurrentDataframeIndex, i)
		return nil
	})
}

// SetSelectedData stores the records brushed in the view.
func (w *Widget) SetSelectedData(recs []frame.Record) error {
	return w.transition(func(t *tx) error {
		set(t, FieldSelectedData, &w.state.SelectedData, append([]frame.Record{}, recs...))
		return nil
	})
}

// SetSuggestedGraphs stores the recommender's candidate charts.
func (w *Widget) SetSuggestedGraphs(specs []vega.ChartSpec) error {
	return w.transition(func(t *tx) error {
		set(t, FieldSuggestedGraphs, &w.state.SuggestedGraphs, append([]vega.ChartSpec{}, specs...))
		return nil
	})
}

// Dataset returns the current_dataframe_index snapshot.
func (w *Widget) Dataset() (*frame.Frame, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.history.At(w.state.CurrentDataframeIndex)
}

// Push appends a snapshot to the dataset history and returns its index.
// Published attributes do not change; later resamples use the new tail.
func (w *Widget) Push(f *frame.Frame) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.history.Append(f)
}
