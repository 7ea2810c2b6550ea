package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"bifrost/internal/coltype"
	"bifrost/internal/config"
	"bifrost/internal/frame"
	"bifrost/internal/host"
	"bifrost/internal/profile"
	"bifrost/internal/render"
	"bifrost/internal/sampler"
	"bifrost/internal/translate"
	"bifrost/internal/vega"
	"bifrost/internal/widget"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func newValidateCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the run configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			issues := config.Validate(g.cfg)
			for _, iss := range issues {
				fmt.Fprintln(cmd.ErrOrStderr(), iss.String())
			}
			if config.HasErrors(issues) {
				return fmt.Errorf("configuration is invalid")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	}
}

type sampleOptions struct {
	size int
	mode string
}

func newSampleCmd(g *globalOptions) *cobra.Command {
	opts := &sampleOptions{}
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Draw a sample of the dataset as JSON records",
		Example: `  # Representative sample: every column keeps a value
  bifrost sample --source csv --path cars.csv --size 20 --mode recommending`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var mode sampler.Mode
			switch opts.mode {
			case "plain":
				mode = sampler.Plain
			case "recommending":
				mode = sampler.Recommending
			default:
				return fmt.Errorf("unknown mode %q (plain, recommending)", opts.mode)
			}
			f, err := g.loadFrame(cmd.Context())
			if err != nil {
				return err
			}
			size := opts.size
			if !cmd.Flags().Changed("size") {
				size = g.cfg.Widget.SampleSize
			}
			res, err := sampler.Sample(f, sampler.Options{Size: size, Mode: mode, Rand: g.rng()})
			if err != nil {
				return err
			}
			if res.Adjusted {
				log.Printf("sample: size widened requested=%d anchors=%d", size, res.Size)
			}
			return writeJSON(cmd.OutOrStdout(), res.Records)
		},
	}
	cmd.Flags().IntVar(&opts.size, "size", config.DefaultSampleSize, "sample size; 0 samples everything")
	cmd.Flags().StringVar(&opts.mode, "mode", "recommending", "sampling mode (plain, recommending)")
	return cmd
}

func newTypesCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "Print the semantic type of every column",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := g.loadFrame(cmd.Context())
			if err != nil {
				return err
			}
			if fb := coltype.Fallbacks(f); len(fb) > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: dtype not recognized, typed nominal: %s\n", strings.Join(fb, ", "))
			}
			return writeJSON(cmd.OutOrStdout(), coltype.ClassifyFrame(f))
		},
	}
}

func newProfileCmd(g *globalOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Report per-column missing, distinct and numeric statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := g.loadFrame(cmd.Context())
			if err != nil {
				return err
			}
			rep := profile.Profile(f)
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), rep)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), profile.Format(rep))
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the profile as JSON")
	return cmd
}

// requestFlags binds the encoding request flags; unset flags fall back to
// the widget section of the config.
type requestFlags struct {
	x, y, color, kind string
}

func (r *requestFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&r.x, "x", "", "column on the x channel")
	cmd.Flags().StringVar(&r.y, "y", "", "column on the y channel")
	cmd.Flags().StringVar(&r.color, "color", "", "column on the color channel")
	cmd.Flags().StringVar(&r.kind, "kind", "", "mark kind, e.g. point, line, bar")
}

func (r *requestFlags) request(w config.Widget) vega.Request {
	pick := func(flag, cfg string) string {
		if flag != "" {
			return flag
		}
		return cfg
	}
	return vega.Request{
		X:     pick(r.x, w.X),
		Y:     pick(r.y, w.Y),
		Color: pick(r.color, w.Color),
		Kind:  pick(r.kind, w.Kind),
	}
}

func newSpecCmd(g *globalOptions) *cobra.Command {
	req := &requestFlags{}
	cmd := &cobra.Command{
		Use:   "spec",
		Short: "Build the query spec and chart spec for an encoding request",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := g.loadFrame(cmd.Context())
			if err != nil {
				return err
			}
			res, err := sampler.Sample(f, sampler.Options{Size: g.cfg.Widget.SampleSize, Mode: sampler.Recommending, Rand: g.rng()})
			if err != nil {
				return err
			}
			syn, err := vega.Synthesize(res.Records, coltype.ClassifyFrame(f), req.request(g.cfg.Widget))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"query_spec":       syn.QuerySpec,
				"graph_spec":       syn.ChartSpec,
				"passed_encodings": syn.Encodings,
				"passed_kind":      syn.Kind,
			})
		},
	}
	req.bind(cmd)
	return cmd
}

// readSpec reads a chart spec from path, or stdin for "-".
func readSpec(cmd *cobra.Command, path string) (vega.ChartSpec, error) {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return vega.ChartSpec{}, err
		}
		defer f.Close()
		r = f
	}
	var spec vega.ChartSpec
	if err := json.NewDecoder(r).Decode(&spec); err != nil {
		return vega.ChartSpec{}, fmt.Errorf("decode chart spec: %w", err)
	}
	return spec, nil
}

type translateOptions struct {
	spec   string
	input  string
	output string
	run    bool
}

func newTranslateCmd(g *globalOptions) *cobra.Command {
	opts := &translateOptions{}
	cmd := &cobra.Command{
		Use:   "translate",
		Short: "Translate a chart spec's filters and aggregates into SQL",
		Long: fmt.Sprintf(`Translate a chart spec's filters and aggregates into SQL over %s.

Supported aggregates: %s`, translate.Placeholder, strings.Join(translate.Aggregates(), ", ")),
		Example: `  # Print the query
  bifrost translate --spec chart.json

  # Run it against the dataset in the SQL host and print the result
  bifrost translate --spec chart.json --source csv --path cars.csv --run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := readSpec(cmd, opts.spec)
			if err != nil {
				return err
			}
			code, err := translate.Translate(spec)
			if err != nil {
				return err
			}
			input := opts.input
			if input == "" {
				input = defaultInputVariable
			}
			if !opts.run {
				if opts.output != "" {
					code = translate.Export(code, input, opts.output)
				} else if cmd.Flags().Changed("input") {
					code = translate.Bind(code, input)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), code)
				return err
			}

			ctx := cmd.Context()
			f, err := g.loadFrame(ctx)
			if err != nil {
				return err
			}
			g.cfg.Host.Kind = "sql"
			h, err := g.openHost(ctx)
			if err != nil {
				return err
			}
			if err := h.Put(ctx, input, f); err != nil {
				return err
			}
			output := opts.output
			if output == "" {
				output = "out"
			}
			if err := h.Run(ctx, translate.Export(code, input, output)); err != nil {
				return err
			}
			fr, ok := h.(frameReader)
			if !ok {
				return fmt.Errorf("host %q cannot read tables back", g.cfg.Host.Kind)
			}
			out, err := fr.Frame(ctx, output)
			if err != nil {
				return err
			}
			recs, err := out.Records(nil)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), recs)
		},
	}
	cmd.Flags().StringVar(&opts.spec, "spec", "-", "chart spec JSON file, - for stdin")
	cmd.Flags().StringVar(&opts.input, "input", "", "table the query reads (default "+defaultInputVariable+")")
	cmd.Flags().StringVar(&opts.output, "output", "", "materialize the result as this table")
	cmd.Flags().BoolVar(&opts.run, "run", false, "run the query on the SQL host against the loaded dataset")
	return cmd
}

// frameReader is implemented by hosts that can read results back.
type frameReader interface {
	Frame(ctx context.Context, name string) (*frame.Frame, error)
}

type renderOptions struct {
	spec   string
	out    string
	width  int
	height int
}

func newRenderCmd(g *globalOptions) *cobra.Command {
	opts := &renderOptions{}
	req := &requestFlags{}
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render an SVG preview of a chart over a dataset sample",
		Example: `  # From an encoding request
  bifrost render --source csv --path cars.csv --x horsepower --y mpg --kind point --out cars.svg

  # From an edited chart spec
  bifrost render --source csv --path cars.csv --spec chart.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := g.loadFrame(cmd.Context())
			if err != nil {
				return err
			}
			res, err := sampler.Sample(f, sampler.Options{Size: g.cfg.Widget.SampleSize, Mode: sampler.Recommending, Rand: g.rng()})
			if err != nil {
				return err
			}

			var spec vega.ChartSpec
			if opts.spec != "" {
				if spec, err = readSpec(cmd, opts.spec); err != nil {
					return err
				}
			} else {
				syn, err := vega.Synthesize(res.Records, coltype.ClassifyFrame(f), req.request(g.cfg.Widget))
				if err != nil {
					return err
				}
				spec = syn.ChartSpec
			}
			if spec.Empty() {
				return errors.New("no chart: need --x, --y and --kind, or --spec")
			}

			w := cmd.OutOrStdout()
			if opts.out != "" && opts.out != "-" {
				file, err := os.Create(opts.out)
				if err != nil {
					return err
				}
				defer file.Close()
				w = file
			}
			return render.WriteSVG(w, spec, res.Records, opts.width, opts.height)
		},
	}
	req.bind(cmd)
	cmd.Flags().StringVar(&opts.spec, "spec", "", "chart spec JSON file, - for stdin")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "-", "SVG output file, - for stdout")
	cmd.Flags().IntVar(&opts.width, "width", render.DefaultWidth, "width in pixels")
	cmd.Flags().IntVar(&opts.height, "height", render.DefaultHeight, "height in pixels")
	return cmd
}

type widgetOptions struct {
	host   string
	apply  []string
	export string
	svg    string
}

func newWidgetCmd(g *globalOptions) *cobra.Command {
	opts := &widgetOptions{}
	req := &requestFlags{}
	cmd := &cobra.Command{
		Use:   "widget",
		Short: "Construct a widget, apply attribute writes and print its state",
		Long: `Construct a widget over the dataset, apply external attribute writes in
order and print the published state as JSON.

Writes use field=JSON, for example:

  --apply 'graph_data_config={"sampleSize":10}'
  --apply 'graph_spec=@chart.json'

A value starting with @ is read from that file.`,
		Example: `  # Resample, edit the chart and export the filtered rows into table "out"
  bifrost widget -c run.yaml --host sql --apply 'graph_spec=@chart.json' --export out`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if cmd.Flags().Changed("host") {
				g.cfg.Host.Kind = opts.host
			}
			wc := g.cfg.Widget
			if opts.export != "" {
				if g.cfg.Host.Kind != "sql" {
					return errors.New("--export needs --host sql")
				}
				wc.OutputVariable = opts.export
			}

			f, err := g.loadFrame(ctx)
			if err != nil {
				return err
			}

			trace := host.Trace{PlotOutput: wc.OutputVariable, Input: wc.DFVariableName, InputURL: wc.InputURL}
			wopts := []widget.Option{
				widget.WithLogger(log.Default()),
				widget.WithSampleSize(wc.SampleSize),
			}
			if r := g.rng(); r != nil {
				wopts = append(wopts, widget.WithRand(r))
			}
			var h execHost
			if g.cfg.Host.Kind != "none" {
				if h, err = g.openHost(ctx); err != nil {
					return err
				}
				if trace.Input == "" {
					trace.Input = defaultInputVariable
				}
				if err := h.Put(ctx, trace.Input, f); err != nil {
					return err
				}
				wopts = append(wopts, widget.WithExecutor(h))
			}
			if trace.InputURL == "" && strings.Contains(g.cfg.Source.Path, "://") {
				trace.InputURL = g.cfg.Source.Path
			}
			wopts = append(wopts, widget.WithTracer(host.StaticTracer(trace)))

			var names map[string]string
			if wc.NormalizeNames {
				names = frame.NormalizedNames(f.Names())
			}
			w, err := widget.New(ctx, f, names, req.request(wc), wopts...)
			if err != nil {
				return err
			}
			cancel := w.Subscribe(func(c widget.Change) {
				log.Printf("widget: change field=%s", c.Field)
			})
			defer cancel()

			for _, a := range opts.apply {
				field, raw, err := parseApply(a)
				if err != nil {
					return err
				}
				if err := w.Apply(ctx, field, raw); err != nil {
					return err
				}
			}

			if opts.export != "" {
				code, err := translate.Translate(w.State().GraphSpec)
				if err != nil {
					return err
				}
				if err := w.SetExportedCode(ctx, translate.Export(code, trace.Input, opts.export)); err != nil {
					return err
				}
				if fr, ok := h.(frameReader); ok {
					out, err := fr.Frame(ctx, opts.export)
					if err != nil {
						return err
					}
					i := w.Push(out)
					log.Printf("widget: exported table=%s rows=%d snapshot=%d", opts.export, out.Len(), i)
				}
			}

			st := w.State()
			if opts.svg != "" && !st.GraphSpec.Empty() {
				file, err := os.Create(opts.svg)
				if err != nil {
					return err
				}
				defer file.Close()
				if err := render.WriteSVG(file, st.GraphSpec, st.GraphData, 0, 0); err != nil {
					return err
				}
			}
			return writeJSON(cmd.OutOrStdout(), st)
		},
	}
	req.bind(cmd)
	cmd.Flags().StringVar(&opts.host, "host", "none", "execution host for exported code (sql, go, none)")
	cmd.Flags().StringArrayVar(&opts.apply, "apply", nil, "attribute write field=JSON, applied in order (repeatable)")
	cmd.Flags().StringVar(&opts.export, "export", "", "translate the final graph spec and materialize it as this table")
	cmd.Flags().StringVar(&opts.svg, "svg", "", "also write an SVG preview of the final chart")
	return cmd
}

// parseApply splits field=JSON. A value of @path is read from path.
func parseApply(s string) (string, json.RawMessage, error) {
	field, val, ok := strings.Cut(s, "=")
	if !ok || field == "" {
		return "", nil, fmt.Errorf("bad --apply %q: want field=JSON", s)
	}
	if strings.HasPrefix(val, "@") {
		b, err := os.ReadFile(val[1:])
		if err != nil {
			return "", nil, err
		}
		val = string(b)
	}
	if !json.Valid([]byte(val)) {
		return "", nil, fmt.Errorf("bad --apply %q: value is not JSON", s)
	}
	return field, json.RawMessage(val), nil
}
