package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"bifrost/internal/config"
	"bifrost/internal/frame"
	"bifrost/internal/host"
	"bifrost/internal/host/gohost"
	"bifrost/internal/host/sqlhost"
	"bifrost/internal/metrics"
	"bifrost/internal/metrics/datadog"
	"bifrost/internal/source"

	// register every loader; the config picks one.
	_ "bifrost/internal/source/all"
)

// defaultInputVariable names the dataset inside an execution host when the
// config does not.
const defaultInputVariable = "df"

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	verbose    bool

	kind    string
	path    string
	dsn     string
	query   string
	options map[string]string

	metricsBackend string

	cfg   config.Config
	close []func()
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}
	root := &cobra.Command{
		Use:           "bifrost",
		Short:         "Sample datasets and build chart specs",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			g.shutdown()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "run configuration file (YAML or JSON)")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "enable verbose logs")
	pf.StringVarP(&g.kind, "source", "s", "", "source kind ("+strings.Join(source.Kinds(), ", ")+")")
	pf.StringVar(&g.path, "path", "", "source file path or URL")
	pf.StringVar(&g.dsn, "dsn", "", "source DSN for database kinds (overrides env BIFROST_DSN)")
	pf.StringVar(&g.query, "query", "", "table name or query for database kinds")
	pf.StringToStringVar(&g.options, "opt", nil, "source option key=value (repeatable)")
	pf.StringVar(&g.metricsBackend, "metrics-backend", "", "metrics backend (datadog, none)")

	root.AddCommand(
		newValidateCmd(g),
		newSampleCmd(g),
		newTypesCmd(g),
		newProfileCmd(g),
		newSpecCmd(g),
		newTranslateCmd(g),
		newRenderCmd(g),
		newWidgetCmd(g),
	)
	return root
}

// setup resolves the configuration and installs the metrics backend.
func (g *globalOptions) setup(cmd *cobra.Command) error {
	if !g.verbose {
		log.SetOutput(io.Discard)
	}

	var c config.Config
	if g.configPath != "" {
		var err error
		if c, err = config.Load(g.configPath); err != nil {
			return err
		}
	} else {
		var err error
		if c, err = config.Decode(strings.NewReader("")); err != nil {
			return err
		}
	}

	// Flags win over the file.
	if g.kind != "" {
		c.Source.Kind = g.kind
	}
	if g.path != "" {
		c.Source.Path = g.path
	}
	if g.dsn != "" {
		c.Source.DSN = g.dsn
	}
	if g.query != "" {
		c.Source.Query = g.query
	}
	if len(g.options) > 0 {
		if c.Source.Options == nil {
			c.Source.Options = config.Options{}
		}
		for k, v := range g.options {
			c.Source.Options[k] = v
		}
	}
	if g.metricsBackend != "" {
		c.Metrics.Backend = g.metricsBackend
	}
	c.ApplyEnv(os.Getenv)
	g.cfg = c

	g.setupMetrics(cmd.Context())
	return nil
}

// setupMetrics installs the configured backend. Failures fall back to the
// nop backend.
func (g *globalOptions) setupMetrics(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	m := g.cfg.Metrics
	switch m.Backend {
	case "datadog":
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName:    m.Job,
			Tags:       m.Tags,
			FlushEvery: m.FlushEvery,
		})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return
		}
		log.Printf("metrics: backend=%v job_name=%v tags=%v", m.Backend, m.Job, m.Tags)
		metrics.SetBackend(b)
		// Close stops the flush loop and flushes once more.
		g.close = append(g.close, func() {
			if err := b.Close(); err != nil {
				log.Printf("metrics: datadog close/flush error: %v", err)
			}
		})
	case "", "none":
		log.Printf("metrics: disabled (backend=%q)", m.Backend)
	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", m.Backend)
	}
}

func (g *globalOptions) shutdown() {
	for i := len(g.close) - 1; i >= 0; i-- {
		g.close[i]()
	}
	g.close = nil
}

// loadFrame validates the source section and loads the dataset.
func (g *globalOptions) loadFrame(ctx context.Context) (*frame.Frame, error) {
	var bad []string
	for _, iss := range config.Validate(g.cfg) {
		if strings.HasPrefix(iss.Path, "source.") && iss.Severity == config.SeverityError {
			bad = append(bad, iss.String())
		}
	}
	if len(bad) > 0 {
		return nil, fmt.Errorf("invalid source: %s", strings.Join(bad, "; "))
	}
	f, err := source.Load(ctx, source.SpecFromConfig(g.cfg.Source))
	if err != nil {
		return nil, err
	}
	log.Printf("source: kind=%s rows=%d cols=%d", g.cfg.Source.Kind, f.Len(), f.Width())
	return f, nil
}

// rng returns a seeded generator when the config fixes a seed.
func (g *globalOptions) rng() *rand.Rand {
	if s := g.cfg.Widget.Seed; s != 0 {
		return rand.New(rand.NewPCG(s, s))
	}
	return nil
}

// execHost is an execution host that can also publish frames.
type execHost interface {
	host.Executor
	Put(ctx context.Context, name string, f *frame.Frame) error
}

// goHost adapts gohost.Host to execHost.
type goHost struct{ *gohost.Host }

func (h goHost) Put(_ context.Context, name string, f *frame.Frame) error {
	h.Host.Put(name, f)
	return nil
}

var errNoHost = errors.New("host kind is none")

// openHost opens the configured execution host. The caller owns cleanup
// through g.shutdown.
func (g *globalOptions) openHost(ctx context.Context) (execHost, error) {
	switch g.cfg.Host.Kind {
	case "sql":
		dsn := g.cfg.Host.DSN
		if dsn == "" {
			dsn = config.DefaultHostDSN
		}
		h, err := sqlhost.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		g.close = append(g.close, func() { h.Close() })
		return h, nil
	case "go":
		return goHost{gohost.New(gohost.WithOutput(os.Stderr))}, nil
	case "", "none":
		return nil, errNoHost
	default:
		return nil, fmt.Errorf("unknown host kind %q", g.cfg.Host.Kind)
	}
}
