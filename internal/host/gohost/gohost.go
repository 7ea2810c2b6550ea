// Package gohost is an Executor that interprets Go snippets with yaegi.
//
// Snippets run as the body of main and can reach the host's frames through
// the "bifrost/notebook" package:
//
//	recs := notebook.Records("df")
//	notebook.Put("out", notebook.Columns("df"), recs[:10])
package gohost

import (
	"context"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"bifrost/internal/frame"
	"bifrost/internal/source"
)

// Host keeps named frames and runs snippets against them.
type Host struct {
	out io.Writer

	mu     sync.Mutex
	frames map[string]*frame.Frame
}

// Option configures a Host.
type Option func(*Host)

// WithOutput sends snippet stdout and stderr to w.
func WithOutput(w io.Writer) Option {
	return func(h *Host) { h.out = w }
}

// New returns an empty host.
func New(opts ...Option) *Host {
	h := &Host{out: os.Stdout, frames: map[string]*frame.Frame{}}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Put stores f under name, replacing any previous frame.
func (h *Host) Put(name string, f *frame.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames[name] = f
}

// Frame returns the frame stored under name.
func (h *Host) Frame(name string) (*frame.Frame, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.frames[name]
	return f, ok
}

// Names lists stored frames, sorted.
func (h *Host) Names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.frames))
	for n := range h.frames {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

const wrapper = `package main

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"bifrost/notebook"
)

var (
	_ = fmt.Sprint
	_ = math.NaN
	_ = sort.Strings
	_ = strings.TrimSpace
	_ = time.Now
	_ = notebook.Records
)

func main() {
%s
}
`

// Run interprets code as the body of main. A fresh interpreter is used for
// every call; only frames persist between runs.
func (h *Host) Run(ctx context.Context, code string) error {
	i := interp.New(interp.Options{Stdout: h.out, Stderr: h.out})
	if err := i.Use(stdlib.Symbols); err != nil {
		return fmt.Errorf("gohost: load stdlib: %w", err)
	}
	if err := i.Use(h.Symbols()); err != nil {
		return fmt.Errorf("gohost: load notebook: %w", err)
	}
	if _, err := i.EvalWithContext(ctx, fmt.Sprintf(wrapper, code)); err != nil {
		return fmt.Errorf("gohost: run: %w", err)
	}
	return nil
}

// Symbols exports the notebook package bound to h.
func (h *Host) Symbols() interp.Exports {
	return interp.Exports{
		"bifrost/notebook/notebook": {
			"Columns": reflect.ValueOf(h.columns),
			"Records": reflect.ValueOf(h.records),
			"Put":     reflect.ValueOf(h.put),
			"Names":   reflect.ValueOf(h.Names),
		},
	}
}

func (h *Host) columns(name string) []string {
	f, ok := h.Frame(name)
	if !ok {
		return nil
	}
	return f.Names()
}

func (h *Host) records(name string) []map[string]any {
	f, ok := h.Frame(name)
	if !ok {
		return nil
	}
	recs, err := f.Records(nil)
	if err != nil {
		return nil
	}
	out := make([]map[string]any, len(recs))
	for i, r := range recs {
		out[i] = map[string]any(r)
	}
	return out
}

// put builds a frame from records in column order and stores it.
func (h *Host) put(name string, columns []string, recs []map[string]any) error {
	rows := make([][]any, len(recs))
	for i, r := range recs {
		row := make([]any, len(columns))
		for j, c := range columns {
			row[j] = r[c]
		}
		rows[i] = row
	}
	f, err := source.SettleColumns(columns, nil, rows)
	if err != nil {
		return fmt.Errorf("notebook.Put %s: %w", name, err)
	}
	h.Put(name, f)
	return nil
}
