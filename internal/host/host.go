// Package host defines the collaborators a widget borrows from its
// notebook-like environment: an executor for exported code and a tracer
// that reports which variables a widget was created from.
package host

import (
	"context"
	"errors"
)

// ErrNoExecutor is returned when code must run but no executor is wired.
var ErrNoExecutor = errors.New("host: no executor configured")

// Executor runs exported code synchronously. There is no timeout; callers
// own any deadline through ctx.
type Executor interface {
	Run(ctx context.Context, code string) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, code string) error

// Run calls f.
func (f ExecutorFunc) Run(ctx context.Context, code string) error { return f(ctx, code) }

// Trace is what the host observed around widget construction.
type Trace struct {
	// PlotOutput is the variable that should receive exported results.
	PlotOutput string
	// Input is the variable holding the plotted dataset.
	Input string
	// InputURL is where the dataset came from when it was not a variable.
	InputURL string
}

// Tracer reports the current Trace.
type Tracer interface {
	Trace() Trace
}

// StaticTracer always reports the same trace.
type StaticTracer Trace

// Trace returns t.
func (t StaticTracer) Trace() Trace { return Trace(t) }
