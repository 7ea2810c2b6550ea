// Package metrics is a small facade over a pluggable metrics backend.
//
// Core packages record through the package-level helpers and never import a
// concrete backend. The default backend discards everything; commands install
// a real one with SetBackend.
package metrics

import (
	"sync"
	"time"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric observations.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer.
type Flusher interface {
	Flush() error
}

// Metric names recorded by this module.
const (
	TransitionTotal    = "bifrost_transition_total"
	TransitionDuration = "bifrost_transition_duration_seconds"
	SampleRows         = "bifrost_sample_rows"
)

type nop struct{}

func (nop) IncCounter(string, float64, Labels)       {}
func (nop) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nop{}
)

// SetBackend installs b. A nil b restores the nop backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nop{}
	}
	backend = b
}

// Current returns the installed backend.
func Current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush flushes the installed backend if it buffers.
func Flush() error {
	if f, ok := Current().(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// RecordTransition records one widget transition outcome. err decides the
// status label.
func RecordTransition(transition string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	l := Labels{"transition": transition, "status": status}
	b := Current()
	b.IncCounter(TransitionTotal, 1, l)
	b.ObserveHistogram(TransitionDuration, d.Seconds(), l)
}

// RecordSample records the row count of a drawn sample.
func RecordSample(mode string, rows int) {
	Current().ObserveHistogram(SampleRows, float64(rows), Labels{"mode": mode})
}
