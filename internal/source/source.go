// Package source loads datasets into frames.
//
// Each loader package registers itself under a kind from its init function;
// commands blank-import internal/source/all and select a kind at runtime.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"

	"bifrost/internal/config"
	"bifrost/internal/frame"
)

// Spec describes one dataset to load.
type Spec struct {
	Kind string
	// Path is a local path or an http(s) URL for file kinds.
	Path string
	// DSN and Query are used by database kinds. A Query without whitespace is
	// treated as a table name.
	DSN     string
	Query   string
	Options config.Options
}

// SpecFromConfig converts the config section into a Spec.
func SpecFromConfig(c config.Source) Spec {
	return Spec{Kind: c.Kind, Path: c.Path, DSN: c.DSN, Query: c.Query, Options: c.Options}
}

// Loader builds a frame for spec.
type Loader func(ctx context.Context, spec Spec) (*frame.Frame, error)

var (
	mu      sync.RWMutex
	loaders = map[string]Loader{}
)

// Register makes a loader available under kind. It panics when kind is
// empty, l is nil or kind is already registered.
func Register(kind string, l Loader) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("source: Register called with empty kind")
	}
	if l == nil {
		panic("source: Register called with nil loader")
	}
	if _, exists := loaders[kind]; exists {
		panic(fmt.Sprintf("source: loader already registered for kind=%q", kind))
	}
	loaders[kind] = l
}

// Kinds lists the registered kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(loaders))
	for k := range loaders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Load runs the loader registered for spec.Kind.
func Load(ctx context.Context, spec Spec) (*frame.Frame, error) {
	if spec.Kind == "" {
		return nil, fmt.Errorf("source: missing kind")
	}
	mu.RLock()
	l := loaders[spec.Kind]
	mu.RUnlock()
	if l == nil {
		return nil, fmt.Errorf("source: unsupported kind=%s (registered: %s)", spec.Kind, strings.Join(Kinds(), ","))
	}
	f, err := l(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", spec.Kind, err)
	}
	return f, nil
}

// Open opens a local file or fetches an http(s) URL.
func Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			resp.Body.Close()
			return nil, fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
		}
		return resp.Body, nil
	}
	return os.Open(path)
}

// TableQuery turns a bare table name into a SELECT using quote for the
// identifier. Anything else is returned unchanged.
func TableQuery(q string, quote func(string) string) string {
	q = strings.TrimSpace(q)
	if q == "" || strings.ContainsAny(q, " \t\r\n") {
		return q
	}
	return "SELECT * FROM " + quote(q)
}
