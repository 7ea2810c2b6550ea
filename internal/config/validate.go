package config

import (
	"fmt"
	"slices"
)

// Severity grades a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path is a dotted field path.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

var (
	fileKinds = []string{"csv", "json", "html", "parquet"}
	dbKinds   = []string{"postgres", "mssql", "sqlite"}
	hostKinds = []string{"none", "sql", "go"}
	backends  = []string{"", "none", "datadog"}
)

// Validate reports problems with c. It never stops at the first one.
func Validate(c Config) []Issue {
	var out []Issue
	add := func(sev Severity, path, format string, a ...any) {
		out = append(out, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	switch k := c.Source.Kind; {
	case k == "":
		add(SeverityError, "source.kind", "is required")
	case slices.Contains(fileKinds, k):
		if c.Source.Path == "" {
			add(SeverityError, "source.path", "is required for kind %q", k)
		}
	case slices.Contains(dbKinds, k):
		if c.Source.DSN == "" {
			add(SeverityError, "source.dsn", "is required for kind %q (or set BIFROST_DSN)", k)
		}
		if c.Source.Query == "" {
			add(SeverityError, "source.query", "is required for kind %q", k)
		}
	case k == "deltasharing":
		if c.Source.Path == "" {
			add(SeverityError, "source.path", "is required for kind %q (profile file)", k)
		}
		if c.Source.Query == "" {
			add(SeverityError, "source.query", "is required for kind %q (share.schema.table)", k)
		}
	default:
		add(SeverityError, "source.kind", "unknown kind %q", k)
	}

	w := c.Widget
	if w.SampleSize < 0 {
		add(SeverityError, "widget.sample_size", "must be >= 0, got %d", w.SampleSize)
	}
	if w.Kind != "" && (w.X == "" || w.Y == "") {
		add(SeverityWarning, "widget.kind", "set without both x and y; no chart spec will be built")
	}
	if w.OutputVariable != "" && c.Host.Kind == "none" {
		add(SeverityWarning, "widget.output_variable", "set but host.kind is none; exported code will fail")
	}

	if !slices.Contains(hostKinds, c.Host.Kind) {
		add(SeverityError, "host.kind", "unknown kind %q", c.Host.Kind)
	}
	if !slices.Contains(backends, c.Metrics.Backend) {
		add(SeverityError, "metrics.backend", "unknown backend %q", c.Metrics.Backend)
	}
	if c.Metrics.FlushEvery < 0 {
		add(SeverityError, "metrics.flush_every", "must not be negative")
	}
	return out
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}
