// Package config loads the run configuration for the bifrost command: which
// dataset to load, how the widget is constructed, which execution host backs
// exported code and where metrics go.
//
// Files are YAML; JSON files load too since YAML is a superset.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of a run configuration file.
type Config struct {
	Source  Source  `yaml:"source" json:"source"`
	Widget  Widget  `yaml:"widget" json:"widget"`
	Host    Host    `yaml:"host" json:"host"`
	Metrics Metrics `yaml:"metrics" json:"metrics"`
}

// Source selects the dataset loader.
type Source struct {
	Kind string `yaml:"kind" json:"kind"`
	// Path is a file path or URL for file kinds.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// DSN and Query are used by database kinds. Query may be a bare table name.
	DSN     string  `yaml:"dsn,omitempty" json:"dsn,omitempty"`
	Query   string  `yaml:"query,omitempty" json:"query,omitempty"`
	Options Options `yaml:"options,omitempty" json:"options,omitempty"`
}

// Widget holds construction parameters.
type Widget struct {
	X              string `yaml:"x,omitempty" json:"x,omitempty"`
	Y              string `yaml:"y,omitempty" json:"y,omitempty"`
	Color          string `yaml:"color,omitempty" json:"color,omitempty"`
	Kind           string `yaml:"kind,omitempty" json:"kind,omitempty"`
	SampleSize     int    `yaml:"sample_size,omitempty" json:"sample_size,omitempty"`
	NormalizeNames bool   `yaml:"normalize_names,omitempty" json:"normalize_names,omitempty"`
	// Seed fixes the sampler's randomness when non-zero.
	Seed uint64 `yaml:"seed,omitempty" json:"seed,omitempty"`

	OutputVariable string `yaml:"output_variable,omitempty" json:"output_variable,omitempty"`
	DFVariableName string `yaml:"df_variable_name,omitempty" json:"df_variable_name,omitempty"`
	InputURL       string `yaml:"input_url,omitempty" json:"input_url,omitempty"`
}

// Host selects the code execution host.
type Host struct {
	// Kind is "sql", "go" or "none".
	Kind string `yaml:"kind,omitempty" json:"kind,omitempty"`
	// DSN is the sqlite DSN of the sql host. Defaults to an in-memory database.
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
}

// Metrics selects the metrics backend.
type Metrics struct {
	Backend    string        `yaml:"backend,omitempty" json:"backend,omitempty"`
	Job        string        `yaml:"job,omitempty" json:"job,omitempty"`
	Tags       []string      `yaml:"tags,omitempty" json:"tags,omitempty"`
	FlushEvery time.Duration `yaml:"flush_every,omitempty" json:"flush_every,omitempty"`
}

// Defaults applied by Load.
const (
	DefaultSampleSize = 100
	DefaultHostDSN    = "file::memory:?cache=shared"
)

// Decode reads a configuration document. Unknown keys are errors.
func Decode(r io.Reader) (Config, error) {
	var c Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	c.applyDefaults()
	return c, nil
}

// Load reads path, applies defaults and environment overrides.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	c, err := Decode(bytes.NewReader(b))
	if err != nil {
		return Config{}, err
	}
	c.ApplyEnv(os.Getenv)
	return c, nil
}

// Save writes c as YAML.
func Save(path string, c Config) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	return os.WriteFile(path, b, 0o644)
}

func (c *Config) applyDefaults() {
	if c.Widget.SampleSize == 0 {
		c.Widget.SampleSize = DefaultSampleSize
	}
	if c.Host.Kind == "" {
		c.Host.Kind = "none"
	}
	if c.Host.Kind == "sql" && c.Host.DSN == "" {
		c.Host.DSN = DefaultHostDSN
	}
}

// ApplyEnv fills empty fields from the environment: BIFROST_DSN,
// METRICS_BACKEND and METRICS_TAGS.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if c.Source.DSN == "" {
		c.Source.DSN = getenv("BIFROST_DSN")
	}
	if c.Metrics.Backend == "" {
		c.Metrics.Backend = getenv("METRICS_BACKEND")
	}
	if len(c.Metrics.Tags) == 0 {
		if v := getenv("METRICS_TAGS"); v != "" {
			c.Metrics.Tags = splitCSV(v)
		}
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range bytes.Split([]byte(s), []byte(",")) {
		if p = bytes.TrimSpace(p); len(p) > 0 {
			out = append(out, string(p))
		}
	}
	return out
}
