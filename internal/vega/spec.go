package vega

import (
	"bytes"
	"encoding/json"
	"fmt"

	"bifrost/internal/coltype"
)

// Channel names, in the order encodings are emitted.
const (
	ChannelX     = "x"
	ChannelY     = "y"
	ChannelColor = "color"
)

// Channels lists the encoded channels in emission order.
var Channels = []string{ChannelX, ChannelY, ChannelColor}

// Data names the dataset a spec is rendered against.
type Data struct {
	Name  string `json:"name"`
	Extra Extra  `json:"-"`
}

func (d *Data) UnmarshalJSON(b []byte) error {
	type plain Data
	var p plain
	extra, err := decodeOpen(b, &p)
	if err != nil {
		return err
	}
	*d = Data(p)
	d.Extra = extra
	return nil
}

func (d Data) MarshalJSON() ([]byte, error) {
	type plain Data
	return encodeOpen(plain(d), d.Extra)
}

// Config is the spec-level render configuration.
type Config struct {
	Mark  MarkConfig `json:"mark"`
	Extra Extra      `json:"-"`
}

func (c *Config) UnmarshalJSON(b []byte) error {
	type plain Config
	var p plain
	extra, err := decodeOpen(b, &p)
	if err != nil {
		return err
	}
	*c = Config(p)
	c.Extra = extra
	return nil
}

func (c Config) MarshalJSON() ([]byte, error) {
	type plain Config
	return encodeOpen(plain(c), c.Extra)
}

type MarkConfig struct {
	Tooltip bool  `json:"tooltip"`
	Extra   Extra `json:"-"`
}

func (m *MarkConfig) UnmarshalJSON(b []byte) error {
	type plain MarkConfig
	var p plain
	extra, err := decodeOpen(b, &p)
	if err != nil {
		return err
	}
	*m = MarkConfig(p)
	m.Extra = extra
	return nil
}

func (m MarkConfig) MarshalJSON() ([]byte, error) {
	type plain MarkConfig
	return encodeOpen(plain(m), m.Extra)
}

// Param is a selection parameter. Select is a selection type name or a
// selection definition object.
type Param struct {
	Name   string `json:"name"`
	Select any    `json:"select,omitempty"`
	Extra  Extra  `json:"-"`
}

func (p *Param) UnmarshalJSON(b []byte) error {
	type plain Param
	var v plain
	extra, err := decodeOpen(b, &v)
	if err != nil {
		return err
	}
	*p = Param(v)
	p.Extra = extra
	return nil
}

func (p Param) MarshalJSON() ([]byte, error) {
	type plain Param
	return encodeOpen(plain(p), p.Extra)
}

// Mark is a mark type. It decodes either a bare string or an object carrying
// a "type" member; ChartSpec keeps the object form.
type Mark string

func (m *Mark) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*m = Mark(s)
		return nil
	}
	var obj struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("vega: mark: %w", err)
	}
	*m = Mark(obj.Type)
	return nil
}

// Encoding maps one channel to a field. Members such as bin, timeUnit, scale
// or title are kept in Extra.
type Encoding struct {
	Field     string `json:"field"`
	Type      string `json:"type"`
	Aggregate string `json:"aggregate,omitempty"`
	Extra     Extra  `json:"-"`
}

func (e *Encoding) UnmarshalJSON(b []byte) error {
	type plain Encoding
	var p plain
	extra, err := decodeOpen(b, &p)
	if err != nil {
		return err
	}
	*e = Encoding(p)
	e.Extra = extra
	return nil
}

func (e Encoding) MarshalJSON() ([]byte, error) {
	type plain Encoding
	return encodeOpen(plain(e), e.Extra)
}

// Predicate is a field predicate or a compound of predicates. A filter given
// as an expression string decodes into Expr and one referring to a selection
// into Param; neither has a field test. Other operators (lt, equal, ...) are
// kept in Extra.
type Predicate struct {
	Field string `json:"field,omitempty"`
	GTE   any    `json:"gte,omitempty"`
	LTE   any    `json:"lte,omitempty"`
	Range []any  `json:"range,omitempty"`
	OneOf []any  `json:"oneOf,omitempty"`

	And []Predicate `json:"and,omitempty"`
	Or  []Predicate `json:"or,omitempty"`

	Param string `json:"param,omitempty"`
	Expr  string `json:"-"`
	Extra Extra  `json:"-"`
}

func (p *Predicate) UnmarshalJSON(b []byte) error {
	var expr string
	if err := json.Unmarshal(b, &expr); err == nil {
		*p = Predicate{Expr: expr}
		return nil
	}
	type plain Predicate
	var v plain
	extra, err := decodeOpen(b, &v)
	if err != nil {
		return err
	}
	*p = Predicate(v)
	p.Extra = extra
	return nil
}

func (p Predicate) MarshalJSON() ([]byte, error) {
	if p.Expr != "" {
		return json.Marshal(p.Expr)
	}
	type plain Predicate
	return encodeOpen(plain(p), p.Extra)
}

// Tested reports whether p carries a field test or a compound of them.
func (p Predicate) Tested() bool {
	return p.Expr == "" && p.Param == "" && (p.Field != "" || p.And != nil || p.Or != nil)
}

// Transform is one entry of a spec's transform list. Only filters are
// modelled; other transforms (calculate, aggregate, ...) live in Extra.
type Transform struct {
	Filter *Predicate `json:"filter,omitempty"`
	Extra  Extra      `json:"-"`
}

func (t *Transform) UnmarshalJSON(b []byte) error {
	type plain Transform
	var p plain
	extra, err := decodeOpen(b, &p)
	if err != nil {
		return err
	}
	*t = Transform(p)
	t.Extra = extra
	return nil
}

func (t Transform) MarshalJSON() ([]byte, error) {
	type plain Transform
	return encodeOpen(plain(t), t.Extra)
}

// ChartSpec is a renderable chart description. The zero value is the empty
// spec and encodes as {}. Top-level members without a field ($schema, title,
// ...) are kept in Extra; an object mark is kept whole while its type still
// matches Mark.
type ChartSpec struct {
	Config    *Config             `json:"config,omitempty"`
	Width     int                 `json:"width,omitempty"`
	Height    int                 `json:"height,omitempty"`
	Mark      Mark                `json:"mark,omitempty"`
	Params    []Param             `json:"params,omitempty"`
	Data      *Data               `json:"data,omitempty"`
	Transform []Transform         `json:"transform"`
	Encoding  map[string]Encoding `json:"encoding,omitempty"`
	Extra     Extra               `json:"-"`

	markDef json.RawMessage
}

// Empty reports whether c is the empty spec.
func (c ChartSpec) Empty() bool {
	return c.Config == nil && c.Width == 0 && c.Height == 0 && c.Mark == "" &&
		len(c.Params) == 0 && c.Data == nil && len(c.Transform) == 0 &&
		len(c.Encoding) == 0 && len(c.Extra) == 0
}

func (c *ChartSpec) UnmarshalJSON(b []byte) error {
	type plain ChartSpec
	var p plain
	extra, err := decodeOpen(b, &p)
	if err != nil {
		return err
	}
	*c = ChartSpec(p)
	c.Extra = extra

	var m struct {
		Mark json.RawMessage `json:"mark"`
	}
	if err := json.Unmarshal(b, &m); err == nil && len(m.Mark) > 0 && m.Mark[0] == '{' {
		c.markDef = m.Mark
	}
	return nil
}

func (c ChartSpec) MarshalJSON() ([]byte, error) {
	if c.Empty() {
		return []byte("{}"), nil
	}
	type plain ChartSpec
	p := plain(c)
	if p.Transform == nil {
		p.Transform = []Transform{}
	}
	extra := c.Extra
	if c.markDef != nil && c.markType() == c.Mark {
		p.Mark = ""
		extra = make(Extra, len(c.Extra)+1)
		for k, v := range c.Extra {
			extra[k] = v
		}
		extra["mark"] = c.markDef
	}
	return encodeOpen(p, extra)
}

func (c ChartSpec) markType() Mark {
	var m Mark
	if err := json.Unmarshal(c.markDef, &m); err != nil {
		return ""
	}
	return m
}

// Equal compares two specs by their wire form.
func (c ChartSpec) Equal(o ChartSpec) bool {
	a, err1 := json.Marshal(c)
	b, err2 := json.Marshal(o)
	return err1 == nil && err2 == nil && bytes.Equal(a, b)
}

// Filters returns the filter predicates of c in transform order.
func (c ChartSpec) Filters() []Predicate {
	var out []Predicate
	for _, t := range c.Transform {
		if t.Filter != nil {
			out = append(out, *t.Filter)
		}
	}
	return out
}

// QueryEncoding is one channel of a QuerySpec.
type QueryEncoding struct {
	Field   string           `json:"field"`
	Type    coltype.Semantic `json:"type"`
	Channel string           `json:"channel"`
}

// QuerySpec is the partial spec handed to the recommender. Mark is "?" when
// no kind was requested.
type QuerySpec struct {
	Width     int             `json:"width"`
	Height    int             `json:"height"`
	Data      Data            `json:"data"`
	Transform []Transform     `json:"transform"`
	ChooseBy  string          `json:"chooseBy"`
	Mark      string          `json:"mark"`
	Encodings []QueryEncoding `json:"encodings"`
}

// QueryEnvelope is the published wrapper around a QuerySpec.
type QueryEnvelope struct {
	Spec QuerySpec `json:"spec"`
}

// Encodings are the requested channel columns. Empty means not selected.
type Encodings struct {
	X     string
	Y     string
	Color string
}

// Get returns the column bound to channel ch.
func (e Encodings) Get(ch string) string {
	switch ch {
	case ChannelX:
		return e.X
	case ChannelY:
		return e.Y
	case ChannelColor:
		return e.Color
	}
	return ""
}

// Selected returns the non-empty columns in x, y, color order.
func (e Encodings) Selected() []string {
	out := []string{}
	for _, ch := range Channels {
		if c := e.Get(ch); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// MarshalJSON encodes unselected channels as null.
func (e Encodings) MarshalJSON() ([]byte, error) {
	m := make(map[string]*string, len(Channels))
	for _, ch := range Channels {
		if c := e.Get(ch); c != "" {
			m[ch] = &c
		} else {
			m[ch] = nil
		}
	}
	return json.Marshal(m)
}

func (e *Encodings) UnmarshalJSON(b []byte) error {
	var m map[string]*string
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	get := func(k string) string {
		if v := m[k]; v != nil {
			return *v
		}
		return ""
	}
	*e = Encodings{X: get(ChannelX), Y: get(ChannelY), Color: get(ChannelColor)}
	return nil
}
