// Package vega builds the chart spec and the recommender query spec for an
// encoding request.
//
// The query spec is always produced, even for a partial request, so the
// recommender can rank candidates from whatever the user picked. The chart
// spec is only produced once x, y and a mark kind are all known.
package vega

import (
	"errors"
	"fmt"

	"bifrost/internal/coltype"
	"bifrost/internal/frame"
)

// ErrUnknownColumn is returned when a requested column has no type.
var ErrUnknownColumn = errors.New("vega: unknown column")

// Layout and selection defaults.
const (
	QueryWidth   = 400
	QueryHeight  = 200
	ChartWidth   = 550
	ChartHeight  = 405
	DataName     = "data"
	ChooseBy     = "effectiveness"
	AnyMark      = "?"
	BrushParam   = "brush"
	BrushSelects = "interval"
)

// Request is a possibly partial encoding request. Empty fields are absent.
type Request struct {
	X     string
	Y     string
	Color string
	Kind  string
}

// Encodings returns the channel part of r.
func (r Request) Encodings() Encodings {
	return Encodings{X: r.X, Y: r.Y, Color: r.Color}
}

// Result holds everything derived from one request.
type Result struct {
	Data      []frame.Record
	ChartSpec ChartSpec
	QuerySpec QueryEnvelope
	Encodings Encodings
	// Kind is the requested mark kind or "".
	Kind string
}

// Synthesize builds the specs for req over sample, typing columns with types.
func Synthesize(sample []frame.Record, types coltype.Map, req Request) (Result, error) {
	enc := req.Encodings()
	for _, ch := range Channels {
		col := enc.Get(ch)
		if col == "" {
			continue
		}
		if _, ok := types.Get(col); !ok {
			return Result{}, fmt.Errorf("%w: %q (channel %s)", ErrUnknownColumn, col, ch)
		}
	}

	return Result{
		Data:      sample,
		ChartSpec: chartSpec(types, enc, req.Kind),
		QuerySpec: QueryEnvelope{Spec: querySpec(types, enc, req.Kind)},
		Encodings: enc,
		Kind:      req.Kind,
	}, nil
}

func querySpec(types coltype.Map, enc Encodings, kind string) QuerySpec {
	mark := kind
	if mark == "" {
		mark = AnyMark
	}
	qs := QuerySpec{
		Width:     QueryWidth,
		Height:    QueryHeight,
		Data:      Data{Name: DataName},
		Transform: []Transform{},
		ChooseBy:  ChooseBy,
		Mark:      mark,
		Encodings: []QueryEncoding{},
	}
	for _, ch := range Channels {
		col := enc.Get(ch)
		if col == "" {
			continue
		}
		t, _ := types.Get(col)
		qs.Encodings = append(qs.Encodings, QueryEncoding{Field: col, Type: t, Channel: ch})
	}
	return qs
}

func chartSpec(types coltype.Map, enc Encodings, kind string) ChartSpec {
	if enc.X == "" || enc.Y == "" || kind == "" {
		return ChartSpec{}
	}
	cs := ChartSpec{
		Config:    &Config{Mark: MarkConfig{Tooltip: true}},
		Width:     ChartWidth,
		Height:    ChartHeight,
		Mark:      Mark(kind),
		Params:    []Param{{Name: BrushParam, Select: BrushSelects}},
		Data:      &Data{Name: DataName},
		Transform: []Transform{},
		Encoding:  make(map[string]Encoding, len(Channels)),
	}
	for _, ch := range Channels {
		col := enc.Get(ch)
		if col == "" {
			continue
		}
		t, _ := types.Get(col)
		cs.Encoding[ch] = Encoding{Field: col, Type: t.String()}
	}
	return cs
}
