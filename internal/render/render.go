// Package render draws an offline SVG preview of a chart spec with go-gg.
package render

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/aclements/go-gg/gg"
	"github.com/aclements/go-gg/table"

	"bifrost/internal/frame"
	"bifrost/internal/vega"
)

var (
	ErrUnsupportedMark = errors.New("render: unsupported mark")
	ErrIncompleteSpec  = errors.New("render: spec needs x and y encodings")
)

// Default preview size, matching the chart spec layout.
const (
	DefaultWidth  = vega.ChartWidth
	DefaultHeight = vega.ChartHeight
)

// Plot builds a go-gg plot for spec over recs. Records missing the x or y
// value are skipped.
func Plot(spec vega.ChartSpec, recs []frame.Record) (*gg.Plot, error) {
	x, okX := spec.Encoding[vega.ChannelX]
	y, okY := spec.Encoding[vega.ChannelY]
	if !okX || !okY || x.Field == "" || y.Field == "" {
		return nil, ErrIncompleteSpec
	}
	color := spec.Encoding[vega.ChannelColor].Field

	kept := make([]frame.Record, 0, len(recs))
	for _, r := range recs {
		if frame.Missing(r[x.Field]) || frame.Missing(r[y.Field]) {
			continue
		}
		kept = append(kept, r)
	}

	b := new(table.Builder)
	cols := []string{x.Field, y.Field}
	if color != "" && color != x.Field && color != y.Field {
		cols = append(cols, color)
	}
	for _, c := range cols {
		b.Add(c, columnSlice(kept, c))
	}
	p := gg.NewPlot(b.Done())

	switch string(spec.Mark) {
	case "point", "circle", "square", "tick":
		p.Add(gg.LayerPoints{X: x.Field, Y: y.Field, Color: color})
	case "line":
		p.Add(gg.LayerLines{X: x.Field, Y: y.Field, Color: color})
	case "area":
		p.Add(gg.LayerArea{X: x.Field, Upper: y.Field, Fill: color})
	case "rect":
		p.Add(gg.LayerTiles{X: x.Field, Y: y.Field, Fill: color})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMark, spec.Mark)
	}
	p.Add(gg.AxisLabel("x", x.Field), gg.AxisLabel("y", y.Field))
	return p, nil
}

// WriteSVG renders spec over recs as SVG. Zero sizes use the defaults.
func WriteSVG(w io.Writer, spec vega.ChartSpec, recs []frame.Record, width, height int) error {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	p, err := Plot(spec, recs)
	if err != nil {
		return err
	}
	if err := p.WriteSVG(w, width, height); err != nil {
		return fmt.Errorf("render: write svg: %w", err)
	}
	return nil
}

// columnSlice picks a typed slice for go-gg: numbers and times become a
// continuous []float64 (times as Unix seconds), anything else []string.
func columnSlice(recs []frame.Record, field string) table.Slice {
	nums := make([]float64, len(recs))
	numeric := true
	for i, r := range recs {
		switch v := r[field].(type) {
		case int64:
			nums[i] = float64(v)
		case float64:
			nums[i] = v
		case time.Time:
			nums[i] = float64(v.UnixNano()) / 1e9
		case time.Duration:
			nums[i] = v.Seconds()
		case nil:
			nums[i] = math.NaN()
		default:
			numeric = false
		}
		if !numeric {
			break
		}
	}
	if numeric {
		return nums
	}

	strs := make([]string, len(recs))
	for i, r := range recs {
		strs[i] = text(r[field])
	}
	return strs
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
