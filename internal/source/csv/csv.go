// Package csv loads delimited text files.
//
// Options:
//   - has_header (bool, default true)
//   - comma (rune, default ','; "tab" or "\t" for TSV)
//   - trim_space (bool, default true)
//   - header_map (map original header -> column name)
//   - lazy_quotes (bool, default false)
//   - fields_per_record (int, default 0 meaning ragged rows are allowed)
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"bifrost/internal/config"
	"bifrost/internal/frame"
	"bifrost/internal/source"
)

func init() {
	source.Register("csv", load)
}

func load(ctx context.Context, spec source.Spec) (*frame.Frame, error) {
	rc, err := source.Open(ctx, spec.Path)
	if err != nil {
		return nil, err
	}
	return Read(ctx, rc, spec.Options)
}

// Read parses r fully and closes it. Blank cells are missing values.
func Read(ctx context.Context, r io.ReadCloser, opt config.Options) (*frame.Frame, error) {
	defer r.Close()

	hasHeader := opt.Bool("has_header", true)
	trim := opt.Bool("trim_space", true)
	hm := opt.StringMap("header_map")

	cr := csv.NewReader(r)
	cr.Comma = opt.Rune("comma", ',')
	cr.LazyQuotes = opt.Bool("lazy_quotes", false)
	if n := opt.Int("fields_per_record", 0); n != 0 {
		cr.FieldsPerRecord = n
	} else {
		cr.FieldsPerRecord = -1
	}

	var (
		line  int
		names []string
		rows  [][]string
		width int
	)
	for {
		if line%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := cr.Read()
		line++
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		if trim {
			for i, v := range rec {
				rec[i] = strings.TrimSpace(v)
			}
		}
		if line == 1 {
			rec[0] = strings.TrimPrefix(rec[0], "\uFEFF")
			if hasHeader {
				names = headerNames(rec, hm)
				width = len(names)
				continue
			}
		}
		if len(rec) > width {
			width = len(rec)
		}
		rows = append(rows, rec)
	}

	for i := len(names); i < width; i++ {
		names = append(names, strconv.Itoa(i))
	}
	return source.FromStrings(source.UniqueNames(names), rows)
}

func headerNames(hdr []string, hm map[string]string) []string {
	out := make([]string, len(hdr))
	for i, h := range hdr {
		if mapped, ok := hm[h]; ok {
			h = mapped
		}
		out[i] = h
	}
	return out
}
