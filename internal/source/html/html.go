// Package html loads a table out of an HTML page.
//
// Options:
//   - selector (default "table"): CSS selector for candidate tables
//   - table (int, default 0): which match to read
//   - has_header (bool, default true): when no <th> row exists, use the
//     first row as the header
//   - header_map (map original header -> column name)
package html

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"bifrost/internal/config"
	"bifrost/internal/frame"
	"bifrost/internal/source"
)

func init() {
	source.Register("html", load)
}

func load(ctx context.Context, spec source.Spec) (*frame.Frame, error) {
	rc, err := source.Open(ctx, spec.Path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return Read(rc, spec.Options)
}

// Read parses an HTML document and converts the selected table.
func Read(r io.Reader, opt config.Options) (*frame.Frame, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	sel := opt.String("selector", "table")
	idx := opt.Int("table", 0)
	tables := doc.Find(sel)
	if idx < 0 || idx >= tables.Length() {
		return nil, fmt.Errorf("html: table %d not found (selector %q matched %d)", idx, sel, tables.Length())
	}
	names, rows := tableCells(tables.Eq(idx), opt.Bool("has_header", true))

	hm := opt.StringMap("header_map")
	width := len(names)
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	for i := range names {
		if mapped, ok := hm[names[i]]; ok {
			names[i] = mapped
		}
	}
	for i := len(names); i < width; i++ {
		names = append(names, strconv.Itoa(i))
	}
	return source.FromStrings(source.UniqueNames(names), rows)
}

// tableCells splits a table into header and body text. Rows made only of
// <th> cells form the header; nested tables are not descended into.
func tableCells(table *goquery.Selection, firstRowHeader bool) ([]string, [][]string) {
	var (
		header []string
		rows   [][]string
	)
	table.Find("tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
		return tr.Closest("table").IsSelection(table)
	}).Each(func(_ int, tr *goquery.Selection) {
		cells := tr.ChildrenFiltered("th,td")
		if cells.Length() == 0 {
			return
		}
		texts := make([]string, 0, cells.Length())
		cells.Each(func(_ int, c *goquery.Selection) {
			texts = append(texts, cleanText(c.Text()))
		})
		if header == nil && cells.Length() == tr.ChildrenFiltered("th").Length() && len(rows) == 0 {
			header = texts
			return
		}
		rows = append(rows, texts)
	})

	if header == nil && firstRowHeader && len(rows) > 0 {
		header, rows = rows[0], rows[1:]
	}
	return header, rows
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
