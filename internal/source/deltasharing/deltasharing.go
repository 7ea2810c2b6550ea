// Package deltasharing loads a table from a Delta Sharing server.
//
// spec.Path is the profile file (a local path or an http(s) URL) and
// spec.Query names the table as share.schema.table. Every data file of the
// table is read unless the "file" option selects one by id.
package deltasharing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	delta_sharing "github.com/magpierre/go_delta_sharing_client"

	"bifrost/internal/frame"
	"bifrost/internal/source"
	"bifrost/internal/source/parquet"
)

var ErrNoFiles = errors.New("deltasharing: table has no data files")

func init() {
	source.Register("deltasharing", load)
}

func load(ctx context.Context, spec source.Spec) (*frame.Frame, error) {
	table, err := ParseTable(spec.Query)
	if err != nil {
		return nil, err
	}
	rc, err := source.Open(ctx, spec.Path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	profile, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", spec.Path, err)
	}

	ds, err := delta_sharing.NewSharingClientFromString(string(profile))
	if err != nil {
		return nil, fmt.Errorf("create sharing client: %w", err)
	}
	resp, err := ds.ListFilesInTable(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("list files of %s: %w", spec.Query, err)
	}

	want := spec.Options.String("file", "")
	var parts []*frame.Frame
	for _, f := range resp.AddFiles {
		if want != "" && f.Id != want {
			continue
		}
		at, err := delta_sharing.LoadArrowTable(ctx, ds, table, f.Id)
		if err != nil {
			return nil, fmt.Errorf("load file %s: %w", f.Id, err)
		}
		part, err := parquet.FromTable(at)
		at.Release()
		if err != nil {
			return nil, fmt.Errorf("convert file %s: %w", f.Id, err)
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoFiles, spec.Query)
	}
	return Concat(parts)
}

// ParseTable splits share.schema.table.
func ParseTable(s string) (delta_sharing.Table, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return delta_sharing.Table{}, fmt.Errorf("deltasharing: table %q is not share.schema.table", s)
	}
	return delta_sharing.Table{Share: parts[0], Schema: parts[1], Name: parts[2]}, nil
}

// Concat stacks frames with the same column names. The dtype of the first
// frame wins.
func Concat(parts []*frame.Frame) (*frame.Frame, error) {
	if len(parts) == 1 {
		return parts[0], nil
	}
	first := parts[0].Columns()
	cols := make([]frame.Column, len(first))
	for i, c := range first {
		cols[i] = frame.Column{Name: c.Name, DType: c.DType}
	}
	for n, p := range parts {
		pc := p.Columns()
		if len(pc) != len(cols) {
			return nil, fmt.Errorf("deltasharing: file %d has %d columns, want %d", n, len(pc), len(cols))
		}
		for i, c := range pc {
			if c.Name != cols[i].Name {
				return nil, fmt.Errorf("deltasharing: file %d column %d is %q, want %q", n, i, c.Name, cols[i].Name)
			}
			cols[i].Values = append(cols[i].Values, c.Values...)
		}
	}
	return frame.New(cols...)
}
