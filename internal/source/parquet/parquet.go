// Package parquet loads Parquet files through Arrow.
package parquet

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"bifrost/internal/frame"
	"bifrost/internal/source"
)

func init() {
	source.Register("parquet", load)
}

func load(ctx context.Context, spec source.Spec) (*frame.Frame, error) {
	if strings.HasPrefix(spec.Path, "http://") || strings.HasPrefix(spec.Path, "https://") {
		rc, err := source.Open(ctx, spec.Path)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		b, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("download %s: %w", spec.Path, err)
		}
		return Read(ctx, bytes.NewReader(b))
	}

	f, err := os.Open(spec.Path)
	if err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}
	defer f.Close()
	return Read(ctx, f)
}

// Read decodes a whole Parquet file into a frame.
func Read(ctx context.Context, r parquet.ReaderAtSeeker) (*frame.Frame, error) {
	pf, err := file.NewParquetReader(r, file.WithReadProps(&parquet.ReaderProperties{}))
	if err != nil {
		return nil, fmt.Errorf("create parquet reader: %w", err)
	}
	defer pf.Close()

	mem := memory.NewGoAllocator()
	ar, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return nil, fmt.Errorf("create arrow reader: %w", err)
	}
	table, err := ar.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("read parquet data: %w", err)
	}
	defer table.Release()
	return FromTable(table)
}

// FromTable converts an Arrow table into a frame.
func FromTable(table arrow.Table) (*frame.Frame, error) {
	schema := table.Schema()
	cols := make([]frame.Column, 0, schema.NumFields())
	for i := 0; i < int(table.NumCols()); i++ {
		field := schema.Field(i)
		vals := make([]any, 0, table.NumRows())
		for _, chunk := range table.Column(i).Data().Chunks() {
			for pos := 0; pos < chunk.Len(); pos++ {
				vals = append(vals, value(chunk, pos))
			}
		}
		dt, vals := source.Settle(vals, field.Type.Name())
		cols = append(cols, frame.Column{Name: field.Name, DType: dt, Values: vals})
	}
	return frame.New(cols...)
}

// value reads one cell. Nested and exotic types fall back to their string
// rendering.
func value(col arrow.Array, pos int) any {
	if col.IsNull(pos) {
		return nil
	}
	switch c := col.(type) {
	case *array.String:
		return c.Value(pos)
	case *array.LargeString:
		return c.Value(pos)
	case *array.Binary:
		return string(c.Value(pos))
	case *array.Boolean:
		return c.Value(pos)
	case *array.Int8:
		return int64(c.Value(pos))
	case *array.Int16:
		return int64(c.Value(pos))
	case *array.Int32:
		return int64(c.Value(pos))
	case *array.Int64:
		return c.Value(pos)
	case *array.Uint8:
		return int64(c.Value(pos))
	case *array.Uint16:
		return int64(c.Value(pos))
	case *array.Uint32:
		return int64(c.Value(pos))
	case *array.Uint64:
		return c.Value(pos)
	case *array.Float16:
		return float64(c.Value(pos).Float32())
	case *array.Float32:
		return float64(c.Value(pos))
	case *array.Float64:
		return c.Value(pos)
	case *array.Date32:
		return c.Value(pos).ToTime()
	case *array.Date64:
		return c.Value(pos).ToTime()
	case *array.Timestamp:
		unit := c.DataType().(*arrow.TimestampType).Unit
		return c.Value(pos).ToTime(unit)
	case *array.Duration:
		unit := c.DataType().(*arrow.DurationType).Unit
		return time.Duration(c.Value(pos)) * unit.Multiplier()
	case *array.Decimal128:
		scale := c.DataType().(*arrow.Decimal128Type).Scale
		return c.Value(pos).ToFloat64(scale)
	default:
		return col.ValueStr(pos)
	}
}
