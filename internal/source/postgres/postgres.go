// Package postgres loads a query result from PostgreSQL.
//
// spec.Query is either a SELECT statement or a (schema-qualified) table name.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"bifrost/internal/frame"
	"bifrost/internal/source"
)

func init() {
	source.Register("postgres", load)
}

func load(ctx context.Context, spec source.Spec) (*frame.Frame, error) {
	pool, err := pgxpool.New(ctx, spec.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer pool.Close()

	rows, err := pool.Query(ctx, source.TableQuery(spec.Query, pgIdent))
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return FromRows(rows)
}

// FromRows drains pgx rows into a frame. Column type names from the
// connection's type map are the dtype hints.
func FromRows(rows pgx.Rows) (*frame.Frame, error) {
	defer rows.Close()

	fds := rows.FieldDescriptions()
	names := make([]string, len(fds))
	hints := make([]string, len(fds))
	var tm *pgtype.Map
	if c := rows.Conn(); c != nil {
		tm = c.TypeMap()
	}
	for i, fd := range fds {
		names[i] = fd.Name
		if tm != nil {
			if t, ok := tm.TypeForOID(fd.DataTypeOID); ok {
				hints[i] = t.Name
			}
		}
	}

	var data [][]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", len(data)+1, err)
		}
		for i, v := range vals {
			vals[i] = pgValue(v)
		}
		data = append(data, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return source.SettleColumns(names, hints, data)
}

// pgValue maps pgtype values without a plain Go counterpart.
func pgValue(v any) any {
	switch t := v.(type) {
	case pgtype.Numeric:
		if !t.Valid || t.NaN {
			return nil
		}
		f, err := t.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case pgtype.Interval:
		if !t.Valid {
			return nil
		}
		return time.Duration(t.Microseconds)*time.Microsecond +
			time.Duration(t.Days)*24*time.Hour +
			time.Duration(t.Months)*30*24*time.Hour
	case pgtype.Time:
		if !t.Valid {
			return nil
		}
		return time.Duration(t.Microseconds) * time.Microsecond
	case [16]byte:
		return fmt.Sprintf("%x-%x-%x-%x-%x", t[0:4], t[4:6], t[6:8], t[8:10], t[10:16])
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return v
	}
}

// pgIdent quotes a possibly schema-qualified identifier.
func pgIdent(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(strings.TrimSpace(p), `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}
