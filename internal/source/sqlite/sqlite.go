// Package sqlite loads a query result from a SQLite database file.
//
// spec.DSN is a modernc.org/sqlite DSN (a path or file: URI); spec.Query
// is a SELECT statement or a table name.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"bifrost/internal/frame"
	"bifrost/internal/source"
)

func init() {
	source.Register("sqlite", load)
}

func load(ctx context.Context, spec source.Spec) (*frame.Frame, error) {
	dsn := spec.DSN
	if dsn == "" {
		dsn = spec.Path
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer db.Close()
	return Query(ctx, db, spec.Query)
}

// Query runs q (or SELECT * from the table q names) against db.
func Query(ctx context.Context, db *sql.DB, q string) (*frame.Frame, error) {
	rows, err := db.QueryContext(ctx, source.TableQuery(q, sqlIdent))
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return source.FromSQLRows(rows, sqliteValue)
}

// sqliteValue restores values SQLite has no storage class for: TEXT in
// DATE/DATETIME/TIMESTAMP columns, 0/1 in BOOLEAN columns and nanosecond
// counts in INTERVAL columns.
func sqliteValue(typeName string, v any) any {
	switch strings.ToUpper(typeName) {
	case "DATE", "DATETIME", "TIMESTAMP":
		s, ok := v.(string)
		if !ok {
			return v
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
	case "BOOLEAN", "BOOL":
		if n, ok := v.(int64); ok {
			return n != 0
		}
	case "INTERVAL":
		if n, ok := v.(int64); ok {
			return time.Duration(n)
		}
	}
	return v
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
