// Package sqlhost is an Executor backed by an embedded SQLite database.
// Frames are published as tables; exported code is SQL run against them.
package sqlhost

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"bifrost/internal/frame"
	"bifrost/internal/source"
	"bifrost/internal/source/sqlite"
)

// Host owns one SQLite database.
type Host struct {
	db *sql.DB
}

// Open connects to dsn. All work goes through a single connection so an
// in-memory database is shared by every call.
func Open(ctx context.Context, dsn string) (*Host, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlhost: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlhost: ping: %w", err)
	}
	return &Host{db: db}, nil
}

// Close releases the database.
func (h *Host) Close() error { return h.db.Close() }

// Run executes code, which may hold several statements.
func (h *Host) Run(ctx context.Context, code string) error {
	if strings.TrimSpace(code) == "" {
		return nil
	}
	if _, err := h.db.ExecContext(ctx, code); err != nil {
		return fmt.Errorf("sqlhost: run: %w", err)
	}
	return nil
}

// Frame reads table name back as a frame.
func (h *Host) Frame(ctx context.Context, name string) (*frame.Frame, error) {
	f, err := sqlite.Query(ctx, h.db, name)
	if err != nil {
		return nil, fmt.Errorf("sqlhost: read %s: %w", name, err)
	}
	return restoreTimes(f)
}

// restoreTimes turns text columns holding only RFC 3339 timestamps back into
// datetime columns. Tables made with CREATE TABLE ... AS lose the declared
// TIMESTAMP type of their source columns.
func restoreTimes(f *frame.Frame) (*frame.Frame, error) {
	cols := f.Columns()
	for i, c := range cols {
		if c.DType != frame.DTypeObject {
			continue
		}
		vals, ok := parseTimes(c.Values)
		if !ok {
			continue
		}
		if dt, vals := source.Settle(vals, ""); dt == frame.DTypeDatetime {
			cols[i] = frame.Column{Name: c.Name, DType: dt, Values: vals}
		}
	}
	return frame.New(cols...)
}

func parseTimes(in []any) ([]any, bool) {
	out := make([]any, len(in))
	for i, v := range in {
		switch t := v.(type) {
		case nil:
		case string:
			tt, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return nil, false
			}
			out[i] = tt
		default:
			return nil, false
		}
	}
	return out, true
}

// Put replaces table name with the contents of f.
func (h *Host) Put(ctx context.Context, name string, f *frame.Frame) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlhost: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+Ident(name)); err != nil {
		return fmt.Errorf("sqlhost: drop %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, createSQL(name, f.Columns())); err != nil {
		return fmt.Errorf("sqlhost: create %s: %w", name, err)
	}

	cols := f.Columns()
	if len(cols) > 0 && f.Len() > 0 {
		stmt, err := tx.PrepareContext(ctx, insertSQL(name, len(cols)))
		if err != nil {
			return fmt.Errorf("sqlhost: prepare insert: %w", err)
		}
		defer stmt.Close()

		args := make([]any, len(cols))
		for row := 0; row < f.Len(); row++ {
			for j, c := range cols {
				args[j] = cellArg(c.Values[row])
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("sqlhost: insert %s row %d: %w", name, row, err)
			}
		}
	}
	return tx.Commit()
}

// Ident quotes a SQLite identifier.
func Ident(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func createSQL(name string, cols []frame.Column) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(Ident(name))
	b.WriteString(" (")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(Ident(c.Name))
		b.WriteByte(' ')
		b.WriteString(declType(c.DType))
	}
	b.WriteString(")")
	return b.String()
}

func insertSQL(name string, n int) string {
	return "INSERT INTO " + Ident(name) + " VALUES (" + strings.TrimSuffix(strings.Repeat("?, ", n), ", ") + ")"
}

func declType(dtype string) string {
	switch dtype {
	case frame.DTypeInt64:
		return "INTEGER"
	case frame.DTypeFloat64:
		return "REAL"
	case frame.DTypeBool:
		return "BOOLEAN"
	case frame.DTypeDatetime:
		return "TIMESTAMP"
	case frame.DTypeTimedelta:
		return "INTERVAL"
	default:
		return "TEXT"
	}
}

// cellArg maps a frame value to a driver argument; missing values are NULL.
func cellArg(v any) any {
	if frame.Missing(v) {
		return nil
	}
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case time.Duration:
		return int64(t)
	case bool:
		if t {
			return int64(1)
		}
		return int64(0)
	case float64:
		if math.IsInf(t, 0) {
			return nil
		}
		return t
	case int64, string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
