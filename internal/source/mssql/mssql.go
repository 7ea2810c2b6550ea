// Package mssql loads a query result from SQL Server.
//
// spec.Query is either a SELECT statement or a (schema-qualified) table name.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	mssqldb "github.com/microsoft/go-mssqldb"

	"bifrost/internal/frame"
	"bifrost/internal/source"
)

func init() {
	source.Register("mssql", load)
}

func load(ctx context.Context, spec source.Spec) (*frame.Frame, error) {
	db, err := sql.Open("sqlserver", spec.DSN)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	rows, err := db.QueryContext(ctx, source.TableQuery(spec.Query, mssqlTableIdent))
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return source.FromSQLRows(rows, mssqlValue)
}

// mssqlValue renders UNIQUEIDENTIFIER bytes in their canonical form.
// DECIMAL and MONEY arrive as text bytes and are settled from the type name.
func mssqlValue(typeName string, v any) any {
	b, ok := v.([]byte)
	if !ok || !strings.EqualFold(typeName, "UNIQUEIDENTIFIER") {
		return v
	}
	var u mssqldb.UniqueIdentifier
	if err := u.Scan(b); err != nil {
		return string(b)
	}
	return u.String()
}

func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent quotes each part of a schema-qualified name:
//
//	"dbo.cars" -> [dbo].[cars]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}
