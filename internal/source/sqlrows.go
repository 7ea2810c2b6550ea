package source

import (
	"database/sql"
	"fmt"

	"bifrost/internal/frame"
)

// ValueFunc rewrites a scanned driver value given its column's type name.
type ValueFunc func(typeName string, v any) any

// FromSQLRows drains rows into a frame. Column dtypes are settled from the
// scanned values, with the driver's type names as hints. conv may be nil.
func FromSQLRows(rows *sql.Rows, conv ValueFunc) (*frame.Frame, error) {
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("column types: %w", err)
	}
	names := make([]string, len(types))
	hints := make([]string, len(types))
	for i, ct := range types {
		names[i] = ct.Name()
		hints[i] = ct.DatabaseTypeName()
	}

	var data [][]any
	for rows.Next() {
		vals := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row %d: %w", len(data)+1, err)
		}
		if conv != nil {
			for i, v := range vals {
				vals[i] = conv(hints[i], v)
			}
		}
		data = append(data, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return SettleColumns(names, hints, data)
}
