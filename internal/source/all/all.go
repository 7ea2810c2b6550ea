// Package all registers every built-in source kind.
package all

import (
	_ "bifrost/internal/source/csv"
	_ "bifrost/internal/source/deltasharing"
	_ "bifrost/internal/source/html"
	_ "bifrost/internal/source/json"
	_ "bifrost/internal/source/mssql"
	_ "bifrost/internal/source/parquet"
	_ "bifrost/internal/source/postgres"
	_ "bifrost/internal/source/sqlite"
)
