//go:build cgo && duckdb

// DuckDB needs CGO and a platform-specific static library, so it stays
// behind an explicit build tag. Binaries that want DuckDB as the live store
// or for the archiver's Parquet export build with:
//
//	CGO_ENABLED=1 go build -tags duckdb
//
// Without the tag the archiver falls back to CSV export and logs the
// downgrade.
package drivers

import (
	_ "github.com/marcboeker/go-duckdb/v2"
)
