// Package drivers groups database/sql driver registrations so heavy or
// cgo-bound dependencies stay out of plain go test runs unless a binary
// explicitly imports this package.
package drivers

import (
	// PostgreSQL is pure Go and the production engine, so it is always
	// registered.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Ready is a no-op helper used by main packages to make the import explicit.
func Ready() {}
