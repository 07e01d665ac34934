//go:build !noembedded

package drivers

import (
	// The modernc SQLite driver is pure Go; it backs local runs and demo
	// deployments without a database server.
	_ "modernc.org/sqlite"
)
