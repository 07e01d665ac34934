package archive

import (
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strings"
)

// errParquetUnavailable signals the binary was built without the duckdb tag,
// so Parquet export cannot run and the archiver falls back to CSV.
var errParquetUnavailable = errors.New("parquet writer unavailable: binary built without duckdb support")

// parquetAvailable probes for the duckdb driver once per process. Opening
// with an empty DSN is an in-memory database and costs nothing.
func parquetAvailable() bool {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return false
	}
	db.Close()
	return true
}

// writeParquet materialises stringified rows into an in-memory DuckDB table
// and COPYies it out as a Parquet file. Column types are declared by the
// caller so sensor numbers stay numeric in the archive.
func writeParquet(path string, cols, types []string, rows [][]string) error {
	if len(cols) != len(types) {
		return fmt.Errorf("writeParquet: %d columns but %d types", len(cols), len(types))
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return errParquetUnavailable
	}
	defer db.Close()

	defs := make([]string, len(cols))
	for i := range cols {
		defs[i] = cols[i] + " " + types[i]
	}
	if _, err := db.Exec("CREATE TABLE export (" + strings.Join(defs, ", ") + ")"); err != nil {
		return fmt.Errorf("create export table: %w", err)
	}

	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
	stmt, err := db.Prepare("INSERT INTO export VALUES " + placeholders)
	if err != nil {
		return fmt.Errorf("prepare export insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		args := make([]any, len(row))
		for i, cell := range row {
			// DuckDB casts VARCHAR to the declared column type on insert;
			// empty strings become NULL rather than failing the cast.
			if cell == "" {
				args[i] = nil
			} else {
				args[i] = cell
			}
		}
		if _, err := stmt.Exec(args...); err != nil {
			return fmt.Errorf("insert export row: %w", err)
		}
	}

	copySQL := fmt.Sprintf("COPY export TO '%s' (FORMAT PARQUET)", strings.ReplaceAll(path, "'", "''"))
	if _, err := db.Exec(copySQL); err != nil {
		return fmt.Errorf("copy to parquet: %w", err)
	}
	return nil
}

// writeCSV is the portable fallback writer.
func writeCSV(path string, cols []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(cols); err != nil {
		return err
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
