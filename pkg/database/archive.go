package database

import (
	"context"
	"fmt"
	"strings"
)

// SelectReadingsBetween returns the readings whose taken_at falls inside
// [lower, upper). The archiver calls this exactly once per run with a cutoff
// it computed exactly once; the matching delete is addressed by the returned
// ids, never by recomputing the bounds.
func (db *Database) SelectReadingsBetween(ctx context.Context, lower, upper int64) ([]RawReading, error) {
	ph := newPlaceholderGenerator(db.Driver)
	query := fmt.Sprintf(`SELECT reading_id, plant_id, temperature, soil_moisture, taken_at, last_watered
FROM sensor_reading WHERE taken_at >= %s AND taken_at < %s ORDER BY taken_at`, ph(), ph())

	rows, err := db.DB.QueryContext(ctx, query, lower, upper)
	if err != nil {
		return nil, fmt.Errorf("select archive window: %w", err)
	}
	defer rows.Close()

	var readings []RawReading
	for rows.Next() {
		var r RawReading
		if err := rows.Scan(&r.ID, &r.PlantID, &r.Temperature, &r.SoilMoisture, &r.TakenAt, &r.LastWatered); err != nil {
			return nil, fmt.Errorf("scan archive row: %w", err)
		}
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archive rows: %w", err)
	}
	return readings, nil
}

// DeleteReadingsByID removes exactly the rows that were exported, in one
// transaction. Chunked IN lists keep the statement size sane for large
// windows while the transaction keeps the removal all-or-nothing.
func (db *Database) DeleteReadingsByID(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive delete: %w", err)
	}

	const chunkSize = 500
	for start := 0; start < len(ids); start += chunkSize {
		end := start + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		ph := newPlaceholderGenerator(db.Driver)
		marks := make([]string, len(chunk))
		args := make([]any, len(chunk))
		for i, id := range chunk {
			marks[i] = ph()
			args[i] = id
		}
		stmt := fmt.Sprintf(`DELETE FROM sensor_reading WHERE reading_id IN (%s)`, strings.Join(marks, ","))
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("delete archived readings: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive delete: %w", err)
	}
	return nil
}

// DimensionRows dumps a reference table for the metadata snapshot. The table
// name is taken from a fixed allow-list, never from user input.
func (db *Database) DimensionRows(ctx context.Context, table string) ([]string, [][]string, error) {
	queries := map[string]string{
		"country":             `SELECT country_id, country_name FROM country ORDER BY country_id`,
		"origin":              `SELECT origin_id, latitude, longitude, city, country_id FROM origin ORDER BY origin_id`,
		"botanist":            `SELECT botanist_id, botanist_name, email, phone FROM botanist ORDER BY botanist_id`,
		"plant":               `SELECT plant_id, plant_name, origin_id, scientific_name, image_link FROM plant ORDER BY plant_id`,
		"botanist_assignment": `SELECT botanist_id, plant_id FROM botanist_assignment ORDER BY botanist_id, plant_id`,
	}
	query, ok := queries[table]
	if !ok {
		return nil, nil, fmt.Errorf("unknown dimension table: %s", table)
	}

	rows, err := db.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("dump %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("columns of %s: %w", table, err)
	}

	var out [][]string
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("scan %s: %w", table, err)
		}
		rec := make([]string, len(cols))
		for i, v := range raw {
			rec[i] = stringifyCell(v)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return cols, out, nil
}

// stringifyCell renders a scanned cell for CSV output. NULL becomes the
// empty string, which round-trips with nullableString on the way in.
func stringifyCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
