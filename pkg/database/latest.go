package database

import (
	"context"
	"database/sql"
	"fmt"
)

// LatestReadings returns each plant's newest sample joined with its master
// row and assigned botanist, for the dashboard's current-data page. Plants
// with no readings yet are simply absent.
func (db *Database) LatestReadings(ctx context.Context) ([]PlantStatus, error) {
	const query = `
WITH ranked AS (
  SELECT sr.plant_id, sr.temperature, sr.soil_moisture, sr.taken_at, sr.last_watered,
         ROW_NUMBER() OVER (PARTITION BY sr.plant_id ORDER BY sr.taken_at DESC) AS rn
  FROM sensor_reading AS sr
)
SELECT p.plant_id, p.plant_name, r.temperature, r.soil_moisture, r.taken_at, r.last_watered,
       b.botanist_name, b.email, b.phone
FROM ranked AS r
JOIN plant AS p ON p.plant_id = r.plant_id
LEFT JOIN botanist_assignment AS ba ON ba.plant_id = p.plant_id
LEFT JOIN botanist AS b ON b.botanist_id = ba.botanist_id
WHERE r.rn = 1
ORDER BY p.plant_id`

	rows, err := db.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("latest readings: %w", err)
	}
	defer rows.Close()

	var statuses []PlantStatus
	for rows.Next() {
		var (
			s     PlantStatus
			name  sql.NullString
			email sql.NullString
			phone sql.NullString
		)
		if err := rows.Scan(&s.PlantID, &s.PlantName, &s.Temperature, &s.SoilMoisture,
			&s.TakenAt, &s.LastWatered, &name, &email, &phone); err != nil {
			return nil, fmt.Errorf("scan latest reading: %w", err)
		}
		s.BotanistName = name.String
		s.BotanistEmail = email.String
		s.BotanistPhone = phone.String
		statuses = append(statuses, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate latest readings: %w", err)
	}
	return statuses, nil
}

// ReadingHistory returns a plant's samples since the cutoff, oldest first,
// capped so a runaway query cannot flood the page.
func (db *Database) ReadingHistory(ctx context.Context, plantID int64, since int64, limit int) ([]RawReading, error) {
	if limit <= 0 {
		limit = 500
	}
	ph := newPlaceholderGenerator(db.Driver)
	query := fmt.Sprintf(`SELECT reading_id, plant_id, temperature, soil_moisture, taken_at, last_watered
FROM sensor_reading WHERE plant_id = %s AND taken_at >= %s ORDER BY taken_at LIMIT %d`, ph(), ph(), limit)

	rows, err := db.DB.QueryContext(ctx, query, plantID, since)
	if err != nil {
		return nil, fmt.Errorf("reading history (plant=%d): %w", plantID, err)
	}
	defer rows.Close()

	var readings []RawReading
	for rows.Next() {
		var r RawReading
		if err := rows.Scan(&r.ID, &r.PlantID, &r.Temperature, &r.SoilMoisture, &r.TakenAt, &r.LastWatered); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return readings, nil
}
