package database

import (
	"context"
	"database/sql"
	"fmt"
)

// AverageLastThree computes the rolling mean of each plant's three most
// recent readings. The window-function query runs unchanged on PostgreSQL,
// SQLite, and DuckDB, so there is no per-driver branch here.
func (db *Database) AverageLastThree(ctx context.Context) ([]PlantAverage, error) {
	const query = `
WITH ranked_readings AS (
  SELECT p.plant_id, p.plant_name, sr.temperature, sr.soil_moisture,
         ROW_NUMBER() OVER (PARTITION BY p.plant_id ORDER BY sr.taken_at DESC) AS rn
  FROM plant AS p
  JOIN sensor_reading AS sr ON sr.plant_id = p.plant_id
)
SELECT plant_id, plant_name, AVG(temperature), AVG(soil_moisture)
FROM ranked_readings
WHERE rn <= 3
GROUP BY plant_id, plant_name
ORDER BY plant_id`

	rows, err := db.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("average readings: %w", err)
	}
	defer rows.Close()

	var averages []PlantAverage
	for rows.Next() {
		var avg PlantAverage
		if err := rows.Scan(&avg.PlantID, &avg.PlantName, &avg.AvgTemperature, &avg.AvgSoilMoisture); err != nil {
			return nil, fmt.Errorf("scan average: %w", err)
		}
		averages = append(averages, avg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate averages: %w", err)
	}
	return averages, nil
}

// RecentAlertExists probes for an alert of the same (plant, type) with
// sent_at at or after the cutoff. This existence test is the system's one
// consistency rule: a hit suppresses the resend.
func (db *Database) RecentAlertExists(ctx context.Context, plantID int64, alertType string, since int64) (bool, error) {
	ph := newPlaceholderGenerator(db.Driver)
	query := fmt.Sprintf(`SELECT 1 FROM alert WHERE plant_id = %s AND alert_type = %s AND sent_at >= %s LIMIT 1`,
		ph(), ph(), ph())

	var one int
	err := db.DB.QueryRowContext(ctx, query, plantID, alertType, since).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("probe alert (plant=%d type=%s): %w", plantID, alertType, err)
	}
	return true, nil
}

// InsertAlert appends one alert record. Alerts are never updated or deleted
// in-band; the archive path is the only thing that ever touches old rows.
func (db *Database) InsertAlert(ctx context.Context, a AlertRecord) error {
	ph := newPlaceholderGenerator(db.Driver)
	insert := fmt.Sprintf(`INSERT INTO alert (plant_id, alert_type, value, sent_at) VALUES (%s, %s, %s, %s)`,
		ph(), ph(), ph(), ph())
	if _, err := db.DB.ExecContext(ctx, insert, a.PlantID, a.AlertType, a.Value, a.SentAt); err != nil {
		return fmt.Errorf("insert alert (plant=%d type=%s): %w", a.PlantID, a.AlertType, err)
	}
	return nil
}

// RecentAlerts lists alerts sent at or after the cutoff, newest first, for
// the dashboard.
func (db *Database) RecentAlerts(ctx context.Context, since int64, limit int) ([]AlertRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	ph := newPlaceholderGenerator(db.Driver)
	query := fmt.Sprintf(`SELECT alert_id, plant_id, alert_type, value, sent_at FROM alert WHERE sent_at >= %s ORDER BY sent_at DESC LIMIT %d`,
		ph(), limit)

	rows, err := db.DB.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("recent alerts: %w", err)
	}
	defer rows.Close()

	var alerts []AlertRecord
	for rows.Next() {
		var a AlertRecord
		if err := rows.Scan(&a.ID, &a.PlantID, &a.AlertType, &a.Value, &a.SentAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return alerts, nil
}
