package database

import (
	"context"
	"fmt"
	"strings"
)

// LoadRecord is one fully validated plant observation ready for the store:
// the reference attributes plus the sensor sample taken this cycle.
type LoadRecord struct {
	PlantName      string
	ScientificName string
	ImageLink      string

	OriginLatitude  float64
	OriginLongitude float64
	OriginCity      string
	OriginCountry   string

	BotanistName  string
	BotanistEmail string
	BotanistPhone string

	Temperature  float64
	SoilMoisture float64
	TakenAt      int64
	LastWatered  int64
}

// LoadError remembers which table and natural key a failed insert belonged
// to, so an operator can retry the row by hand instead of grepping raw SQL.
type LoadError struct {
	Table string
	Key   string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s (%s): %v", e.Table, e.Key, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// conflictClause picks the right "insert if not exists" suffix per engine.
// PostgreSQL wants the named constraint; SQLite and DuckDB accept the bare
// form against their declared unique keys. Either way the insert itself is
// the atomic conditional, never a racy check-then-insert.
func (db *Database) conflictClause(constraint string) string {
	if db.Driver == "pgx" {
		return fmt.Sprintf(" ON CONFLICT ON CONSTRAINT %s DO NOTHING", constraint)
	}
	return " ON CONFLICT DO NOTHING"
}

// EnsureCountry inserts the country when missing and resolves its surrogate
// id. Two statements, but the insert is conditional at the engine level so
// concurrent loaders cannot double-insert.
func (db *Database) EnsureCountry(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, &LoadError{Table: "country", Key: name, Err: fmt.Errorf("empty country name")}
	}

	ph := newPlaceholderGenerator(db.Driver)
	insert := fmt.Sprintf(`INSERT INTO country (country_name) VALUES (%s)%s`, ph(), db.conflictClause("country_unique"))
	if _, err := db.DB.ExecContext(ctx, insert, name); err != nil {
		return 0, &LoadError{Table: "country", Key: name, Err: err}
	}

	ph = newPlaceholderGenerator(db.Driver)
	query := fmt.Sprintf(`SELECT country_id FROM country WHERE country_name = %s`, ph())
	var id int64
	if err := db.DB.QueryRowContext(ctx, query, name).Scan(&id); err != nil {
		return 0, &LoadError{Table: "country", Key: name, Err: err}
	}
	return id, nil
}

// EnsureOrigin resolves an origin location by its (latitude, longitude)
// natural key, inserting it first when absent.
func (db *Database) EnsureOrigin(ctx context.Context, lat, lon float64, city string, countryID int64) (int64, error) {
	key := fmt.Sprintf("lat=%.2f lon=%.2f", lat, lon)

	ph := newPlaceholderGenerator(db.Driver)
	insert := fmt.Sprintf(`INSERT INTO origin (latitude, longitude, city, country_id) VALUES (%s, %s, %s, %s)%s`,
		ph(), ph(), ph(), ph(), db.conflictClause("origin_unique"))
	if _, err := db.DB.ExecContext(ctx, insert, lat, lon, city, countryID); err != nil {
		return 0, &LoadError{Table: "origin", Key: key, Err: err}
	}

	ph = newPlaceholderGenerator(db.Driver)
	query := fmt.Sprintf(`SELECT origin_id FROM origin WHERE latitude = %s AND longitude = %s`, ph(), ph())
	var id int64
	if err := db.DB.QueryRowContext(ctx, query, lat, lon).Scan(&id); err != nil {
		return 0, &LoadError{Table: "origin", Key: key, Err: err}
	}
	return id, nil
}

// EnsureBotanist resolves a botanist by (name, email).
func (db *Database) EnsureBotanist(ctx context.Context, name, email, phone string) (int64, error) {
	key := fmt.Sprintf("%s <%s>", name, email)

	ph := newPlaceholderGenerator(db.Driver)
	insert := fmt.Sprintf(`INSERT INTO botanist (botanist_name, email, phone) VALUES (%s, %s, %s)%s`,
		ph(), ph(), ph(), db.conflictClause("botanist_unique"))
	if _, err := db.DB.ExecContext(ctx, insert, name, email, phone); err != nil {
		return 0, &LoadError{Table: "botanist", Key: key, Err: err}
	}

	ph = newPlaceholderGenerator(db.Driver)
	query := fmt.Sprintf(`SELECT botanist_id FROM botanist WHERE botanist_name = %s AND email = %s`, ph(), ph())
	var id int64
	if err := db.DB.QueryRowContext(ctx, query, name, email).Scan(&id); err != nil {
		return 0, &LoadError{Table: "botanist", Key: key, Err: err}
	}
	return id, nil
}

// EnsurePlant resolves a plant-master row by (plant_name, origin_id).
// Scientific name and image link are write-once attributes: the first
// observation wins, later cycles never overwrite them.
func (db *Database) EnsurePlant(ctx context.Context, name string, originID int64, scientificName, imageLink string) (int64, error) {
	key := fmt.Sprintf("%s origin=%d", name, originID)

	ph := newPlaceholderGenerator(db.Driver)
	insert := fmt.Sprintf(`INSERT INTO plant (plant_name, origin_id, scientific_name, image_link) VALUES (%s, %s, %s, %s)%s`,
		ph(), ph(), ph(), ph(), db.conflictClause("plant_unique"))
	if _, err := db.DB.ExecContext(ctx, insert, name, originID, nullableString(scientificName), nullableString(imageLink)); err != nil {
		return 0, &LoadError{Table: "plant", Key: key, Err: err}
	}

	ph = newPlaceholderGenerator(db.Driver)
	query := fmt.Sprintf(`SELECT plant_id FROM plant WHERE plant_name = %s AND origin_id = %s`, ph(), ph())
	var id int64
	if err := db.DB.QueryRowContext(ctx, query, name, originID).Scan(&id); err != nil {
		return 0, &LoadError{Table: "plant", Key: key, Err: err}
	}
	return id, nil
}

// EnsureBotanistAssignment links a botanist to a plant once.
func (db *Database) EnsureBotanistAssignment(ctx context.Context, botanistID, plantID int64) error {
	ph := newPlaceholderGenerator(db.Driver)
	insert := fmt.Sprintf(`INSERT INTO botanist_assignment (botanist_id, plant_id) VALUES (%s, %s)%s`,
		ph(), ph(), db.conflictClause("assignment_unique"))
	if _, err := db.DB.ExecContext(ctx, insert, botanistID, plantID); err != nil {
		return &LoadError{Table: "botanist_assignment", Key: fmt.Sprintf("botanist=%d plant=%d", botanistID, plantID), Err: err}
	}
	return nil
}

// InsertReading appends one sensor sample. Readings are never upserted; every
// cycle produces a fresh row.
func (db *Database) InsertReading(ctx context.Context, r RawReading) error {
	ph := newPlaceholderGenerator(db.Driver)
	insert := fmt.Sprintf(`INSERT INTO sensor_reading (plant_id, temperature, soil_moisture, taken_at, last_watered) VALUES (%s, %s, %s, %s, %s)`,
		ph(), ph(), ph(), ph(), ph())
	if _, err := db.DB.ExecContext(ctx, insert, r.PlantID, r.Temperature, r.SoilMoisture, r.TakenAt, r.LastWatered); err != nil {
		return &LoadError{Table: "sensor_reading", Key: fmt.Sprintf("plant=%d taken_at=%d", r.PlantID, r.TakenAt), Err: err}
	}
	return nil
}

// LoadBatch walks a batch of validated records through the dimension chain
// country -> origin -> plant -> assignment -> reading. A failed record is
// reported and skipped; it never takes the rest of the batch down with it,
// and it is never silently counted as loaded.
func (db *Database) LoadBatch(ctx context.Context, records []LoadRecord) (int, []error) {
	var errs []error
	loaded := 0

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			return loaded, errs
		}

		countryID, err := db.EnsureCountry(ctx, rec.OriginCountry)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		originID, err := db.EnsureOrigin(ctx, rec.OriginLatitude, rec.OriginLongitude, rec.OriginCity, countryID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		plantID, err := db.EnsurePlant(ctx, rec.PlantName, originID, rec.ScientificName, rec.ImageLink)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		botanistID, err := db.EnsureBotanist(ctx, rec.BotanistName, rec.BotanistEmail, rec.BotanistPhone)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := db.EnsureBotanistAssignment(ctx, botanistID, plantID); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := db.InsertReading(ctx, RawReading{
			PlantID:      plantID,
			Temperature:  rec.Temperature,
			SoilMoisture: rec.SoilMoisture,
			TakenAt:      rec.TakenAt,
			LastWatered:  rec.LastWatered,
		}); err != nil {
			errs = append(errs, err)
			continue
		}
		loaded++
	}

	return loaded, errs
}

// nullableString maps empty strings to SQL NULL so optional attributes stay
// distinguishable from deliberate blanks.
func nullableString(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
