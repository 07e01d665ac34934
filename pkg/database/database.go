package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Database wraps the SQL connection for the plant store. The normalized
// driver name rides along so SQL builders can stay declarative instead of
// re-parsing config everywhere.
type Database struct {
	DB     *sql.DB
	Driver string
}

// Config holds everything needed to open the plant store.
type Config struct {
	DBType    string // "pgx" (PostgreSQL), "sqlite", or "duckdb"
	DBPath    string // file path for the embedded engines
	DBHost    string // PostgreSQL host
	DBPort    int    // PostgreSQL port
	DBUser    string // PostgreSQL user
	DBPass    string // PostgreSQL password
	DBName    string // PostgreSQL database name
	PGSSLMode string // disable, allow, prefer, require, verify-ca, verify-full
}

// normalizeDBType trims and lowercases driver names so the switch blocks
// below never miss an engine because a caller passed mixed case.
func normalizeDBType(dbType string) string {
	return strings.ToLower(strings.TrimSpace(dbType))
}

// NewDatabase opens the store and configures pooling per engine. The embedded
// engines are forced into single-connection mode: SQLite serializes writers
// anyway and DuckDB keeps one transaction log, so extra connections only buy
// unique-key races during concurrent loads.
func NewDatabase(config Config, logf func(string, ...any)) (*Database, error) {
	driverName := normalizeDBType(config.DBType)

	var dsn string
	switch driverName {
	case "sqlite", "duckdb":
		dsn = config.DBPath
		if dsn == "" {
			dsn = fmt.Sprintf("plant-sentinel.%s", driverName)
		}
	case "pgx":
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.DBUser, config.DBPass, config.DBHost, config.DBPort, config.DBName, config.PGSSLMode)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.DBType)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening the database: %v", err)
	}

	switch driverName {
	case "sqlite", "duckdb":
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		tuneCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := tuneEmbeddedConnection(tuneCtx, db, driverName, logf); err != nil {
			logf("%s tuning skipped: %v", driverName, err)
		}
		cancel()
	case "pgx":
		db.SetMaxOpenConns(8)
		db.SetMaxIdleConns(4)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	// Cheap liveness probe with a timeout so a wrong host does not hang startup.
	{
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("error connecting to the database: %v", err)
		}
	}

	logf("using database driver: %s", driverName)

	return &Database{DB: db, Driver: driverName}, nil
}

// tuneEmbeddedConnection applies the per-engine pragmas that keep cron-driven
// loads responsive. The steps run through a small channel pipeline so the
// caller goroutine stays free, following "Don't communicate by sharing
// memory; share memory by communicating".
func tuneEmbeddedConnection(ctx context.Context, db *sql.DB, driver string, logf func(string, ...any)) error {
	type pragma struct {
		label     string
		query     string
		expectRow bool
	}

	var steps []pragma
	switch driver {
	case "sqlite":
		steps = []pragma{
			{label: "journal_mode", query: "PRAGMA journal_mode=WAL;", expectRow: true},
			{label: "synchronous", query: "PRAGMA synchronous=NORMAL;"},
			{label: "busy_timeout", query: "PRAGMA busy_timeout=5000;"},
		}
	case "duckdb":
		steps = []pragma{
			// Archival COPY statements flush in one go; raising the threshold
			// keeps checkpoints from pausing a reading load mid-batch.
			{label: "checkpoint_threshold", query: "PRAGMA checkpoint_threshold='256MB';"},
		}
	default:
		return nil
	}

	// Buffered to the full step count: if the consumer bails on a pragma
	// error, the producer still drains into the buffer and exits instead of
	// blocking on a channel nobody reads.
	jobs := make(chan pragma, len(steps))
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		for step := range jobs {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			default:
			}

			if step.expectRow {
				var mode string
				if err := db.QueryRowContext(ctx, step.query).Scan(&mode); err != nil {
					errs <- fmt.Errorf("apply %s: %w", step.label, err)
					return
				}
				logf("%s tuning %s -> %s", driver, step.label, mode)
				continue
			}

			if _, err := db.ExecContext(ctx, step.query); err != nil {
				errs <- fmt.Errorf("apply %s: %w", step.label, err)
				return
			}
			logf("%s tuning %s applied", driver, step.label)
		}
		errs <- nil
	}()

	go func() {
		defer close(jobs)
		for _, step := range steps {
			jobs <- step
		}
	}()

	return <-errs
}

// InitSchema creates the reference dimensions, the live reading table, and
// the alert log synchronously so cron jobs can run immediately after boot.
// Secondary indexes are built later by EnsureIndexesAsync.
func (db *Database) InitSchema() error {
	var schema string

	switch db.Driver {
	case "pgx":
		// PostgreSQL: serial surrogate keys, named UNIQUE constraints so the
		// atomic conditional inserts can target them by name.
		schema = `
CREATE TABLE IF NOT EXISTS country (
  country_id   BIGSERIAL PRIMARY KEY,
  country_name TEXT NOT NULL,
  CONSTRAINT country_unique UNIQUE (country_name)
);

CREATE TABLE IF NOT EXISTS origin (
  origin_id  BIGSERIAL PRIMARY KEY,
  latitude   DOUBLE PRECISION NOT NULL,
  longitude  DOUBLE PRECISION NOT NULL,
  city       TEXT,
  country_id BIGINT NOT NULL REFERENCES country (country_id),
  CONSTRAINT origin_unique UNIQUE (latitude, longitude)
);

CREATE TABLE IF NOT EXISTS botanist (
  botanist_id   BIGSERIAL PRIMARY KEY,
  botanist_name TEXT NOT NULL,
  email         TEXT NOT NULL,
  phone         TEXT,
  CONSTRAINT botanist_unique UNIQUE (botanist_name, email)
);

CREATE TABLE IF NOT EXISTS plant (
  plant_id        BIGSERIAL PRIMARY KEY,
  plant_name      TEXT NOT NULL,
  origin_id       BIGINT NOT NULL REFERENCES origin (origin_id),
  scientific_name TEXT,
  image_link      TEXT,
  CONSTRAINT plant_unique UNIQUE (plant_name, origin_id)
);

CREATE TABLE IF NOT EXISTS botanist_assignment (
  botanist_id BIGINT NOT NULL REFERENCES botanist (botanist_id),
  plant_id    BIGINT NOT NULL REFERENCES plant (plant_id),
  CONSTRAINT assignment_unique UNIQUE (botanist_id, plant_id)
);

CREATE TABLE IF NOT EXISTS sensor_reading (
  reading_id    BIGSERIAL PRIMARY KEY,
  plant_id      BIGINT NOT NULL REFERENCES plant (plant_id),
  temperature   DOUBLE PRECISION,
  soil_moisture DOUBLE PRECISION,
  taken_at      BIGINT NOT NULL,
  last_watered  BIGINT
);

CREATE TABLE IF NOT EXISTS alert (
  alert_id   BIGSERIAL PRIMARY KEY,
  plant_id   BIGINT NOT NULL,
  alert_type TEXT NOT NULL,
  value      DOUBLE PRECISION,
  sent_at    BIGINT NOT NULL
);
`

	case "sqlite":
		// SQLite: INTEGER PRIMARY KEY aliases rowid; uniqueness lives in
		// separate UNIQUE indexes because older releases dislike named
		// table-level constraints as ON CONFLICT targets.
		schema = `
CREATE TABLE IF NOT EXISTS country (
  country_id   INTEGER PRIMARY KEY,
  country_name TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_country_unique ON country (country_name);

CREATE TABLE IF NOT EXISTS origin (
  origin_id  INTEGER PRIMARY KEY,
  latitude   REAL NOT NULL,
  longitude  REAL NOT NULL,
  city       TEXT,
  country_id INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_origin_unique ON origin (latitude, longitude);

CREATE TABLE IF NOT EXISTS botanist (
  botanist_id   INTEGER PRIMARY KEY,
  botanist_name TEXT NOT NULL,
  email         TEXT NOT NULL,
  phone         TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_botanist_unique ON botanist (botanist_name, email);

CREATE TABLE IF NOT EXISTS plant (
  plant_id        INTEGER PRIMARY KEY,
  plant_name      TEXT NOT NULL,
  origin_id       INTEGER NOT NULL,
  scientific_name TEXT,
  image_link      TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_plant_unique ON plant (plant_name, origin_id);

CREATE TABLE IF NOT EXISTS botanist_assignment (
  botanist_id INTEGER NOT NULL,
  plant_id    INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_assignment_unique ON botanist_assignment (botanist_id, plant_id);

CREATE TABLE IF NOT EXISTS sensor_reading (
  reading_id    INTEGER PRIMARY KEY,
  plant_id      INTEGER NOT NULL,
  temperature   REAL,
  soil_moisture REAL,
  taken_at      BIGINT NOT NULL,
  last_watered  BIGINT
);

CREATE TABLE IF NOT EXISTS alert (
  alert_id   INTEGER PRIMARY KEY,
  plant_id   INTEGER NOT NULL,
  alert_type TEXT NOT NULL,
  value      REAL,
  sent_at    BIGINT NOT NULL
);
`

	case "duckdb":
		// DuckDB: no SERIAL; sequences + DEFAULT nextval(...) with table-level
		// UNIQUE constraints, which its ON CONFLICT honours.
		schema = `
CREATE SEQUENCE IF NOT EXISTS country_id_seq START 1;
CREATE TABLE IF NOT EXISTS country (
  country_id   BIGINT PRIMARY KEY DEFAULT nextval('country_id_seq'),
  country_name TEXT NOT NULL,
  CONSTRAINT country_unique UNIQUE (country_name)
);

CREATE SEQUENCE IF NOT EXISTS origin_id_seq START 1;
CREATE TABLE IF NOT EXISTS origin (
  origin_id  BIGINT PRIMARY KEY DEFAULT nextval('origin_id_seq'),
  latitude   DOUBLE NOT NULL,
  longitude  DOUBLE NOT NULL,
  city       TEXT,
  country_id BIGINT NOT NULL,
  CONSTRAINT origin_unique UNIQUE (latitude, longitude)
);

CREATE SEQUENCE IF NOT EXISTS botanist_id_seq START 1;
CREATE TABLE IF NOT EXISTS botanist (
  botanist_id   BIGINT PRIMARY KEY DEFAULT nextval('botanist_id_seq'),
  botanist_name TEXT NOT NULL,
  email         TEXT NOT NULL,
  phone         TEXT,
  CONSTRAINT botanist_unique UNIQUE (botanist_name, email)
);

CREATE SEQUENCE IF NOT EXISTS plant_id_seq START 1;
CREATE TABLE IF NOT EXISTS plant (
  plant_id        BIGINT PRIMARY KEY DEFAULT nextval('plant_id_seq'),
  plant_name      TEXT NOT NULL,
  origin_id       BIGINT NOT NULL,
  scientific_name TEXT,
  image_link      TEXT,
  CONSTRAINT plant_unique UNIQUE (plant_name, origin_id)
);

CREATE TABLE IF NOT EXISTS botanist_assignment (
  botanist_id BIGINT NOT NULL,
  plant_id    BIGINT NOT NULL,
  CONSTRAINT assignment_unique UNIQUE (botanist_id, plant_id)
);

CREATE SEQUENCE IF NOT EXISTS sensor_reading_id_seq START 1;
CREATE TABLE IF NOT EXISTS sensor_reading (
  reading_id    BIGINT PRIMARY KEY DEFAULT nextval('sensor_reading_id_seq'),
  plant_id      BIGINT NOT NULL,
  temperature   DOUBLE,
  soil_moisture DOUBLE,
  taken_at      BIGINT NOT NULL,
  last_watered  BIGINT
);

CREATE SEQUENCE IF NOT EXISTS alert_id_seq START 1;
CREATE TABLE IF NOT EXISTS alert (
  alert_id   BIGINT PRIMARY KEY DEFAULT nextval('alert_id_seq'),
  plant_id   BIGINT NOT NULL,
  alert_type TEXT NOT NULL,
  value      DOUBLE,
  sent_at    BIGINT NOT NULL
);
`

	default:
		return fmt.Errorf("unsupported database type: %s", db.Driver)
	}

	if err := execStatements(db.DB, strings.Split(schema, ";")); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// execStatements executes DDL statements one by one so engines that refuse
// multi-statement Exec calls still boot. Blank fragments are skipped.
func execStatements(db *sql.DB, stmts []string) error {
	for _, raw := range stmts {
		stmt := strings.TrimSpace(raw)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("%q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// firstLine keeps DDL error messages short enough to read in a log stream.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// EnsureIndexesAsync builds the non-critical query indexes in background.
// No pre-checks, just CREATE INDEX IF NOT EXISTS, with a polite backoff on
// "database is locked" so an in-flight reading load is never starved.
func (db *Database) EnsureIndexesAsync(ctx context.Context, logf func(string, ...any)) {
	type idx struct{ name, sql string }

	indexes := []idx{
		// Rolling-average and history scans filter by plant then recency.
		{"idx_reading_plant_taken",
			`CREATE INDEX IF NOT EXISTS idx_reading_plant_taken ON sensor_reading (plant_id, taken_at)`},
		// The archiver selects and deletes by time window alone.
		{"idx_reading_taken",
			`CREATE INDEX IF NOT EXISTS idx_reading_taken ON sensor_reading (taken_at)`},
		// Suppression probe: (plant, type) within the trailing hour.
		{"idx_alert_probe",
			`CREATE INDEX IF NOT EXISTS idx_alert_probe ON alert (plant_id, alert_type, sent_at)`},
	}

	go func() {
		for _, it := range indexes {
			start := time.Now()
			backoff := 50 * time.Millisecond
			for {
				select {
				case <-ctx.Done():
					logf("stop index builder: %v", ctx.Err())
					return
				default:
				}

				_, err := db.DB.ExecContext(ctx, it.sql)
				if err == nil {
					logf("index %s ready in %s", it.name, time.Since(start).Truncate(time.Millisecond))
					break
				}

				msg := strings.ToLower(err.Error())
				if strings.Contains(msg, "already exists") {
					break
				}
				if strings.Contains(msg, "locked") || strings.Contains(msg, "busy") {
					time.Sleep(backoff)
					if backoff < time.Second {
						backoff *= 2
					}
					continue
				}

				logf("index %s failed after %s: %v", it.name, time.Since(start).Truncate(time.Millisecond), err)
				break
			}
		}
	}()
}

// newPlaceholderGenerator returns a closure producing the placeholder syntax
// for the configured driver. A generator keeps multi-argument SQL assembly
// readable as the number of bound values grows.
func newPlaceholderGenerator(driver string) func() string {
	if normalizeDBType(driver) == "pgx" {
		counter := 0
		return func() string {
			counter++
			return fmt.Sprintf("$%d", counter)
		}
	}
	return func() string { return "?" }
}
