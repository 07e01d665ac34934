// Package archive moves day-old sensor readings out of the live store and
// into partitioned files in long-term storage. Each run exports everything
// past the retention cutoff, uploads the files, and only then removes the
// exported rows from the store.
package archive

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"plant-sentinel/pkg/database"
	"plant-sentinel/pkg/metrics"
)

// Retention is how long readings stay in the live store before they are
// archived out.
const Retention = 24 * time.Hour

// dimensionTables are snapshotted alongside every reading export so the
// archive stays joinable without the live store.
var dimensionTables = []string{"country", "origin", "botanist", "plant", "botanist_assignment"}

// Store is the slice of the database the archiver needs.
type Store interface {
	SelectReadingsBetween(ctx context.Context, lower, upper int64) ([]database.RawReading, error)
	DeleteReadingsByID(ctx context.Context, ids []int64) error
	DimensionRows(ctx context.Context, table string) ([]string, [][]string, error)
}

// Archiver owns one archive job's configuration. OutDir is the local export
// root; Bucket may be empty for local-only runs, in which case Uploader is
// never called.
type Archiver struct {
	DB       Store
	OutDir   string
	Bucket   string
	Uploader Uploader
	Logf     func(string, ...any)

	// Now is swappable in tests; nil means time.Now.
	Now func() time.Time
}

// Cutoff computes the archive boundary for a run at the given time: the top
// of the current hour minus the retention period. Computed once per run;
// everything recorded before it is due for export, so an hour stranded by an
// earlier failed upload is picked up again on the very next pass instead of
// sitting in the live table forever.
func Cutoff(now time.Time) time.Time {
	return now.UTC().Truncate(time.Hour).Add(-Retention)
}

// Run executes one archive pass: select everything past retention, export
// readings and dimension snapshots, upload, then prune. Upload failure
// leaves both the local files and the store rows in place, and the rows stay
// before every future cutoff, so the next run re-selects and re-ships them;
// nothing is deleted that was never shipped.
func (a *Archiver) Run(ctx context.Context) error {
	logf := a.Logf
	if logf == nil {
		logf = log.Printf
	}
	now := time.Now()
	if a.Now != nil {
		now = a.Now()
	}
	start := time.Now()
	defer func() {
		metrics.CycleDuration.WithLabelValues("archive").Observe(time.Since(start).Seconds())
	}()

	upper := Cutoff(now)
	readings, err := a.DB.SelectReadingsBetween(ctx, 0, upper.Unix())
	if err != nil {
		return err
	}
	if len(readings) == 0 {
		logf("archive pass: no readings before %s", upper.Format(time.RFC3339))
		return nil
	}

	parquet := parquetAvailable()
	if !parquet {
		logf("archive pass: parquet writer unavailable, exporting CSV instead")
	}

	stamp := now.UTC().Format("20060102T150405")
	partitions, err := a.exportReadings(readings, stamp, parquet)
	if err != nil {
		return fmt.Errorf("export readings: %w", err)
	}
	if err := a.exportDimensions(ctx, stamp, parquet); err != nil {
		return fmt.Errorf("export dimensions: %w", err)
	}

	if a.Bucket != "" {
		uploaded, err := uploadTree(ctx, a.Uploader, a.Bucket, a.OutDir)
		if err != nil {
			return fmt.Errorf("upload to %s: %w", a.Bucket, err)
		}
		logf("archive pass: uploaded %d files to %s", uploaded, a.Bucket)
	}

	ids := make([]int64, len(readings))
	for i, r := range readings {
		ids[i] = r.ID
	}
	if err := a.DB.DeleteReadingsByID(ctx, ids); err != nil {
		return fmt.Errorf("prune archived readings: %w", err)
	}

	metrics.ReadingsArchived.Add(float64(len(readings)))
	logf("archive pass: %d readings exported across %d partitions and pruned", len(readings), len(partitions))
	return nil
}

// partitionDir builds the Hive-style partition path for one hour.
func (a *Archiver) partitionDir(hour time.Time) string {
	t := hour.UTC()
	return filepath.Join(a.OutDir, "input", "sensor_reading",
		"year="+strconv.Itoa(t.Year()),
		fmt.Sprintf("month=%02d", int(t.Month())),
		fmt.Sprintf("day=%02d", t.Day()),
		fmt.Sprintf("hour=%02d", t.Hour()))
}

// exportReadings writes the readings into per-hour partition directories,
// each row keyed by its own taken_at. One pass usually holds a single hour,
// but a backlog left by a failed upload spans several and every hour must
// land in its own partition. Returns the written file paths.
func (a *Archiver) exportReadings(readings []database.RawReading, stamp string, parquet bool) ([]string, error) {
	groups := make(map[time.Time][]database.RawReading)
	for _, r := range readings {
		hour := time.Unix(r.TakenAt, 0).UTC().Truncate(time.Hour)
		groups[hour] = append(groups[hour], r)
	}

	cols := []string{"reading_id", "plant_id", "temperature", "soil_moisture", "taken_at", "last_watered"}
	types := []string{"BIGINT", "BIGINT", "DOUBLE", "DOUBLE", "BIGINT", "BIGINT"}

	var paths []string
	for hour, group := range groups {
		dir := a.partitionDir(hour)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}

		rows := make([][]string, len(group))
		for i, r := range group {
			rows[i] = []string{
				strconv.FormatInt(r.ID, 10),
				strconv.FormatInt(r.PlantID, 10),
				strconv.FormatFloat(r.Temperature, 'f', -1, 64),
				strconv.FormatFloat(r.SoilMoisture, 'f', -1, 64),
				strconv.FormatInt(r.TakenAt, 10),
				strconv.FormatInt(r.LastWatered, 10),
			}
		}

		if parquet {
			path := filepath.Join(dir, "readings-"+stamp+".parquet")
			if err := writeParquet(path, cols, types, rows); err != nil {
				return nil, err
			}
			paths = append(paths, path)
			continue
		}
		path := filepath.Join(dir, "readings-"+stamp+".csv")
		if err := writeCSV(path, cols, rows); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// exportDimensions snapshots the reference tables next to the readings so an
// analyst can rebuild the joins from the archive alone.
func (a *Archiver) exportDimensions(ctx context.Context, stamp string, parquet bool) error {
	for _, table := range dimensionTables {
		cols, rows, err := a.DB.DimensionRows(ctx, table)
		if err != nil {
			return err
		}

		dir := filepath.Join(a.OutDir, "input", table)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}

		if parquet {
			types := make([]string, len(cols))
			for i := range types {
				types[i] = "VARCHAR"
			}
			if err := writeParquet(filepath.Join(dir, table+"-"+stamp+".parquet"), cols, types, rows); err != nil {
				return err
			}
			continue
		}
		if err := writeCSV(filepath.Join(dir, table+"-"+stamp+".csv"), cols, rows); err != nil {
			return err
		}
	}
	return nil
}
