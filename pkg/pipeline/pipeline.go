// Package pipeline runs one fetch-validate-load cycle: sweep the plant API,
// drop payloads that fail validation, normalize the survivors, and hand them
// to the store in a single batch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"plant-sentinel/pkg/database"
	"plant-sentinel/pkg/metrics"
	"plant-sentinel/pkg/plantapi"
	"plant-sentinel/pkg/validate"
)

// Store is the slice of the database the pipeline needs.
type Store interface {
	LoadBatch(ctx context.Context, records []database.LoadRecord) (int, []error)
}

// Fetcher is the slice of the API client the pipeline needs.
type Fetcher interface {
	FetchRange(ctx context.Context, first, last, workers int) ([]plantapi.SweepResult, error)
}

// Runner owns one pipeline's configuration. FirstPlant and LastPlant bound
// the id sweep inclusively.
type Runner struct {
	API        Fetcher
	DB         Store
	FirstPlant int
	LastPlant  int
	Workers    int
	Logf       func(string, ...any)
}

// timestamp layouts the upstream has been seen to use. recording_taken is a
// plain datetime, last_watered an RFC 1123 stamp.
var timeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC1123,
	time.RFC1123Z,
	time.RFC3339,
}

// Run executes one cycle and returns the number of readings loaded. A cycle
// only fails as a whole when the sweep itself cannot run; per-plant problems
// are logged, counted, and skipped.
func (r *Runner) Run(ctx context.Context) (int, error) {
	logf := r.Logf
	if logf == nil {
		logf = log.Printf
	}
	start := time.Now()
	defer func() {
		metrics.CycleDuration.WithLabelValues("pipeline").Observe(time.Since(start).Seconds())
	}()

	results, err := r.API.FetchRange(ctx, r.FirstPlant, r.LastPlant, r.Workers)
	if err != nil {
		metrics.FetchFailures.WithLabelValues("sweep").Inc()
		return 0, fmt.Errorf("sweep plants %d..%d: %w", r.FirstPlant, r.LastPlant, err)
	}

	var records []database.LoadRecord
	fetched, dropped := 0, 0

	for _, res := range results {
		if res.Err != nil {
			switch {
			case errors.Is(res.Err, plantapi.ErrNotFound):
				metrics.FetchFailures.WithLabelValues("not_found").Inc()
				logf("plant %d: skipped: %v", res.ID, res.Err)
			case errors.Is(res.Err, plantapi.ErrUpstream):
				metrics.FetchFailures.WithLabelValues("upstream").Inc()
				logf("plant %d: upstream gave up: %v", res.ID, res.Err)
			default:
				metrics.FetchFailures.WithLabelValues("other").Inc()
				logf("plant %d: fetch failed: %v", res.ID, res.Err)
			}
			continue
		}
		fetched++

		rec, ok := r.prepare(res.ID, res.Payload, logf)
		if !ok {
			dropped++
			continue
		}
		records = append(records, rec)
	}

	loaded, loadErrs := r.DB.LoadBatch(ctx, records)
	for _, lerr := range loadErrs {
		logf("load error: %v", lerr)
	}
	metrics.ReadingsLoaded.Add(float64(loaded))

	logf("pipeline cycle: %d fetched, %d dropped by validation, %d loaded, %d load errors in %s",
		fetched, dropped, loaded, len(loadErrs), time.Since(start).Round(time.Millisecond))
	return loaded, nil
}

// prepare validates and normalizes one payload into a LoadRecord.
func (r *Runner) prepare(id int, payload validate.Record, logf func(string, ...any)) (database.LoadRecord, bool) {
	if issues := validate.Validate(payload); len(issues) > 0 {
		metrics.RecordsDropped.WithLabelValues("validation").Inc()
		logf("plant %d: dropped: %v", id, issues)
		return database.LoadRecord{}, false
	}
	if validate.NegativeSoilMoisture(payload) {
		// Loads anyway; the dry-soil alert wants the row, but the sensor is
		// clearly misbehaving and someone should know.
		metrics.ReadingsFlagged.WithLabelValues("negative_soil_moisture").Inc()
		logf("plant %d: negative soil moisture %v, loading with warning", id, payload["soil_moisture"])
	}

	validate.RoundTo2DP(payload)

	rec := database.LoadRecord{
		PlantName: stringField(payload, "name"),
	}

	if sci, ok := payload["scientific_name"]; ok {
		rec.ScientificName = firstString(sci)
	}
	if !validate.HasNullImagesKey(payload) {
		if images, ok := payload["images"].(map[string]any); ok {
			rec.ImageLink = stringField(images, "original_url")
		}
	}

	loc, _ := payload["origin_location"].(map[string]any)
	rec.OriginLatitude, _ = validate.Numeric(loc["latitude"])
	rec.OriginLongitude, _ = validate.Numeric(loc["longitude"])
	rec.OriginCity = stringField(loc, "city")
	rec.OriginCountry = stringField(loc, "country")

	bot, _ := payload["botanist"].(map[string]any)
	rec.BotanistName = stringField(bot, "name")
	rec.BotanistEmail = stringField(bot, "email")
	rec.BotanistPhone = stringField(bot, "phone")

	rec.Temperature, _ = validate.Numeric(payload["temperature"])
	rec.SoilMoisture, _ = validate.Numeric(payload["soil_moisture"])

	taken, err := parseTimestamp(stringField(payload, "recording_taken"))
	if err != nil {
		metrics.RecordsDropped.WithLabelValues("bad_timestamp").Inc()
		logf("plant %d: dropped: recording_taken: %v", id, err)
		return database.LoadRecord{}, false
	}
	rec.TakenAt = taken

	watered, err := parseTimestamp(stringField(payload, "last_watered"))
	if err != nil {
		metrics.RecordsDropped.WithLabelValues("bad_timestamp").Inc()
		logf("plant %d: dropped: last_watered: %v", id, err)
		return database.LoadRecord{}, false
	}
	rec.LastWatered = watered

	return rec, true
}

// parseTimestamp tries the known upstream layouts in order.
func parseTimestamp(s string) (int64, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("unrecognised timestamp %q", s)
}

// stringField reads a string-typed field from a map, tolerating nil maps.
func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// firstString flattens the scientific_name field, which arrives either as a
// string or as a one-element list.
func firstString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		if len(t) > 0 {
			s, _ := t[0].(string)
			return s
		}
	}
	return ""
}
