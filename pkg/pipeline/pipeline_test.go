package pipeline

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plant-sentinel/pkg/database"
	"plant-sentinel/pkg/metrics"
	"plant-sentinel/pkg/plantapi"
)

type fakeFetcher struct {
	results []plantapi.SweepResult
	err     error
}

func (f *fakeFetcher) FetchRange(context.Context, int, int, int) ([]plantapi.SweepResult, error) {
	return f.results, f.err
}

type fakeStore struct {
	batches [][]database.LoadRecord
	errs    []error
}

func (s *fakeStore) LoadBatch(_ context.Context, records []database.LoadRecord) (int, []error) {
	s.batches = append(s.batches, records)
	return len(records) - len(s.errs), s.errs
}

func payload(name string) map[string]any {
	return map[string]any{
		"plant_id":    float64(1),
		"name":        name,
		"temperature": 22.123,
		"origin_location": map[string]any{
			"latitude":  "5.27247",
			"longitude": "-3.59625",
			"country":   "Ivory Coast",
			"city":      "Bonoua",
		},
		"botanist": map[string]any{
			"name":  "Carl Linnaeus",
			"email": "carl.linnaeus@lnhm.co.uk",
			"phone": "(146)994-1635x35992",
		},
		"last_watered":    "Mon, 14 Jun 2023 14:03:04 GMT",
		"soil_moisture":   30.9999,
		"recording_taken": "2023-06-14 14:10:54",
		"images":          map[string]any{"original_url": "https://example.org/flytrap.jpg"},
		"scientific_name": []any{"Heliconia schiedeana"},
	}
}

func TestRunHappyPath(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{results: []plantapi.SweepResult{
		{ID: 1, Payload: payload("Venus flytrap")},
	}}
	store := &fakeStore{}
	r := &Runner{API: fetcher, DB: store, Logf: t.Logf}

	loaded, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)

	require.Len(t, store.batches, 1)
	require.Len(t, store.batches[0], 1)
	rec := store.batches[0][0]

	assert.Equal(t, "Venus flytrap", rec.PlantName)
	assert.Equal(t, "Heliconia schiedeana", rec.ScientificName)
	assert.Equal(t, "https://example.org/flytrap.jpg", rec.ImageLink)
	assert.Equal(t, "Ivory Coast", rec.OriginCountry)
	assert.Equal(t, "Bonoua", rec.OriginCity)
	assert.Equal(t, 5.27, rec.OriginLatitude, "string coordinates parse and round")
	assert.Equal(t, -3.6, rec.OriginLongitude)
	assert.Equal(t, 22.12, rec.Temperature, "rounded before load")
	assert.Equal(t, 31.0, rec.SoilMoisture)
	assert.Equal(t, "Carl Linnaeus", rec.BotanistName)

	// 2023-06-14 14:10:54 UTC and the RFC 1123 watering stamp.
	assert.Equal(t, int64(1686751854), rec.TakenAt)
	assert.Equal(t, int64(1686751384), rec.LastWatered)
}

func TestRunDropsInvalidRecords(t *testing.T) {
	t.Parallel()

	bad := payload("Broken")
	delete(bad, "temperature")

	fetcher := &fakeFetcher{results: []plantapi.SweepResult{
		{ID: 1, Payload: bad},
		{ID: 2, Payload: payload("Survivor")},
	}}
	store := &fakeStore{}
	r := &Runner{API: fetcher, DB: store, Logf: t.Logf}

	loaded, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)
	require.Len(t, store.batches[0], 1)
	assert.Equal(t, "Survivor", store.batches[0][0].PlantName)
}

func TestRunDropsBadTimestamps(t *testing.T) {
	t.Parallel()

	bad := payload("Clockless")
	bad["recording_taken"] = "yesterday-ish"

	fetcher := &fakeFetcher{results: []plantapi.SweepResult{{ID: 1, Payload: bad}}}
	store := &fakeStore{}
	r := &Runner{API: fetcher, DB: store, Logf: t.Logf}

	loaded, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, loaded)
	assert.Empty(t, store.batches[0])
}

func TestRunSkipsFetchFailures(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{results: []plantapi.SweepResult{
		{ID: 1, Err: plantapi.ErrNotFound},
		{ID: 2, Payload: payload("Lone survivor")},
		{ID: 3, Err: plantapi.ErrUpstream},
	}}
	store := &fakeStore{}
	r := &Runner{API: fetcher, DB: store, Logf: t.Logf}

	loaded, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)
}

func TestRunAuthFailureAbortsCycle(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{err: plantapi.ErrAuth}
	store := &fakeStore{}
	r := &Runner{API: fetcher, DB: store, Logf: t.Logf}

	_, err := r.Run(context.Background())
	require.ErrorIs(t, err, plantapi.ErrAuth)
	assert.Empty(t, store.batches, "nothing reaches the store on an aborted sweep")
}

func TestNullImagesSkipsLink(t *testing.T) {
	t.Parallel()

	p := payload("Shy plant")
	p["images"] = nil

	fetcher := &fakeFetcher{results: []plantapi.SweepResult{{ID: 1, Payload: p}}}
	store := &fakeStore{}
	r := &Runner{API: fetcher, DB: store, Logf: t.Logf}

	_, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, store.batches[0], 1)
	assert.Empty(t, store.batches[0][0].ImageLink)
}

func TestNegativeSoilMoistureLoadsWithWarning(t *testing.T) {
	t.Parallel()

	p := payload("Dusty cactus")
	p["soil_moisture"] = -1.5

	fetcher := &fakeFetcher{results: []plantapi.SweepResult{{ID: 1, Payload: p}}}
	store := &fakeStore{}
	r := &Runner{API: fetcher, DB: store, Logf: t.Logf}

	flagged := metrics.ReadingsFlagged.WithLabelValues("negative_soil_moisture")
	before := testutil.ToFloat64(flagged)

	loaded, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, loaded, "implausible moisture still loads")
	assert.Equal(t, -1.5, store.batches[0][0].SoilMoisture)
	assert.Equal(t, before+1, testutil.ToFloat64(flagged), "flagged rows show up in the audit counter")
}

func TestParseTimestamp(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want int64
	}{
		{"2023-06-14 14:10:54", 1686751854},
		{"Mon, 14 Jun 2023 14:03:04 GMT", 1686751384},
		{"2023-06-14T14:10:54Z", 1686751854},
	}
	for _, tc := range cases {
		got, err := parseTimestamp(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, err := parseTimestamp("not a time")
	assert.Error(t, err)
}
