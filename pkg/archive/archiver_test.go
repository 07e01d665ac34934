package archive

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plant-sentinel/pkg/database"
)

func TestCutoff(t *testing.T) {
	t.Parallel()

	now := time.Date(2023, 6, 14, 14, 10, 54, 0, time.UTC)
	assert.Equal(t, time.Date(2023, 6, 13, 14, 0, 0, 0, time.UTC), Cutoff(now))

	// Two calls inside the same hour agree; the boundary never shifts
	// between selection and deletion.
	assert.Equal(t, Cutoff(now), Cutoff(now.Add(40*time.Minute)))
}

type fakeStore struct {
	readings []database.RawReading
	deleted  [][]int64
	dims     map[string][][]string
}

func (s *fakeStore) SelectReadingsBetween(_ context.Context, lower, upper int64) ([]database.RawReading, error) {
	var out []database.RawReading
	for _, r := range s.readings {
		if r.TakenAt >= lower && r.TakenAt < upper {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteReadingsByID(_ context.Context, ids []int64) error {
	s.deleted = append(s.deleted, ids)
	return nil
}

func (s *fakeStore) DimensionRows(_ context.Context, table string) ([]string, [][]string, error) {
	rows := s.dims[table]
	return []string{"id", "name"}, rows, nil
}

type fakeUploader struct {
	keys []string
	err  error
}

func (u *fakeUploader) Upload(_ context.Context, _ string, key string, body io.Reader) error {
	if u.err != nil {
		return u.err
	}
	if _, err := io.Copy(io.Discard, body); err != nil {
		return err
	}
	u.keys = append(u.keys, key)
	return nil
}

func newArchiver(t *testing.T, store *fakeStore, up Uploader, bucket string) *Archiver {
	t.Helper()
	return &Archiver{
		DB:       store,
		OutDir:   t.TempDir(),
		Bucket:   bucket,
		Uploader: up,
		Logf:     t.Logf,
		Now:      func() time.Time { return time.Date(2023, 6, 14, 14, 10, 54, 0, time.UTC) },
	}
}

func agedReading(id int64) database.RawReading {
	// Inside 2023-06-13 13:00..14:00 UTC.
	return database.RawReading{
		ID: id, PlantID: id, Temperature: 21.5, SoilMoisture: 40.1,
		TakenAt: time.Date(2023, 6, 13, 13, 30, 0, 0, time.UTC).Unix(), LastWatered: 100,
	}
}

func TestRunExportsAndPrunes(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		readings: []database.RawReading{
			agedReading(10),
			agedReading(11),
			// Not yet past retention, must survive the prune.
			{ID: 99, PlantID: 1, TakenAt: time.Date(2023, 6, 14, 10, 0, 0, 0, time.UTC).Unix()},
		},
		dims: map[string][][]string{
			"plant": {{"1", "Venus flytrap"}},
		},
	}
	up := &fakeUploader{}
	a := newArchiver(t, store, up, "plant-archive")

	require.NoError(t, a.Run(context.Background()))

	// Partition layout follows the readings' own hour.
	matches, err := filepath.Glob(filepath.Join(a.OutDir,
		"input", "sensor_reading", "year=2023", "month=06", "day=13", "hour=13", "readings-*.csv"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	f, err := os.Open(matches[0])
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3, "header plus both aged rows")
	assert.Equal(t, []string{"reading_id", "plant_id", "temperature", "soil_moisture", "taken_at", "last_watered"}, rows[0])
	assert.Equal(t, "10", rows[1][0])
	assert.Equal(t, "11", rows[2][0])

	// Dimension snapshots land under input/<table>/.
	dimMatches, err := filepath.Glob(filepath.Join(a.OutDir, "input", "plant", "plant-*.csv"))
	require.NoError(t, err)
	assert.Len(t, dimMatches, 1)

	// Exactly the exported ids are pruned.
	require.Len(t, store.deleted, 1)
	assert.Equal(t, []int64{10, 11}, store.deleted[0])

	// Every file under the export root reached the bucket, keyed by its
	// relative path.
	assert.Contains(t, up.keys, "input/sensor_reading/year=2023/month=06/day=13/hour=13/"+filepath.Base(matches[0]))
	assert.Len(t, up.keys, 6, "one reading file plus five dimension snapshots")
}

func TestRunNothingPastCutoff(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	up := &fakeUploader{}
	a := newArchiver(t, store, up, "plant-archive")

	require.NoError(t, a.Run(context.Background()))
	assert.Empty(t, store.deleted)
	assert.Empty(t, up.keys)
}

func TestRunUploadFailureKeepsRows(t *testing.T) {
	t.Parallel()

	store := &fakeStore{readings: []database.RawReading{agedReading(10)}}
	up := &fakeUploader{err: assert.AnError}
	a := newArchiver(t, store, up, "plant-archive")

	err := a.Run(context.Background())
	require.Error(t, err)

	// No prune happened, and the local export survives for the retry.
	assert.Empty(t, store.deleted)
	matches, globErr := filepath.Glob(filepath.Join(a.OutDir, "input", "sensor_reading", "*", "*", "*", "*", "*"))
	require.NoError(t, globErr)
	assert.NotEmpty(t, matches)
}

func TestRunRetriesHourStrandedByFailedUpload(t *testing.T) {
	t.Parallel()

	store := &fakeStore{readings: []database.RawReading{
		agedReading(10),
		agedReading(11),
	}}

	// First pass at 14:10: the upload dies, so nothing may be pruned.
	failing := newArchiver(t, store, &fakeUploader{err: assert.AnError}, "plant-archive")
	require.Error(t, failing.Run(context.Background()))
	assert.Empty(t, store.deleted)

	// Next pass an hour later: the stranded rows are still past retention,
	// so they are re-selected, shipped, and pruned this time.
	working := &fakeUploader{}
	retry := newArchiver(t, store, working, "plant-archive")
	retry.Now = func() time.Time { return time.Date(2023, 6, 14, 15, 10, 54, 0, time.UTC) }

	require.NoError(t, retry.Run(context.Background()))
	require.Len(t, store.deleted, 1)
	assert.ElementsMatch(t, []int64{10, 11}, store.deleted[0])
	assert.NotEmpty(t, working.keys)
}

func TestRunPartitionsBacklogByHour(t *testing.T) {
	t.Parallel()

	early := database.RawReading{
		ID: 20, PlantID: 1, Temperature: 20.0, SoilMoisture: 42.0,
		TakenAt: time.Date(2023, 6, 13, 12, 15, 0, 0, time.UTC).Unix(),
	}
	store := &fakeStore{readings: []database.RawReading{early, agedReading(21)}}
	a := newArchiver(t, store, &fakeUploader{}, "plant-archive")

	require.NoError(t, a.Run(context.Background()))

	// Each row lands in the partition of its own hour, not the run's.
	for _, hour := range []string{"hour=12", "hour=13"} {
		matches, err := filepath.Glob(filepath.Join(a.OutDir,
			"input", "sensor_reading", "year=2023", "month=06", "day=13", hour, "readings-*.csv"))
		require.NoError(t, err)
		assert.Len(t, matches, 1, hour)
	}

	require.Len(t, store.deleted, 1)
	assert.ElementsMatch(t, []int64{20, 21}, store.deleted[0])
}

func TestRunLocalOnlySkipsUpload(t *testing.T) {
	t.Parallel()

	store := &fakeStore{readings: []database.RawReading{agedReading(10)}}
	a := newArchiver(t, store, nil, "")

	require.NoError(t, a.Run(context.Background()))
	require.Len(t, store.deleted, 1, "local-only runs still prune after export")
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, writeCSV(path, []string{"a", "b"}, [][]string{{"1", "x"}, {"2", ""}}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}, {"1", "x"}, {"2", ""}}, rows)
}
