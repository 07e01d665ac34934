package database

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTuneEmbeddedConnectionSQLite(t *testing.T) {
	t.Parallel()
	conn, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectQuery("PRAGMA journal_mode=WAL;").
		WillReturnRows(sqlmock.NewRows([]string{"journal_mode"}).AddRow("wal"))
	mock.ExpectExec("PRAGMA synchronous=NORMAL;").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("PRAGMA busy_timeout=5000;").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = tuneEmbeddedConnection(context.Background(), conn, "sqlite", t.Logf)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTuneEmbeddedConnectionUnknownDriverIsNoop(t *testing.T) {
	t.Parallel()
	conn, _, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, tuneEmbeddedConnection(context.Background(), conn, "pgx", t.Logf))
}

// A failed pragma must surface the error and wind down both pipeline
// goroutines; the producer may not stay parked on the jobs channel.
func TestTuneEmbeddedConnectionErrorLeavesNoGoroutine(t *testing.T) {
	conn, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectQuery("PRAGMA journal_mode=WAL;").WillReturnError(assert.AnError)

	before := runtime.NumGoroutine()
	err = tuneEmbeddedConnection(context.Background(), conn, "sqlite", t.Logf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "journal_mode")

	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, 2*time.Second, 10*time.Millisecond, "tuning goroutines should exit after the error")
}
