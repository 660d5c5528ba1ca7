package repository_test

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/tickerlens/internal/migration"
	"github.com/quantfold/tickerlens/internal/models"
	"github.com/quantfold/tickerlens/internal/repository"
)

func newBadgerDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := repository.OpenBadger(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newSqliteDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := repository.OpenSqlite(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	require.NoError(t, migration.RunSchemaMigrations(db))
	t.Cleanup(func() { db.Close() })
	return db
}

// testRecord builds a fully populated record. Timestamps are truncated to
// millisecond precision, the resolution shared by both stores.
func testRecord(id string, status models.JobStatus, createdAt time.Time) models.AnalysisJobRecord {
	createdAt = createdAt.UTC().Truncate(time.Millisecond)
	runID := "run-" + id
	threadID := "thread-" + id
	rec := models.AnalysisJobRecord{
		ID:             id,
		RemoteRunID:    &runID,
		RemoteThreadID: &threadID,
		Ticker:         "AAPL",
		ParameterDate:  "2024-01-15",
		Status:         status,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt.Add(time.Second),
		RetryCount:     1,
	}
	if status.IsTerminal() {
		completed := createdAt.Add(2 * time.Second)
		rec.CompletedAt = &completed
		if status == models.JobStatusSuccess {
			payload := `{"score":0.92}`
			rec.ResultPayload = &payload
		} else {
			msg := "analysis failed"
			rec.ErrorMessage = &msg
		}
	}
	return rec
}

func requireSameRecord(t *testing.T, want, got models.AnalysisJobRecord) {
	t.Helper()
	require.Truef(t, repository.RecordsEqual(want, got), "records differ:\nwant %+v\ngot  %+v", want, got)
}

var testLogger = zerolog.Nop()
