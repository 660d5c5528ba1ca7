package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/quantfold/tickerlens/internal/models"
)

// Query constants
const (
	jobUpsertQuery = `
		INSERT INTO job_records (id, remote_run_id, thread_id, ticker, trade_date, status, created_at, updated_at, completed_at, result_payload, error_message, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			remote_run_id  = excluded.remote_run_id,
			thread_id      = excluded.thread_id,
			ticker         = excluded.ticker,
			trade_date     = excluded.trade_date,
			status         = excluded.status,
			created_at     = excluded.created_at,
			updated_at     = excluded.updated_at,
			completed_at   = excluded.completed_at,
			result_payload = excluded.result_payload,
			error_message  = excluded.error_message,
			retry_count    = excluded.retry_count`

	jobSelectColumns = `id, remote_run_id, thread_id, ticker, trade_date, status, created_at, updated_at, completed_at, result_payload, error_message, retry_count`
)

// SqliteRepository is the relational implementation over the embedded
// job_records table created by the goose migrations.
type SqliteRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewSqliteRepository(db *sql.DB, logger zerolog.Logger) *SqliteRepository {
	return &SqliteRepository{
		db:     db,
		logger: logger.With().Str("component", "sqlite_repository").Logger(),
	}
}

// OpenSqlite opens the relational store at path with the busy timeout the
// embedded engine needs under concurrent access.
func OpenSqlite(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (r *SqliteRepository) Save(ctx context.Context, rec models.AnalysisJobRecord) error {
	_, err := r.db.ExecContext(ctx, jobUpsertQuery,
		rec.ID,
		rec.RemoteRunID,
		rec.RemoteThreadID,
		rec.Ticker,
		rec.ParameterDate,
		string(rec.Status),
		rec.CreatedAt,
		rec.UpdatedAt,
		rec.CompletedAt,
		rec.ResultPayload,
		rec.ErrorMessage,
		rec.RetryCount,
	)
	if err != nil {
		return storageErr("save", err)
	}
	return nil
}

func (r *SqliteRepository) GetByID(ctx context.Context, id string) (models.AnalysisJobRecord, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM job_records WHERE id = ?`
	rec, err := scanJobRecord(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return models.AnalysisJobRecord{}, ErrNotFound
	}
	if err != nil {
		return models.AnalysisJobRecord{}, storageErr("get", err)
	}
	return rec, nil
}

func (r *SqliteRepository) GetAll(ctx context.Context) ([]models.AnalysisJobRecord, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM job_records ORDER BY created_at DESC, id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storageErr("get_all", err)
	}
	defer rows.Close()
	return collectJobRecords(rows, "get_all")
}

func (r *SqliteRepository) GetByStatus(ctx context.Context, statuses ...models.JobStatus) ([]models.AnalysisJobRecord, error) {
	if len(statuses) == 0 {
		return []models.AnalysisJobRecord{}, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, s := range statuses {
		placeholders[i] = "?"
		args[i] = string(s)
	}
	query := `SELECT ` + jobSelectColumns + ` FROM job_records WHERE status IN (` +
		strings.Join(placeholders, ", ") + `) ORDER BY created_at DESC, id`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("get_by_status", err)
	}
	defer rows.Close()
	return collectJobRecords(rows, "get_by_status")
}

func (r *SqliteRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM job_records WHERE id = ?`, id); err != nil {
		return storageErr("delete", err)
	}
	return nil
}

func (r *SqliteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM job_records`); err != nil {
		return storageErr("clear", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJobRecord(row rowScanner) (models.AnalysisJobRecord, error) {
	var (
		rec          models.AnalysisJobRecord
		status       string
		runID        sql.NullString
		threadID     sql.NullString
		completedAt  sql.NullTime
		result       sql.NullString
		errorMessage sql.NullString
	)
	err := row.Scan(
		&rec.ID,
		&runID,
		&threadID,
		&rec.Ticker,
		&rec.ParameterDate,
		&status,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&completedAt,
		&result,
		&errorMessage,
		&rec.RetryCount,
	)
	if err != nil {
		return rec, err
	}
	rec.Status = models.JobStatus(status)
	if runID.Valid {
		rec.RemoteRunID = &runID.String
	}
	if threadID.Valid {
		rec.RemoteThreadID = &threadID.String
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		rec.CompletedAt = &t
	}
	if result.Valid {
		rec.ResultPayload = &result.String
	}
	if errorMessage.Valid {
		rec.ErrorMessage = &errorMessage.String
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

func collectJobRecords(rows *sql.Rows, op string) ([]models.AnalysisJobRecord, error) {
	records := []models.AnalysisJobRecord{}
	for rows.Next() {
		rec, err := scanJobRecord(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return records, nil
}
