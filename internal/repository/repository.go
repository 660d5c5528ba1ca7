package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/quantfold/tickerlens/internal/models"
)

// ErrNotFound is returned when no record exists for the requested id.
var ErrNotFound = errors.New("job record not found")

// StorageError wraps an underlying store I/O failure. Callers must not
// assume a partial write succeeded when they receive one.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// JobRepository is the uniform contract over the legacy key-value store and
// the relational store. Save is a full-record upsert keyed by id; callers
// read-then-merge if they need partial updates.
type JobRepository interface {
	Save(ctx context.Context, rec models.AnalysisJobRecord) error
	GetByID(ctx context.Context, id string) (models.AnalysisJobRecord, error)
	GetAll(ctx context.Context) ([]models.AnalysisJobRecord, error)
	GetByStatus(ctx context.Context, statuses ...models.JobStatus) ([]models.AnalysisJobRecord, error)
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}
