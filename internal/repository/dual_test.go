package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/tickerlens/internal/models"
	"github.com/quantfold/tickerlens/internal/repository"
)

func TestDualMirrorsWritesToSecondary(t *testing.T) {
	primary := repository.NewBadgerRepository(newBadgerDB(t), testLogger)
	secondary := repository.NewSqliteRepository(newSqliteDB(t), testLogger)
	dual := repository.NewDualRepository(primary, secondary, testLogger)
	ctx := context.Background()

	rec := testRecord("job-1", models.JobStatusRunning, time.Now())
	require.NoError(t, dual.Save(ctx, rec))

	fromPrimary, err := primary.GetByID(ctx, "job-1")
	require.NoError(t, err)
	requireSameRecord(t, rec, fromPrimary)

	fromSecondary, err := secondary.GetByID(ctx, "job-1")
	require.NoError(t, err)
	requireSameRecord(t, rec, fromSecondary)

	require.NoError(t, dual.Delete(ctx, "job-1"))
	_, err = primary.GetByID(ctx, "job-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = secondary.GetByID(ctx, "job-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestDualReadsServePrimaryOnly(t *testing.T) {
	primary := repository.NewBadgerRepository(newBadgerDB(t), testLogger)
	secondary := repository.NewSqliteRepository(newSqliteDB(t), testLogger)
	dual := repository.NewDualRepository(primary, secondary, testLogger)
	ctx := context.Background()

	// Present only in the secondary: reads must not find it.
	require.NoError(t, secondary.Save(ctx, testRecord("shadow", models.JobStatusPending, time.Now())))

	_, err := dual.GetByID(ctx, "shadow")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	all, err := dual.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

// brokenRepository fails every call. Stands in for a wedged secondary.
type brokenRepository struct{}

var errBroken = errors.New("store unavailable")

func (brokenRepository) Save(context.Context, models.AnalysisJobRecord) error { return errBroken }
func (brokenRepository) GetByID(context.Context, string) (models.AnalysisJobRecord, error) {
	return models.AnalysisJobRecord{}, errBroken
}
func (brokenRepository) GetAll(context.Context) ([]models.AnalysisJobRecord, error) {
	return nil, errBroken
}
func (brokenRepository) GetByStatus(context.Context, ...models.JobStatus) ([]models.AnalysisJobRecord, error) {
	return nil, errBroken
}
func (brokenRepository) Delete(context.Context, string) error { return errBroken }
func (brokenRepository) Clear(context.Context) error          { return errBroken }

// A failing mirror never fails the caller; the primary stays authoritative.
func TestDualToleratesSecondaryFailure(t *testing.T) {
	primary := repository.NewBadgerRepository(newBadgerDB(t), testLogger)
	dual := repository.NewDualRepository(primary, brokenRepository{}, testLogger)
	ctx := context.Background()

	rec := testRecord("job-1", models.JobStatusPending, time.Now())
	require.NoError(t, dual.Save(ctx, rec))
	require.NoError(t, dual.Delete(ctx, "job-1"))
	require.NoError(t, dual.Clear(ctx))
}

func TestDualPrimaryFailureIsReturned(t *testing.T) {
	secondary := repository.NewSqliteRepository(newSqliteDB(t), testLogger)
	dual := repository.NewDualRepository(brokenRepository{}, secondary, testLogger)

	err := dual.Save(context.Background(), testRecord("job-1", models.JobStatusPending, time.Now()))
	assert.ErrorIs(t, err, errBroken)

	// Nothing reached the secondary.
	all, listErr := secondary.GetAll(context.Background())
	require.NoError(t, listErr)
	assert.Empty(t, all)
}
