package submission_test

import (
	"context"
	"net/url"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/tickerlens/internal/events"
	"github.com/quantfold/tickerlens/internal/lifecycle"
	"github.com/quantfold/tickerlens/internal/models"
	"github.com/quantfold/tickerlens/internal/remote"
	"github.com/quantfold/tickerlens/internal/repository"
	"github.com/quantfold/tickerlens/internal/scheduler"
	"github.com/quantfold/tickerlens/internal/state"
	"github.com/quantfold/tickerlens/internal/submission"
)

// fakeRemote answers submissions with a canned response or error.
type fakeRemote struct {
	mu      sync.Mutex
	resp    remote.SubmitResponse
	err     error
	submits int
}

func (f *fakeRemote) Submit(ctx context.Context, ticker, date string) (remote.SubmitResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	return f.resp, f.err
}

func (f *fakeRemote) GetStatus(ctx context.Context, runID string) (remote.StatusResponse, error) {
	return remote.StatusResponse{Status: "running"}, nil
}

type timeoutError struct{}

func (timeoutError) Error() string { return "i/o timeout" }
func (timeoutError) Timeout() bool { return true }

type serviceFixture struct {
	repo    *repository.BadgerRepository
	remote  *fakeRemote
	events  *events.Channel
	sched   *scheduler.Scheduler
	state   *state.Store
	service *submission.Service
}

func newServiceFixture(t *testing.T, fake *fakeRemote) *serviceFixture {
	t.Helper()
	logger := zerolog.Nop()

	db, err := repository.OpenBadger(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st := state.NewStore(db, logger)
	repo := repository.NewBadgerRepository(db, logger)
	factory := repository.NewFactory(repo, nil, st, "install-1", logger)

	ch := events.NewChannel(64, logger)
	t.Cleanup(ch.Close)
	monitor := lifecycle.NewMonitor(logger)
	sched := scheduler.New(factory, fake, ch, monitor, scheduler.Config{}, logger)

	return &serviceFixture{
		repo:    repo,
		remote:  fake,
		events:  ch,
		sched:   sched,
		state:   st,
		service: submission.NewService(factory, fake, ch, sched, st, logger),
	}
}

// The record is durable and listed even when the service is unreachable,
// with the transport failure folded into a fixed user-facing message.
func TestSubmitPersistsRecordWhenNetworkFails(t *testing.T) {
	fake := &fakeRemote{err: &url.Error{
		Op:  "Post",
		URL: "http://localhost:9090/api/analysis",
		Err: errors.New("dial tcp 127.0.0.1:9090: connect: connection refused"),
	}}
	fx := newServiceFixture(t, fake)

	sub, cancel := fx.events.Subscribe()
	defer cancel()

	rec, err := fx.service.Submit(context.Background(), "AAPL", "2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusError, rec.Status)
	require.NotNil(t, rec.ErrorMessage)
	assert.Equal(t, "network unreachable", *rec.ErrorMessage)

	stored, err := fx.repo.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusError, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, "network unreachable", *stored.ErrorMessage)

	// The pending write happened before the network call.
	first := <-sub
	assert.Equal(t, models.JobStatusPending, first.NewStatus)
	second := <-sub
	assert.Equal(t, models.JobStatusPending, second.PreviousStatus)
	assert.Equal(t, models.JobStatusError, second.NewStatus)
}

func TestSubmitTimeoutMessage(t *testing.T) {
	fake := &fakeRemote{err: &url.Error{
		Op:  "Post",
		URL: "http://localhost:9090/api/analysis",
		Err: timeoutError{},
	}}
	fx := newServiceFixture(t, fake)

	rec, err := fx.service.Submit(context.Background(), "AAPL", "2024-01-15")
	require.NoError(t, err)
	require.NotNil(t, rec.ErrorMessage)
	assert.Equal(t, "submission timed out", *rec.ErrorMessage)
}

// A rejection from the service itself keeps the service's wording.
func TestSubmitRejectionKeepsRemoteMessage(t *testing.T) {
	fake := &fakeRemote{err: errors.New("ticker not covered by any model")}
	fx := newServiceFixture(t, fake)

	rec, err := fx.service.Submit(context.Background(), "ZZZZ", "2024-01-15")
	require.NoError(t, err)
	require.NotNil(t, rec.ErrorMessage)
	assert.Equal(t, "ticker not covered by any model", *rec.ErrorMessage)
}

func TestSubmitAcceptedStartsPolling(t *testing.T) {
	fake := &fakeRemote{resp: remote.SubmitResponse{RunID: "run-7", ThreadID: "thread-7"}}
	fx := newServiceFixture(t, fake)

	rec, err := fx.service.Submit(context.Background(), "AAPL", "2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusAccepted, rec.Status)
	require.NotNil(t, rec.RemoteRunID)
	assert.Equal(t, "run-7", *rec.RemoteRunID)
	require.NotNil(t, rec.RemoteThreadID)
	assert.Equal(t, "thread-7", *rec.RemoteThreadID)

	assert.Contains(t, fx.sched.ActiveJobs(), rec.ID)
}

// While the migration engine holds its guard, submissions wait in memory
// and reach the store only on flush.
func TestSubmitQueuesWhileMigrationRuns(t *testing.T) {
	fake := &fakeRemote{resp: remote.SubmitResponse{RunID: "run-9", ThreadID: "thread-9"}}
	fx := newServiceFixture(t, fake)
	ctx := context.Background()

	require.NoError(t, fx.state.SaveMigrationState(models.MigrationState{Status: models.MigrationInProgress}))

	rec, err := fx.service.Submit(ctx, "AAPL", "2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, rec.Status)
	assert.Equal(t, 1, fx.service.QueuedCount())
	assert.Zero(t, fake.submits)

	_, err = fx.repo.GetByID(ctx, rec.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, fx.state.ResetMigrationState())
	fx.service.Flush(ctx)

	assert.Zero(t, fx.service.QueuedCount())
	stored, err := fx.repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusAccepted, stored.Status)
}

func TestResubmitCreatesFreshAttempt(t *testing.T) {
	fake := &fakeRemote{resp: remote.SubmitResponse{RunID: "run-1", ThreadID: "thread-1"}}
	fx := newServiceFixture(t, fake)
	ctx := context.Background()

	failed := models.NewAnalysisJobRecord("AAPL", "2024-01-15")
	failed.MarkError("network unreachable")
	failed.RetryCount = 1
	require.NoError(t, fx.repo.Save(ctx, failed))

	rec, err := fx.service.Resubmit(ctx, failed.ID)
	require.NoError(t, err)
	assert.NotEqual(t, failed.ID, rec.ID)
	assert.Equal(t, "AAPL", rec.Ticker)
	assert.Equal(t, "2024-01-15", rec.ParameterDate)
	assert.Equal(t, 2, rec.RetryCount)
	assert.Equal(t, models.JobStatusAccepted, rec.Status)

	// The original record is untouched.
	old, err := fx.repo.GetByID(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusError, old.Status)
}

// Resubmission honors the migration guard like a first submission: nothing
// reaches the store until the flush, and the attempt count survives it.
func TestResubmitQueuesWhileMigrationRuns(t *testing.T) {
	fake := &fakeRemote{resp: remote.SubmitResponse{RunID: "run-3", ThreadID: "thread-3"}}
	fx := newServiceFixture(t, fake)
	ctx := context.Background()

	failed := models.NewAnalysisJobRecord("AAPL", "2024-01-15")
	failed.MarkError("network unreachable")
	failed.RetryCount = 1
	require.NoError(t, fx.repo.Save(ctx, failed))

	require.NoError(t, fx.state.SaveMigrationState(models.MigrationState{Status: models.MigrationInProgress}))

	rec, err := fx.service.Resubmit(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, rec.Status)
	assert.Equal(t, 2, rec.RetryCount)
	assert.Equal(t, 1, fx.service.QueuedCount())
	assert.Zero(t, fake.submits)

	// Only the original failed record is in the store while the guard is up.
	_, err = fx.repo.GetByID(ctx, rec.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, fx.state.ResetMigrationState())
	fx.service.Flush(ctx)

	assert.Zero(t, fx.service.QueuedCount())
	stored, err := fx.repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusAccepted, stored.Status)
	assert.Equal(t, 2, stored.RetryCount)
}

func TestResubmitUnknownJob(t *testing.T) {
	fake := &fakeRemote{}
	fx := newServiceFixture(t, fake)

	_, err := fx.service.Resubmit(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
