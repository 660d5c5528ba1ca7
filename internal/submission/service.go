// Package submission creates job records locally before any network call,
// so a listing screen sees the job immediately even when the service is
// unreachable.
package submission

import (
	"context"
	"net/url"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/quantfold/tickerlens/internal/events"
	"github.com/quantfold/tickerlens/internal/models"
	"github.com/quantfold/tickerlens/internal/remote"
	"github.com/quantfold/tickerlens/internal/repository"
	"github.com/quantfold/tickerlens/internal/scheduler"
	"github.com/quantfold/tickerlens/internal/state"
)

// Service submits analysis requests. While the migration engine holds its
// guard, submissions queue in memory and flush once the guard clears.
type Service struct {
	factory *repository.Factory
	remote  remote.Client
	events  *events.Channel
	sched   *scheduler.Scheduler
	state   *state.Store
	logger  zerolog.Logger

	mu     sync.Mutex
	queued []models.AnalysisJobRecord
}

func NewService(factory *repository.Factory, client remote.Client, ch *events.Channel, sched *scheduler.Scheduler, st *state.Store, logger zerolog.Logger) *Service {
	return &Service{
		factory: factory,
		remote:  client,
		events:  ch,
		sched:   sched,
		state:   st,
		logger:  logger.With().Str("component", "submission_service").Logger(),
	}
}

// Submit creates the pending record, then calls the remote service and
// updates the record with the outcome. The returned record reflects the
// state at return time.
func (s *Service) Submit(ctx context.Context, ticker, date string) (models.AnalysisJobRecord, error) {
	return s.enqueueOrSubmit(ctx, models.NewAnalysisJobRecord(ticker, date))
}

// enqueueOrSubmit queues the record while the migration guard is held; the
// store is not written until the guard clears.
func (s *Service) enqueueOrSubmit(ctx context.Context, rec models.AnalysisJobRecord) (models.AnalysisJobRecord, error) {
	if s.migrationGuardHeld() {
		s.mu.Lock()
		s.queued = append(s.queued, rec)
		s.mu.Unlock()
		s.logger.Info().Str("job_id", rec.ID).Msg("migration in progress, submission queued")
		return rec, nil
	}

	return s.submit(ctx, rec)
}

func (s *Service) submit(ctx context.Context, rec models.AnalysisJobRecord) (models.AnalysisJobRecord, error) {
	repo := s.factory.Repository()

	// Local-first: the record must be durable before the network call.
	if err := repo.Save(ctx, rec); err != nil {
		return rec, errors.Wrap(err, "persist pending record")
	}
	s.events.PublishTransition(rec.ID, "", models.JobStatusPending)

	resp, err := s.remote.Submit(ctx, rec.Ticker, rec.ParameterDate)
	if err != nil {
		previous := rec.Status
		rec.MarkError(submitErrorMessage(err))
		if saveErr := repo.Save(ctx, rec); saveErr != nil {
			s.logger.Error().Err(saveErr).Str("job_id", rec.ID).Msg("failed to persist submission failure")
			return rec, saveErr
		}
		s.events.PublishTransition(rec.ID, previous, models.JobStatusError)
		s.logger.Warn().Err(err).Str("job_id", rec.ID).Str("ticker", rec.Ticker).Msg("submission failed")
		return rec, nil
	}

	previous := rec.Status
	rec.MarkAccepted(resp.RunID, resp.ThreadID)
	if err := repo.Save(ctx, rec); err != nil {
		return rec, errors.Wrap(err, "persist accepted record")
	}
	s.events.PublishTransition(rec.ID, previous, models.JobStatusAccepted)
	s.sched.Track(rec.ID)
	s.logger.Info().Str("job_id", rec.ID).Str("run_id", resp.RunID).Str("ticker", rec.Ticker).Msg("submission accepted")
	return rec, nil
}

// Resubmit is the user-initiated retry: a fresh id with the same request
// parameters and an incremented attempt count. Terminal jobs are never
// retried automatically. The new record goes through the same queued-or-
// submitted path as a first submission.
func (s *Service) Resubmit(ctx context.Context, id string) (models.AnalysisJobRecord, error) {
	old, err := s.factory.Repository().GetByID(ctx, id)
	if err != nil {
		return models.AnalysisJobRecord{}, err
	}
	rec := models.NewAnalysisJobRecord(old.Ticker, old.ParameterDate)
	rec.RetryCount = old.RetryCount + 1
	return s.enqueueOrSubmit(ctx, rec)
}

// Flush drains the queue built up while the migration guard was held.
// Registered as the engine's completion hook.
func (s *Service) Flush(ctx context.Context) {
	s.mu.Lock()
	queued := s.queued
	s.queued = nil
	s.mu.Unlock()
	if len(queued) == 0 {
		return
	}
	s.logger.Info().Int("jobs", len(queued)).Msg("flushing queued submissions")
	for _, rec := range queued {
		if _, err := s.submit(ctx, rec); err != nil {
			s.logger.Error().Err(err).Str("job_id", rec.ID).Msg("failed to flush queued submission")
		}
	}
}

// QueuedCount reports how many submissions await the guard's release.
func (s *Service) QueuedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queued)
}

func (s *Service) ListAll(ctx context.Context) ([]models.AnalysisJobRecord, error) {
	return s.factory.Repository().GetAll(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (models.AnalysisJobRecord, error) {
	return s.factory.Repository().GetByID(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.factory.Repository().Delete(ctx, id)
}

func (s *Service) migrationGuardHeld() bool {
	st, err := s.state.MigrationState()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read migration state, assuming no guard")
		return false
	}
	return st.Status == models.MigrationInProgress
}

// submitErrorMessage folds transport-level failures into the two messages
// surfaced to users; remote rejections carry the service's own text.
func submitErrorMessage(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return "submission timed out"
		}
		return "network unreachable"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "submission timed out"
	}
	return err.Error()
}
