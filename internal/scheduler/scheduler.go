// Package scheduler polls the remote service for in-flight jobs while the
// client is foregrounded, backing off the longer a job stays non-terminal.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/quantfold/tickerlens/internal/events"
	"github.com/quantfold/tickerlens/internal/lifecycle"
	"github.com/quantfold/tickerlens/internal/models"
	"github.com/quantfold/tickerlens/internal/remote"
	"github.com/quantfold/tickerlens/internal/repository"
)

const timedOutMessage = "timed out — stopped polling"

// BackoffStage maps a poll-count threshold to the interval used from that
// count on.
type BackoffStage struct {
	FromPoll int
	Interval time.Duration
}

// BackoffTable is ordered by FromPoll ascending. The interval for the next
// poll is looked up fresh every tick, so the cadence only ever lengthens
// for a continuously running job.
type BackoffTable []BackoffStage

func DefaultBackoff() BackoffTable {
	return BackoffTable{
		{FromPoll: 0, Interval: 2 * time.Second},
		{FromPoll: 5, Interval: 5 * time.Second},
		{FromPoll: 15, Interval: 10 * time.Second},
		{FromPoll: 30, Interval: 30 * time.Second},
	}
}

func (t BackoffTable) IntervalFor(pollCount int) time.Duration {
	interval := t[0].Interval
	for _, stage := range t {
		if pollCount >= stage.FromPoll {
			interval = stage.Interval
		}
	}
	return interval
}

type Config struct {
	Backoff                BackoffTable
	JobTimeout             time.Duration
	MaxConsecutiveFailures int
}

// pollingHandle is runtime-only state, never persisted. Counters are
// retained across background transitions so a short backgrounding does not
// re-burst fast polls.
type pollingHandle struct {
	jobID    string
	timer    *time.Timer
	polls    int
	failures int
}

// Scheduler owns one cancellable timer per in-flight job. Timers run only
// while the lifecycle monitor reports foreground.
type Scheduler struct {
	factory *repository.Factory
	remote  remote.Client
	events  *events.Channel
	monitor *lifecycle.Monitor
	cfg     Config
	logger  zerolog.Logger

	mu      sync.Mutex
	handles map[string]*pollingHandle

	ctx    context.Context
	cancel context.CancelFunc
}

func New(factory *repository.Factory, client remote.Client, ch *events.Channel, monitor *lifecycle.Monitor, cfg Config, logger zerolog.Logger) *Scheduler {
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = time.Hour
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 10
	}
	return &Scheduler{
		factory: factory,
		remote:  client,
		events:  ch,
		monitor: monitor,
		cfg:     cfg,
		logger:  logger.With().Str("component", "polling_scheduler").Logger(),
		handles: make(map[string]*pollingHandle),
	}
}

// Start subscribes to lifecycle transitions and resumes polling for any
// non-terminal records already in the store (jobs surviving a restart).
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	transitions, unsubscribe := s.monitor.Subscribe()

	go func() {
		defer unsubscribe()
		for {
			select {
			case <-s.ctx.Done():
				return
			case state, ok := <-transitions:
				if !ok {
					return
				}
				switch state {
				case lifecycle.StateBackground:
					s.suspendAll()
				case lifecycle.StateForeground:
					s.resume()
				}
			}
		}
	}()

	if s.monitor.IsForeground() {
		s.resume()
	}
}

// Stop cancels every timer and the scheduler's context.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.suspendAll()
}

// Track registers a job for polling. Called once the remote service has
// accepted the submission.
func (s *Scheduler) Track(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[jobID]
	if !ok {
		h = &pollingHandle{jobID: jobID}
		s.handles[jobID] = h
	}
	if s.monitor.IsForeground() {
		s.scheduleLocked(h)
	}
}

// ActiveJobs lists the ids currently holding a polling handle.
func (s *Scheduler) ActiveJobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.handles))
	for id := range s.handles {
		ids = append(ids, id)
	}
	return ids
}

// suspendAll cancels every timer without touching the counters. No poll
// fires after the background transition is observed.
func (s *Scheduler) suspendAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.handles {
		s.stopTimerLocked(h)
	}
	s.logger.Debug().Int("suspended", len(s.handles)).Msg("polling suspended")
}

// resume re-reads the store for non-terminal records and polls each once
// immediately, continuing from each handle's retained counter.
func (s *Scheduler) resume() {
	repo := s.factory.Repository()
	records, err := repo.GetByStatus(s.ctx,
		models.JobStatusPending, models.JobStatusAccepted, models.JobStatusRunning)
	if err != nil {
		s.logger.Error().Err(err).Msg("resume: failed to read non-terminal records")
		return
	}

	s.mu.Lock()
	for _, rec := range records {
		if _, ok := s.handles[rec.ID]; !ok {
			s.handles[rec.ID] = &pollingHandle{jobID: rec.ID}
		}
	}
	ids := make([]string, 0, len(s.handles))
	for id := range s.handles {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	s.logger.Debug().Int("jobs", len(ids)).Msg("polling resumed")
	for _, id := range ids {
		go s.poll(id)
	}
}

func (s *Scheduler) stopTimerLocked(h *pollingHandle) {
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}

func (s *Scheduler) scheduleLocked(h *pollingHandle) {
	s.stopTimerLocked(h)
	id := h.jobID
	h.timer = time.AfterFunc(s.cfg.Backoff.IntervalFor(h.polls), func() {
		s.poll(id)
	})
}

// reschedule arms the next tick if the job is still tracked and the client
// is still foregrounded.
func (s *Scheduler) reschedule(jobID string) {
	if !s.monitor.IsForeground() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.handles[jobID]; ok {
		s.scheduleLocked(h)
	}
}

func (s *Scheduler) discard(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.handles[jobID]; ok {
		s.stopTimerLocked(h)
		delete(s.handles, jobID)
	}
}

// poll performs one status check for jobID and either reschedules or
// retires the handle.
func (s *Scheduler) poll(jobID string) {
	if s.ctx == nil || s.ctx.Err() != nil || !s.monitor.IsForeground() {
		return
	}
	s.mu.Lock()
	_, tracked := s.handles[jobID]
	s.mu.Unlock()
	if !tracked {
		return
	}

	repo := s.factory.Repository()
	rec, err := repo.GetByID(s.ctx, jobID)
	if errors.Is(err, repository.ErrNotFound) {
		s.discard(jobID)
		return
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("poll: store read failed")
		s.reschedule(jobID)
		return
	}
	if rec.Status.IsTerminal() {
		s.discard(jobID)
		return
	}

	// Safety net for zombie jobs: never poll past the timeout window.
	if time.Since(rec.CreatedAt) > s.cfg.JobTimeout {
		s.forceError(repo, jobID, timedOutMessage)
		s.discard(jobID)
		return
	}

	if rec.RemoteRunID == nil {
		// Submission has not produced a run id yet; check again next tick.
		s.reschedule(jobID)
		return
	}

	status, err := s.remote.GetStatus(s.ctx, *rec.RemoteRunID)

	s.mu.Lock()
	h, ok := s.handles[jobID]
	if !ok {
		s.mu.Unlock()
		return
	}
	h.polls++
	if err != nil {
		h.failures++
	} else {
		h.failures = 0
	}
	failures := h.failures
	s.mu.Unlock()

	if err != nil {
		if failures >= s.cfg.MaxConsecutiveFailures {
			s.logger.Error().Err(err).Str("job_id", jobID).Int("failures", failures).
				Msg("poll: consecutive failures exceeded threshold")
			s.forceError(repo, jobID, "status check failed repeatedly — stopped polling")
			s.discard(jobID)
			return
		}
		// Transient failure: swallowed, retried on the next tick.
		s.logger.Debug().Err(err).Str("job_id", jobID).Int("failures", failures).Msg("poll: status check failed")
		s.reschedule(jobID)
		return
	}

	newStatus, known := remote.MapStatus(status.Status)
	if !known {
		s.logger.Warn().Str("job_id", jobID).Str("remote_status", status.Status).Msg("poll: unknown remote status")
		s.reschedule(jobID)
		return
	}

	// Re-read before writing: a user-initiated delete or another path may
	// have finished the job while the request was in flight.
	current, err := repo.GetByID(s.ctx, jobID)
	if errors.Is(err, repository.ErrNotFound) {
		s.discard(jobID)
		return
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("poll: re-read failed")
		s.reschedule(jobID)
		return
	}
	if current.Status.IsTerminal() {
		s.discard(jobID)
		return
	}

	if newStatus != current.Status && current.Status.CanTransitionTo(newStatus) {
		previous := current.Status
		switch newStatus {
		case models.JobStatusSuccess:
			payload := ""
			if status.Result != nil {
				payload = *status.Result
			}
			current.MarkSuccess(payload)
		case models.JobStatusError:
			message := "analysis failed"
			if status.Error != nil {
				message = *status.Error
			}
			current.MarkError(message)
		case models.JobStatusRunning:
			current.MarkRunning()
		default:
			current.Status = newStatus
			current.UpdatedAt = time.Now().UTC()
		}
		if err := repo.Save(s.ctx, current); err != nil {
			s.logger.Error().Err(err).Str("job_id", jobID).Msg("poll: failed to persist status change")
			s.reschedule(jobID)
			return
		}
		s.events.PublishTransition(jobID, previous, current.Status)
		s.logger.Info().Str("job_id", jobID).
			Str("from", string(previous)).Str("to", string(current.Status)).
			Msg("job status changed")
	}

	if newStatus.IsTerminal() {
		s.discard(jobID)
		return
	}
	s.reschedule(jobID)
}

// forceError transitions a job to error, guarding against races with
// deletion or another terminal write.
func (s *Scheduler) forceError(repo repository.JobRepository, jobID, message string) {
	current, err := repo.GetByID(s.ctx, jobID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("force error: read failed")
		}
		return
	}
	if current.Status.IsTerminal() {
		return
	}
	previous := current.Status
	current.MarkError(message)
	if err := repo.Save(s.ctx, current); err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("force error: save failed")
		return
	}
	s.events.PublishTransition(jobID, previous, models.JobStatusError)
	s.logger.Warn().Str("job_id", jobID).Str("reason", message).Msg("job forcibly failed")
}
