package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/quantfold/tickerlens/internal/models"
	"github.com/quantfold/tickerlens/internal/repository"
	"github.com/quantfold/tickerlens/internal/state"
)

var (
	// ErrMigrationInProgress is returned when Run is called while a
	// migration is already holding the guard.
	ErrMigrationInProgress = errors.New("migration already in progress")

	// ErrNotCutOver is returned when Rollback is called before cutover.
	ErrNotCutOver = errors.New("migration has not cut over")

	// ErrValidationFailed is returned when the validate phase rejects the
	// migrated data; the legacy store stays authoritative.
	ErrValidationFailed = errors.New("migration validation failed")
)

type Config struct {
	BackupDir  string
	SampleSize int
}

// Report summarises one migration run. It is never silently swallowed: the
// admin surface always exposes the latest report.
type Report struct {
	Passed          bool      `json:"passed"`
	Processed       int       `json:"processed"`
	Failed          int       `json:"failed"`
	LegacyCount     int       `json:"legacy_count"`
	RelationalCount int       `json:"relational_count"`
	Errors          []string  `json:"errors,omitempty"`
	BackupPath      string    `json:"backup_path,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
}

type Statistics struct {
	State           models.MigrationState `json:"state"`
	LegacyCount     int                   `json:"legacy_count"`
	RelationalCount int                   `json:"relational_count"`
	LastReport      *Report               `json:"last_report,omitempty"`
}

// Engine moves every record from the legacy key-value store into the
// relational store. Each phase is idempotent, so a failed run is retried
// from the beginning. While a run holds the guard, new submissions queue in
// memory and flush once the guard clears.
type Engine struct {
	legacy     repository.JobRepository
	relational repository.JobRepository
	state      *state.Store
	cfg        Config
	logger     zerolog.Logger

	mu         sync.Mutex
	running    bool
	lastReport *Report
	onComplete []func()
}

func NewEngine(legacy, relational repository.JobRepository, st *state.Store, cfg Config, logger zerolog.Logger) *Engine {
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 10
	}
	return &Engine{
		legacy:     legacy,
		relational: relational,
		state:      st,
		cfg:        cfg,
		logger:     logger.With().Str("component", "migration_engine").Logger(),
	}
}

// OnComplete registers a hook fired after every run once the guard has been
// released, regardless of outcome.
func (e *Engine) OnComplete(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onComplete = append(e.onComplete, fn)
}

// Run drives backup, transform, write, validate and cutover in order.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return Report{}, ErrMigrationInProgress
	}
	e.running = true
	e.mu.Unlock()

	report := Report{StartedAt: time.Now().UTC()}

	if err := e.acquireGuard(); err != nil {
		e.finish(&report, false)
		return report, err
	}

	err := e.runPhases(ctx, &report)
	report.FinishedAt = time.Now().UTC()

	if err != nil {
		report.Passed = false
		if stateErr := e.setStatus(models.MigrationFailed, false); stateErr != nil {
			e.logger.Error().Err(stateErr).Msg("failed to record migration failure")
		}
		e.logger.Error().Err(err).
			Int("processed", report.Processed).
			Int("failed", report.Failed).
			Msg("migration failed, legacy store remains authoritative")
		e.finish(&report, true)
		return report, err
	}

	if stateErr := e.setStatus(models.MigrationCompleted, true); stateErr != nil {
		e.finish(&report, true)
		return report, stateErr
	}
	e.logger.Info().
		Int("processed", report.Processed).
		Str("backup", report.BackupPath).
		Msg("migration completed, cutover recorded")
	e.finish(&report, true)
	return report, nil
}

func (e *Engine) runPhases(ctx context.Context, report *Report) error {
	backupPath, err := e.Backup(ctx)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		return errors.Wrap(err, "backup phase")
	}
	report.BackupPath = backupPath

	records, err := e.Transform(ctx, report)
	if err != nil {
		return errors.Wrap(err, "transform phase")
	}

	if err := e.Write(ctx, records, report); err != nil {
		return errors.Wrap(err, "write phase")
	}

	validation, err := e.Validate(ctx)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		return errors.Wrap(err, "validate phase")
	}
	report.LegacyCount = validation.LegacyCount
	report.RelationalCount = validation.RelationalCount
	report.Errors = append(report.Errors, validation.Errors...)
	if !validation.Passed {
		return ErrValidationFailed
	}
	report.Passed = true
	return nil
}

// Backup exports the full legacy store to a recoverable JSON snapshot
// before anything is written to the relational store.
func (e *Engine) Backup(ctx context.Context) (string, error) {
	records, err := e.legacy.GetAll(ctx)
	if err != nil {
		return "", err
	}
	snapshot := make([]repository.LegacyJobRecord, 0, len(records))
	for _, rec := range records {
		snapshot = append(snapshot, repository.LegacyFromRecord(rec))
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "encode snapshot")
	}
	if err := os.MkdirAll(e.cfg.BackupDir, 0o755); err != nil {
		return "", errors.Wrap(err, "create backup dir")
	}
	path := filepath.Join(e.cfg.BackupDir, fmt.Sprintf("legacy-backup-%d.json", time.Now().Unix()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrap(err, "write snapshot")
	}
	e.logger.Info().Str("path", path).Int("records", len(snapshot)).Msg("legacy store backed up")
	return path, nil
}

// Transform reads every legacy record and checks it against the relational
// schema's expectations. The field mapping itself is the fixed table in
// repository.LegacyJobRecord, applied on decode; a record that fails the
// checks is counted and skipped rather than aborting the run.
func (e *Engine) Transform(ctx context.Context, report *Report) ([]models.AnalysisJobRecord, error) {
	records, err := e.legacy.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.AnalysisJobRecord, 0, len(records))
	for _, rec := range records {
		if rec.ID == "" || !rec.Status.Valid() {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("transform: invalid legacy record %q (status %q)", rec.ID, rec.Status))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Write upserts every transformed record into the relational store. Keyed
// by id, so re-running produces no duplicates.
func (e *Engine) Write(ctx context.Context, records []models.AnalysisJobRecord, report *Report) error {
	for _, rec := range records {
		if err := e.relational.Save(ctx, rec); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("write: %s: %v", rec.ID, err))
			return err
		}
		report.Processed++
	}
	return nil
}

// Validate compares record counts between the stores and spot-checks a
// sample field-by-field.
func (e *Engine) Validate(ctx context.Context) (Report, error) {
	var report Report
	legacyRecords, err := e.legacy.GetAll(ctx)
	if err != nil {
		return report, err
	}
	relationalRecords, err := e.relational.GetAll(ctx)
	if err != nil {
		return report, err
	}
	report.LegacyCount = len(legacyRecords)
	report.RelationalCount = len(relationalRecords)
	if report.RelationalCount < report.LegacyCount {
		report.Errors = append(report.Errors, fmt.Sprintf(
			"validate: relational store holds %d records, legacy holds %d", report.RelationalCount, report.LegacyCount))
		return report, nil
	}

	sample := legacyRecords
	if len(sample) > e.cfg.SampleSize {
		sample = sample[:e.cfg.SampleSize]
	}
	for _, want := range sample {
		got, err := e.relational.GetByID(ctx, want.ID)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("validate: %s: %v", want.ID, err))
			return report, nil
		}
		if !repository.RecordsEqual(want, got) {
			report.Errors = append(report.Errors, fmt.Sprintf("validate: %s: field mismatch between stores", want.ID))
			return report, nil
		}
	}
	report.Passed = true
	return report, nil
}

// Rollback routes traffic back to the legacy store. Relational data is left
// intact so a retry does not redo the write phase's work.
func (e *Engine) Rollback(ctx context.Context) error {
	st, err := e.state.MigrationState()
	if err != nil {
		return err
	}
	if st.Status != models.MigrationCompleted {
		return ErrNotCutOver
	}
	st.Status = models.MigrationRolledBack
	st.LastActivity = time.Now().UTC()
	if err := e.state.SaveMigrationState(st); err != nil {
		return err
	}
	e.logger.Warn().Msg("migration rolled back, legacy store is authoritative again")
	return nil
}

// Statistics reports the persisted state, live record counts and the last
// run's report for the admin surface.
func (e *Engine) Statistics(ctx context.Context) (Statistics, error) {
	st, err := e.state.MigrationState()
	if err != nil {
		return Statistics{}, err
	}
	stats := Statistics{State: st}
	if legacyRecords, err := e.legacy.GetAll(ctx); err == nil {
		stats.LegacyCount = len(legacyRecords)
	}
	if relationalRecords, err := e.relational.GetAll(ctx); err == nil {
		stats.RelationalCount = len(relationalRecords)
	}
	e.mu.Lock()
	stats.LastReport = e.lastReport
	e.mu.Unlock()
	return stats, nil
}

func (e *Engine) acquireGuard() error {
	st, err := e.state.MigrationState()
	if err != nil {
		return err
	}
	st.Status = models.MigrationInProgress
	st.LastActivity = time.Now().UTC()
	return e.state.SaveMigrationState(st)
}

func (e *Engine) setStatus(status models.MigrationStatus, bumpVersion bool) error {
	st, err := e.state.MigrationState()
	if err != nil {
		return err
	}
	st.Status = status
	st.LastActivity = time.Now().UTC()
	if bumpVersion {
		st.Version++
	}
	return e.state.SaveMigrationState(st)
}

// finish releases the in-memory guard, stores the report and fires the
// completion hooks. guardHeld distinguishes a run that never acquired the
// persisted guard.
func (e *Engine) finish(report *Report, guardHeld bool) {
	e.mu.Lock()
	e.running = false
	if guardHeld {
		snapshot := *report
		e.lastReport = &snapshot
	}
	hooks := append([]func(){}, e.onComplete...)
	e.mu.Unlock()
	if !guardHeld {
		return
	}
	for _, fn := range hooks {
		fn()
	}
}
