// Package admin is the in-process control surface for migration and store
// routing. The HTTP handlers are a thin frontend over this service.
package admin

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/quantfold/tickerlens/internal/migration"
	"github.com/quantfold/tickerlens/internal/models"
	"github.com/quantfold/tickerlens/internal/repository"
	"github.com/quantfold/tickerlens/internal/state"
)

type Statistics struct {
	Migration migration.Statistics  `json:"migration"`
	StoreMode models.StoreMode      `json:"store_mode"`
	Override  models.StoreMode      `json:"override"`
	Drift     repository.DriftStats `json:"drift"`
}

type Service struct {
	engine  *migration.Engine
	factory *repository.Factory
	state   *state.Store
	drift   *repository.DriftChecker
	logger  zerolog.Logger
}

func NewService(engine *migration.Engine, factory *repository.Factory, st *state.Store, drift *repository.DriftChecker, logger zerolog.Logger) *Service {
	return &Service{
		engine:  engine,
		factory: factory,
		state:   st,
		drift:   drift,
		logger:  logger.With().Str("component", "admin").Logger(),
	}
}

// GetMigrationStatistics reports migration state, live store counts, the
// last run's report and drift counters.
func (s *Service) GetMigrationStatistics(ctx context.Context) (Statistics, error) {
	migStats, err := s.engine.Statistics(ctx)
	if err != nil {
		return Statistics{}, err
	}
	override, err := s.state.Override()
	if err != nil {
		return Statistics{}, err
	}
	return Statistics{
		Migration: migStats,
		StoreMode: s.factory.Mode(),
		Override:  override,
		Drift:     s.drift.Stats(),
	}, nil
}

// StartMigration runs the engine synchronously and returns its report.
func (s *Service) StartMigration(ctx context.Context) (migration.Report, error) {
	return s.engine.Run(ctx)
}

func (s *Service) Rollback(ctx context.Context) error {
	return s.engine.Rollback(ctx)
}

func (s *Service) SetRolloutPercentage(pct int) error {
	if err := s.state.SetRolloutPercentage(pct); err != nil {
		return err
	}
	s.logger.Info().Int("percentage", pct).Msg("rollout percentage updated")
	return nil
}

func (s *Service) ForceStoreOverride(mode models.StoreMode) error {
	if err := s.state.SetOverride(mode); err != nil {
		return err
	}
	s.logger.Info().Str("mode", string(mode)).Msg("store override updated")
	return nil
}
