package repository

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/quantfold/tickerlens/internal/models"
)

// DualRepository serves reads from the primary store and mirrors mutations
// to the secondary best-effort. A mirror failure is logged, never returned:
// the primary remains the single source of truth and the drift checker
// surfaces any divergence.
type DualRepository struct {
	primary   JobRepository
	secondary JobRepository
	logger    zerolog.Logger
}

func NewDualRepository(primary, secondary JobRepository, logger zerolog.Logger) *DualRepository {
	return &DualRepository{
		primary:   primary,
		secondary: secondary,
		logger:    logger.With().Str("component", "dual_repository").Logger(),
	}
}

func (d *DualRepository) Save(ctx context.Context, rec models.AnalysisJobRecord) error {
	if err := d.primary.Save(ctx, rec); err != nil {
		return err
	}
	if err := d.secondary.Save(ctx, rec); err != nil {
		d.logger.Warn().Err(err).Str("job_id", rec.ID).Msg("secondary mirror save failed")
	}
	return nil
}

func (d *DualRepository) GetByID(ctx context.Context, id string) (models.AnalysisJobRecord, error) {
	return d.primary.GetByID(ctx, id)
}

func (d *DualRepository) GetAll(ctx context.Context) ([]models.AnalysisJobRecord, error) {
	return d.primary.GetAll(ctx)
}

func (d *DualRepository) GetByStatus(ctx context.Context, statuses ...models.JobStatus) ([]models.AnalysisJobRecord, error) {
	return d.primary.GetByStatus(ctx, statuses...)
}

func (d *DualRepository) Delete(ctx context.Context, id string) error {
	if err := d.primary.Delete(ctx, id); err != nil {
		return err
	}
	if err := d.secondary.Delete(ctx, id); err != nil {
		d.logger.Warn().Err(err).Str("job_id", id).Msg("secondary mirror delete failed")
	}
	return nil
}

func (d *DualRepository) Clear(ctx context.Context) error {
	if err := d.primary.Clear(ctx); err != nil {
		return err
	}
	if err := d.secondary.Clear(ctx); err != nil {
		d.logger.Warn().Err(err).Msg("secondary mirror clear failed")
	}
	return nil
}
