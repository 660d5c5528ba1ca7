package repository

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfold/tickerlens/internal/models"
)

// RecordsEqual compares every mapped field of two job records. Timestamps
// are compared at millisecond precision, the resolution the legacy store
// can represent.
func RecordsEqual(a, b models.AnalysisJobRecord) bool {
	return a.ID == b.ID &&
		strPtrEqual(a.RemoteRunID, b.RemoteRunID) &&
		strPtrEqual(a.RemoteThreadID, b.RemoteThreadID) &&
		a.Ticker == b.Ticker &&
		a.ParameterDate == b.ParameterDate &&
		a.Status == b.Status &&
		a.CreatedAt.UnixMilli() == b.CreatedAt.UnixMilli() &&
		a.UpdatedAt.UnixMilli() == b.UpdatedAt.UnixMilli() &&
		timePtrEqual(a.CompletedAt, b.CompletedAt) &&
		strPtrEqual(a.ResultPayload, b.ResultPayload) &&
		strPtrEqual(a.ErrorMessage, b.ErrorMessage) &&
		a.RetryCount == b.RetryCount
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.UnixMilli() == b.UnixMilli()
}

// DriftStats counts dual-mode consistency checks. Accumulating drift is the
// operator's cue to roll back; the checker itself never fails a caller.
type DriftStats struct {
	Checked int64 `json:"checked"`
	Drifted int64 `json:"drifted"`
}

// DriftChecker periodically compares a sample of records between the two
// stores while the system operates in dual mode.
type DriftChecker struct {
	factory    *Factory
	interval   time.Duration
	sampleSize int
	logger     zerolog.Logger

	checked atomic.Int64
	drifted atomic.Int64
}

func NewDriftChecker(factory *Factory, interval time.Duration, sampleSize int, logger zerolog.Logger) *DriftChecker {
	return &DriftChecker{
		factory:    factory,
		interval:   interval,
		sampleSize: sampleSize,
		logger:     logger.With().Str("component", "drift_checker").Logger(),
	}
}

// Run blocks until ctx is cancelled, checking on each tick. It is a no-op
// outside the dual-mode window.
func (c *DriftChecker) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CheckOnce(ctx)
		}
	}
}

// CheckOnce compares up to sampleSize records between primary and secondary.
func (c *DriftChecker) CheckOnce(ctx context.Context) {
	mode, dual := c.factory.resolve()
	if !dual {
		return
	}
	primary, secondary := c.factory.legacy, c.factory.relational
	if mode == models.StoreModeRelational {
		primary, secondary = c.factory.relational, c.factory.legacy
	}

	records, err := primary.GetAll(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("drift check: primary read failed")
		return
	}
	if len(records) > c.sampleSize {
		records = records[:c.sampleSize]
	}
	for _, want := range records {
		got, err := secondary.GetByID(ctx, want.ID)
		c.checked.Add(1)
		if err == ErrNotFound {
			c.drifted.Add(1)
			c.logger.Warn().Str("job_id", want.ID).Msg("drift check: record missing from secondary")
			continue
		}
		if err != nil {
			c.logger.Warn().Err(err).Str("job_id", want.ID).Msg("drift check: secondary read failed")
			continue
		}
		if !RecordsEqual(want, got) {
			c.drifted.Add(1)
			c.logger.Warn().
				Str("job_id", want.ID).
				Str("primary_status", string(want.Status)).
				Str("secondary_status", string(got.Status)).
				Msg("drift check: record mismatch between stores")
		}
	}
}

func (c *DriftChecker) Stats() DriftStats {
	return DriftStats{
		Checked: c.checked.Load(),
		Drifted: c.drifted.Load(),
	}
}
