package repository

import (
	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"github.com/quantfold/tickerlens/internal/models"
	"github.com/quantfold/tickerlens/internal/state"
)

// Assign deterministically buckets an installation into the legacy or
// relational store for a given rollout percentage. Pure function: the same
// inputs always resolve to the same mode, so no per-installation flag needs
// persisting.
func Assign(installationID string, rolloutPercentage int) models.StoreMode {
	if rolloutPercentage <= 0 {
		return models.StoreModeLegacy
	}
	if rolloutPercentage >= 100 {
		return models.StoreModeRelational
	}
	if xxhash.Sum64String(installationID)%100 < uint64(rolloutPercentage) {
		return models.StoreModeRelational
	}
	return models.StoreModeLegacy
}

// Factory resolves which backing store serves each repository call, in
// priority order: explicit override, migration status (anything other than
// completed forces legacy), rollout assignment. During the cutover window it
// hands back a dual-mode wrapper that mirrors writes to the secondary.
type Factory struct {
	legacy         JobRepository
	relational     JobRepository
	state          *state.Store
	installationID string
	logger         zerolog.Logger
}

func NewFactory(legacy, relational JobRepository, st *state.Store, installationID string, logger zerolog.Logger) *Factory {
	return &Factory{
		legacy:         legacy,
		relational:     relational,
		state:          st,
		installationID: installationID,
		logger:         logger.With().Str("component", "repository_factory").Logger(),
	}
}

// Mode reports the store currently serving reads and authoritative writes.
func (f *Factory) Mode() models.StoreMode {
	mode, _ := f.resolve()
	return mode
}

// Repository returns the repository serving the next call. Resolution is
// per call so an override, rollback or rollout change takes effect
// immediately without restarting.
func (f *Factory) Repository() JobRepository {
	mode, dual := f.resolve()
	primary, secondary := f.legacy, f.relational
	if mode == models.StoreModeRelational {
		primary, secondary = f.relational, f.legacy
	}
	if !dual {
		return primary
	}
	return NewDualRepository(primary, secondary, f.logger)
}

func (f *Factory) resolve() (mode models.StoreMode, dual bool) {
	override, err := f.state.Override()
	if err != nil {
		f.logger.Error().Err(err).Msg("failed to read store override, falling back to legacy")
		return models.StoreModeLegacy, false
	}
	if override != models.StoreModeAuto {
		return override, false
	}

	st, err := f.state.MigrationState()
	if err != nil {
		f.logger.Error().Err(err).Msg("failed to read migration state, falling back to legacy")
		return models.StoreModeLegacy, false
	}
	if st.Status != models.MigrationCompleted {
		return models.StoreModeLegacy, false
	}

	mode = Assign(f.installationID, st.RolloutPercentage)
	// Between cutover and full rollout both stores are kept warm: writes
	// mirror to the secondary so neither retry nor rollback loses data.
	dual = st.RolloutPercentage < 100
	return mode, dual
}
