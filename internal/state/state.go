// Package state persists the migration singleton and installation
// preferences as simple key-value entries, separate from the job schema.
// Instances are constructed and injected explicitly so tests never share
// process-wide state.
package state

import (
	"encoding/json"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/quantfold/tickerlens/internal/models"
)

const (
	migrationStateKey = "pref:migration_state"
	storeOverrideKey  = "pref:store_override"
	installationIDKey = "pref:installation_id"
)

// Store reads and writes installation preferences. Migration state is
// mutated only by the migration engine and the admin surface.
type Store struct {
	db     *badger.DB
	logger zerolog.Logger
	mu     sync.Mutex
}

func NewStore(db *badger.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "state_store").Logger(),
	}
}

func (s *Store) get(key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	return out, err
}

func (s *Store) set(key string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// MigrationState returns the persisted migration singleton, defaulting to
// not_started with rollout 0 when nothing has been written yet.
func (s *Store) MigrationState() (models.MigrationState, error) {
	data, err := s.get(migrationStateKey)
	if err == badger.ErrKeyNotFound {
		return models.MigrationState{Status: models.MigrationNotStarted}, nil
	}
	if err != nil {
		return models.MigrationState{}, errors.Wrap(err, "read migration state")
	}
	var st models.MigrationState
	if err := json.Unmarshal(data, &st); err != nil {
		return models.MigrationState{}, errors.Wrap(err, "decode migration state")
	}
	return st, nil
}

func (s *Store) SaveMigrationState(st models.MigrationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(st)
	if err != nil {
		return errors.Wrap(err, "encode migration state")
	}
	return errors.Wrap(s.set(migrationStateKey, data), "write migration state")
}

// ResetMigrationState deletes the singleton. Used for testing and recovery
// only; normal operation never removes it.
func (s *Store) ResetMigrationState() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(migrationStateKey))
	})
	return errors.Wrap(err, "reset migration state")
}

func (s *Store) SetRolloutPercentage(pct int) error {
	if pct < 0 || pct > 100 {
		return errors.Errorf("rollout percentage %d out of range [0,100]", pct)
	}
	st, err := s.MigrationState()
	if err != nil {
		return err
	}
	st.RolloutPercentage = pct
	return s.SaveMigrationState(st)
}

// Override returns the explicit store override, ModeAuto when none is set.
func (s *Store) Override() (models.StoreMode, error) {
	data, err := s.get(storeOverrideKey)
	if err == badger.ErrKeyNotFound {
		return models.StoreModeAuto, nil
	}
	if err != nil {
		return models.StoreModeAuto, errors.Wrap(err, "read store override")
	}
	mode := models.StoreMode(data)
	if !mode.Valid() {
		s.logger.Warn().Str("mode", string(data)).Msg("ignoring invalid persisted store override")
		return models.StoreModeAuto, nil
	}
	return mode, nil
}

func (s *Store) SetOverride(mode models.StoreMode) error {
	if !mode.Valid() {
		return errors.Errorf("invalid store mode %q", mode)
	}
	return errors.Wrap(s.set(storeOverrideKey, []byte(mode)), "write store override")
}

// InstallationID returns the stable per-installation identifier, generating
// and persisting one on first use.
func (s *Store) InstallationID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.get(installationIDKey)
	if err == nil {
		return string(data), nil
	}
	if err != badger.ErrKeyNotFound {
		return "", errors.Wrap(err, "read installation id")
	}
	id := uuid.NewString()
	if err := s.set(installationIDKey, []byte(id)); err != nil {
		return "", errors.Wrap(err, "write installation id")
	}
	s.logger.Info().Str("installation_id", id).Msg("generated installation id")
	return id, nil
}
