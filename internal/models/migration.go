package models

import "time"

type MigrationStatus string

const (
	MigrationNotStarted MigrationStatus = "not_started"
	MigrationInProgress MigrationStatus = "in_progress"
	MigrationCompleted  MigrationStatus = "completed"
	MigrationFailed     MigrationStatus = "failed"
	MigrationRolledBack MigrationStatus = "rolled_back"
)

// MigrationState is the singleton record describing where this installation
// stands in the key-value to relational migration. It is mutated only by the
// migration engine and the admin surface.
type MigrationState struct {
	Status            MigrationStatus `json:"status"`
	Version           int             `json:"version"`
	RolloutPercentage int             `json:"rollout_percentage"`
	LastActivity      time.Time       `json:"last_activity"`
}

// StoreMode selects which backing store the repository factory hands back.
// ModeAuto means no explicit override is in effect.
type StoreMode string

const (
	StoreModeAuto       StoreMode = "auto"
	StoreModeLegacy     StoreMode = "legacy"
	StoreModeRelational StoreMode = "relational"
)

func (m StoreMode) Valid() bool {
	switch m {
	case StoreModeAuto, StoreModeLegacy, StoreModeRelational:
		return true
	}
	return false
}
