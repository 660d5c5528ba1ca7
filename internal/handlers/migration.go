package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/quantfold/tickerlens/internal/admin"
	"github.com/quantfold/tickerlens/internal/migration"
	"github.com/quantfold/tickerlens/internal/models"
)

type MigrationHandler struct {
	svc    *admin.Service
	logger zerolog.Logger
}

func NewMigrationHandler(svc *admin.Service, logger zerolog.Logger) *MigrationHandler {
	return &MigrationHandler{
		svc:    svc,
		logger: logger.With().Str("component", "migration_handler").Logger(),
	}
}

func (h *MigrationHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.GetMigrationStatistics(r.Context())
	if err != nil {
		http.Error(w, "Failed to get migration statistics: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

func (h *MigrationHandler) StartMigration(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.StartMigration(r.Context())
	if errors.Is(err, migration.ErrMigrationInProgress) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		// The report is still meaningful on failure; the counts are never
		// silently swallowed.
		w.WriteHeader(http.StatusInternalServerError)
	}
	json.NewEncoder(w).Encode(report)
}

func (h *MigrationHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	err := h.svc.Rollback(r.Context())
	if errors.Is(err, migration.ErrNotCutOver) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, "Failed to roll back: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MigrationHandler) SetRollout(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Percentage int `json:"percentage"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if err := h.svc.SetRolloutPercentage(payload.Percentage); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MigrationHandler) SetOverride(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if err := h.svc.ForceStoreOverride(models.StoreMode(payload.Mode)); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
