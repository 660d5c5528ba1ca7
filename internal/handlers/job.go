package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/quantfold/tickerlens/internal/repository"
	"github.com/quantfold/tickerlens/internal/submission"
)

type JobHandler struct {
	svc    *submission.Service
	logger zerolog.Logger
}

func NewJobHandler(svc *submission.Service, logger zerolog.Logger) *JobHandler {
	return &JobHandler{
		svc:    svc,
		logger: logger.With().Str("component", "job_handler").Logger(),
	}
}

func (h *JobHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Ticker string `json:"ticker"`
		Date   string `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if payload.Ticker == "" || payload.Date == "" {
		http.Error(w, "ticker and date are required", http.StatusBadRequest)
		return
	}
	rec, err := h.svc.Submit(r.Context(), payload.Ticker, payload.Date)
	if err != nil {
		http.Error(w, "Failed to submit job: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(rec)
}

func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.ListAll(r.Context())
	if err != nil {
		http.Error(w, "Failed to list jobs: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["jobID"]
	rec, err := h.svc.Get(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to get job: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

func (h *JobHandler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["jobID"]
	if err := h.svc.Delete(r.Context(), id); err != nil {
		http.Error(w, "Failed to delete job: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *JobHandler) ResubmitJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["jobID"]
	rec, err := h.svc.Resubmit(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to resubmit job: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(rec)
}
