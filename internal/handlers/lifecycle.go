package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/quantfold/tickerlens/internal/lifecycle"
)

// LifecycleHandler is the development hook for driving foreground and
// background transitions; a real host app calls the monitor directly.
type LifecycleHandler struct {
	monitor *lifecycle.Monitor
}

func NewLifecycleHandler(monitor *lifecycle.Monitor) *LifecycleHandler {
	return &LifecycleHandler{monitor: monitor}
}

func (h *LifecycleHandler) Foreground(w http.ResponseWriter, r *http.Request) {
	h.monitor.Foreground()
	w.WriteHeader(http.StatusNoContent)
}

func (h *LifecycleHandler) Background(w http.ResponseWriter, r *http.Request) {
	h.monitor.Background()
	w.WriteHeader(http.StatusNoContent)
}

func (h *LifecycleHandler) GetState(w http.ResponseWriter, r *http.Request) {
	state := lifecycle.StateBackground
	if h.monitor.IsForeground() {
		state = lifecycle.StateForeground
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"state": string(state)})
}
