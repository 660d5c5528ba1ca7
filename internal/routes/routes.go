package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/quantfold/tickerlens/internal/handlers"
)

// NewRouter sets up the admin/control API routes.
func NewRouter(job *handlers.JobHandler, mig *handlers.MigrationHandler, lc *handlers.LifecycleHandler) *mux.Router {
	router := mux.NewRouter()

	// Health check route
	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)

	// Job lifecycle
	router.HandleFunc("/api/jobs", job.ListJobs).Methods(http.MethodGet)
	router.HandleFunc("/api/jobs", job.SubmitJob).Methods(http.MethodPost)
	router.HandleFunc("/api/jobs/{jobID}", job.GetJob).Methods(http.MethodGet)
	router.HandleFunc("/api/jobs/{jobID}", job.DeleteJob).Methods(http.MethodDelete)
	router.HandleFunc("/api/jobs/{jobID}/resubmit", job.ResubmitJob).Methods(http.MethodPost)

	// Migration control surface
	router.HandleFunc("/api/migration/stats", mig.GetStatistics).Methods(http.MethodGet)
	router.HandleFunc("/api/migration/start", mig.StartMigration).Methods(http.MethodPost)
	router.HandleFunc("/api/migration/rollback", mig.Rollback).Methods(http.MethodPost)
	router.HandleFunc("/api/migration/rollout", mig.SetRollout).Methods(http.MethodPut)
	router.HandleFunc("/api/migration/override", mig.SetOverride).Methods(http.MethodPut)

	// Lifecycle dev hooks
	router.HandleFunc("/api/lifecycle", lc.GetState).Methods(http.MethodGet)
	router.HandleFunc("/api/lifecycle/foreground", lc.Foreground).Methods(http.MethodPost)
	router.HandleFunc("/api/lifecycle/background", lc.Background).Methods(http.MethodPost)

	return router
}
