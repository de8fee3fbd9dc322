package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"experiment-scheduler/api/rest/handlers"
	"experiment-scheduler/core/repository"
	"experiment-scheduler/core/scheduler"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *mux.Router, db *repository.DB, sched *scheduler.Scheduler) {
	experimentHandler := handlers.NewExperimentHandler(
		sched,
		repository.NewJobRepository(db),
		repository.NewEventRepository(db),
	)
	Register(r, experimentHandler)
}

// Register mounts the experiment endpoints and the health check
func Register(r *mux.Router, experimentHandler *handlers.ExperimentHandler) {
	api := r.PathPrefix("/v1").Subrouter()

	// Experiment endpoints
	api.HandleFunc("/experiments/{id}/start", experimentHandler.StartExperiment).Methods("POST")
	api.HandleFunc("/experiments/{id}/stop", experimentHandler.StopExperiment).Methods("POST")
	api.HandleFunc("/experiments/{id}/jobs", experimentHandler.ListJobs).Methods("GET")
	api.HandleFunc("/experiments/{id}/statuses", experimentHandler.ListStatuses).Methods("GET")

	// Health check endpoint
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")
}
