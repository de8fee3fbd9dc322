package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"experiment-scheduler/core/models"
	"experiment-scheduler/core/repository"
	"experiment-scheduler/core/scheduler"
	"experiment-scheduler/core/spawner"
)

const defaultStatusLimit = 100

// Lifecycle is the part of the scheduler the HTTP surface drives
type Lifecycle interface {
	Enqueue(experimentID int64) bool
	LoadExperiment(ctx context.Context, id int64) (*models.Experiment, error)
	StopExperiment(ctx context.Context, req scheduler.StopRequest) (*spawner.StopResult, error)
}

// JobLister lists the registered jobs of an experiment
type JobLister interface {
	ListJobs(ctx context.Context, experimentID int64) ([]*models.Job, error)
}

// StatusLister lists the status history of an experiment
type StatusLister interface {
	ListStatuses(ctx context.Context, experimentID int64, limit int) ([]models.ExperimentStatus, error)
}

// ExperimentHandler handles experiment-related HTTP requests
type ExperimentHandler struct {
	lifecycle Lifecycle
	jobs      JobLister
	statuses  StatusLister
}

// NewExperimentHandler creates a new experiment handler
func NewExperimentHandler(lifecycle Lifecycle, jobs JobLister, statuses StatusLister) *ExperimentHandler {
	return &ExperimentHandler{
		lifecycle: lifecycle,
		jobs:      jobs,
		statuses:  statuses,
	}
}

// StartExperiment handles POST /v1/experiments/{id}/start
func (h *ExperimentHandler) StartExperiment(w http.ResponseWriter, r *http.Request) {
	id, ok := experimentID(w, r)
	if !ok {
		return
	}

	status := http.StatusAccepted
	queued := h.lifecycle.Enqueue(id)
	if !queued {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]interface{}{
		"id":     id,
		"queued": queued,
	})
}

// StopExperiment handles POST /v1/experiments/{id}/stop
func (h *ExperimentHandler) StopExperiment(w http.ResponseWriter, r *http.Request) {
	id, ok := experimentID(w, r)
	if !ok {
		return
	}

	exp, err := h.lifecycle.LoadExperiment(r.Context(), id)
	if err != nil {
		writeLoadError(w, err)
		return
	}

	req := scheduler.NewStopRequest(exp)

	result, err := h.lifecycle.StopExperiment(r.Context(), req)
	if err != nil {
		log.WithField("experiment", exp.UniqueName()).WithError(err).Error("Failed to stop experiment")
		http.Error(w, "Failed to stop experiment: "+err.Error(), http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":               id,
		"deleted_pods":     nonNil(result.DeletedPods),
		"deleted_services": nonNil(result.DeletedServices),
	})
}

// ListJobs handles GET /v1/experiments/{id}/jobs
func (h *ExperimentHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	id, ok := experimentID(w, r)
	if !ok {
		return
	}

	jobs, err := h.jobs.ListJobs(r.Context(), id)
	if err != nil {
		http.Error(w, "Failed to list jobs: "+err.Error(), http.StatusInternalServerError)
		return
	}

	items := make([]map[string]interface{}, len(jobs))
	for i, job := range jobs {
		item := map[string]interface{}{
			"id":         job.ID,
			"uuid":       job.UUID,
			"role":       job.Role,
			"created_at": job.CreatedAt,
		}
		if job.Sequence != nil {
			item["sequence"] = *job.Sequence
		}
		if job.Resources != nil {
			item["resources"] = map[string]interface{}{
				"memory": job.Resources.Memory,
				"cpu":    job.Resources.CPU,
				"gpu":    job.Resources.GPU,
				"tpu":    job.Resources.TPU,
			}
		}
		if len(job.NodeSelector) > 0 {
			item["node_selector"] = job.NodeSelector
		}
		if len(job.Affinity) > 0 {
			item["affinity"] = job.Affinity
		}
		if len(job.Tolerations) > 0 {
			item["tolerations"] = job.Tolerations
		}
		items[i] = item
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
	})
}

// ListStatuses handles GET /v1/experiments/{id}/statuses
func (h *ExperimentHandler) ListStatuses(w http.ResponseWriter, r *http.Request) {
	id, ok := experimentID(w, r)
	if !ok {
		return
	}

	limit := defaultStatusLimit
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil || parsed <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	statuses, err := h.statuses.ListStatuses(r.Context(), id, limit)
	if err != nil {
		http.Error(w, "Failed to fetch statuses: "+err.Error(), http.StatusInternalServerError)
		return
	}

	items := make([]map[string]interface{}, len(statuses))
	for i, status := range statuses {
		item := map[string]interface{}{
			"at":     status.At,
			"status": status.Status,
		}
		if status.Message != "" {
			item["message"] = status.Message
		}
		if status.Traceback != "" {
			item["traceback"] = status.Traceback
		}
		items[i] = item
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
	})
}

func experimentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid experiment id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeLoadError(w http.ResponseWriter, err error) {
	if errors.Cause(err) == repository.ErrExperimentNotFound {
		http.Error(w, "Experiment not found", http.StatusNotFound)
		return
	}
	http.Error(w, "Failed to load experiment: "+err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Warn("Failed to encode response")
	}
}

func nonNil(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}
