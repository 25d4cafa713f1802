package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/indago/internal/jobs"
	"github.com/ternarybob/indago/internal/models"
	"github.com/ternarybob/indago/internal/storage"
)

// CrawlHandler exposes the crawl job surface: submit, inspect, revoke, list.
type CrawlHandler struct {
	manager *jobs.Manager
	logger  arbor.ILogger
}

// NewCrawlHandler creates a crawl handler backed by the job manager.
func NewCrawlHandler(manager *jobs.Manager, logger arbor.ILogger) *CrawlHandler {
	return &CrawlHandler{
		manager: manager,
		logger:  logger,
	}
}

// jobResponse is the wire shape for a single job.
type jobResponse struct {
	ID     string           `json:"id"`
	Status models.JobStatus `json:"status"`
	Info   models.Report    `json:"info"`
	Error  string           `json:"error,omitempty"`
}

func newJobResponse(job *models.CrawlJob) jobResponse {
	return jobResponse{
		ID:     job.ID,
		Status: job.Status,
		Info:   job.Report(),
		Error:  job.Error,
	}
}

// SubmitCrawlHandler accepts a crawl definition and starts it in the
// background. A submission for a name that is already in flight is rejected.
// POST /crawl
func (h *CrawlHandler) SubmitCrawlHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var settings models.CrawlSettings
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON body: "+err.Error())
		return
	}

	job, err := h.manager.Submit(settings)
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrInvalidSettings):
			WriteError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, jobs.ErrLockHeld):
			WriteError(w, http.StatusConflict, err.Error())
		default:
			h.logger.Error().Err(err).Msg("Failed to submit crawl")
			WriteError(w, http.StatusInternalServerError, "Failed to submit crawl")
		}
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]string{"id": job.ID})
}

// GetCrawlHandler returns the status and progress report for one job.
// GET /crawl/{id}
func (h *CrawlHandler) GetCrawlHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}

	job, err := h.manager.Get(jobID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	WriteJSON(w, http.StatusOK, newJobResponse(job))
}

// RevokeCrawlHandler cancels a job. A running crawl stops at its next fetch
// boundary, so the response may still show it as running; terminal jobs are
// returned unchanged.
// DELETE /crawl/{id}
func (h *CrawlHandler) RevokeCrawlHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}

	jobID, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}

	job, err := h.manager.Cancel(jobID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to cancel job")
		WriteError(w, http.StatusInternalServerError, "Failed to cancel job")
		return
	}

	WriteJSON(w, http.StatusOK, newJobResponse(job))
}

// ListCrawlsHandler returns every pending and running job.
// GET /crawl
func (h *CrawlHandler) ListCrawlsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	active, err := h.manager.Active()
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list active jobs")
		WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	out := make([]jobResponse, 0, len(active))
	for _, job := range active {
		out = append(out, newJobResponse(job))
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{"jobs": out})
}

// GetStatsHandler returns job counts grouped by status.
// GET /crawl/stats
func (h *CrawlHandler) GetStatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	statuses := []models.JobStatus{
		models.JobStatusPending,
		models.JobStatusRunning,
		models.JobStatusCompleted,
		models.JobStatusFailed,
		models.JobStatusCancelled,
	}

	counts := make(map[string]int, len(statuses))
	for _, status := range statuses {
		n, err := h.manager.CountByStatus(status)
		if err != nil {
			h.logger.Error().Err(err).Str("status", string(status)).Msg("Failed to count jobs")
			WriteError(w, http.StatusInternalServerError, "Failed to count jobs")
			return
		}
		counts[string(status)] = n
	}

	WriteJSON(w, http.StatusOK, counts)
}

// jobIDFromPath extracts the job ID from /crawl/{id} paths, writing a client
// error when it is missing.
func jobIDFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(pathParts) < 2 || pathParts[1] == "" {
		WriteError(w, http.StatusBadRequest, "Job ID is required")
		return "", false
	}
	return pathParts[1], true
}
