package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/compliscope/compliscope/internal/auth"
	"github.com/compliscope/compliscope/internal/queue"
	"github.com/compliscope/compliscope/internal/scheduler"
)

func (s *Server) listScheduledJobs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		respondUnavailable(w, "scheduler")
		return
	}

	jobs, err := s.deps.Scheduler.ListJobs(r.Context())
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, jobs)
}

type createJobRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Schedule    string            `json:"schedule"`
	JobType     scheduler.JobType `json:"jobType"`
	Config      map[string]string `json:"config"`
	Enabled     bool              `json:"enabled"`
}

func (r createJobRequest) job(id string) *scheduler.Job {
	return &scheduler.Job{
		ID:          id,
		Name:        r.Name,
		Description: r.Description,
		Schedule:    r.Schedule,
		JobType:     r.JobType,
		Config:      r.Config,
		Enabled:     r.Enabled,
	}
}

func (s *Server) createScheduledJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		respondUnavailable(w, "scheduler")
		return
	}

	var req createJobRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Name == "" || req.Schedule == "" || req.JobType == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "name, schedule, and jobType are required")
		return
	}

	job := req.job("")
	if err := s.deps.Scheduler.AddJob(r.Context(), job); err != nil {
		s.respondFailure(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, job)
}

func (s *Server) getScheduledJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		respondUnavailable(w, "scheduler")
		return
	}

	job, err := s.deps.Scheduler.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"job":      job,
		"nextRuns": s.deps.Scheduler.GetNextRuns(job.ID, 5),
	})
}

func (s *Server) updateScheduledJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		respondUnavailable(w, "scheduler")
		return
	}

	var req createJobRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	job := req.job(chi.URLParam(r, "jobID"))
	if err := s.deps.Scheduler.UpdateJob(r.Context(), job); err != nil {
		s.respondFailure(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, job)
}

func (s *Server) deleteScheduledJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		respondUnavailable(w, "scheduler")
		return
	}

	if err := s.deps.Scheduler.DeleteJob(r.Context(), chi.URLParam(r, "jobID")); err != nil {
		s.respondFailure(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) runScheduledJobNow(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		respondUnavailable(w, "scheduler")
		return
	}

	if err := s.deps.Scheduler.RunJobNow(r.Context(), chi.URLParam(r, "jobID")); err != nil {
		s.respondFailure(w, r, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func (s *Server) getJobExecutions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		respondUnavailable(w, "scheduler")
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	execs, err := s.deps.Scheduler.Executions(r.Context(), chi.URLParam(r, "jobID"), limit)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, execs)
}

type createExportRequest struct {
	Kind       queue.JobKind `json:"kind"`
	DocumentID string        `json:"documentId"`
	ScenarioID string        `json:"scenarioId"`
	Email      string        `json:"email"`
	Priority   int           `json:"priority"`
}

func (s *Server) createExport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Exports == nil {
		respondUnavailable(w, "export queue")
		return
	}

	var req createExportRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	job := &queue.Job{
		Kind:       req.Kind,
		UserID:     auth.UserID(r.Context()),
		DocumentID: req.DocumentID,
		ScenarioID: req.ScenarioID,
		Email:      req.Email,
		Priority:   req.Priority,
	}
	if err := s.deps.Exports.Enqueue(r.Context(), job); err != nil {
		s.respondFailure(w, r, err)
		return
	}

	respondJSON(w, http.StatusAccepted, job)
}

// ownProgress loads the progress of the caller's export job. Jobs of other
// users read as missing.
func (s *Server) ownProgress(w http.ResponseWriter, r *http.Request) (*queue.JobProgress, bool) {
	if s.deps.Exports == nil {
		respondUnavailable(w, "export queue")
		return nil, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid job ID")
		return nil, false
	}

	progress, err := s.deps.Exports.GetProgress(r.Context(), id)
	if err != nil {
		s.respondFailure(w, r, err)
		return nil, false
	}
	if progress == nil || progress.UserID != auth.UserID(r.Context()) {
		respondError(w, http.StatusNotFound, "not_found", "Export not found")
		return nil, false
	}
	return progress, true
}

func (s *Server) getExport(w http.ResponseWriter, r *http.Request) {
	progress, ok := s.ownProgress(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, progress)
}

func (s *Server) downloadExport(w http.ResponseWriter, r *http.Request) {
	progress, ok := s.ownProgress(w, r)
	if !ok {
		return
	}
	if progress.Status != queue.StatusCompleted || progress.ArtifactKey == "" {
		respondError(w, http.StatusConflict, "not_ready", "Export is not ready")
		return
	}
	if s.deps.Archive == nil {
		respondUnavailable(w, "archive")
		return
	}

	rc, info, err := s.deps.Archive.Get(r.Context(), progress.ArtifactKey)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", info.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename=\""+progress.Filename+"\"")
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Error("streaming export", "job_id", progress.JobID, "error", err)
	}
}

func (s *Server) exportStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Exports == nil {
		respondUnavailable(w, "export queue")
		return
	}

	stats, err := s.deps.Exports.Stats(r.Context())
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, stats)
}
