package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"showrunner/internal/guardrail"
	"showrunner/internal/ledger"
	"showrunner/internal/logging"
	"showrunner/internal/pipeline"
	"showrunner/internal/queue"
)

type renderRequest struct {
	Scenes  []queue.Scene `json:"scenes"`
	Quality string        `json:"quality"`
	// QuotaType distinguishes first renders from rerolls for quota
	// accounting. Defaults to episodes.
	QuotaType string `json:"quotaType,omitempty"`
}

type renderResponse struct {
	JobID            string `json:"jobId"`
	EpisodeID        string `json:"episodeId"`
	Status           string `json:"status"`
	EstimatedMinutes int    `json:"estimatedMinutes"`
}

type rejectionResponse struct {
	Reason    string  `json:"reason"`
	Remaining float64 `json:"remaining"`
	ResetAt   string  `json:"resetAt,omitempty"`
}

type statusResponse struct {
	State    string        `json:"state"`
	Progress int           `json:"progress"`
	Result   *queue.Result `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
	Data     statusData    `json:"data"`
}

type statusData struct {
	Quality    string `json:"quality"`
	SceneCount int    `json:"sceneCount"`
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request, episodeID string) {
	userID := s.authenticate(w, r)
	if userID == "" {
		return
	}

	var req renderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	quality, ok := queue.ParseQuality(req.Quality)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "quality must be LOW or HIGH")
		return
	}
	jobCfg := queue.JobConfig{Scenes: req.Scenes, Quality: quality}
	if err := jobCfg.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	quotaType := req.QuotaType
	if quotaType == "" {
		quotaType = ledger.QuotaEpisodes
	}
	if !ledger.KnownQuotaType(quotaType) {
		s.writeError(w, http.StatusBadRequest, "unknown quota type")
		return
	}

	estimate := pipeline.EstimateCost(s.cfg, jobCfg)
	decision, err := s.gate.Admit(r.Context(), userID, estimate, quotaType)
	if err != nil {
		s.logger.Error("admission check failed", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "admission check failed")
		return
	}
	if !decision.Allowed {
		s.writeRejection(w, decision)
		return
	}

	job, err := s.store.Enqueue(r.Context(), episodeID, userID, quotaType, jobCfg)
	if err != nil {
		s.logger.Error("enqueue failed", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}

	s.logger.Info("job enqueued",
		logging.String(logging.FieldJobID, job.JobID),
		logging.String(logging.FieldEpisodeID, episodeID),
		logging.String(logging.FieldUserID, userID))
	s.writeJSON(w, http.StatusOK, renderResponse{
		JobID:            job.JobID,
		EpisodeID:        episodeID,
		Status:           "queued",
		EstimatedMinutes: pipeline.EstimateMinutes(jobCfg),
	})
}

// writeRejection maps guardrail reasons to their HTTP outcomes: rate and
// quota exhaustion are 429, money problems are 402.
func (s *Server) writeRejection(w http.ResponseWriter, decision guardrail.Decision) {
	status := http.StatusPaymentRequired
	switch decision.Reason {
	case guardrail.ReasonRateLimited, guardrail.ReasonQuotaExceeded:
		status = http.StatusTooManyRequests
	}
	payload := rejectionResponse{Reason: decision.Reason, Remaining: decision.Remaining}
	if !decision.ResetAt.IsZero() {
		payload.ResetAt = decision.ResetAt.UTC().Format(time.RFC3339)
	}
	s.writeJSON(w, status, payload)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, episodeID string) {
	userID := s.authenticate(w, r)
	if userID == "" {
		return
	}
	jobID := r.URL.Query().Get("jobId")
	if jobID == "" {
		s.writeError(w, http.StatusBadRequest, "jobId query parameter is required")
		return
	}

	job, err := s.store.GetByJobID(r.Context(), jobID)
	if errors.Is(err, queue.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "unknown job")
		return
	}
	if err != nil {
		s.logger.Error("status lookup failed", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "status lookup failed")
		return
	}
	if job.UserID != userID {
		s.writeError(w, http.StatusForbidden, "job belongs to another user")
		return
	}
	if job.EpisodeID != episodeID {
		s.writeError(w, http.StatusNotFound, "unknown job")
		return
	}

	jobCfg, err := job.Config()
	if err != nil {
		s.logger.Error("job config decode failed", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "corrupt job record")
		return
	}
	result, err := job.Result()
	if err != nil {
		s.logger.Error("job result decode failed", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "corrupt job record")
		return
	}

	s.writeJSON(w, http.StatusOK, statusResponse{
		State:    string(job.Status),
		Progress: job.Progress,
		Result:   result,
		Error:    job.ErrorMessage,
		Data: statusData{
			Quality:    string(jobCfg.Quality),
			SceneCount: len(jobCfg.Scenes),
		},
	})
}
