package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fetchbay/fetchbay/internal/admission"
	"github.com/fetchbay/fetchbay/internal/domain/model"
	"github.com/fetchbay/fetchbay/internal/usecase"
)

// Request/Response types

type ResolveRequest struct {
	URL string `json:"url"`
}

type FormatResponse struct {
	FormatID  string `json:"format_id"`
	Rendition string `json:"rendition"`
	Ext       string `json:"ext"`
	Size      int64  `json:"size,omitempty"`
	Height    int    `json:"height,omitempty"`
	HasAudio  bool   `json:"has_audio"`
}

type ResolveResponse struct {
	SessionID string           `json:"session_id"`
	ExpiresAt string           `json:"expires_at"`
	Title     string           `json:"title"`
	Uploader  string           `json:"uploader,omitempty"`
	Duration  int64            `json:"duration_secs,omitempty"`
	Thumbnail string           `json:"thumbnail,omitempty"`
	Formats   []FormatResponse `json:"formats"`
}

type StartDownloadRequest struct {
	SessionID   string `json:"session_id"`
	FormatID    string `json:"format_id"`
	RequesterID string `json:"requester_id"`
}

type JobResponse struct {
	JobID       string  `json:"job_id"`
	State       string  `json:"state"`
	Progress    float64 `json:"progress"`
	ErrorCode   string  `json:"error_code,omitempty"`
	ArtifactRef string  `json:"artifact_ref,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

type CacheStatsResponse struct {
	TotalEntries int64 `json:"total_entries"`
	TotalHits    int64 `json:"total_hits"`
	TotalBytes   int64 `json:"total_bytes"`
	QueueActive  int   `json:"queue_active"`
	QueueWaiting int   `json:"queue_waiting"`
}

// PipelineHandler handles the download pipeline HTTP requests.
type PipelineHandler struct {
	orch    usecase.Orchestrator
	results usecase.ResultCache
}

// NewPipelineHandler creates a new PipelineHandler.
func NewPipelineHandler(orch usecase.Orchestrator, results usecase.ResultCache) *PipelineHandler {
	return &PipelineHandler{orch: orch, results: results}
}

// Resolve handles POST /v1/resolve
func (h *PipelineHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	if req.URL == "" {
		Error(w, http.StatusBadRequest, "invalid_url", "URL is required")
		return
	}

	session, err := h.orch.Resolve(r.Context(), req.URL)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	JSON(w, http.StatusOK, toResolveResponse(session))
}

// StartDownload handles POST /v1/downloads
func (h *PipelineHandler) StartDownload(w http.ResponseWriter, r *http.Request) {
	var req StartDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid_session_id", "Session ID must be a valid UUID")
		return
	}

	if req.FormatID == "" {
		Error(w, http.StatusBadRequest, "invalid_format_id", "Format ID is required")
		return
	}

	job, err := h.orch.StartDownload(r.Context(), usecase.DownloadInput{
		SessionID:   sessionID,
		FormatID:    req.FormatID,
		RequesterID: req.RequesterID,
	})
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	JSON(w, http.StatusAccepted, toJobResponse(*job))
}

// GetJob handles GET /v1/jobs/{id}
func (h *PipelineHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid_job_id", "Job ID must be a valid UUID")
		return
	}

	job, err := h.orch.Job(jobID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	JSON(w, http.StatusOK, toJobResponse(job))
}

// CacheStats handles GET /v1/cache/stats
func (h *PipelineHandler) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.results.Stats(r.Context())
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	status := h.orch.QueueStatus()
	JSON(w, http.StatusOK, CacheStatsResponse{
		TotalEntries: stats.TotalEntries,
		TotalHits:    stats.TotalHits,
		TotalBytes:   stats.TotalBytes,
		QueueActive:  status.Active,
		QueueWaiting: status.Queued,
	})
}

func (h *PipelineHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, usecase.ErrResolutionFailed):
		Error(w, http.StatusBadGateway, "resolution_failed", "Resource is unavailable or invalid")
	case errors.Is(err, usecase.ErrNoUsableFormat):
		Error(w, http.StatusUnprocessableEntity, "no_usable_format", "No acceptable quality available")
	case errors.Is(err, usecase.ErrSessionExpired):
		Error(w, http.StatusGone, "session_expired", "Selection expired, resolve the link again")
	case errors.Is(err, usecase.ErrDuplicateInFlight):
		Error(w, http.StatusConflict, "duplicate_in_flight", "This download is already in flight")
	case errors.Is(err, admission.ErrQueueFull):
		Error(w, http.StatusTooManyRequests, "queue_full", "Download queue is full, try again later")
	case errors.Is(err, usecase.ErrJobNotFound):
		Error(w, http.StatusNotFound, "job_not_found", "Job not found")
	default:
		Error(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}

func toResolveResponse(s *model.Session) ResolveResponse {
	formats := make([]FormatResponse, 0, len(s.Metadata.Formats))
	for _, f := range s.Metadata.Formats {
		formats = append(formats, FormatResponse{
			FormatID:  f.FormatID,
			Rendition: f.Rendition,
			Ext:       f.Ext,
			Size:      f.Size,
			Height:    f.Height,
			HasAudio:  f.HasAudio,
		})
	}

	return ResolveResponse{
		SessionID: s.ID.String(),
		ExpiresAt: s.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
		Title:     s.Metadata.Title,
		Uploader:  s.Metadata.Uploader,
		Duration:  s.Metadata.Duration,
		Thumbnail: s.Metadata.Thumbnail,
		Formats:   formats,
	}
}

func toJobResponse(j usecase.Job) JobResponse {
	return JobResponse{
		JobID:       j.ID.String(),
		State:       string(j.State),
		Progress:    j.Progress,
		ErrorCode:   j.ErrorCode,
		ArtifactRef: j.ArtifactRef,
		CreatedAt:   j.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:   j.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}
