package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shopreel/shopreel/internal/db"
	"github.com/shopreel/shopreel/internal/models"
	"github.com/shopreel/shopreel/internal/plan"
	"github.com/shopreel/shopreel/internal/queue"
	"github.com/shopreel/shopreel/internal/worker"
)

type Handler struct {
	db           *db.DB
	queue        *queue.Queue
	orchestrator *worker.Orchestrator
}

func NewHandler(database *db.DB, q *queue.Queue, orch *worker.Orchestrator) *Handler {
	return &Handler{
		db:           database,
		queue:        q,
		orchestrator: orch,
	}
}

// CreateJob handles POST /v1/jobs
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req models.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.AvatarID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "avatar_id is required")
		return
	}
	if req.ProductID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "product_id is required")
		return
	}

	targetDuration := 24
	if req.TargetDurationSeconds != nil {
		targetDuration = *req.TargetDurationSeconds
	}
	allowed := false
	for _, d := range plan.AllowedTotalDurations {
		if targetDuration == d {
			allowed = true
			break
		}
	}
	if !allowed {
		respondError(w, http.StatusBadRequest, "target_duration_seconds must be 16, 20, or 24")
		return
	}

	// Referenced assets must exist before the job is accepted.
	if _, err := h.db.GetAvatar(r.Context(), req.AvatarID); err != nil {
		respondError(w, http.StatusNotFound, "Avatar not found")
		return
	}
	if _, err := h.db.GetProduct(r.Context(), req.ProductID); err != nil {
		respondError(w, http.StatusNotFound, "Product not found")
		return
	}

	demoClipIDs := make([]string, 0, len(req.DemoClipIDs))
	for _, id := range req.DemoClipIDs {
		if _, err := h.db.GetDemoClip(r.Context(), id); err != nil {
			respondError(w, http.StatusNotFound, "Demo clip not found: "+id.String())
			return
		}
		demoClipIDs = append(demoClipIDs, id.String())
	}

	job := &models.VideoJob{
		ID:                    uuid.New(),
		AvatarID:              req.AvatarID,
		ProductID:             req.ProductID,
		Tone:                  req.Tone,
		TargetDurationSeconds: targetDuration,
		DemoClipIDs:           demoClipIDs,
		Status:                models.JobStatusPending,
	}

	if err := h.db.CreateJob(r.Context(), job); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create job")
		return
	}

	if err := h.queue.EnqueueAdvance(r.Context(), job.ID); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	respondJSON(w, http.StatusCreated, models.CreateJobResponse{
		JobID:  job.ID,
		Status: job.Status,
	})
}

// ListJobs handles GET /v1/jobs
// Query params:
//   - status: filter by job status
//   - limit:  max results per page (default 20, max 100)
//   - offset: number of results to skip (default 0)
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	statusFilter := r.URL.Query().Get("status")
	if statusFilter != "" {
		switch models.JobStatus(statusFilter) {
		case models.JobStatusPending, models.JobStatusPlanning, models.JobStatusPlanningCompleted,
			models.JobStatusGeneratingComposites, models.JobStatusGeneratingVideo,
			models.JobStatusVeoClipsCompleted, models.JobStatusAssembling,
			models.JobStatusCompleted, models.JobStatusFailed:
		default:
			respondError(w, http.StatusBadRequest, "Invalid status filter")
			return
		}
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		if n > 100 {
			n = 100
		}
		limit = n
	}

	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "Invalid offset")
			return
		}
		offset = n
	}

	jobs, err := h.db.ListJobs(r.Context(), statusFilter, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":   jobs,
		"limit":  limit,
		"offset": offset,
	})
}

// GetJob handles GET /v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	job, err := h.db.GetJob(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, "Job not found")
		return
	}

	respondJSON(w, http.StatusOK, job)
}

// AdvanceJob handles POST /v1/jobs/{id}/advance.
// The advance itself runs on the worker; this only verifies the job exists
// and enqueues the request, so repeated calls are cheap and harmless.
func (h *Handler) AdvanceJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	job, err := h.db.GetJob(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, "Job not found")
		return
	}

	if job.Status.Terminal() {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"job_id": job.ID,
			"status": job.Status,
		})
		return
	}

	if err := h.queue.EnqueueAdvance(r.Context(), job.ID); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to enqueue advance")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": job.ID,
		"status": job.Status,
	})
}

// GetJobProgress handles GET /v1/jobs/{id}/progress
func (h *Handler) GetJobProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	progress, err := h.orchestrator.Progress(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, "Job not found")
		return
	}

	respondJSON(w, http.StatusOK, progress)
}

// GenerateOne handles POST /v1/jobs/{id}/generate.
// Regenerates a single composite or synthesis call synchronously and returns
// the new asset URL.
func (h *Handler) GenerateOne(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	var req models.GenerateOneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	url, err := h.orchestrator.GenerateOne(r.Context(), id, req)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, models.GenerateOneResponse{ResultURL: url})
}

// DeleteAsset handles DELETE /v1/jobs/{id}/assets
func (h *Handler) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	var req models.DeleteAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.orchestrator.DeleteOne(r.Context(), id, req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// CreateAvatar handles POST /v1/avatars
func (h *Handler) CreateAvatar(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAvatarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" || req.ImageURL == "" {
		respondError(w, http.StatusBadRequest, "name and image_url are required")
		return
	}

	avatar := &models.Avatar{
		ID:       uuid.New(),
		Name:     req.Name,
		ImageURL: req.ImageURL,
	}
	if err := h.db.CreateAvatar(r.Context(), avatar); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create avatar")
		return
	}

	respondJSON(w, http.StatusCreated, avatar)
}

// ListAvatars handles GET /v1/avatars
func (h *Handler) ListAvatars(w http.ResponseWriter, r *http.Request) {
	avatars, err := h.db.ListAvatars(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list avatars")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"avatars": avatars})
}

// CreateProduct handles POST /v1/products
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req models.CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if len(req.ImageURLs) == 0 {
		respondError(w, http.StatusBadRequest, "at least one product image is required")
		return
	}

	product := &models.Product{
		ID:          uuid.New(),
		Name:        req.Name,
		Description: req.Description,
		ImageURLs:   req.ImageURLs,
	}
	if err := h.db.CreateProduct(r.Context(), product); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create product")
		return
	}

	respondJSON(w, http.StatusCreated, product)
}

// ListProducts handles GET /v1/products
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.db.ListProducts(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list products")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"products": products})
}

// CreateDemoClip handles POST /v1/products/{id}/demo-clips
func (h *Handler) CreateDemoClip(w http.ResponseWriter, r *http.Request) {
	productID, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	if _, err := h.db.GetProduct(r.Context(), productID); err != nil {
		respondError(w, http.StatusNotFound, "Product not found")
		return
	}

	var req models.CreateDemoClipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.URL == "" {
		respondError(w, http.StatusBadRequest, "url is required")
		return
	}
	if req.DurationSeconds <= 0 {
		respondError(w, http.StatusBadRequest, "duration_seconds must be positive")
		return
	}

	clip := &models.DemoClip{
		ID:              uuid.New(),
		ProductID:       productID,
		URL:             req.URL,
		DurationSeconds: req.DurationSeconds,
		Description:     req.Description,
	}
	if err := h.db.CreateDemoClip(r.Context(), clip); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create demo clip")
		return
	}

	respondJSON(w, http.StatusCreated, clip)
}

// ListDemoClips handles GET /v1/products/{id}/demo-clips
func (h *Handler) ListDemoClips(w http.ResponseWriter, r *http.Request) {
	productID, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	clips, err := h.db.ListProductDemoClips(r.Context(), productID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list demo clips")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"demo_clips": clips})
}

// ListReusableClips handles GET /v1/products/{id}/clips
// Query params:
//   - mood: case-insensitive substring match against the clip's mood tag
func (h *Handler) ListReusableClips(w http.ResponseWriter, r *http.Request) {
	productID, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	clips, err := h.db.ListProductReusableClips(r.Context(), productID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list clips")
		return
	}

	clips = worker.FilterClipsByMood(clips, r.URL.Query().Get("mood"))

	respondJSON(w, http.StatusOK, map[string]interface{}{"clips": clips})
}

func parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
