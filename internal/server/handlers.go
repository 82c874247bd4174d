package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/genstudio-api/internal/generation"
	"github.com/maauso/genstudio-api/internal/job"
	"github.com/maauso/genstudio-api/internal/pipeline"
	"github.com/maauso/genstudio-api/internal/provider"
	"github.com/maauso/genstudio-api/internal/reconciler"
)

// GenerationService is the generation use-case surface used by the handlers.
type GenerationService interface {
	Create(ctx context.Context, in generation.Input) (*job.Job, error)
	Get(ctx context.Context, id string) (*job.Job, error)
	List(ctx context.Context, f job.Filter) ([]*job.Job, error)
	CheckStatus(ctx context.Context, id string) (*job.Job, error)
	Delete(ctx context.Context, id string) error
	BulkDelete(ctx context.Context, ids []string) (generation.BulkDeleteResult, error)
}

// NoticeHandler applies provider completion notices.
type NoticeHandler interface {
	HandleNotice(ctx context.Context, providerName string, n provider.Notice) (*job.Job, error)
}

// PipelineRunner runs construction pipelines and merges.
type PipelineRunner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
	GetRun(ctx context.Context, runID string) (*pipeline.Result, error)
	Merge(ctx context.Context, jobIDs []string) (*pipeline.MergeResult, error)
	StageCatalogue() []pipeline.Stage
	UploadReference(ctx context.Context, data []byte, contentType string) (string, error)
}

// ModelCatalogue lists models and resolves adapters by provider name.
type ModelCatalogue interface {
	Models() []provider.ModelSpec
	Adapter(name string) (provider.Adapter, error)
}

// TaskCounter reports running background tasks.
type TaskCounter interface {
	Running() int64
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	generations    GenerationService
	notices        NoticeHandler
	pipelines      PipelineRunner
	models         ModelCatalogue
	tasks          TaskCounter
	validator      *validator.Validate
	logger         *slog.Logger
	webhookToken   string
	maxUploadBytes int64
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithWebhookToken requires webhook requests to carry the token in the
// X-Webhook-Token header.
func WithWebhookToken(token string) HandlerOption {
	return func(h *Handlers) {
		h.webhookToken = token
	}
}

// WithTaskCounter reports background task counts on /health.
func WithTaskCounter(t TaskCounter) HandlerOption {
	return func(h *Handlers) {
		h.tasks = t
	}
}

// WithMaxUploadBytes caps uploaded reference images.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(generations GenerationService, notices NoticeHandler, pipelines PipelineRunner, models ModelCatalogue, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		generations:    generations,
		notices:        notices,
		pipelines:      pipelines,
		models:         models,
		validator:      validator.New(),
		logger:         logger,
		maxUploadBytes: 20 << 20,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if h.tasks != nil {
		resp.BackgroundTasks = h.tasks.Running()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Models handles GET /models requests.
func (h *Handlers) Models(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ModelsResponse{Models: h.models.Models()})
}

// CreateGeneration handles POST /generations requests.
func (h *Handlers) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	var req CreateGenerationRequest
	if !h.decode(w, r, &req) {
		return
	}

	created, err := h.generations.Create(r.Context(), generation.Input{
		Kind:              provider.Kind(req.Kind),
		Model:             req.ModelName,
		Provider:          req.Provider,
		Prompt:            req.Prompt,
		NegativePrompt:    req.NegativePrompt,
		ImageURL:          req.ImageURL,
		EndFrameURL:       req.EndFrameURL,
		VideoURL:          req.VideoURL,
		CharacterImageURL: req.CharacterImageURL,
		ReferenceImages:   req.ReferenceImages,
		Params: provider.Params{
			Duration:     req.Duration,
			AspectRatio:  req.AspectRatio,
			Resolution:   req.Resolution,
			AudioEnabled: req.AudioEnabled,
			Strength:     req.Strength,
			FrameCount:   req.FrameCount,
		},
		AutoPostTargetID: req.AutoPostTargetID,
	})
	if err != nil {
		if status, code, ok := validationStatus(err); ok {
			writeError(w, status, err.Error(), code)
			return
		}
		h.logger.Error("failed to create generation", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to create generation", "GENERATION_CREATE_FAILED")
		return
	}

	writeJSON(w, http.StatusAccepted, CreateGenerationResponse{
		JobID:  created.ID,
		Status: string(created.Status),
	})
}

// ListGenerations handles GET /generations requests.
func (h *Handlers) ListGenerations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := job.Filter{
		Status: job.Status(q.Get("status")),
		Kind:   provider.Kind(q.Get("kind")),
		RunID:  q.Get("run_id"),
		Limit:  50,
	}
	if f.Status != "" && !f.Status.IsValid() {
		writeError(w, http.StatusBadRequest, "unknown status filter", "INVALID_FILTER")
		return
	}
	if f.Kind != "" && !f.Kind.IsValid() {
		writeError(w, http.StatusBadRequest, "unknown kind filter", "INVALID_FILTER")
		return
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500", "INVALID_FILTER")
			return
		}
		f.Limit = limit
	}

	jobs, err := h.generations.List(r.Context(), f)
	if err != nil {
		h.logger.Error("failed to list generations", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list generations", "GENERATION_LIST_FAILED")
		return
	}

	resp := ListGenerationsResponse{Generations: make([]GenerationResponse, 0, len(jobs)), Count: len(jobs)}
	for _, j := range jobs {
		resp.Generations = append(resp.Generations, newGenerationResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetGeneration handles GET /generations/{id} requests.
func (h *Handlers) GetGeneration(w http.ResponseWriter, r *http.Request) {
	h.respondJob(w, r, h.generations.Get)
}

// CheckGeneration handles POST /generations/{id}/check requests.
func (h *Handlers) CheckGeneration(w http.ResponseWriter, r *http.Request) {
	h.respondJob(w, r, h.generations.CheckStatus)
}

func (h *Handlers) respondJob(w http.ResponseWriter, r *http.Request, load func(context.Context, string) (*job.Job, error)) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	found, err := load(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, newGenerationResponse(found))
}

// DeleteGeneration handles DELETE /generations/{id} requests.
func (h *Handlers) DeleteGeneration(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if err := h.generations.Delete(r.Context(), jobID); err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to delete job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to delete job", "JOB_DELETE_FAILED")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BulkDeleteGenerations handles POST /generations/bulk-delete requests.
func (h *Handlers) BulkDeleteGenerations(w http.ResponseWriter, r *http.Request) {
	var req BulkDeleteRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.generations.BulkDelete(r.Context(), req.IDs)
	if err != nil {
		h.logger.Error("bulk delete failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "bulk delete failed", "JOB_DELETE_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, BulkDeleteResponse{
		Deleted:  nonNil(res.Deleted),
		NotFound: nonNil(res.NotFound),
	})
}

// Webhook handles POST /webhooks/{provider} requests carrying the generic
// notice body.
func (h *Handlers) Webhook(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeWebhook(w, r) {
		return
	}
	providerName := r.PathValue("provider")

	var req WebhookRequest
	if !h.decode(w, r, &req) {
		return
	}

	n := provider.Notice{
		Handle: req.ProviderJobHandle,
		State:  reconciler.ParseState(req.Status),
		Reason: req.Error,
		Artifacts: provider.Artifacts{
			VideoURL:     req.ArtifactURL,
			ImageURL:     req.ArtifactURL,
			ThumbnailURL: req.ThumbnailURL,
		},
	}
	h.applyNotice(w, r, providerName, n)
}

// KlingCallback handles POST /webhooks/kling requests carrying Kling's own
// callback body.
func (h *Handlers) KlingCallback(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeWebhook(w, r) {
		return
	}

	adapter, err := h.models.Adapter(provider.NameKling)
	if err != nil {
		writeError(w, http.StatusNotFound, "kling is not configured", "PROVIDER_NOT_CONFIGURED")
		return
	}
	decoder, ok := adapter.(provider.CallbackDecoder)
	if !ok {
		writeError(w, http.StatusNotFound, "kling callbacks are not supported", "PROVIDER_NOT_CONFIGURED")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body", "INVALID_JSON")
		return
	}
	n, err := decoder.DecodeCallback(body, r.URL.Query())
	if err != nil {
		h.logger.Warn("undecodable kling callback", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_CALLBACK")
		return
	}
	h.applyNotice(w, r, provider.NameKling, n)
}

func (h *Handlers) applyNotice(w http.ResponseWriter, r *http.Request, providerName string, n provider.Notice) {
	j, err := h.notices.HandleNotice(r.Context(), providerName, n)
	if err != nil {
		if errors.Is(err, reconciler.ErrUnknownHandle) {
			writeError(w, http.StatusNotFound, "unknown job handle", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("webhook handling failed",
			slog.String("provider", providerName),
			slog.String("handle", n.Handle),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to apply notice", "WEBHOOK_FAILED")
		return
	}

	h.logger.Info("webhook applied",
		slog.String("provider", providerName),
		slog.String("job_id", j.ID),
		slog.String("status", string(j.Status)),
	)
	writeJSON(w, http.StatusOK, WebhookResponse{Ack: true})
}

func (h *Handlers) authorizeWebhook(w http.ResponseWriter, r *http.Request) bool {
	if h.webhookToken == "" {
		return true
	}
	got := r.Header.Get("X-Webhook-Token")
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookToken)) != 1 {
		writeError(w, http.StatusUnauthorized, "invalid webhook token", "UNAUTHORIZED")
		return false
	}
	return true
}

// RunPipeline handles POST /pipelines/construction requests. The body is
// JSON or a multipart form with an "image" file.
func (h *Handlers) RunPipeline(w http.ResponseWriter, r *http.Request) {
	var req RunPipelineRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if !h.parsePipelineForm(w, r, &req) {
			return
		}
	} else if !h.decode(w, r, &req) {
		return
	}
	if req.ReferenceImageURL == "" {
		writeError(w, http.StatusBadRequest, "reference_image_url or an uploaded image is required", "VALIDATION_ERROR")
		return
	}

	res, err := h.pipelines.Run(r.Context(), pipeline.Request{
		ReferenceImageURL:  req.ReferenceImageURL,
		ImageModel:         req.ModelName,
		VideoModel:         req.VideoModelName,
		AspectRatio:        req.AspectRatio,
		BasePromptOverride: req.BasePromptOverride,
		Intermediates:      req.Intermediates,
	})
	if err != nil {
		if status, code, ok := validationStatus(err); ok {
			writeError(w, status, err.Error(), code)
			return
		}
		h.logger.Error("pipeline failed to start", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "pipeline failed to start", "PIPELINE_FAILED")
		return
	}

	if !res.Succeeded() {
		writeJSON(w, http.StatusMultiStatus, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) parsePipelineForm(w http.ResponseWriter, r *http.Request, req *RunPipelineRequest) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form", "INVALID_FORM")
		return false
	}

	req.ReferenceImageURL = r.FormValue("reference_image_url")
	req.ModelName = r.FormValue("model_name")
	req.VideoModelName = r.FormValue("video_model_name")
	req.AspectRatio = r.FormValue("aspect_ratio")
	req.BasePromptOverride = r.FormValue("base_prompt_override")
	req.Intermediates, _ = strconv.ParseBool(r.FormValue("intermediates"))

	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return true
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid image upload", "INVALID_FORM")
		return false
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read image upload", "INVALID_FORM")
		return false
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		writeError(w, http.StatusBadRequest, "upload is not an image", "INVALID_FORM")
		return false
	}

	url, err := h.pipelines.UploadReference(r.Context(), data, contentType)
	if err != nil {
		h.logger.Error("reference upload failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "failed to store reference image", "UPLOAD_FAILED")
		return false
	}
	req.ReferenceImageURL = url
	return true
}

// PipelineStages handles GET /pipelines/stages requests.
func (h *Handlers) PipelineStages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StagesResponse{
		Preamble: pipeline.Preamble,
		Stages:   h.pipelines.StageCatalogue(),
	})
}

// GetPipelineRun handles GET /pipelines/{runId} requests.
func (h *Handlers) GetPipelineRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runId")
	res, err := h.pipelines.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, pipeline.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "pipeline run not found", "RUN_NOT_FOUND")
			return
		}
		h.logger.Error("failed to load pipeline run",
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load pipeline run", "RUN_FETCH_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// MergePipeline handles POST /pipelines/merge requests.
func (h *Handlers) MergePipeline(w http.ResponseWriter, r *http.Request) {
	var req MergeRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.pipelines.Merge(r.Context(), req.OrderedJobIDs)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, job.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error(), "JOB_NOT_FOUND")
	case errors.Is(err, pipeline.ErrTooFewVideos), errors.Is(err, pipeline.ErrNotMergeable):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), "NOT_MERGEABLE")
	default:
		h.logger.Error("merge failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "merge failed", "MERGE_FAILED")
	}
}

// decode reads and validates a JSON body, writing the error response itself.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}

	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

// validationStatus maps request validation errors to a status and code.
func validationStatus(err error) (int, string, bool) {
	switch {
	case errors.Is(err, provider.ErrUnknownModel):
		return http.StatusBadRequest, "UNKNOWN_MODEL", true
	case errors.Is(err, generation.ErrInvalidKind),
		errors.Is(err, generation.ErrPromptRequired),
		errors.Is(err, generation.ErrInputRequired),
		errors.Is(err, generation.ErrUnsupportedKind),
		errors.Is(err, generation.ErrEndFrameNotAllowed),
		errors.Is(err, pipeline.ErrReferenceRequired):
		return http.StatusBadRequest, "VALIDATION_ERROR", true
	default:
		return 0, "", false
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
