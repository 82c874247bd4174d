// Package server provides the HTTP server for the GenStudio API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/maauso/genstudio-api/internal/job"
	"github.com/maauso/genstudio-api/internal/pipeline"
	"github.com/maauso/genstudio-api/internal/provider"
)

// CreateGenerationRequest is the HTTP request body for creating a generation.
type CreateGenerationRequest struct {
	Kind              string   `json:"kind" validate:"required"`
	Prompt            string   `json:"prompt" validate:"max=4000"`
	NegativePrompt    string   `json:"negative_prompt,omitempty" validate:"max=2000"`
	ModelName         string   `json:"model_name,omitempty"`
	Provider          string   `json:"provider,omitempty"`
	ImageURL          string   `json:"image_url,omitempty" validate:"omitempty,url"`
	EndFrameURL       string   `json:"end_frame_url,omitempty" validate:"omitempty,url"`
	VideoURL          string   `json:"video_url,omitempty" validate:"omitempty,url"`
	CharacterImageURL string   `json:"character_image_url,omitempty" validate:"omitempty,url"`
	ReferenceImages   []string `json:"reference_images,omitempty" validate:"max=8,dive,url"`
	Duration          string   `json:"duration,omitempty"`
	AspectRatio       string   `json:"aspect_ratio,omitempty"`
	Resolution        string   `json:"resolution,omitempty"`
	AudioEnabled      bool     `json:"audio_enabled"`
	// Strength is the image-to-image transformation strength.
	Strength         *float64 `json:"strength,omitempty" validate:"omitempty,gte=0,lte=1"`
	FrameCount       int      `json:"frame_count,omitempty" validate:"min=0"`
	AutoPostTargetID string   `json:"auto_post_target_id,omitempty"`
}

// CreateGenerationResponse is returned after a generation was accepted.
type CreateGenerationResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// GenerationResponse is the full job record.
type GenerationResponse struct {
	ID                string   `json:"id"`
	Kind              string   `json:"kind"`
	Provider          string   `json:"provider"`
	Model             string   `json:"model"`
	Status            string   `json:"status"`
	Prompt            string   `json:"prompt,omitempty"`
	ImageURL          string   `json:"input_image_url,omitempty"`
	EndFrameURL       string   `json:"end_frame_url,omitempty"`
	VideoInputURL     string   `json:"input_video_url,omitempty"`
	CharacterImageURL string   `json:"character_image_url,omitempty"`
	ReferenceImages   []string `json:"reference_images,omitempty"`
	Duration          string   `json:"duration,omitempty"`
	AspectRatio       string   `json:"aspect_ratio,omitempty"`
	Resolution        string   `json:"resolution,omitempty"`
	ProviderJobHandle string   `json:"provider_job_handle,omitempty"`

	VideoURL     string `json:"video_url,omitempty"`
	OutputImage  string `json:"image_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`

	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	RunID            string `json:"run_id,omitempty"`
	StageOrder       int    `json:"stage_order,omitempty"`
	StageName        string `json:"stage_name,omitempty"`
	AutoPostTargetID string `json:"auto_post_target_id,omitempty"`
	AutoPostStatus   string `json:"auto_post_status,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func newGenerationResponse(j *job.Job) GenerationResponse {
	resp := GenerationResponse{
		ID:                j.ID,
		Kind:              string(j.Kind),
		Provider:          j.Provider,
		Model:             j.Model,
		Status:            string(j.Status),
		Prompt:            j.Prompt,
		ImageURL:          j.InputImageURL,
		EndFrameURL:       j.EndFrameURL,
		VideoInputURL:     j.InputVideoURL,
		CharacterImageURL: j.CharacterImageURL,
		ReferenceImages:   j.ReferenceImages,
		Duration:          j.Params.Duration,
		AspectRatio:       j.Params.AspectRatio,
		Resolution:        j.Params.Resolution,
		ProviderJobHandle: j.Handle(),
		VideoURL:          j.VideoURL,
		OutputImage:       j.ImageURL,
		ThumbnailURL:      j.ThumbnailURL,
		ErrorCode:         string(j.ErrorCode),
		ErrorMessage:      j.ErrorMessage,
		StageOrder:        j.StageOrder,
		StageName:         j.StageName,
		AutoPostStatus:    j.AutoPostStatus,
		CreatedAt:         j.CreatedAt,
		UpdatedAt:         j.UpdatedAt,
		CompletedAt:       j.CompletedAt,
	}
	if j.RunID != nil {
		resp.RunID = *j.RunID
	}
	if j.AutoPostTargetID != nil {
		resp.AutoPostTargetID = *j.AutoPostTargetID
	}
	return resp
}

// ListGenerationsResponse wraps a job listing.
type ListGenerationsResponse struct {
	Generations []GenerationResponse `json:"generations"`
	Count       int                  `json:"count"`
}

// BulkDeleteRequest names jobs to delete.
type BulkDeleteRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,max=100,dive,required"`
}

// BulkDeleteResponse reports a bulk delete.
type BulkDeleteResponse struct {
	Deleted  []string `json:"deleted"`
	NotFound []string `json:"not_found"`
}

// WebhookRequest is the generic provider completion notice.
type WebhookRequest struct {
	ProviderJobHandle string `json:"provider_job_handle" validate:"required"`
	Status            string `json:"status" validate:"required"`
	ArtifactURL       string `json:"artifact_url,omitempty" validate:"omitempty,url"`
	ThumbnailURL      string `json:"thumbnail_url,omitempty" validate:"omitempty,url"`
	Error             string `json:"error,omitempty"`
}

// WebhookResponse acknowledges a notice.
type WebhookResponse struct {
	Ack bool `json:"ack"`
}

// RunPipelineRequest starts a construction pipeline. It is also accepted as
// multipart form fields next to an uploaded reference image.
type RunPipelineRequest struct {
	ReferenceImageURL  string `json:"reference_image_url" validate:"omitempty,url"`
	ModelName          string `json:"model_name,omitempty"`
	VideoModelName     string `json:"video_model_name,omitempty"`
	AspectRatio        string `json:"aspect_ratio,omitempty"`
	BasePromptOverride string `json:"base_prompt_override,omitempty" validate:"max=4000"`
	Intermediates      bool   `json:"intermediates"`
}

// StagesResponse lists the construction stages.
type StagesResponse struct {
	Preamble string           `json:"preamble"`
	Stages   []pipeline.Stage `json:"stages"`
}

// MergeRequest lists finished jobs whose videos are stitched in order.
type MergeRequest struct {
	OrderedJobIDs []string `json:"ordered_job_ids" validate:"required,min=2,max=50,dive,required"`
}

// ModelsResponse lists the registered models.
type ModelsResponse struct {
	Models []provider.ModelSpec `json:"models"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
	// BackgroundTasks is the number of supervised tasks still running.
	BackgroundTasks int64 `json:"background_tasks"`
}
