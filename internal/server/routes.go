package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
	// ArtifactsDir is served under /artifacts/ when set.
	ArtifactsDir string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /models", h.Models)

	mux.HandleFunc("POST /generations", h.CreateGeneration)
	mux.HandleFunc("GET /generations", h.ListGenerations)
	mux.HandleFunc("GET /generations/{id}", h.GetGeneration)
	mux.HandleFunc("POST /generations/{id}/check", h.CheckGeneration)
	mux.HandleFunc("DELETE /generations/{id}", h.DeleteGeneration)
	mux.HandleFunc("POST /generations/bulk-delete", h.BulkDeleteGenerations)

	mux.HandleFunc("POST /webhooks/kling", h.KlingCallback)
	mux.HandleFunc("POST /webhooks/{provider}", h.Webhook)

	mux.HandleFunc("POST /pipelines/construction", h.RunPipeline)
	mux.HandleFunc("GET /pipelines/stages", h.PipelineStages)
	mux.HandleFunc("POST /pipelines/merge", h.MergePipeline)
	mux.HandleFunc("GET /pipelines/{runId}", h.GetPipelineRun)

	if cfg.ArtifactsDir != "" {
		mux.Handle("GET /artifacts/", http.StripPrefix("/artifacts/", http.FileServer(http.Dir(cfg.ArtifactsDir))))
	}

	chain := ChainMiddleware(
		RequestIDMiddleware(),
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
