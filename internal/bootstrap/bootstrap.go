// Package bootstrap provides dependency initialization for the GenStudio API.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/maauso/genstudio-api/internal/config"
	"github.com/maauso/genstudio-api/internal/gemini"
	"github.com/maauso/genstudio-api/internal/generation"
	"github.com/maauso/genstudio-api/internal/googleai"
	"github.com/maauso/genstudio-api/internal/job"
	"github.com/maauso/genstudio-api/internal/kling"
	"github.com/maauso/genstudio-api/internal/materializer"
	"github.com/maauso/genstudio-api/internal/media"
	"github.com/maauso/genstudio-api/internal/observability"
	"github.com/maauso/genstudio-api/internal/pipeline"
	"github.com/maauso/genstudio-api/internal/provider"
	"github.com/maauso/genstudio-api/internal/reconciler"
	"github.com/maauso/genstudio-api/internal/server"
	"github.com/maauso/genstudio-api/internal/storage"
	"github.com/maauso/genstudio-api/internal/submission"
	"github.com/maauso/genstudio-api/internal/task"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Router     http.Handler
	Service    *generation.Service
	Reconciler *reconciler.Reconciler
	Scheduler  *reconciler.Scheduler
	Supervisor *task.Supervisor

	closers []func() error
}

// Close releases database and client connections.
func (d *Dependencies) Close() error {
	var errs []error
	for _, c := range d.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{}
	tel := observability.New()

	repo, closeDB, err := initRepository(ctx, cfg, tel.Tracer())
	if err != nil {
		return nil, err
	}
	deps.closers = append(deps.closers, closeDB)

	local, durable, err := initStorage(cfg, logger)
	if err != nil {
		_ = deps.Close()
		return nil, err
	}

	registry, closeClients, err := initProviders(ctx, cfg, logger)
	if err != nil {
		_ = deps.Close()
		return nil, err
	}
	deps.closers = append(deps.closers, closeClients...)

	processor := media.NewFFmpegProcessor("")
	supervisor := task.NewSupervisor(logger)

	matOpts := []materializer.Option{
		materializer.WithLogger(logger),
		materializer.WithTracer(tel.Tracer()),
	}
	if durable != storage.Storage(local) {
		matOpts = append(matOpts, materializer.WithFallback(local))
	}
	mat := materializer.New(durable, processor, matOpts...)

	rec := reconciler.New(repo, registry, mat,
		reconciler.WithLogger(logger),
		reconciler.WithTelemetry(tel),
		reconciler.WithSupervisor(supervisor),
		reconciler.WithBatchSize(cfg.ReconcileBatchSize),
		reconciler.WithMaxAge(cfg.JobMaxAge),
		reconciler.WithFailureThreshold(cfg.PollFailureThreshold),
	)

	svcOpts := []generation.Option{
		generation.WithLogger(logger),
		generation.WithTelemetry(tel),
		generation.WithSupervisor(supervisor),
		generation.WithPacer(submission.NewController(
			submission.WithMaxActive(cfg.MaxActiveVideoJobs),
			submission.WithSpacing(cfg.SubmissionSpacing),
			submission.WithRetry(cfg.RateLimitMaxRetries, submission.DefaultInitialBackoff, submission.DefaultMaxBackoff),
			submission.WithLogger(logger),
			submission.WithMetrics(tel.Metrics()),
		)),
	}
	if cfg.ReconcilerEnabled {
		sched, err := reconciler.NewScheduler(rec, cfg.ReconcileSchedule, reconciler.WithSchedulerLogger(logger))
		if err != nil {
			_ = deps.Close()
			return nil, fmt.Errorf("create reconcile scheduler: %w", err)
		}
		deps.Scheduler = sched
		svcOpts = append(svcOpts, generation.WithSweeps(sched))
	}

	svc := generation.NewService(repo, registry, rec, mat, svcOpts...)

	orchestrator := pipeline.New(svc, repo, mat, durable, processor,
		pipeline.WithLogger(logger),
		pipeline.WithTracer(tel.Tracer()),
	)

	handlers := server.NewHandlers(svc, rec, orchestrator, registry, logger,
		server.WithWebhookToken(cfg.WebhookToken),
		server.WithTaskCounter(supervisor),
	)
	// The fallback store writes here even with S3 configured.
	routerCfg := server.DefaultConfig()
	routerCfg.ArtifactsDir = local.ArtifactsDir()

	deps.Router = server.NewRouter(handlers, logger, routerCfg)
	deps.Service = svc
	deps.Reconciler = rec
	deps.Supervisor = supervisor
	return deps, nil
}

// initRepository opens the job database and migrates its schema.
func initRepository(ctx context.Context, cfg *config.Config, tracer *observability.Tracer) (job.Repository, func() error, error) {
	var dialector gorm.Dialector
	switch cfg.DatabaseDriver {
	case config.DriverPostgres:
		dialector = postgres.Open(cfg.DatabaseURL)
	default:
		dialector = sqlite.Open(cfg.DatabaseURL)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, nil, fmt.Errorf("open %s database: %w", cfg.DatabaseDriver, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("get database handle: %w", err)
	}
	if cfg.DatabaseDriver == config.DriverSQLite {
		// sqlite serializes writers; one connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := observability.RegisterGORMCallbacks(db, tracer); err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("register database tracing: %w", err)
	}

	repo := job.NewGormRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("migrate job schema: %w", err)
	}
	return repo, sqlDB.Close, nil
}

// initStorage returns the local store and the store durable artifacts go to.
// They are the same store unless S3 is configured.
func initStorage(cfg *config.Config, logger *slog.Logger) (*storage.LocalStorage, storage.Storage, error) {
	var localOpts []storage.LocalOption
	if cfg.PublicBaseURL != "" {
		localOpts = append(localOpts, storage.WithPublicBaseURL(strings.TrimRight(cfg.PublicBaseURL, "/")+storage.DefaultPublicPath))
	}
	local, err := storage.NewLocalStorage(cfg.TempDir, localOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create local storage: %w", err)
	}

	if !cfg.S3Enabled() {
		logger.Info("local storage configured",
			slog.String("temp_dir", cfg.TempDir),
			slog.String("artifacts_dir", local.ArtifactsDir()),
		)
		return local, local, nil
	}

	s3Store, err := storage.NewS3Storage(cfg.TempDir, storage.S3Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		PublicBaseURL:   cfg.S3PublicBaseURL,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create S3 storage: %w", err)
	}
	logger.Info("S3 storage configured",
		slog.String("bucket", cfg.S3Bucket),
		slog.String("region", cfg.S3Region),
	)
	return local, s3Store, nil
}

// initProviders registers an adapter for every provider with credentials.
func initProviders(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*provider.Registry, []func() error, error) {
	registry := provider.NewRegistry()
	encoder := provider.NewMediaEncoder(provider.NewHTTPFetcher(nil), false)
	var closers []func() error

	if cfg.KlingEnabled() {
		var opts []kling.ClientOption
		if cfg.KlingBaseURL != "" {
			opts = append(opts, kling.WithBaseURL(cfg.KlingBaseURL))
		}
		client, err := kling.NewClient(cfg.KlingAccessKey, cfg.KlingSecretKey, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("create Kling client: %w", err)
		}
		var callbackURL string
		if cfg.PublicBaseURL != "" {
			callbackURL = strings.TrimRight(cfg.PublicBaseURL, "/") + "/webhooks/kling"
		}
		if err := registry.Register(provider.NewKlingAdapter(client, encoder, callbackURL)); err != nil {
			return nil, nil, err
		}
		logger.Info("provider configured",
			slog.String("provider", provider.NameKling),
			slog.Bool("callbacks", callbackURL != ""),
		)
	}

	if cfg.GoogleEnabled() {
		var opts []googleai.ClientOption
		if cfg.GoogleBaseURL != "" {
			opts = append(opts, googleai.WithBaseURL(cfg.GoogleBaseURL))
		}
		client, err := googleai.NewClient(cfg.GoogleAPIKey, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("create Google AI client: %w", err)
		}
		if err := registry.Register(provider.NewVeoAdapter(client, encoder)); err != nil {
			return nil, nil, err
		}
		if err := registry.Register(provider.NewImagenAdapter(client)); err != nil {
			return nil, nil, err
		}

		geminiClient, err := gemini.NewClient(ctx, cfg.GoogleAPIKey, "")
		if err != nil {
			return nil, nil, fmt.Errorf("create Gemini client: %w", err)
		}
		closers = append(closers, geminiClient.Close)
		if err := registry.Register(provider.NewGeminiAdapter(geminiClient, encoder)); err != nil {
			_ = geminiClient.Close()
			return nil, nil, err
		}
		logger.Info("provider configured",
			slog.String("provider", "google"),
			slog.Int("models", len(registry.Models())),
		)
	}

	return registry, closers, nil
}
