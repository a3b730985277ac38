// Package server builds the archiver's collaborators from config and runs them.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapter-archiver/internal/api"
	"github.com/JakeFAU/chapter-archiver/internal/archive"
	"github.com/JakeFAU/chapter-archiver/internal/archiver"
	"github.com/JakeFAU/chapter-archiver/internal/backoff"
	"github.com/JakeFAU/chapter-archiver/internal/cancel"
	"github.com/JakeFAU/chapter-archiver/internal/clock/system"
	"github.com/JakeFAU/chapter-archiver/internal/config"
	collyfetcher "github.com/JakeFAU/chapter-archiver/internal/fetcher/colly"
	"github.com/JakeFAU/chapter-archiver/internal/id/uuid"
	"github.com/JakeFAU/chapter-archiver/internal/pipeline"
	"github.com/JakeFAU/chapter-archiver/internal/policy/ratelimit"
	"github.com/JakeFAU/chapter-archiver/internal/policy/retry"
	"github.com/JakeFAU/chapter-archiver/internal/policy/simple"
	"github.com/JakeFAU/chapter-archiver/internal/progress"
	progresssinks "github.com/JakeFAU/chapter-archiver/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/chapter-archiver/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/chapter-archiver/internal/queue/memory"
	"github.com/JakeFAU/chapter-archiver/internal/sources"
	gcsstorage "github.com/JakeFAU/chapter-archiver/internal/storage/gcs"
	localstorage "github.com/JakeFAU/chapter-archiver/internal/storage/local"
	memoryStorage "github.com/JakeFAU/chapter-archiver/internal/storage/memory"
	pgstore "github.com/JakeFAU/chapter-archiver/internal/storage/postgres"
	"github.com/JakeFAU/chapter-archiver/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg          *config.Config
	logger       *zap.Logger
	registerer   prometheus.Registerer
	apiServer    *api.Server
	pipeline     *pipeline.Pipeline
	sources      *sources.Registry
	progressHub  *progress.Hub
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	storage      *storage.Client
	redis        *redis.Client
	jobStore     *pgstore.JobStore
}

// NewApp creates an App shell; Build fills in its collaborators.
func NewApp(cfg *config.Config, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("creating application",
		zap.Int("server_port", cfg.Server.Port),
		zap.Int("workers", cfg.Pipeline.Workers),
		zap.String("delivery_sink", cfg.Delivery.Sink),
		zap.String("cancel_backend", cfg.Cancel.Backend),
		zap.String("store_backend", cfg.Store.Backend),
	)
	return &App{cfg: cfg, logger: logger, registerer: prometheus.DefaultRegisterer}
}

// Pipeline exposes the job pipeline.
func (a *App) Pipeline() *pipeline.Pipeline {
	return a.pipeline
}

// Sources exposes the content source registry.
func (a *App) Sources() *sources.Registry {
	return a.sources
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Build creates the application's dependencies. On error the partially built
// App has already been closed.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := NewApp(cfg, logger)
	if err := app.build(ctx); err != nil {
		_ = app.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	a.logger.Info("building application dependencies")
	var err error

	a.sources, err = BuildSources(a.cfg, a.logger)
	if err != nil {
		return err
	}
	sink, err := setupSink(ctx, a)
	if err != nil {
		return err
	}
	cancels, err := setupCancels(ctx, a)
	if err != nil {
		return err
	}
	jobStore, err := setupJobStore(ctx, a)
	if err != nil {
		return err
	}
	reporter, err := setupProgress(ctx, a)
	if err != nil {
		return err
	}

	clock := system.New()
	a.pipeline, err = pipeline.New(pipeline.Config{
		Workers: a.cfg.Pipeline.Workers,
		Worker: worker.Config{
			MaxConcurrentFetches: a.cfg.Pipeline.MaxConcurrentFetches,
			ChapterOrder:         a.cfg.ChapterOrder(),
			ChapterDelay:         a.cfg.Pipeline.ChapterDelay,
			PagePad:              a.cfg.Archive.PagePad,
			FlatSingleChapter:    a.cfg.Pipeline.FlatSingleChapter,
			DefaultExtension:     a.cfg.Archive.Extension,
			FileExtension:        a.cfg.Archive.FileExtension,
		},
	}, pipeline.Deps{
		Queue:    queueMemory.NewQueue(),
		Cancels:  cancels,
		JobStore: jobStore,
		IDs:      uuid.New(),
		Clock:    clock,
		Fetcher:  setupFetcher(a),
		Builder: archive.NewBuilder(archive.Config{
			Backing:           a.cfg.ArchiveBacking(),
			SpoolDir:          a.cfg.Archive.SpoolDir,
			MemoryMaxChapters: a.cfg.Archive.MemoryMaxChapters,
		}, a.logger),
		Sink: sink,
		Sender: backoff.New(backoff.Config{
			FloodMargin:      a.cfg.Delivery.FloodMargin,
			TransientDelay:   a.cfg.Delivery.TransientDelay,
			TransientRetries: a.cfg.Delivery.TransientRetries,
			CancelPoll:       a.cfg.Delivery.CancelPoll,
		}, clock, a.logger.Named("delivery")),
		Reporter: reporter,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("pipeline init failed: %w", err)
	}

	a.apiServer = api.NewServer(a.pipeline, a.sources, *a.cfg, a.logger.Named("api"))
	return nil
}

// Run serves the API and the pipeline until ctx ends or a signal arrives,
// then drains queued jobs within the configured shutdown timeout.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
	defer abort()
	pipelineDone := make(chan error, 1)
	go func() {
		pipelineDone <- a.pipeline.Run(runCtx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := a.pipeline.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("pipeline drain incomplete, aborting workers", zap.Error(err))
		abort()
	}
	if err := <-pipelineDone; err != nil {
		a.logger.Error("pipeline run error", zap.Error(err))
	}
	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

//nolint:gocognit // Shutdown logic is linear but extensive, ignoring complexity check
func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.jobStore != nil {
		a.jobStore.Close()
	}
}

// BuildSources registers the enabled content sources in lookup order:
// MangaDex, MangaFlix, then configured HTML sites.
func BuildSources(cfg *config.Config, logger *zap.Logger) (*sources.Registry, error) {
	client := &http.Client{Timeout: cfg.FetchTimeout()}
	var list []archiver.ContentSource
	if cfg.Sources.MangaDex.Enabled {
		list = append(list, sources.NewMangaDex(sources.MangaDexConfig{
			BaseURL:   cfg.Sources.MangaDex.BaseURL,
			Language:  cfg.Sources.MangaDex.Language,
			UserAgent: cfg.Fetch.UserAgent,
			DataSaver: cfg.Sources.MangaDex.DataSaver,
		}, client))
	}
	if cfg.Sources.MangaFlix.Enabled {
		list = append(list, sources.NewMangaFlix(sources.MangaFlixConfig{
			BaseURL:   cfg.Sources.MangaFlix.BaseURL,
			Language:  cfg.Sources.MangaFlix.Language,
			UserAgent: cfg.Fetch.UserAgent,
		}, client))
	}
	for _, site := range cfg.Sources.HTML {
		src, err := sources.NewHTML(sources.HTMLConfig{
			Name:          site.Name,
			BaseURL:       site.BaseURL,
			SearchPath:    site.SearchPath,
			SearchItem:    site.SearchItem,
			SearchLink:    site.SearchLink,
			TitleSelector: site.TitleSelector,
			ChapterLink:   site.ChapterLink,
			PageImage:     site.PageImage,
			UserAgent:     cfg.Fetch.UserAgent,
			NewestFirst:   site.NewestFirst,
		}, client)
		if err != nil {
			return nil, fmt.Errorf("html source init failed: %w", err)
		}
		list = append(list, src)
	}
	registry, err := sources.NewRegistry(logger, list...)
	if err != nil {
		return nil, fmt.Errorf("source registry init failed: %w", err)
	}
	logger.Info("content sources registered", zap.Strings("sources", registry.Names()))
	return registry, nil
}

func setupFetcher(app *App) archiver.Fetcher {
	policy := retry.New(retry.Config{
		MaxAttempts: app.cfg.Fetch.MaxAttempts,
		BaseDelay:   time.Duration(app.cfg.Fetch.BackoffInitialMs) * time.Millisecond,
		MaxDelay:    time.Duration(app.cfg.Fetch.BackoffMaxMs) * time.Millisecond,
	})
	var limiter collyfetcher.HostLimiter
	if app.cfg.Fetch.PerHostRPS > 0 {
		limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   app.cfg.Fetch.PerHostRPS,
			DefaultBurst: app.cfg.Fetch.PerHostBurst,
		})
		app.logger.Info("per-host rate limiter enabled",
			zap.Float64("rps", app.cfg.Fetch.PerHostRPS),
			zap.Int("burst", app.cfg.Fetch.PerHostBurst),
		)
	} else {
		limiter = simple.New()
		app.logger.Info("per-host rate limiter disabled, using simple policy")
	}
	app.logger.Info("using colly page fetcher", zap.String("user_agent", app.cfg.Fetch.UserAgent))
	return collyfetcher.New(collyfetcher.Config{
		UserAgent:       app.cfg.Fetch.UserAgent,
		Timeout:         app.cfg.FetchTimeout(),
		RequireImage:    app.cfg.Fetch.RequireImage,
		MaxBodyBytes:    app.cfg.Fetch.MaxBodyBytes,
		MaxConnsPerHost: app.cfg.Fetch.MaxConnsPerHost,
		Headers:         app.cfg.Fetch.Headers,
	}, policy, limiter, app.logger.Named("fetcher"))
}

func setupSink(ctx context.Context, app *App) (archiver.OutputSink, error) {
	switch app.cfg.Delivery.Sink {
	case "gcs":
		app.logger.Info("using GCS delivery sink")
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		sink, err := gcsstorage.New(app.storage, gcsstorage.Config{
			Bucket: app.cfg.Delivery.GCSBucket,
			Prefix: app.cfg.Delivery.GCSPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs sink init failed: %w", err)
		}
		app.logger.Debug("GCS delivery sink", zap.String("bucket", app.cfg.Delivery.GCSBucket))
		return sink, nil
	case "local":
		app.logger.Info("using local delivery sink")
		sink, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Delivery.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local sink init failed: %w", err)
		}
		app.logger.Debug("local delivery sink", zap.String("path", app.cfg.Delivery.LocalDir))
		return sink, nil
	default:
		app.logger.Info("using in-memory delivery sink")
		return memoryStorage.NewSink(), nil
	}
}

func setupCancels(ctx context.Context, app *App) (archiver.CancelRegistry, error) {
	if app.cfg.Cancel.Backend != "redis" {
		app.logger.Info("using in-memory cancel registry")
		return cancel.NewRegistry(), nil
	}
	var err error
	app.redis, err = cancel.NewRedisClient(ctx, cancel.RedisConfig{
		Addr:     app.cfg.Cancel.RedisAddr,
		Password: app.cfg.Cancel.RedisPassword,
		DB:       app.cfg.Cancel.RedisDB,
	})
	if err != nil {
		return nil, fmt.Errorf("redis cancel registry init failed: %w", err)
	}
	app.logger.Info("using redis cancel registry", zap.String("addr", app.cfg.Cancel.RedisAddr))
	return cancel.NewRedisRegistry(app.redis, app.cfg.Cancel.RedisPrefix, app.cfg.Cancel.FlagTTL), nil
}

func setupJobStore(ctx context.Context, app *App) (archiver.JobStore, error) {
	if app.cfg.Store.Backend != "postgres" {
		app.logger.Warn("using in-memory job store, job history is lost on restart")
		return memoryStorage.NewJobStore(), nil
	}
	var err error
	app.jobStore, err = pgstore.NewJobStore(ctx, pgstore.Config{
		DSN:      app.cfg.Store.DSN,
		Table:    app.cfg.Store.Table,
		MaxConns: app.cfg.Store.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("job store init failed: %w", err)
	}
	if err := app.jobStore.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("job store schema failed: %w", err)
	}
	app.logger.Info("postgres job store initialized", zap.String("table", app.cfg.Store.Table))
	return app.jobStore, nil
}

func setupProgress(ctx context.Context, app *App) (progress.Reporter, error) {
	var sinkList []progress.Sink
	if app.cfg.Progress.LogEvents {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
		app.logger.Debug("added progress log sink")
	}
	promSink, err := progresssinks.NewPrometheusSink(app.registerer)
	if err != nil {
		return nil, fmt.Errorf("progress metrics sink init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)

	if app.cfg.PubSub.Enabled {
		app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		app.publisher = gcppublisher.New(app.pubsubClient, app.cfg.PubSub.TopicName)
		pubSink, err := progresssinks.NewPublisherSink(app.publisher, app.cfg.PubSub.TopicName,
			app.logger.Named("progress_publish"))
		if err != nil {
			return nil, fmt.Errorf("progress publisher sink init failed: %w", err)
		}
		sinkList = append(sinkList, pubSink)
		app.logger.Info("Pub/Sub status notifications enabled",
			zap.String("project", app.cfg.PubSub.ProjectID),
			zap.String("topic", app.cfg.PubSub.TopicName),
		)
	}

	hubCfg := progress.Config{
		BufferSize:     app.cfg.Progress.Buffer,
		MaxBatchEvents: app.cfg.Progress.MaxBatch,
		MaxBatchWait:   app.cfg.Progress.MaxBatchWait,
		SinkTimeout:    app.cfg.Progress.SinkTimeout,
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Duration("min_interval", app.cfg.Progress.MinInterval),
	)
	return progress.NewThrottle(app.progressHub, app.cfg.Progress.MinInterval, nil), nil
}
