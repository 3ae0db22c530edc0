package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/fetchbay/fetchbay/internal/admission"
	"github.com/fetchbay/fetchbay/internal/api/handler"
	"github.com/fetchbay/fetchbay/internal/api/middleware"
	"github.com/fetchbay/fetchbay/internal/config"
	"github.com/fetchbay/fetchbay/internal/dedup"
	"github.com/fetchbay/fetchbay/internal/fetcher"
	"github.com/fetchbay/fetchbay/internal/infrastructure/cache"
	"github.com/fetchbay/fetchbay/internal/infrastructure/delivery"
	"github.com/fetchbay/fetchbay/internal/infrastructure/events"
	"github.com/fetchbay/fetchbay/internal/infrastructure/postgres"
	"github.com/fetchbay/fetchbay/internal/infrastructure/storage"
	"github.com/fetchbay/fetchbay/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// In-flight tasks do not survive a restart, so leftover per-job
	// directories are partial artifacts and must go.
	if err := resetWorkDir(cfg.Pipeline.WorkDir); err != nil {
		return fmt.Errorf("failed to reset work directory: %w", err)
	}

	pgClient, err := postgres.NewClient(ctx, postgres.DefaultClientConfig(cfg.Database.DSN()))
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pgClient.Close()
	logger.Info("connected to PostgreSQL")

	storageClient, err := storage.NewClient(ctx, storage.ClientConfig{
		Endpoint:       cfg.Archive.Endpoint,
		PublicEndpoint: cfg.Archive.PublicEndpoint,
		AccessKey:      cfg.Archive.AccessKey,
		SecretKey:      cfg.Archive.SecretKey,
		Bucket:         cfg.Archive.Bucket,
		UseSSL:         cfg.Archive.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to archive storage: %w", err)
	}
	logger.Info("connected to archive storage")

	eventsClient, err := events.NewClient(ctx, events.DefaultClientConfig(cfg.Events.URL()))
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer eventsClient.Close()
	logger.Info("connected to RabbitMQ")

	sessionCache, closeCache, err := newSessionCache(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer closeCache()

	sessions := usecase.NewSessionStore(postgres.NewSessionRepository(pgClient.Pool()), sessionCache)
	results := usecase.NewResultCache(postgres.NewCacheRepository(pgClient.Pool()))
	channel := delivery.NewChannel(storageClient, eventsClient, cfg.Archive.URLExpiry)

	ytdlp := fetcher.NewYtDlp(fetcher.YtDlpConfig{
		BinaryPath: cfg.Fetcher.BinaryPath,
		CookieFile: cfg.Fetcher.CookieFile,
	})
	prober := fetcher.NewProber(fetcher.ProbeConfig{
		FFmpegPath:  cfg.Fetcher.FFmpegPath,
		FFprobePath: cfg.Fetcher.FFprobePath,
	})

	orch := usecase.NewOrchestrator(
		ytdlp,
		prober,
		sessions,
		results,
		admission.New(admission.Config{
			MaxParallel: cfg.Pipeline.MaxParallel,
			MaxQueued:   cfg.Pipeline.MaxQueued,
		}),
		dedup.NewTracker(),
		channel,
		usecase.NewJobRegistry(),
		usecase.OrchestratorConfig{WorkDir: cfg.Pipeline.WorkDir},
	)

	r := setupRouter(logger, handler.NewPipelineHandler(orch, results))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting server", slog.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return runSweeper(gctx, logger, sessions, cfg.Pipeline.SweepInterval)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("server stopped")
	return nil
}

func setupRouter(logger *slog.Logger, pipeline *handler.PipelineHandler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))

	r.Get("/health", handler.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/resolve", pipeline.Resolve)
		r.Post("/downloads", pipeline.StartDownload)
		r.Get("/jobs/{id}", pipeline.GetJob)
		r.Get("/cache/stats", pipeline.CacheStats)
	})

	return r
}

// newSessionCache selects the Redis session cache when enabled, falling
// back to the in-memory implementation otherwise.
func newSessionCache(ctx context.Context, cfg config.RedisConfig) (cache.SessionCache, func(), error) {
	if !cfg.Enabled {
		slog.Info("redis disabled, using in-memory session cache")
		return cache.NewMemorySessionCache(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	slog.Info("connected to Redis")

	return cache.NewRedisSessionCache(client), func() { client.Close() }, nil
}

func resetWorkDir(workDir string) error {
	entries, err := os.ReadDir(workDir)
	if os.IsNotExist(err) {
		return os.MkdirAll(workDir, 0o755)
	}
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(workDir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// runSweeper periodically bulk-deletes expired sessions.
func runSweeper(ctx context.Context, logger *slog.Logger, sessions usecase.SessionStore, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			count, err := sessions.Sweep(ctx, time.Now().UTC())
			if err != nil {
				logger.Error("session sweep failed", slog.String("error", err.Error()))
				continue
			}
			if count > 0 {
				logger.Info("swept expired sessions", slog.Int64("count", count))
			}
		}
	}
}
