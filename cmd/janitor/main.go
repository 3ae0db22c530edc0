package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fetchbay/fetchbay/internal/config"
	"github.com/fetchbay/fetchbay/internal/infrastructure/cache"
	"github.com/fetchbay/fetchbay/internal/infrastructure/postgres"
	"github.com/fetchbay/fetchbay/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run performs one maintenance pass: expired sessions are bulk-deleted
// and orphaned per-job work directories past the age threshold removed.
func run() error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	pgClient, err := postgres.NewClient(ctx, postgres.DefaultClientConfig(cfg.Database.DSN()))
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pgClient.Close()

	// Cached session copies expire on their own TTL; only the durable
	// tier needs sweeping.
	sessions := usecase.NewSessionStore(
		postgres.NewSessionRepository(pgClient.Pool()),
		cache.NewMemorySessionCache(),
	)

	count, err := sessions.Sweep(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("session sweep failed: %w", err)
	}
	logger.Info("swept expired sessions", slog.Int64("count", count))

	removed, err := cleanWorkDir(cfg.Pipeline.WorkDir, time.Now().Add(-cfg.Pipeline.WorkDirMaxAge))
	if err != nil {
		return fmt.Errorf("work directory cleanup failed: %w", err)
	}
	logger.Info("removed orphaned work directories", slog.Int("count", removed))

	return nil
}

// cleanWorkDir removes per-job directories last modified before the
// cutoff. Directories still inside the window are presumed in use by a
// running service instance.
func cleanWorkDir(workDir string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(workDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(workDir, entry.Name())); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
