package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"server/internal/cache"
	"server/internal/http/handlers"
	"server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/jobs"
	"server/internal/providers/visual"
	"server/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dataPath := cfg.DataPath
	if !filepath.IsAbs(dataPath) {
		if abs, err := filepath.Abs(dataPath); err == nil {
			dataPath = abs
		}
	}

	index, err := cache.NewIndex(filepath.Join(dataPath, "cache"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure cache index")
	}
	assets, err := store.NewAssetStore(filepath.Join(dataPath, "assets"), index)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure asset store")
	}

	// The filesystem is the durability boundary: load the sidecar index, then
	// reconcile it against a scan of current-marked files so a lost or stale
	// index heals itself.
	if err := index.Load(); err != nil {
		logger.Warn().Err(err).Msg("cache index load failed, rebuilding from scan")
	}
	scanned, err := assets.ScanCurrent()
	if err != nil {
		logger.Fatal().Err(err).Msg("asset scan failed")
	}
	added, dropped := index.Reconcile(scanned)
	logger.Info().
		Int("indexed", index.Len()).
		Int("recovered", added).
		Int("dropped", dropped).
		Msg("cache index ready")

	if cfg.CleanupOnStart {
		removed, err := assets.CleanupHistorical("")
		if err != nil {
			logger.Warn().Err(err).Msg("historical asset cleanup failed")
		} else if removed > 0 {
			logger.Info().Int("removed", removed).Msg("historical assets cleaned up")
		}
	}

	generator := visual.NewGeminiClient(visual.Options{
		APIKey:     cfg.GeminiAPIKey,
		BaseURL:    cfg.GeminiBaseURL,
		ImageModel: cfg.ImageModel,
		VideoModel: cfg.VideoModel,
		HTTPClient: &http.Client{Timeout: cfg.VideoTimeout},
		Logger:     &logger,
	})
	if !generator.Configured() {
		logger.Warn().Msg("gemini api key missing, using synthetic asset generation")
	}

	registry := jobs.NewRegistry()
	queue := jobs.NewQueue()
	pool := jobs.NewPool(jobs.PoolConfig{
		Workers:      cfg.WorkerCount,
		ImageTimeout: cfg.ImageTimeout,
		VideoTimeout: cfg.VideoTimeout,
		MaxRetries:   cfg.ProviderMaxRetries,
	}, queue, registry, index, assets, generator, logger)

	poolDone := make(chan error, 1)
	go func() { poolDone <- pool.Run(ctx) }()

	app := handlers.NewApp(cfg, logger, registry, pool, index, assets)
	router := httpapi.NewRouter(app)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("port", cfg.Port).Int("workers", cfg.WorkerCount).Msg("api listening")
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if err := <-poolDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker pool stopped with error")
	}
	logger.Info().Msg("server stopped")
}
