package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/gorm/logger"

	"github.com/civicwatch/civicwatch/internal/config"
	"github.com/civicwatch/civicwatch/internal/database"
	"github.com/civicwatch/civicwatch/internal/deduplication"
	"github.com/civicwatch/civicwatch/internal/embedding"
	"github.com/civicwatch/civicwatch/internal/handlers"
	"github.com/civicwatch/civicwatch/internal/jobs"
	"github.com/civicwatch/civicwatch/internal/logging"
	"github.com/civicwatch/civicwatch/internal/merging"
	"github.com/civicwatch/civicwatch/internal/middleware"
	"github.com/civicwatch/civicwatch/internal/services"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Load .env file if it exists (ignore error if file doesn't exist)
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Env, cfg.LogLevel)
	if envErr != nil {
		slog.Debug("no .env file loaded", "error", envErr)
	}
	slog.Info("starting civicwatch", "version", version, "env", cfg.Env)

	if err := run(cfg); err != nil {
		slog.Error("civicwatch exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	if cfg.SQLitePath != "" {
		if err := database.OpenSQLite(cfg.SQLitePath, logger.Warn); err != nil {
			return err
		}
	} else if err := database.Connect(cfg.DatabaseURL, logger.Warn); err != nil {
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Warn("failed to close database", "error", err)
		}
	}()

	if err := database.AutoMigrate(); err != nil {
		return err
	}
	if err := database.InitializeDefaults(); err != nil {
		return err
	}
	db := database.GetDB()

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}
	httpHandler := handlers.NewHTTPHandler(version, cfg.DetectionEnabled())
	httpHandler.AddCheck("database", handlers.PingFunc(sqlDB.PingContext))

	slog.Info("duplicate detection policy", "config", cfg.Dedup.String())

	// The detector stays a nil interface when detection is off; a typed nil
	// pointer would look configured to the suggestion service.
	var detector merging.DuplicateDetector
	if cfg.DetectionEnabled() {
		cache, closeCache, err := newEmbeddingCache(cfg, httpHandler)
		if err != nil {
			return err
		}
		defer closeCache()

		client := embedding.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
		provider := embedding.NewProvider(client, cache, cfg.EmbeddingConfig())
		d, err := deduplication.NewDetector(deduplication.NewCandidateRetriever(db, cfg.Dedup), provider, cfg.Dedup)
		if err != nil {
			return fmt.Errorf("failed to create duplicate detector: %w", err)
		}
		detector = d
		slog.Info("duplicate detection enabled", "text_model", cfg.EmbeddingModel, "vision_model", cfg.VisionModel)
	} else {
		slog.Warn("OPENAI_API_KEY is not set, duplicate detection is disabled")
	}

	engine := merging.NewEngine(db)
	suggestionService := merging.NewSuggestionService(db, engine, detector)
	incidentService := services.NewIncidentService(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher := jobs.NewDetectionDispatcher(db, suggestionService, cfg.DispatcherWorkers, cfg.DispatcherQueueSize)
	if detector != nil {
		dispatcher.Start(ctx)
		incidentService.SetCreationHook(dispatcher)
	}

	stop := make(chan struct{})
	if detector != nil {
		go jobs.NewRescanJob(db, incidentService, suggestionService).Start(stop)
	}
	go jobs.NewSuggestionSweeper(db, suggestionService).Start(stop)

	apiHandler := handlers.NewAPIHandler(db, incidentService, suggestionService, engine, detector)

	mux := http.NewServeMux()
	httpHandler.SetupRoutes(mux)
	apiHandler.SetupRoutes(mux)

	corsMiddleware := middleware.NewCORSMiddleware(cfg.CORSOrigins...)
	handler := middleware.RequestIDMiddleware(middleware.AccessLogMiddleware(corsMiddleware.Wrap(mux)))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting HTTP server", "port", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal, cleaning up", "signal", sig.String())
	case err := <-serverErr:
		runErr = fmt.Errorf("HTTP server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("error shutting down HTTP server", "error", err)
	}

	close(stop)
	dispatcher.Stop()

	slog.Info("shutdown complete")
	return runErr
}

// newEmbeddingCache returns Redis when REDIS_URL is set and an in-process cache otherwise.
func newEmbeddingCache(cfg *config.Config, health *handlers.HTTPHandler) (embedding.Cache, func(), error) {
	if cfg.RedisURL == "" {
		cache := embedding.NewMemoryCache(10 * time.Minute)
		slog.Info("embedding cache: in-memory")
		return cache, cache.Stop, nil
	}

	cache, err := embedding.NewRedisCacheFromURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to configure redis cache: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cache.Ping(pingCtx); err != nil {
		// the provider treats cache errors as misses, so keep going
		slog.Warn("redis embedding cache unreachable at startup", "error", err)
	}
	health.AddCheck("embedding_cache", cache)
	slog.Info("embedding cache: redis")

	closeFn := func() {
		if err := cache.Close(); err != nil {
			slog.Warn("failed to close redis cache", "error", err)
		}
	}
	return cache, closeFn, nil
}
