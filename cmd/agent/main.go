// Command agent runs the signage device agent. It keeps the local media
// library in sync with the campaign backend, decides what to play, and serves
// the loopback API the player polls.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/adloop/signage-agent-go/internal/catalog"
	"github.com/adloop/signage-agent-go/internal/config"
	"github.com/adloop/signage-agent-go/internal/downloader"
	"github.com/adloop/signage-agent-go/internal/handler"
	"github.com/adloop/signage-agent-go/internal/kvstore"
	"github.com/adloop/signage-agent-go/internal/middleware"
	"github.com/adloop/signage-agent-go/internal/poller"
	"github.com/adloop/signage-agent-go/internal/remote"
	"github.com/adloop/signage-agent-go/internal/retry"
	"github.com/adloop/signage-agent-go/internal/scheduler"
	"github.com/adloop/signage-agent-go/internal/service"
	"github.com/adloop/signage-agent-go/internal/telemetry"
	"github.com/adloop/signage-agent-go/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 1: open the state store and load the catalog
	store, err := kvstore.Open(ctx, storeConfig(cfg))
	if err != nil {
		logger.Log.Fatal("Failed to open state store", zap.Error(err))
	}
	defer store.Close()

	cat, err := catalog.Open(ctx, store)
	if err != nil {
		logger.Log.Fatal("Failed to load catalog", zap.Error(err))
	}

	logger.Log.Info("Catalog loaded",
		zap.Int("videos", len(cat.Videos())),
		zap.Int("playlists", len(cat.Playlists())),
		zap.String("driver", cfg.Store.Driver),
	)

	// Step 2: build the remote client and download orchestrator
	client := remote.NewClient(&http.Client{Timeout: cfg.Remote.Timeout}, remote.Config{
		BaseURL:       cfg.Remote.BaseURL,
		ManifestPath:  cfg.Remote.ManifestPath,
		ChangelogPath: cfg.Remote.ChangelogPath,
		DevicePath:    cfg.Remote.DevicePath,
		Token:         cfg.Remote.Token,
		Timeout:       cfg.Remote.Timeout,
		Retry:         retryConfig(cfg),
	})

	dl := downloader.NewService(cat, &http.Client{}, downloader.Config{
		MediaDir:     cfg.Download.MediaDir,
		MaxParallel:  cfg.Download.MaxParallel,
		FetchTimeout: cfg.Download.FetchTimeout,
		Retry:        retryConfig(cfg),
	})

	// Step 3: telemetry publisher, optional
	var publisher *telemetry.Publisher
	if cfg.Telemetry.Enabled {
		pub, err := telemetry.NewPublisher(telemetry.Config{
			Host:       cfg.Telemetry.Host,
			Port:       cfg.Telemetry.Port,
			User:       cfg.Telemetry.User,
			Password:   cfg.Telemetry.Password,
			Exchange:   cfg.Telemetry.Exchange,
			Queue:      cfg.Telemetry.Queue,
			BindingKey: cfg.Telemetry.BindingKey,
			DeviceID:   cfg.Device.ID,
		})
		if err != nil {
			logger.Log.Warn("Telemetry publisher unavailable, sync reports will not be published",
				zap.Error(err),
			)
		} else {
			publisher = pub
			defer publisher.Close()
		}
	}

	// Step 4: assemble the sync pipeline
	syncService := service.NewSyncService(client, cat, dl, publisher, cfg.Device.ID)
	sched := scheduler.NewService(cat)
	changePoller := poller.New(client, cat, syncService, cfg.Poll.Interval)

	// Reconcile persisted state with what is actually on disk before the
	// first sync decides what to fetch.
	if err := syncService.VerifyLocal(ctx); err != nil {
		logger.Log.Warn("Local media verification failed", zap.Error(err))
	}
	if err := syncService.RefreshDevice(ctx); err != nil {
		logger.Log.Warn("Device registration refresh failed", zap.Error(err))
	}

	go changePoller.Run(ctx)

	// Step 5: serve the agent API
	router := setupRouter(cfg, store, cat, sched, changePoller, syncService, publisher)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Log.Info("Agent API listening",
			zap.Int("port", cfg.Server.Port),
			zap.String("deviceId", cfg.Device.ID),
		)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal("Server error", zap.Error(err))
		}
	case sig := <-shutdown:
		logger.Log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		// Stop the poller and any in-flight downloads first
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Log.Error("Graceful shutdown failed", zap.Error(err))
			if err := server.Close(); err != nil {
				logger.Log.Error("Failed to close server", zap.Error(err))
			}
			os.Exit(1)
		}

		logger.Log.Info("Agent stopped gracefully")
	}
}

// setupRouter builds the gin engine with all agent routes. The /api/v1 group
// is key-protected only when a key is configured; the probes and /metrics
// stay open for the platform.
func setupRouter(
	cfg *config.Config,
	store kvstore.Store,
	cat *catalog.Catalog,
	sched *scheduler.Service,
	changePoller *poller.Poller,
	syncService *service.SyncService,
	publisher *telemetry.Publisher,
) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	healthHandler := handler.NewHealthHandler(store, publisher)
	statusHandler := handler.NewStatusHandler(cat, changePoller, syncService)
	playlistHandler := handler.NewPlaylistHandler(sched, cat)
	syncHandler := handler.NewSyncHandler(changePoller)

	router.GET("/healthz", healthHandler.ReadinessProbe)
	router.GET("/health/live", healthHandler.LivenessProbe)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	if keys := parseAPIKeys(cfg.Server.APIKey); len(keys) > 0 {
		api.Use(middleware.NewAPIKeyAuth(keys).Middleware())
	}
	{
		api.GET("/status", statusHandler.Status)
		api.GET("/playlist/current", playlistHandler.Current)
		api.GET("/videos", playlistHandler.Videos)
		api.POST("/sync", syncHandler.TriggerSync)
	}

	return router
}

// requestLogger logs completed HTTP requests.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Log.Info("Request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Int64("durationMs", time.Since(start).Milliseconds()),
			zap.String("remoteAddr", c.ClientIP()),
		)
	}
}

// parseAPIKeys parses a comma-separated list of API keys.
// Empty strings and whitespace are trimmed from each key.
func parseAPIKeys(apiKeysEnv string) []string {
	if apiKeysEnv == "" {
		return nil
	}

	parts := strings.Split(apiKeysEnv, ",")
	keys := make([]string, 0, len(parts))

	for _, key := range parts {
		trimmed := strings.TrimSpace(key)
		if trimmed != "" {
			keys = append(keys, trimmed)
		}
	}

	return keys
}

// storeConfig maps the agent configuration onto the store backend config.
func storeConfig(cfg *config.Config) *kvstore.Config {
	pg := kvstore.DefaultPostgresConfig()
	pg.Host = cfg.Store.Postgres.Host
	pg.Port = cfg.Store.Postgres.Port
	pg.User = cfg.Store.Postgres.User
	pg.Password = cfg.Store.Postgres.Password
	pg.Database = cfg.Store.Postgres.Name
	pg.MaxConns = int32(cfg.Store.Postgres.MaxConnections)
	pg.MinConns = int32(cfg.Store.Postgres.MinConnections)
	pg.MaxConnIdleTime = cfg.Store.Postgres.MaxIdleTime
	pg.MaxConnLifetime = cfg.Store.Postgres.MaxLifetime

	return &kvstore.Config{
		Driver:   cfg.Store.Driver,
		Dir:      cfg.Store.Dir,
		Postgres: pg,
	}
}

func retryConfig(cfg *config.Config) retry.Config {
	return retry.Config{
		MaxRetries:     cfg.Retry.MaxRetries,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
		Multiplier:     cfg.Retry.Multiplier,
		JitterFraction: cfg.Retry.JitterFraction,
	}
}
