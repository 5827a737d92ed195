package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/trampoja/trampoja-api/internal/config"
	"github.com/trampoja/trampoja-api/internal/domain"
	"github.com/trampoja/trampoja-api/internal/handler"
	"github.com/trampoja/trampoja-api/internal/infra/cache"
	"github.com/trampoja/trampoja-api/internal/infra/observability"
	"github.com/trampoja/trampoja-api/internal/infra/onesignal"
	"github.com/trampoja/trampoja-api/internal/infra/resilience"
	"github.com/trampoja/trampoja-api/internal/infra/supabase"
	"github.com/trampoja/trampoja-api/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("profile_cache_ttl", cfg.ProfileCacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Bool("push_configured", cfg.OneSignalAppID != ""),
	)

	if cfg.SupabaseURL == "" {
		logger.Fatal("SUPABASE_URL is required")
	}

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "trampoja-api")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	cb := resilience.NewCircuitBreaker("supabase")

	// --- Clients ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	supabaseClient := supabase.NewClient(
		httpClient,
		cfg.SupabaseURL,
		cfg.SupabaseAnonKey,
		cfg.SupabaseServiceKey,
		cb,
		resilienceCfg,
		logger,
	)
	sessions := supabase.NewGoTrue(httpClient, cfg.SupabaseURL, cfg.SupabaseAnonKey, logger)
	profiles := supabase.NewProfileStore(supabaseClient)
	notifications := supabase.NewPushStore(supabaseClient)
	jobStore := supabase.NewJobStore(supabaseClient)

	pushClient := onesignal.New(httpClient, cfg.OneSignalAppID, cfg.OneSignalAPIKey, logger)

	// --- Services ---
	profileCache := cache.New[*domain.ResolvedProfile](cfg.ProfileCacheTTL)
	resolver := service.NewProfileResolver(profiles, profileCache, metrics, logger)

	manager := service.NewSessionManager(sessions, resolver, metrics, logger)
	if err := manager.Start(context.Background()); err != nil {
		logger.Fatal("session manager failed to start", zap.Error(err))
	}
	defer manager.Close()

	lifecycle := service.NewNotificationLifecycle(pushClient, metrics, logger)
	lifecycle.Init(context.Background())
	defer lifecycle.Close()
	lifecycle.Sync(context.Background(), manager.Snapshot())

	delivery := service.NewPushDelivery(notifications, pushClient, metrics, logger)
	jobsSvc := service.NewJobsService(jobStore, delivery, metrics, logger)

	// --- Notification change feed ---
	// Surfaces freshly inserted notification rows to push listeners, the
	// way the PWA consumed the realtime channel.
	feedCtx, stopFeed := context.WithCancel(context.Background())
	defer stopFeed()
	feed := supabase.NewChangeFeed(supabaseClient, "notifications", "", cfg.FeedPollInterval, metrics, logger)
	rows, err := feed.Subscribe(feedCtx)
	if err != nil {
		logger.Fatal("notification feed failed to start", zap.Error(err))
	}
	defer feed.Stop()
	go func() {
		for raw := range rows {
			var n domain.Notification
			if err := json.Unmarshal(raw, &n); err != nil {
				logger.Warn("notification feed: bad row", zap.Error(err))
				continue
			}
			pushClient.EmitReceived(domain.PushEvent{
				NotificationID: n.ID,
				Title:          n.Title,
				Body:           n.Body,
				URL:            n.URL,
			})
		}
	}()

	// --- Router ---
	router := handler.NewRouter(handler.Deps{
		Manager:       manager,
		Resolver:      resolver,
		Lifecycle:     lifecycle,
		Delivery:      delivery,
		Jobs:          jobsSvc,
		Sessions:      sessions,
		Notifications: notifications,
		Metrics:       metrics,
		Config:        cfg,
		Logger:        logger,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
