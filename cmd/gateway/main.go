package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/BetaZoneOnline/fb-sender/internal/api"
	"github.com/BetaZoneOnline/fb-sender/internal/circuitbreaker"
	"github.com/BetaZoneOnline/fb-sender/internal/config"
	"github.com/BetaZoneOnline/fb-sender/internal/db"
	"github.com/BetaZoneOnline/fb-sender/internal/engine"
	"github.com/BetaZoneOnline/fb-sender/internal/metrics"
	"github.com/BetaZoneOnline/fb-sender/internal/observ"
	"github.com/BetaZoneOnline/fb-sender/internal/quota"
	"github.com/BetaZoneOnline/fb-sender/internal/redis"
	"github.com/BetaZoneOnline/fb-sender/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting fb-sender gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	// Initialize database connection
	ctx := context.Background()
	dbConfig := db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	database, err := db.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName),
	)

	// Initialize repository and resolve the operator profile
	repo := db.NewRepository(database, logger)

	profile, err := repo.EnsureDefaultProfile(ctx, db.Profile{
		Timezone:         cfg.Timezone,
		DailyLimit:       cfg.DailyLimit,
		MaxAttempts:      cfg.MaxAttempts,
		RetryBackoffBase: time.Duration(cfg.RetryBackoffSec) * time.Second,
		RetryBackoffCap:  time.Duration(cfg.RetryBackoffCapSec) * time.Second,
		InterUIDDelay:    time.Duration(cfg.InterUIDDelaySec) * time.Second,
		HeartbeatTimeout: time.Duration(cfg.HeartbeatTimeoutSec) * time.Second,
	}, time.Now())
	if err != nil {
		return fmt.Errorf("failed to ensure profile: %w", err)
	}

	logger.Info("operator profile loaded",
		zap.String("profile_id", profile.ID.String()),
		zap.String("timezone", profile.Timezone),
		zap.Int("daily_limit", profile.DailyLimit),
	)

	// Initialize Redis for idempotency and rate limiting
	redisConfig := redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	redisClient, err := redis.New(ctx, redisConfig, logger)
	if err != nil {
		logger.Warn("redis unavailable, idempotency and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var idempotencyService *redis.IdempotencyService
	var rateLimiter *redis.RateLimiter
	if redisClient != nil {
		idempotencyService = redis.NewIdempotencyService(redisClient, logger)
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  100,             // 100 requests
			Window: 1 * time.Minute, // per minute per client
		})
		defer redisClient.Close()
	}

	// Initialize the send worker. Without an agent URL every send is
	// logged and marked successful, which is what local development wants.
	var sendWorker worker.Worker
	var breaker *circuitbreaker.CircuitBreaker
	if cfg.AgentURL != "" {
		agent := worker.NewAgentWorker(worker.AgentConfig{
			BaseURL:        cfg.AgentURL,
			DefaultTimeout: time.Duration(cfg.AgentTimeoutSec) * time.Second,
		}, logger)
		breaker = circuitbreaker.New(circuitbreaker.DefaultConfig("automation-agent"), logger)
		sendWorker = circuitbreaker.NewProtectedWorker(agent, breaker, logger)

		logger.Info("automation agent worker initialized",
			zap.String("agent_url", cfg.AgentURL),
		)
	} else {
		sendWorker = worker.NewLogWorker(logger)
		logger.Warn("no AGENT_URL configured, using log worker")
	}

	messages := worker.NewMessageProvider(nil)
	if cfg.MessagesFile != "" {
		messages, err = worker.LoadMessages(cfg.MessagesFile)
		if err != nil {
			return fmt.Errorf("failed to load message pool: %w", err)
		}
	}

	tracker := quota.NewTracker(repo)
	notifier := engine.NewNotifier()
	defer notifier.Close()

	eng := engine.New(repo, tracker, sendWorker, messages, notifier, profile, logger)

	engineCtx, engineCancel := context.WithCancel(context.Background())
	defer engineCancel()

	engineDone := make(chan error, 1)
	go func() {
		engineDone <- eng.Run(engineCtx)
	}()

	logger.Info("engine loop started")

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	// API routes
	var handler *api.Handler
	if idempotencyService != nil {
		handler = api.NewHandlerWithIdempotency(logger, repo, eng, tracker, notifier, profile.ID, idempotencyService)
	} else {
		handler = api.NewHandler(logger, repo, eng, tracker, notifier, profile.ID)
	}
	if breaker != nil {
		handler.AttachBreaker(breaker)
	}

	r.Route("/v1", func(r chi.Router) {
		// Apply rate limiting to API routes
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.IPKeyFunc))

		r.Post("/uids/import", handler.ImportUIDs)
		r.Get("/uids", handler.ListUIDs)
		r.Get("/uids/export", handler.ExportUIDs)
		r.Get("/uids/{uid}", handler.GetUID)
		r.Get("/uids/{uid}/events", handler.ListUIDEvents)
		r.Post("/uids/{uid}/retry", handler.RetryUID)
		r.Post("/uids/{uid}/fail", handler.FailUID)

		r.Post("/engine/start", handler.StartEngine)
		r.Post("/engine/pause", handler.PauseEngine)
		r.Post("/engine/resume", handler.ResumeEngine)
		r.Post("/engine/stop", handler.StopEngine)
		r.Post("/engine/login", handler.LoginOnly)
		r.Get("/engine/status", handler.EngineStatus)
		r.Get("/engine/stream", handler.StreamEvents)

		r.Get("/quota", handler.QuotaStatus)
		r.Get("/stats", handler.Stats)
		r.Get("/profile", handler.GetProfile)
		r.Put("/profile", handler.UpdateProfile)
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server. No global write timeout: /v1/engine/stream holds
	// its connection open for the life of the dashboard session.
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error. A clean engine exit
	// (operator stop) is not fatal: the dashboard keeps serving reads and
	// answers further commands with 409.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case err := <-engineDone:
		if err != nil {
			return fmt.Errorf("engine error: %w", err)
		}
		logger.Info("engine stopped, dashboard remains available")
		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)
		case sig := <-shutdown:
			logger.Info("shutdown signal received", zap.String("signal", sig.String()))

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				srv.Close()
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}
			logger.Info("server stopped gracefully")
			return nil
		}
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Stop leasing before cutting off HTTP so an in-flight send can
		// commit or release cleanly.
		engineCancel()
		select {
		case <-engineDone:
		case <-time.After(10 * time.Second):
			logger.Warn("engine did not stop in time")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
