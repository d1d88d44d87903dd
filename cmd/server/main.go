package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/orderping/orderping/internal/api"
	"github.com/orderping/orderping/internal/auth"
	"github.com/orderping/orderping/internal/circuitbreaker"
	"github.com/orderping/orderping/internal/config"
	"github.com/orderping/orderping/internal/db"
	"github.com/orderping/orderping/internal/dispatch"
	"github.com/orderping/orderping/internal/observ"
	"github.com/orderping/orderping/internal/order"
	"github.com/orderping/orderping/internal/provider/gupshup"
	"github.com/orderping/orderping/internal/redis"
	"github.com/orderping/orderping/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting orderping server",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	ctx := context.Background()

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)

	// Redis is optional: without it the API runs unthrottled and dispatch
	// runs unserialized.
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, rate limiting and dispatch lock disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var rateLimiter *redis.RateLimiter
	var dispatchLock api.RunLock
	if redisClient != nil {
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.RateLimitPerMinute,
			Window: time.Minute,
		})
		dispatchLock = redis.NewJobLock(redisClient, logger, "dispatch", cfg.DispatchClaimTTL)
		defer redisClient.Close()
	}

	whatsapp := gupshup.New(gupshup.Config{
		APIKey:  cfg.GupshupAPIKey,
		BaseURL: cfg.GupshupBaseURL,
		Timeout: cfg.GupshupTimeout,
	}, logger)

	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:            "gupshup",
		MaxFailures:     5,
		RecoveryTimeout: 30 * time.Second,
	}, logger)
	sender := dispatch.NewGuardedSender(whatsapp, breaker, logger)

	dispatcher := dispatch.New(repo, sender, dispatch.Config{
		BatchSize:    cfg.DispatchBatchSize,
		MaxAttempts:  cfg.DispatchMaxAttempts,
		ClaimTTL:     cfg.DispatchClaimTTL,
		SourceNumber: cfg.GupshupSourceNumber,
		PollInterval: cfg.DispatchPollEvery,
	}, logger)

	if cfg.DispatchPollEvery > 0 {
		pollCtx, pollCancel := context.WithCancel(context.Background())
		defer pollCancel()
		go dispatcher.Start(pollCtx)
		logger.Info("in-process dispatch poller started",
			zap.Duration("interval", cfg.DispatchPollEvery),
		)
	}

	orders := order.NewService(repo, logger)
	guard := auth.NewGuard(repo, cfg.JWTSecret, logger)

	handler := api.NewHandler(logger, orders, repo, dispatcher, dispatchLock, database)
	gupshupHook := webhook.NewGupshupHandler(logger, repo)
	razorpayHook := webhook.NewRazorpayHandler(logger, repo, cfg.RazorpayWebhookSecret)

	router := api.NewRouter(logger, handler, gupshupHook, razorpayHook,
		guard.Middleware, api.RateLimitMiddleware(rateLimiter, logger))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

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
	}

	return nil
}
