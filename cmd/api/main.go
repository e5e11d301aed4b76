package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/ambilfoto/backend/internal/auth"
	"github.com/ambilfoto/backend/internal/config"
	"github.com/ambilfoto/backend/internal/db"
	"github.com/ambilfoto/backend/internal/delivery"
	"github.com/ambilfoto/backend/internal/escrow"
	"github.com/ambilfoto/backend/internal/execution"
	"github.com/ambilfoto/backend/internal/ledger"
	"github.com/ambilfoto/backend/internal/metrics"
	"github.com/ambilfoto/backend/internal/middleware"
	"github.com/ambilfoto/backend/internal/router"
	"github.com/ambilfoto/backend/internal/withdrawal"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running and DATABASE_URL is correct", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	// Application schema
	applied, err := db.NewMigrator(pool, logger).Up(ctx)
	if err != nil {
		slog.Error("Schema migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Schema migrations applied", "count", applied)

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	m := metrics.New()

	// Ledger
	ledgerSvc := ledger.NewService(ledger.NewRepository(pool))

	// Notifications: insert func is set after River client is created (breaks init cycle)
	var insertMu sync.Mutex
	var insertFn execution.EnqueueNotifyFunc
	enqueueNotify := func(ctx context.Context, tx pgx.Tx, args execution.NotifyArgs) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, tx, args)
	}

	escrowSvc := escrow.NewService(pool, escrow.NewRepository(pool), delivery.NewRepository(pool), ledgerSvc, enqueueNotify, m, escrow.Config{
		UploadWindow:       cfg.Escrow.UploadWindow,
		ConfirmationWindow: cfg.Escrow.ConfirmationWindow,
		MaxRevisions:       cfg.Escrow.MaxRevisions,
		PlatformFeePercent: cfg.Escrow.PlatformFeePercent,
	}, logger)
	withdrawalSvc := withdrawal.NewService(pool, withdrawal.NewRepository(pool), ledgerSvc, enqueueNotify, m, withdrawal.Config{
		Minimum:   cfg.Withdrawal.Minimum,
		SLAWindow: cfg.Withdrawal.SLAWindow,
	}, logger)

	workers := river.NewWorkers()
	river.AddWorker(workers, execution.NewNotifyWorker(cfg.Notify.WebhookURL, logger))
	river.AddWorker(workers, execution.NewAutoReleaseWorker(escrowSvc, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.Notify.Workers},
		},
		Workers:      workers,
		PeriodicJobs: []*river.PeriodicJob{execution.AutoReleasePeriodicJob(cfg.Escrow.AutoReleaseInterval)},
		Logger:       logger,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, tx pgx.Tx, args execution.NotifyArgs) error {
		_, err := riverClient.InsertTx(ctx, tx, args, nil)
		return err
	}
	insertMu.Unlock()

	// HTTP
	validator, err := delivery.NewValidator()
	if err != nil {
		slog.Error("Upload schema failed to compile", "error", err)
		os.Exit(1)
	}
	authSvc := auth.NewService(auth.NewRepository(pool), cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	limiter := middleware.NewRateLimiter(middleware.RateLimit{
		RequestsPerMinute: cfg.Server.RateLimitPerMinute,
		Burst:             cfg.Server.RateLimitBurst,
		TrustedProxies:    cfg.Server.TrustedProxies,
	})

	apiV1Router := router.New(router.Handlers{
		Auth:       auth.NewHandler(authSvc, logger),
		Escrow:     escrow.NewHandler(escrowSvc, validator, logger),
		Withdrawal: withdrawal.NewHandler(withdrawalSvc, logger),
	}, middleware.ServiceToken(authSvc, cfg.Auth.ServiceToken), limiter)

	mux := http.NewServeMux()
	registerRoutes(mux, apiV1Router, pool, m)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(m.Middleware(mux))

	// Start River client (delivers notifications, runs the auto-release sweep)
	if err := riverClient.Start(ctx); err != nil {
		slog.Error("River client failed to start", "error", err)
		os.Exit(1)
	}

	go sweepLimiter(ctx, limiter, 5*time.Minute)

	serverAddr := "0.0.0.0:" + cfg.Server.Port
	srv := &http.Server{
		Addr:              serverAddr,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP shutdown failed", "error", err)
		}
		if err := riverClient.Stop(shutdownCtx); err != nil {
			slog.Error("River stop failed", "error", err)
		}
	}()

	slog.Info("Starting HTTP server", "addr", serverAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}

func sweepLimiter(ctx context.Context, limiter *middleware.RateLimiter, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := limiter.Sweep(); n > 0 {
				slog.Debug("rate limiter buckets dropped", "count", n)
			}
		}
	}
}
