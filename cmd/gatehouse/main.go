package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"

	"github.com/gatehouse-io/gatehouse/pkg/api"
	"github.com/gatehouse-io/gatehouse/pkg/auth"
	"github.com/gatehouse-io/gatehouse/pkg/config"
	"github.com/gatehouse-io/gatehouse/pkg/middleware"
	"github.com/gatehouse-io/gatehouse/pkg/observability"
	"github.com/gatehouse-io/gatehouse/pkg/rbac"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		// Logger level comes from config, so bootstrap errors go to a
		// default-level logger.
		observability.NewLogger(observability.InfoLevel, os.Stderr).WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, os.Stdout)

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Error("Failed to open database")
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		logger.WithError(err).Error("Failed to ping database")
		os.Exit(1)
	}
	if err := rbac.RunMigrations(ctx, db); err != nil {
		logger.WithError(err).Error("Failed to run migrations")
		os.Exit(1)
	}
	logger.Info("Database migrations applied")

	metrics := observability.NewMetrics(nil)
	store := rbac.NewStore(db)
	hasher := auth.NewHasher(cfg.Auth.BcryptCost)
	tokens := auth.NewTokenProvider([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)
	authService := auth.NewService(store, hasher, tokens)
	authn := middleware.NewAuthenticator(store, tokens, logger, metrics)
	authz := middleware.NewAuthorizer(logger, metrics)

	server := api.NewServer(store, authService, hasher, authn, authz, logger, metrics)

	// Expired sessions are rejected at authentication time regardless; the
	// sweep just keeps the table from growing without bound.
	scheduler := cron.New()
	_, err = scheduler.AddFunc("@every "+cfg.Auth.SweepInterval.String(), func() {
		purged, err := store.DeleteExpiredSessions(context.Background())
		if err != nil {
			logger.WithError(err).Error("Session sweep failed")
			return
		}
		if purged > 0 {
			metrics.SessionsPurgedTotal.Add(float64(purged))
			logger.WithField("purged", purged).Info("Expired sessions purged")
		}
	})
	if err != nil {
		logger.WithError(err).Error("Failed to schedule session sweep")
		os.Exit(1)
	}
	scheduler.Start()

	// Health and metrics on a separate listener so probes bypass auth.
	health := observability.NewHealthChecker(db)
	opsMux := http.NewServeMux()
	opsMux.HandleFunc("/healthz", health.Liveness)
	opsMux.HandleFunc("/readyz", health.Readiness)
	opsMux.Handle("/metrics", metrics.Handler())
	opsServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: opsMux,
	}
	go func() {
		logger.WithField("addr", opsServer.Addr).Info("Health/metrics server listening")
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Health/metrics server failed")
		}
	}()

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			stats := db.Stats()
			metrics.DBConnectionsActive.Set(float64(stats.InUse))
			metrics.DBConnectionsIdle.Set(float64(stats.Idle))
		}
	}()

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	go func() {
		logger.WithField("addr", httpServer.Addr).Info("Gatehouse API server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("HTTP server failed")
			os.Exit(1)
		}
	}()

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		stopCtx := scheduler.Stop()
		select {
		case <-stopCtx.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return opsServer.Shutdown(ctx)
	})

	if err := shutdown.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
		os.Exit(1)
	}
}
