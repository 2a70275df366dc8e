package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"session-gateway/internal/auth/service"
	"session-gateway/internal/config"
	"session-gateway/internal/db"
	"session-gateway/internal/security"
	"session-gateway/internal/server"
	sessionservice "session-gateway/internal/session/service"
	"session-gateway/internal/store"
	"session-gateway/internal/telemetry/otel"
	userrepo "session-gateway/internal/user/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logLevel := slog.LevelInfo
	if cfg.Env == "development" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "session-gateway", false)
	if err != nil {
		logger.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is not set; set it in the environment or a .env file")
		os.Exit(1)
	}
	sqlDB, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	codec, err := security.NewTokenCodecFromPEM(
		cfg.JWTPrivateKey, cfg.JWTPublicKey,
		cfg.JWTIssuer, cfg.JWTAudience,
		cfg.AccessTTL(), cfg.RefreshTTL(),
	)
	if err != nil {
		logger.Error("token codec setup failed", "error", err)
		os.Exit(1)
	}

	st := store.NewPostgres(sqlDB)
	sessions := sessionservice.NewManager(st, codec, cfg.IdleTTL(), cfg.RefreshTTL())
	auth := service.NewAuthService(userrepo.NewPostgresRepository(sqlDB), sessions, security.NewHasher(cfg.BcryptCost))

	sweeper := sessionservice.NewSweeper(st, cfg.IdleTTL(), cfg.SweepInterval(), logger)
	go sweeper.Run(ctx)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.New(auth, sessions, codec, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
	logger.Info("http server stopped")
}
