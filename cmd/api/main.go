package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/credits"
	"server/internal/http/handlers"
	"server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/infra/identity"
	"server/internal/job"
	"server/internal/providers/genai"
	"server/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		fallback := infra.NewLogger("production")
		fallback.Fatal().Err(err).Msg("load config")
	}

	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	projects := repo.NewProjectRepository(pool)
	users := repo.NewUserRepository(pool)
	ledger := credits.NewLedger(users, logger)

	gateway, err := genai.NewClient(genai.Options{
		APIKey:     cfg.GeminiAPIKey,
		BaseURL:    cfg.GeminiBaseURL,
		ImageModel: cfg.GeminiImageModel,
		VideoModel: cfg.GeminiVideoModel,
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("init generation client")
	}

	artifacts, err := storage.NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseBucket)
	if err != nil {
		logger.Fatal().Err(err).Msg("init artifact store")
	}

	orchestrator := &job.Orchestrator{
		Projects:     projects,
		Ledger:       ledger,
		Gateway:      gateway,
		Artifacts:    artifacts,
		Logger:       logger,
		PollInterval: cfg.VideoPollInterval,
		PollTimeout:  cfg.VideoPollTimeout,
	}

	app := &handlers.App{
		Config:   cfg,
		Logger:   &logger,
		Projects: projects,
		Users:    users,
		Jobs:     orchestrator,
	}

	verifier := identity.NewVerifier(cfg.IdentityIssuer, cfg.IdentityAudience)
	router := httpapi.NewRouter(app, verifier)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("port", cfg.Port).Str("env", cfg.AppEnv).Msg("server starting")
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
