package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/demoflow/demoflow/internal/analytics"
	"github.com/demoflow/demoflow/internal/broadcast"
	"github.com/demoflow/demoflow/internal/config"
	"github.com/demoflow/demoflow/internal/crm"
	"github.com/demoflow/demoflow/internal/dispatch"
	"github.com/demoflow/demoflow/internal/idempotency"
	"github.com/demoflow/demoflow/internal/media"
	"github.com/demoflow/demoflow/internal/server"
	"github.com/demoflow/demoflow/internal/storage/sqlite"
	"github.com/demoflow/demoflow/internal/telemetry"
	"github.com/demoflow/demoflow/internal/webhook"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.InitTracer("demoflow-webhooks", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Webhook.Secret == "" && cfg.Webhook.Token == "" {
		log.Fatal("At least one of webhook.secret or webhook.token must be configured")
	}

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	signingSecret := cfg.Media.SigningSecret
	if signingSecret == "" {
		signingSecret = cfg.Webhook.Secret
	}
	issuer, err := media.NewHMACIssuer(cfg.Media.BaseURL, signingSecret)
	if err != nil {
		log.Fatalf("Failed to create media issuer: %v", err)
	}

	pubsub := broadcast.NewWatermillPubSub()
	defer pubsub.Close()
	broadcaster := broadcast.New(pubsub, logger)

	var syncer crm.Syncer = crm.NopSyncer{}
	if cfg.CRM.URL != "" {
		syncer = crm.NewHTTPSyncer(cfg.CRM.URL, cfg.CRM.APIKey, logger)
	}

	handler := webhook.NewHandler(webhook.Config{
		Secret:      cfg.Webhook.Secret,
		Token:       cfg.Webhook.Token,
		Demos:       store,
		States:      store,
		Guard:       idempotency.New(store, logger),
		Dispatcher:  dispatch.New(store, issuer, broadcaster, logger),
		Broadcaster: broadcaster,
		Recorder:    analytics.New(store, logger),
		CRM:         syncer,
		Logger:      logger,
	})

	srv := server.New(cfg.Server.Port, logger)
	handler.Register(srv.Router)
	srv.Router.Get("/healthz", server.HealthHandler(time.Now()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	case <-sigChan:
		logger.Info("shutdown signal received, stopping server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
