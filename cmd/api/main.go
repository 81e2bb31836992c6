package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/clinic-reservation-engine/internal/api/router"
	"github.com/wolfman30/clinic-reservation-engine/internal/app/bootstrap"
	appconfig "github.com/wolfman30/clinic-reservation-engine/internal/config"
	"github.com/wolfman30/clinic-reservation-engine/internal/http/handlers"
	"github.com/wolfman30/clinic-reservation-engine/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting reservation engine API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	pool, err := bootstrap.BuildPgxPool(ctx, cfg)
	if err != nil {
		logger.Error("postgres unavailable", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)

	sheetsClient, err := bootstrap.BuildSheetsClient(cfg, logger)
	if err != nil {
		logger.Error("sheets client", "error", err)
		os.Exit(1)
	}
	chatClient, err := bootstrap.BuildChatClient(cfg, logger)
	if err != nil {
		logger.Error("chat client", "error", err)
		os.Exit(1)
	}

	engine := bootstrap.BuildEngine(cfg, pool, redisClient, sheetsClient, chatClient, logger)

	var intakeInvalidator handlers.Invalidator
	if engine.Cache != nil {
		intakeInvalidator = engine.Cache
	}

	routerCfg := &router.Config{
		Logger:          logger,
		Reservations:    handlers.NewReservationHandler(engine.SlotLedger, logger),
		Identity:        handlers.NewIdentityHandler(engine.Identity, logger),
		Intakes:         handlers.NewIntakeHandler(engine.Intakes, intakeInvalidator, logger),
		Reorders:        handlers.NewReorderHandler(engine.Reorder, logger),
		Reconcile:       handlers.NewReconcileHandler(engine.Reconcile, logger),
		Notifications:   handlers.NewNotificationHandler(engine.Dispatch, logger),
		ChatWebhook:     handlers.NewChatWebhookHandler(chatClient, engine.Identity, engine.Notifications, logger),
		MetricsHandler:  promhttp.HandlerFor(engine.Registry, promhttp.HandlerOpts{}),
		AdminAuthSecret: cfg.AdminJWTSecret,

		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		WebhookRateLimit:   float64(cfg.WebhookRateLimit),
		WebhookRateBurst:   cfg.WebhookRateBurst,
	}
	r := router.New(routerCfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
