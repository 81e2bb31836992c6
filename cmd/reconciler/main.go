package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/clinic-reservation-engine/internal/app/bootstrap"
	appconfig "github.com/wolfman30/clinic-reservation-engine/internal/config"
	"github.com/wolfman30/clinic-reservation-engine/internal/reconcile"
	"github.com/wolfman30/clinic-reservation-engine/internal/worker/sweep"
	"github.com/wolfman30/clinic-reservation-engine/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("starting reconciler worker",
		"env", cfg.Env,
		"reconcile_interval", cfg.ReconcileInterval,
		"dispatch_sweep_every", cfg.DispatchSweepEvery,
		"complete_sweep_every", cfg.CompleteSweepEvery,
	)

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
	alerts := bootstrap.BuildAlertService(cfg, logger)
	engine.Dispatch.WithAlerter(alerts)

	runner := reconcile.NewRunner(engine.Reconcile, alerts, logger, cfg.ReconcileInterval, cfg.ReconcileDriftThreshold)
	dispatchSweeper := sweep.NewDispatchSweeper(engine.Dispatch, logger).
		WithInterval(cfg.DispatchSweepEvery)
	completionSweeper := sweep.NewCompletionSweeper(engine.SlotLedger, logger).
		WithInterval(cfg.CompleteSweepEvery)

	go func() { _ = runner.Run(ctx) }()
	go dispatchSweeper.Run(ctx)
	go completionSweeper.Run(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("reconciler worker shutting down")
	cancel()
	time.Sleep(2 * time.Second)
}
