package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/notify"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	worker := notify.NewWorker(notify.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
	})

	go func() {
		<-ctx.Done()
		logger.Info("shutting down worker")
		worker.Shutdown()
	}()

	logger.Info("starting notification worker", slog.String("redis", cfg.RedisAddr))
	if err := worker.Run(); err != nil {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
