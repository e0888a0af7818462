package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/credit"
	"github.com/meridian-erp/meridian-erp/internal/crm"
	"github.com/meridian-erp/meridian-erp/internal/notify"
	"github.com/meridian-erp/meridian-erp/internal/payments"
	"github.com/meridian-erp/meridian-erp/internal/platform/cache"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/proformas"
	"github.com/meridian-erp/meridian-erp/internal/quotations"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// activePIResolver adapts the proforma service to the ledger's resolver
// interface: an absent active PI is a nil id, not an error.
type activePIResolver struct {
	service *proformas.Service
}

func (r activePIResolver) ActivePIID(ctx context.Context, quotationID int64) (*int64, error) {
	pi, err := r.service.GetActivePI(ctx, quotationID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pi.ID, nil
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	approvalRecorder := shared.NewApprovalRecorder(pool, logger)
	notifier := notify.NewAsynqNotifier(asynqClient, logger)
	summaryCache := cache.NewCache(redisClient, cfg.SummaryCacheTTL)

	leadRepo := crm.NewRepository(pool)

	quotationRepo := quotations.NewRepository(pool)
	quotationService := quotations.NewService(quotationRepo, leadRepo, approvalRecorder, auditLogger, notifier, logger)
	quotationHandler := quotations.NewHandler(logger, quotationService, approvalRecorder)

	proformaRepo := proformas.NewRepository(pool)
	proformaService := proformas.NewService(proformaRepo, quotationService, approvalRecorder, auditLogger, notifier, logger)
	proformaHandler := proformas.NewHandler(logger, proformaService)

	creditRepo := credit.NewRepository(pool)
	creditService := credit.NewService(creditRepo)

	paymentRepo := payments.NewRepository(pool)
	paymentService := payments.NewService(paymentRepo, activePIResolver{service: proformaService}, summaryCache, auditLogger, notifier, logger)
	paymentHandler := payments.NewHandler(logger, paymentService, creditService)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Pool:             pool,
		QuotationHandler: quotationHandler,
		ProformaHandler:  proformaHandler,
		PaymentHandler:   paymentHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
