package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/arcadia-sis/arcadia-sis/internal/app"
	"github.com/arcadia-sis/arcadia-sis/internal/billing"
	"github.com/arcadia-sis/arcadia-sis/internal/housing"
	"github.com/arcadia-sis/arcadia-sis/internal/notify"
	"github.com/arcadia-sis/arcadia-sis/internal/platform/db"
	"github.com/arcadia-sis/arcadia-sis/internal/shared"
	"github.com/arcadia-sis/arcadia-sis/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	_ = godotenv.Load()

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
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	housingRepo := housing.NewRepository(pool)
	billingRepo := billing.NewRepository(pool)
	billingService := billing.NewService(billing.ServiceConfig{
		Repo:        billingRepo,
		Assignments: housingRepo,
		Notifier:    notify.LogDispatcher{Logger: logger},
		Audit:       auditLogger,
		Idempotency: idempotencyStore,
		Logger:      logger,
		BaseURL:     cfg.BaseURL,
	})

	emailJob := jobs.NewEmailJob(pool, cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, logger)
	rentJob := jobs.NewRentInvoicesJob(billingService, logger)
	repairJob := jobs.NewPaymentRepairJob(pool, logger)
	cleanupJob := jobs.NewIdempotencyCleanupJob(idempotencyStore, logger)

	rentTask, err := jobs.NewRentInvoicesTask(0, 0)
	if err != nil {
		logger.Error("build rent task", slog.Any("error", err))
		os.Exit(1)
	}
	repairTask, err := jobs.NewPaymentRepairTask()
	if err != nil {
		logger.Error("build repair task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask()
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: notify.TaskTypeEmail, Handler: emailJob.Handle},
			{Type: jobs.TaskRentInvoices, Handler: rentJob.Handle},
			{Type: jobs.TaskPaymentRepair, Handler: repairJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 6 1 * *", Task: rentTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 2 * * *", Task: repairTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
