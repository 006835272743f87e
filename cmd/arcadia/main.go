package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/arcadia-sis/arcadia-sis/internal/admissions"
	"github.com/arcadia-sis/arcadia-sis/internal/app"
	"github.com/arcadia-sis/arcadia-sis/internal/auth"
	"github.com/arcadia-sis/arcadia-sis/internal/authz"
	"github.com/arcadia-sis/arcadia-sis/internal/billing"
	"github.com/arcadia-sis/arcadia-sis/internal/housing"
	"github.com/arcadia-sis/arcadia-sis/internal/notify"
	"github.com/arcadia-sis/arcadia-sis/internal/observability"
	"github.com/arcadia-sis/arcadia-sis/internal/platform/cache"
	"github.com/arcadia-sis/arcadia-sis/internal/platform/db"
	"github.com/arcadia-sis/arcadia-sis/internal/shared"
	"github.com/arcadia-sis/arcadia-sis/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "arcadia_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	queueClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()
	dispatcher := notify.NewAsynqDispatcher(queueClient.Asynq(), jobs.QueueDefault)

	authzService := authz.NewService(pool)
	authzMiddleware := authz.Middleware{Service: authzService, Logger: logger}

	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo)
	authHandler := auth.NewHandler(logger, authService, sessionManager, csrfManager)

	housingRepo := housing.NewRepository(pool)

	billingRepo := billing.NewRepository(pool)
	billingService := billing.NewService(billing.ServiceConfig{
		Repo:        billingRepo,
		Assignments: housingRepo,
		Notifier:    dispatcher,
		Audit:       auditLogger,
		Idempotency: idempotencyStore,
		Logger:      logger,
		BaseURL:     cfg.BaseURL,
	})
	billingHandler := billing.NewHandler(logger, billingService, authzMiddleware)

	housingService := housing.NewService(housing.ServiceConfig{
		Repo:     housingRepo,
		Biller:   billingService,
		Notifier: dispatcher,
		Audit:    auditLogger,
		Logger:   logger,
	})
	housingHandler := housing.NewHandler(logger, housingService, authzMiddleware)

	admissionsRepo := admissions.NewRepository(pool)
	admissionsService := admissions.NewService(admissions.ServiceConfig{
		Repo:     admissionsRepo,
		Invoices: billingService,
		Notifier: dispatcher,
		Audit:    auditLogger,
		Logger:   logger,
	})
	admissionsHandler := admissions.NewHandler(logger, admissionsService, authzMiddleware)

	metrics := observability.NewMetrics()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		SessionManager:    sessionManager,
		CSRFManager:       csrfManager,
		AuthzMiddleware:   authzMiddleware,
		AuthHandler:       authHandler,
		AdmissionsHandler: admissionsHandler,
		HousingHandler:    housingHandler,
		BillingHandler:    billingHandler,
		JobHandler:        jobHandler,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("server exit", slog.Any("error", err))
		os.Exit(1)
	}
}
