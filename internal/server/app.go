// Package server initializes and runs the coldkeeper server: database,
// migrations, object store, workflow engine with instance resumption, and
// the HTTP API with graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sethvargo/go-retry"

	"github.com/dzintars-a/coldkeeper/internal/logging"
	"github.com/dzintars-a/coldkeeper/internal/server/api"
	"github.com/dzintars-a/coldkeeper/internal/server/audit"
	"github.com/dzintars-a/coldkeeper/internal/server/blobstore"
	"github.com/dzintars-a/coldkeeper/internal/server/config"
	"github.com/dzintars-a/coldkeeper/internal/server/docstore"
	"github.com/dzintars-a/coldkeeper/internal/server/notify"
	"github.com/dzintars-a/coldkeeper/internal/server/repositories/repomanager"
	"github.com/dzintars-a/coldkeeper/internal/server/repositories/workflowstore"
	"github.com/dzintars-a/coldkeeper/internal/server/services"
	"github.com/dzintars-a/coldkeeper/internal/server/workflows"
	"github.com/dzintars-a/coldkeeper/internal/workflow"
)

// shutdownTimeout bounds graceful HTTP and engine shutdown.
const shutdownTimeout = 30 * time.Second

type App struct {
	config  *config.Config
	logger  logging.Logger
	slogger *slog.Logger

	db      *sql.DB
	engine  *workflow.Engine
	handler http.Handler
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(slogger)

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	// The database may still be coming up alongside us; ping with backoff
	// before running migrations.
	backoff := retry.WithMaxRetries(5, retry.NewExponential(1*time.Second))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	blobs, err := blobstore.NewS3Store(ctx, blobstore.Options{
		Region:       cfg.S3Region,
		AccessKey:    cfg.S3AccessKey,
		SecretKey:    cfg.S3SecretKey,
		Bucket:       cfg.S3Bucket,
		BaseEndpoint: cfg.S3BaseEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("blob store init error: %w", err)
	}

	docs := docstore.NewHTTPClient(cfg.DocStoreBaseURL, cfg.WebhookTimeout)
	sender := notify.NewWebhookSender(cfg.WebhookURL, cfg.WebhookTimeout)
	auditSink := audit.NewPostgresSink(db, logger)

	engine := workflow.NewEngine(workflowstore.NewPostgresStore(db), logger,
		workflow.WithMetrics(workflow.NewMetrics(prometheus.DefaultRegisterer)))

	evaluation := services.NewEvaluationService(db, rm, cfg, logger)
	acts := workflows.NewActivities(db, rm, evaluation, blobs, docs, sender, auditSink, logger)
	workflows.Register(engine, workflows.New(workflows.DefaultParams()), acts)

	handlers := api.NewHandlers(
		services.NewArchiveService(engine, logger),
		services.NewRetrievalService(db, rm, engine, logger),
		services.NewVetoService(db, rm, auditSink, evaluation, logger),
		services.NewApprovalService(engine, logger),
		services.NewRuleService(db, rm, auditSink, evaluation, logger),
		services.NewSettingsService(db, rm, auditSink, logger),
		evaluation,
		services.NewSyncService(db, rm, docs, logger),
		logger,
	)

	return &App{
		config:  cfg,
		logger:  logger,
		slogger: slogger,
		db:      db,
		engine:  engine,
		handler: api.NewRouter(handlers, slogger),
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "addr", app.config.EndpointAddrHTTP)

	app.initSignalHandler(cancelFunc)

	// Pick interrupted workflow instances back up before serving traffic.
	if err := app.engine.Resume(ctx); err != nil {
		return fmt.Errorf("resume workflows: %w", err)
	}

	srv := &http.Server{
		Addr:    app.config.EndpointAddrHTTP,
		Handler: app.handler,
	}

	errCh := make(chan error, 1)
	go func() {
		err := srv.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		app.logger.Info(context.Background(), "Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			cancelFunc()
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.logger.Error(shutdownCtx, "http shutdown error", "error", err.Error())
	}
	if err := app.engine.Shutdown(shutdownCtx); err != nil {
		app.logger.Error(shutdownCtx, "engine shutdown error", "error", err.Error())
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error(shutdownCtx, "db close error", "error", err.Error())
	}

	app.logger.Info(context.Background(), "Server stopped")
	return nil
}
