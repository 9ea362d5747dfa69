package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	appalloc "github.com/erp/costalloc/internal/application/allocation"
	appingest "github.com/erp/costalloc/internal/application/ingest"
	"github.com/erp/costalloc/internal/domain/allocation"
	"github.com/erp/costalloc/internal/domain/ingest"
	"github.com/erp/costalloc/internal/infrastructure/cache"
	"github.com/erp/costalloc/internal/infrastructure/config"
	jsonimport "github.com/erp/costalloc/internal/infrastructure/import"
	"github.com/erp/costalloc/internal/infrastructure/lock"
	"github.com/erp/costalloc/internal/infrastructure/logger"
	"github.com/erp/costalloc/internal/infrastructure/messaging"
	"github.com/erp/costalloc/internal/infrastructure/persistence"
	"github.com/erp/costalloc/internal/infrastructure/scheduler"
	"github.com/erp/costalloc/internal/infrastructure/telemetry"
	"github.com/erp/costalloc/internal/interfaces/http/handler"
	"github.com/erp/costalloc/internal/interfaces/http/middleware"
	"github.com/erp/costalloc/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

//	@title			costalloc API
//	@version		1.0
//	@description	Warehouse batch ingestion and expense allocation
//	@BasePath		/api/v1

// shutdownTimeout bounds the graceful shutdown of every component
const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	if err := run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "costalloc:", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logCfg := logger.FromAppConfig(cfg.Log)
	log, err := logger.New(logCfg)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}

	// Telemetry providers are no-ops when disabled
	serviceName := cfg.Telemetry.ServiceName
	collector := telemetry.Collector{
		Endpoint:    cfg.Telemetry.CollectorEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: serviceName,
	}
	logProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Collector: collector,
		Enabled:   cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled,
	}, log)
	if err != nil {
		return fmt.Errorf("initialize log export: %w", err)
	}
	if logProvider.IsEnabled() {
		log, err = logger.New(logCfg, logProvider.ZapCore(logger.ParseLevel(cfg.Log.Level)))
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting costalloc",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.Int("port", cfg.HTTP.Port),
	)

	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.TracingConfig{
		Collector:     collector,
		Enabled:       cfg.Telemetry.Enabled,
		SamplingRatio: cfg.Telemetry.SamplingRatio,
	}, log)
	if err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Collector:      collector,
		Enabled:        cfg.Telemetry.Enabled && cfg.Telemetry.MetricsEnabled,
		ExportInterval: cfg.Telemetry.MetricsInterval,
	}, log)
	if err != nil {
		return fmt.Errorf("initialize metrics: %w", err)
	}
	defer shutdownTelemetry(log, logProvider, tracerProvider, meterProvider)

	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, log, cfg.Telemetry.DBSlowQueryThresh)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	tracingPlugin := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
		Enabled:         tracerProvider.IsEnabled(),
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
		DBSystem:        "postgresql",
	}, log)
	if err := tracingPlugin.Register(db.DB); err != nil {
		return fmt.Errorf("register database tracing: %w", err)
	}

	var allocMetrics *telemetry.AllocationMetrics
	if meterProvider.IsEnabled() {
		meter := meterProvider.Meter("costalloc")
		if allocMetrics, err = telemetry.NewAllocationMetrics(meter); err != nil {
			return fmt.Errorf("create allocation metrics: %w", err)
		}
		sqlDB, err := db.DB.DB()
		if err != nil {
			return err
		}
		dbMetrics, err := telemetry.NewDBMetrics(meter, sqlDB, cfg.Telemetry.DBSlowQueryThresh)
		if err != nil {
			return fmt.Errorf("create database metrics: %w", err)
		}
		if err := dbMetrics.Register(db.DB); err != nil {
			return fmt.Errorf("register database metrics: %w", err)
		}
		defer func() { _ = dbMetrics.Stop() }()
	}

	// Ingestion
	registry, err := ingest.DefaultRegistry()
	if err != nil {
		return fmt.Errorf("build entity registry: %w", err)
	}
	ingestionService := appingest.NewIngestionService(
		registry,
		persistence.NewGormIngestTransactionScope(db.DB, cfg.Allocation.BatchSize),
		log,
	)
	ingestionService.SetDecoder(jsonimport.NewDecoder(jsonimport.WithMaxSize(cfg.HTTP.MaxBodySize)))
	ingestionService.SetMetrics(allocMetrics)

	// Allocation
	engine, err := allocation.NewEngine(cfg.Allocation.Precision)
	if err != nil {
		return err
	}
	locker, closeLocker := lock.NewLocker(ctx, cfg.Redis, cfg.Allocation.LockWait, log)
	defer func() { _ = closeLocker() }()

	jobStatusRepo := persistence.NewGormJobStatusRepository(db.DB)
	recomputeService := appalloc.NewRecomputeService(
		engine,
		persistence.NewGormAllocationTransactionScope(db.DB, persistence.SourceFilter{
			GeneralTransferType: cfg.Allocation.GeneralTransferType,
			OriginCountry:       cfg.Allocation.OriginCountry,
		}, cfg.Allocation.BatchSize),
		jobStatusRepo,
		locker,
		log,
	)
	recomputeService.SetMetrics(allocMetrics)
	recomputeService.SetLockTTL(cfg.Allocation.LockTTL)

	// Incremental and queued range recomputes
	var rangeQueue handler.RangeQueue
	if cfg.Scheduler.Enabled {
		sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
			Enabled:           true,
			MaxConcurrentJobs: cfg.Scheduler.MaxConcurrentJobs,
			JobTimeout:        cfg.Scheduler.JobTimeout,
			RetryAttempts:     cfg.Scheduler.RetryAttempts,
			RetryDelay:        cfg.Scheduler.RetryDelay,
		}, recomputeService, log)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		rangeQueue = sched
		trigger := scheduler.NewIntervalTrigger(cfg.Scheduler.Interval, sched, log)
		if err := trigger.Start(ctx); err != nil {
			return fmt.Errorf("start interval trigger: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = trigger.Stop(stopCtx)
			if err := sched.Stop(stopCtx); err != nil {
				log.Warn("Scheduler did not stop cleanly", zap.Error(err))
			}
		}()
	}

	// Pub/Sub batches
	consumerDone := make(chan error, 1)
	consumerRunning := false
	if cfg.PubSub.Enabled {
		client, err := messaging.NewClient(ctx, cfg.PubSub)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		consumer := messaging.NewConsumer(client, cfg.PubSub, ingestionService, log)
		defer consumer.Close()
		deliveries, closeDeliveries := cache.NewDeliveryLog(ctx, cfg.Redis, log)
		defer func() { _ = closeDeliveries() }()
		consumer.SetDeliveryLog(deliveries)
		consumerRunning = true
		go func() { consumerDone <- consumer.Run(ctx) }()
	}

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowOrigins = cfg.HTTP.CORSAllowedOrigins
	routerCfg := router.Config{
		ServiceName:    serviceName,
		MaxBodySize:    cfg.HTTP.MaxBodySize,
		CORS:           corsCfg,
		TracingEnabled: tracerProvider.IsEnabled(),
	}
	if meterProvider.IsEnabled() {
		routerCfg.Meter = meterProvider.Meter("http.server")
	}
	recomputeHandler := handler.NewRecomputeHandler(recomputeService, log)
	if rangeQueue != nil {
		recomputeHandler.SetQueue(rangeQueue)
	}
	httpEngine := router.New(routerCfg, router.Handlers{
		Ingest:    handler.NewIngestHandler(ingestionService, log),
		Recompute: recomputeHandler,
		JobStatus: handler.NewJobStatusHandler(jobStatusRepo, log),
		System:    handler.NewSystemHandler(db, cfg.App.Name, log),
	}, log)

	srv := &http.Server{
		Addr:           ":" + strconv.Itoa(cfg.HTTP.Port),
		Handler:        httpEngine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}
	serverDone := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
		}
		close(serverDone)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down server...")
	case err := <-serverDone:
		runErr = fmt.Errorf("http server: %w", err)
	case err := <-consumerDone:
		consumerRunning = false
		if err != nil {
			runErr = fmt.Errorf("pubsub consumer: %w", err)
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if consumerRunning {
		<-consumerDone
	}

	log.Info("Server exited")
	return runErr
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

func shutdownTelemetry(log *zap.Logger, providers ...shutdowner) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, p := range providers {
		if err := p.Shutdown(ctx); err != nil {
			log.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}
}
