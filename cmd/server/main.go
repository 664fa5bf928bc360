package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/pulseboard/pulseboard-backend/internal/aggregate"
	"github.com/pulseboard/pulseboard-backend/internal/alert"
	"github.com/pulseboard/pulseboard-backend/internal/api/middleware"
	"github.com/pulseboard/pulseboard-backend/internal/api/rest"
	"github.com/pulseboard/pulseboard-backend/internal/api/websocket"
	"github.com/pulseboard/pulseboard-backend/internal/clock"
	"github.com/pulseboard/pulseboard-backend/internal/config"
	"github.com/pulseboard/pulseboard-backend/internal/dashboard"
	"github.com/pulseboard/pulseboard-backend/internal/exposition"
	"github.com/pulseboard/pulseboard-backend/internal/ingest"
	"github.com/pulseboard/pulseboard-backend/internal/models"
	"github.com/pulseboard/pulseboard-backend/internal/notify"
	"github.com/pulseboard/pulseboard-backend/internal/pkg/logger"
	"github.com/pulseboard/pulseboard-backend/internal/pkg/tracing"
	"github.com/pulseboard/pulseboard-backend/internal/registry"
	"github.com/pulseboard/pulseboard-backend/internal/report"
	"github.com/pulseboard/pulseboard-backend/internal/repository"
	"github.com/pulseboard/pulseboard-backend/internal/scheduler"
	"github.com/pulseboard/pulseboard-backend/internal/store"
	"github.com/pulseboard/pulseboard-backend/internal/telemetry"
	"github.com/pulseboard/pulseboard-backend/migrations"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New("pulseboard", cfg.LogLevel)
	log.Info("starting", "port", cfg.Port, "driver", cfg.DatabaseDriver)

	shutdownTracing, err := tracing.Init("pulseboard-backend", cfg.TracingEndpoint, cfg.TracingSamplingRate)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdownTracing()

	repo, migrationDir, err := openDatabase(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer repo.Close()

	schema, err := migrations.FS.ReadFile(migrationDir + "/001_initial_schema.sql")
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if err := repo.RunMigrations(string(schema)); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	ports := repo.Ports()
	samples := repository.InstrumentedSamples{Inner: ports.Samples}

	clk := clock.NewSystem()

	reg := registry.New(ports.Metrics, clk, log)
	seedBuiltins(ctx, reg, log)

	st := store.New(samples, reg, clk, log)
	agg := aggregate.New(st, reg, samples, clk)

	hub := websocket.NewHub(ctx, log)
	go hub.Run()

	ingestor := ingest.New(ports.Events, st, ingest.DefaultRoutes(), clk, log, hub, cfg.IngestMaxPayloadBytes)
	dashboards := dashboard.New(ports.Dashboards, ports.Widgets, agg, reg, ingestor, clk, log)

	reports := report.New(ports.Reports, clk, log, cfg.ReportBackoffBase(), cfg.ReportBackoffCap())
	report.RegisterBuiltinHandlers(reports, agg, reg)

	notifier := notify.New(cfg.NotifyWebhooks, log)
	alerts := alert.New(ports.Alerts, agg, reg, clk, log, notifier,
		cfg.AlertCooldown(), cfg.AlertDedupWindow(), cfg.AlertEscalationAfter())

	stats := middleware.NewRequestStats()
	collector := telemetry.New(st, repo, stats, clk, log, telemetry.DBProbe{Pinger: repo})
	collector.SetDiskPath(cfg.TelemetryDiskPath)

	sched := scheduler.New(clk, cfg.SchedulerTaskFailureLimit, func(task string, lastErr error) {
		log.Error("background task disabled after repeated failures", "task", task, "error", lastErr)
		desc := fmt.Sprintf("background task %s disabled after repeated failures: %v", task, lastErr)
		if _, err := alerts.RaiseSystem(ctx, "task_disabled", desc, models.PriorityHigh); err != nil {
			log.Error("task_disabled alert creation failed", "task", task, "error", err)
		}
	}, log)
	registerTasks(sched, cfg, collector, alerts, reports, st, ingestor, clk)
	sched.Start(ctx)

	prometheus.DefaultRegisterer.MustRegister(exposition.New(reg, samples, clk, log))

	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Identity)
	router.Use(middleware.StructuredLog(stats))
	router.Use(middleware.Recovery)
	if cfg.TracingEndpoint != "" {
		router.Use(middleware.Tracing)
	}

	var ingestLimit func(http.Handler) http.Handler
	if cfg.IngestRatePerSec > 0 {
		ingestLimit = middleware.IngestRateLimit(cfg.IngestRatePerSec, cfg.IngestRateBurst)
	}
	handler := rest.NewHandler(ingestor, reg, st, dashboards, reports, alerts, collector, sched)
	handler.RegisterRoutes(router, ingestLimit)

	wsHandler := websocket.NewHandler(ctx, hub, log)
	router.HandleFunc("/ws/events", wsHandler.ServeWS).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-User-ID", "X-Request-ID"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      c.Handler(router),
		ReadTimeout:  cfg.RequestTimeout(),
		WriteTimeout: cfg.RequestTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	// Drain order: refuse new samples, stop background tasks, then stop
	// accepting requests and close websocket clients.
	st.Shutdown()
	sched.Shutdown(cfg.SchedulerGracePeriod())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server forced to stop", "error", err)
	}
	hub.Stop()

	log.Info("stopped")
	return nil
}

// openDatabase opens the configured driver and names its migration directory.
func openDatabase(cfg *config.Config) (*repository.SQLRepository, string, error) {
	switch cfg.DatabaseDriver {
	case "postgres":
		repo, err := repository.NewPostgres(cfg.DatabaseDSN)
		return repo, "postgres", err
	case "sqlite", "":
		repo, err := repository.NewSQLite(cfg.DatabaseDSN)
		return repo, "sqlite", err
	default:
		return nil, "", fmt.Errorf("unknown database driver %q", cfg.DatabaseDriver)
	}
}

// seedBuiltins registers the projection and system metric definitions.
// Ensure tolerates definitions that already exist from a previous boot.
func seedBuiltins(ctx context.Context, reg *registry.Registry, log *slog.Logger) {
	defs := append(ingest.BuiltinMetrics(), telemetry.BuiltinMetrics()...)
	for _, m := range defs {
		if err := reg.Ensure(ctx, m); err != nil {
			log.Warn("builtin metric registration failed", "metric", m.Name, "error", err)
		}
	}
}

// registerTasks wires the periodic background work: telemetry collection,
// alert evaluation, due-report runs and retention pruning.
func registerTasks(
	sched *scheduler.Scheduler,
	cfg *config.Config,
	collector *telemetry.Collector,
	alerts *alert.Engine,
	reports *report.Engine,
	st *store.Store,
	ingestor *ingest.Ingestor,
	clk clock.Clock,
) {
	sched.Every("telemetry_collect", cfg.TelemetryInterval(), collector.Collect)
	sched.Every("alert_evaluate", cfg.AlertEvalInterval(), alerts.EvaluateAll)
	sched.Every("report_run_due", cfg.ReportPollInterval(), reports.RunDue)
	sched.Every("retention_prune", time.Hour, func(ctx context.Context) error {
		now := clk.Now()
		if _, err := st.Prune(ctx, now.AddDate(0, 0, -cfg.RetentionSamplesDays)); err != nil {
			return err
		}
		_, err := ingestor.Prune(ctx, now.AddDate(0, 0, -cfg.RetentionEventsDays))
		return err
	})
}
