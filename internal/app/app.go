// Package app wires the monitoring core's components into a runnable
// process: config, infrastructure connections, the Scheduler/Incident
// Engine/Alert Engine pipeline, notifier sinks, the retention sweeper, and
// the operational HTTP surface.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/pulsecheck/internal/config"
	"github.com/wisbric/pulsecheck/internal/httpserver"
	"github.com/wisbric/pulsecheck/internal/platform"
	"github.com/wisbric/pulsecheck/internal/telemetry"
	"github.com/wisbric/pulsecheck/pkg/alertengine"
	"github.com/wisbric/pulsecheck/pkg/incident"
	"github.com/wisbric/pulsecheck/pkg/monitor"
	"github.com/wisbric/pulsecheck/pkg/notify"
	"github.com/wisbric/pulsecheck/pkg/prober"
	"github.com/wisbric/pulsecheck/pkg/retention"
	"github.com/wisbric/pulsecheck/pkg/scheduler"
	"github.com/wisbric/pulsecheck/pkg/secretstore"
)

// Run is the process entry point. It reads config, connects to
// infrastructure, and starts the requested mode.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting pulsecheck", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewRegistry(telemetry.All()...)

	switch cfg.Mode {
	case "scheduler":
		return runScheduler(ctx, cfg, logger, db, rdb, metricsReg)
	case "seed":
		logger.Info("seed mode has no fixtures to load; schema is ready via migrations")
		return nil
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

func runScheduler(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	secrets, err := secretstore.New(cfg.EncryptionSecret)
	if err != nil {
		return fmt.Errorf("initializing secret store: %w", err)
	}

	store := monitor.NewStore(db)

	httpProber := prober.New(secrets, store, logger)

	sinks, channels := buildSinks(cfg, logger)
	registry := notify.NewRegistry(sinks...)

	alertEngine := alertengine.New(
		store,
		registry,
		channels,
		cfg.FailureThreshold,
		time.Duration(cfg.DedupWindowMinutes)*time.Minute,
		cfg.MaxConcurrentDeliveries,
		logger,
	)

	incidentEngine := incident.New(store, alertEngine, logger)

	tickLoop := scheduler.New(store, httpProber, incidentEngine, cfg.TickInterval, cfg.MaxConcurrentChecks, logger)

	sweeper, err := retention.New(
		store,
		retention.Horizons{
			AbsoluteCheckResultDays: cfg.RetentionCheckResultsDays,
			AbsoluteAlertDays:       cfg.RetentionAlertsDays,
			PerPlanCheckResultDays:  cfg.RetentionPerPlanCheckResultDays,
			PerPlanAlertDays:        cfg.RetentionPerPlanAlertDays,
		},
		cfg.RetentionCheckResultsCron,
		cfg.RetentionAlertsCron,
		cfg.RetentionPerPlanCron,
		logger,
	)
	if err != nil {
		return fmt.Errorf("initializing retention sweeper: %w", err)
	}

	srv := httpserver.NewServer(logger, db, rdb, metricsReg, cfg.MetricsPath)
	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: srv,
	}

	schedulerCtx, cancelScheduler := context.WithCancel(ctx)
	go tickLoop.Run(schedulerCtx)

	sweeper.Start()

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped unexpectedly", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "error", err)
	}

	cancelScheduler()
	alertEngine.Drain(cfg.NotifierDrainGrace)
	sweeper.Stop(shutdownCtx)

	return nil
}

// buildSinks constructs the enabled notifier sinks from configuration.
// Unset configuration disables a sink entirely rather than constructing a
// sink that always fails delivery.
func buildSinks(cfg *config.Config, logger *slog.Logger) ([]notify.Sink, []string) {
	var sinks []notify.Sink
	var channels []string

	if cfg.MailHost != "" && len(cfg.MailTo) > 0 {
		sinks = append(sinks, notify.NewEmailSink(cfg.MailHost, fmt.Sprintf("%d", cfg.MailPort), cfg.MailUsername, cfg.MailPassword, cfg.MailFrom, cfg.MailTo))
		channels = append(channels, monitor.ChannelEmail)
		logger.Info("email notifier sink enabled", "host", cfg.MailHost)
	}

	if cfg.SlackBotToken != "" && cfg.SlackAlertChannel != "" {
		sinks = append(sinks, notify.NewSlackSink(cfg.SlackBotToken, cfg.SlackAlertChannel))
		channels = append(channels, monitor.ChannelSlack)
		logger.Info("slack notifier sink enabled", "channel", cfg.SlackAlertChannel)
	}

	if cfg.WebhookSinkURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.WebhookSinkURL, http.DefaultClient))
		channels = append(channels, monitor.ChannelWebhook)
		logger.Info("webhook notifier sink enabled")
	}

	return sinks, channels
}
