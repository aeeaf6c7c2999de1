package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/platinummonkey/newswire/pkg/api"
	"github.com/platinummonkey/newswire/pkg/app"
	"github.com/platinummonkey/newswire/pkg/config"
	"github.com/platinummonkey/newswire/pkg/observability"
	"github.com/platinummonkey/newswire/pkg/storage"
	"github.com/platinummonkey/newswire/pkg/storage/postgres"
)

var version = "dev"

var (
	configFile = flag.String("config", "", "YAML config overlay (overrides NEWSWIRE_CONFIG_FILE)")
	migrate    = flag.Bool("migrate", false, "Apply pending PostgreSQL migrations before serving")
)

func main() {
	flag.Parse()
	if *configFile != "" {
		os.Setenv("NEWSWIRE_CONFIG_FILE", *configFile)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, logCloser := observability.NewLoggerWithFile(cfg.Observability.LogLevel, cfg.Observability.LogFile)
	if logCloser != nil {
		defer logCloser.Close()
	}
	if cfg.Analytics.SaltIsDefault {
		logger.Warn("ANALYTICS_SALT is not set; visitor hashes use the built-in salt")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otel, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		logger.WithError(err).Warn("OpenTelemetry disabled")
	}

	res, err := app.Open(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.WithError(err).Error("Failed to open backends")
		os.Exit(1)
	}

	if *migrate && cfg.Storage.Driver == storage.DriverPostgres {
		if err := postgres.RunMigrations(ctx, res.DB.Primary(), logger); err != nil {
			logger.WithError(err).Error("Migrations failed")
			os.Exit(1)
		}
	}

	limiter := res.Limiter(ctx, cfg)
	deps := api.Dependencies{
		Recorder:  res.Recorder(cfg),
		Summaries: res.SummaryService(cfg),
		Sessions:  res.Sessions(cfg),
		Metrics:   res.Metrics,
		Logger:    logger,
	}
	if limiter != nil {
		deps.Limiter = limiter
	}

	server := api.NewServer(deps, api.Options{
		DefaultWindowDays: cfg.Analytics.DefaultWindowDays,
		MaxBodyBytes:      cfg.Ingest.MaxBodyBytes,
		CORSOrigins:       cfg.Ingest.CORSOrigins,
		SecureCookies:     cfg.Server.IsProduction(),
		Tracing:           otel != nil,

		RateLimitFailClosed: cfg.Ingest.RateLimitFailClosed,
	})

	if cfg.Source != "" {
		watchConfig(ctx, cfg.Source, limiter, logger)
	}

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, res.HealthChecker(version))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, res.Registry)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	res.DB.StartHealthCheckRoutine(ctx, 30*time.Second, res.Metrics)

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, httpServer, healthServer)
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		cancel()
		return res.Close()
	})
	if otel != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otel, logger)
		})
	}

	go serve(healthServer, "health", logger)
	go serve(httpServer, "api", logger)

	logger.WithFields(map[string]interface{}{
		"addr":    httpServer.Addr,
		"health":  healthServer.Addr,
		"version": version,
	}).Info("newswire started")

	if err := shutdown.WaitForShutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
		os.Exit(1)
	}
	logger.Info("newswire stopped")
}

func serve(srv *http.Server, name string, logger *observability.Logger) {
	defer observability.RecoverPanic(logger, name+" server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).WithField("server", name).Error("Server failed")
		os.Exit(1)
	}
}

// watchConfig applies rate limit changes from the YAML overlay without a
// restart. Every other setting needs a restart to take effect.
func watchConfig(ctx context.Context, path string, limiter app.ReloadableLimiter, logger *observability.Logger) {
	w, err := config.NewWatcher(path, func(next *config.Config) {
		if limiter == nil {
			logger.Info("Config reloaded; rate limiting was off at startup so a restart is needed to enable it")
			return
		}
		if next.Ingest.RateLimitPerMinute <= 0 {
			logger.Warn("Config reloaded; disabling rate limiting requires a restart")
			return
		}
		rl := app.RateLimitConfigFrom(next.Ingest)
		limiter.SetConfig(rl)
		logger.WithFields(map[string]interface{}{
			"per_minute": rl.RequestsPerWindow,
			"burst":      rl.BurstSize,
		}).Info("Rate limit updated")
	}, logger)
	if err != nil {
		logger.WithError(err).Warn("Config hot reload disabled")
		return
	}
	go func() {
		defer w.Close()
		w.Run(ctx)
	}()
}
