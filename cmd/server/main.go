package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"examgate/internal/api"
	"examgate/internal/audit"
	"examgate/internal/classroom"
	"examgate/internal/config"
	"examgate/internal/database"
	"examgate/internal/engine"
	"examgate/internal/events"
	"examgate/internal/google"
	"examgate/internal/metrics"
	"examgate/internal/override"
	"examgate/internal/session"
)

func main() {
	_ = godotenv.Load()

	// Initialize logger
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("EXAMGATE_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Error().Err(err).Msg("redis unavailable; session journal disabled")
			rdb = nil
		}
	}

	var journal session.Journal
	if rdb != nil {
		journal = session.NewRedisJournal(rdb, cfg.Redis.SessionKey)
	}
	registry := session.NewRegistry(journal, logger)
	registry.MaxSessionAge = cfg.MaxSessionAge()
	if journal != nil {
		if restored, err := registry.Restore(ctx); err != nil {
			logger.Error().Err(err).Msg("session restore failed")
		} else if restored > 0 {
			logger.Info().Int("sessions", restored).Msg("restored live sessions from journal")
		}
	}

	validator := override.NewValidator(db, override.Config{
		AttemptsPerMinute: cfg.Engine.OverrideAttemptsPerMinute,
		AttemptsBurst:     cfg.Engine.OverrideAttemptsBurst,
	}, logger)

	bus := events.NewEventBus()
	m := metrics.NewMetrics("examgate", func() float64 {
		return float64(registry.TotalActive())
	})
	eng := engine.New(db, validator, registry, db, bus, m, logger)

	srv := api.NewHTTPServer(eng, db, bus, m, nil, cfg.Server.APIKey, logger)

	// Initial load + hot reload of window templates
	if err := config.WatchTemplates(ctx, cfg.Templates.Path, cfg.TemplateReloadInterval(), func(updated *config.TemplateCatalog) {
		if updated == nil {
			return
		}
		srv.SetTemplates(updated)
		logger.Info().Int("templates", updated.Len()).Msg("window templates loaded")
	}); err != nil {
		logger.Error().Err(err).Msg("template watch failed")
	}

	if cfg.Classroom.BaseURL != "" {
		directory := classroom.NewClient(cfg.Classroom.BaseURL, cfg.Classroom.APIKey)
		if rdb != nil && cfg.ClassroomCacheTTL() > 0 {
			directory.UseRedisCache(rdb, cfg.ClassroomCacheTTL())
		}
		srv.SetDirectory(directory)
	}

	sheetsSvc, err := google.NewSheetsService(ctx, cfg.Sheets, logger)
	if err != nil {
		logger.Error().Err(err).Msg("sheets mirror unavailable")
	} else if sheetsSvc != nil {
		if err := sheetsSvc.EnsureSheets(ctx); err != nil {
			logger.Error().Err(err).Msg("sheets setup failed")
		}
		sheetsSvc.Subscribe(bus)
	}

	if cfg.Audit.Enabled {
		auditSvc := audit.NewService(&audit.Config{
			ExportDir:         cfg.Audit.ExportDir,
			DataRetentionDays: cfg.Audit.DataRetentionDays,
			ExportOnStart:     cfg.Audit.ExportOnStart,
		}, db, audit.NewExcelizeWriter, db, logger)
		auditSvc.Start()
		defer auditSvc.Stop()
	}

	if cfg.Backup.Enabled {
		backupSvc := database.NewBackupService(cfg.Database.Path, cfg.Backup, &logger)
		go backupSvc.Start(ctx)
	}

	go sweepLoop(ctx, eng, cfg.SweepInterval(), &logger)

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, db, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	apiSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: srv.Handler()}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = apiSrv.Shutdown(ctxShutdown)
	}()

	logger.Info().Int("port", cfg.Server.Port).Msg("Scheduling engine started")
	if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("api server error")
	}
}

// sweepLoop evicts sessions that outlived their continue deadline so the
// registry and dashboards do not accumulate dead attempts.
func sweepLoop(ctx context.Context, eng *engine.Engine, interval time.Duration, logger *zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := eng.Sweep(ctx, time.Now()); removed > 0 {
				logger.Info().Int("removed", removed).Msg("swept expired sessions")
			}
		}
	}
}

func startHealthServer(ctx context.Context, port int, db *database.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := db.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
