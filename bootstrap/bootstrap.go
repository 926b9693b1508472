// Package bootstrap wires adapters into services and manages the
// application lifecycle.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/artpar/metergate/adapters/clock"
	httpadapter "github.com/artpar/metergate/adapters/http"
	"github.com/artpar/metergate/adapters/idgen"
	"github.com/artpar/metergate/adapters/memory"
	"github.com/artpar/metergate/adapters/metrics"
	mongoadapter "github.com/artpar/metergate/adapters/mongo"
	"github.com/artpar/metergate/adapters/sqlite"
	"github.com/artpar/metergate/app"
	"github.com/artpar/metergate/config"
	"github.com/artpar/metergate/ports"
)

const usageCollection = "usage_entries"

// App holds the wired application.
type App struct {
	Logger     zerolog.Logger
	HTTPServer *http.Server

	holder  *config.Holder
	limiter *app.LimiterService
	cron    *cron.Cron
	closers []func(context.Context) error
}

// New creates the application from a config file path. The holder
// watches the file so limits and rates reload without restart.
func New(configPath string) (*App, error) {
	bootLogger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	holder, err := config.NewHolder(configPath, bootLogger)
	if err != nil {
		return nil, err
	}
	cfg := holder.Get()

	logger := setupLogger(cfg.Logging)

	a := &App{Logger: logger, holder: holder}

	usageStore, logStore, err := a.openStores(cfg)
	if err != nil {
		return nil, err
	}

	collector := metrics.New()
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}

	a.limiter = app.NewLimiterService(app.LimiterDeps{
		Usage:   usageStore,
		Clock:   clock.Real{},
		IDGen:   idgen.UUID{},
		Logger:  logger,
		Metrics: collector,
	}, app.LimiterConfig{
		Limits:           cfg.QuotaLimits(),
		Costs:            cfg.CostTable(),
		FinalizeLookback: cfg.Limits.FinalizeLookback,
		StoreTimeout:     cfg.Database.Timeout,
	})

	retentionSvc := app.NewRetentionService(app.RetentionDeps{
		Logs:    logStore,
		Usage:   usageStore,
		Clock:   clock.Real{},
		Logger:  logger,
		Metrics: collector,
	}, app.RetentionConfig{
		Policies:           cfg.Policies(),
		UsageRetentionDays: cfg.Retention.UsageRetentionDays,
		StoreTimeout:       cfg.Database.Timeout,
	})

	handler := httpadapter.NewHandler(httpadapter.HandlerConfig{
		Limiter:      a.limiter,
		Retention:    retentionSvc,
		TriggerToken: cfg.Retention.TriggerToken,
		MetricsPath:  metricsPath,
		Logger:       logger,
	})

	a.HTTPServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Limits and rates are hot-reloadable; everything else needs a
	// restart.
	holder.OnChange(func(newCfg *config.Config) {
		a.limiter.UpdateConfig(newCfg.QuotaLimits(), newCfg.CostTable())
	})

	if cfg.Retention.Schedule != "" {
		a.cron = cron.New()
		_, err := a.cron.AddFunc(cfg.Retention.Schedule, func() {
			retentionSvc.RunAll(context.Background())
		})
		if err != nil {
			return nil, fmt.Errorf("invalid retention schedule: %w", err)
		}
	}

	return a, nil
}

// Run starts the application and blocks until shutdown.
func (a *App) Run() error {
	if err := a.holder.WatchFile(); err != nil {
		a.Logger.Warn().Err(err).Msg("config watch unavailable")
	}
	a.holder.WatchSignals()

	if a.cron != nil {
		a.cron.Start()
		a.Logger.Info().Msg("retention scheduler started")
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a.holder.Stop()

	if a.cron != nil {
		<-a.cron.Stop().Done()
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	for _, closeFn := range a.closers {
		if err := closeFn(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("close error")
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func (a *App) openStores(cfg *config.Config) (ports.UsageStore, ports.LogStore, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.Database.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return db.Close() })
		return sqlite.NewUsageStore(db), sqlite.NewLogStore(db), nil

	case "mongo":
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.Timeout)
		defer cancel()
		db, err := mongoadapter.Open(ctx, cfg.Database.DSN, cfg.Database.Name)
		if err != nil {
			return nil, nil, fmt.Errorf("open mongo: %w", err)
		}
		if err := db.Migrate(ctx, usageCollection); err != nil {
			db.Close(ctx)
			return nil, nil, fmt.Errorf("migrate mongo: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		return mongoadapter.NewUsageStore(db, usageCollection), mongoadapter.NewLogStore(db), nil

	case "memory":
		return memory.NewUsageStore(), memory.NewLogStore(), nil

	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
