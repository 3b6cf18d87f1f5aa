// Package app builds and holds the long-lived services of the scraper.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/rki-case-scraper/internal/api"
	"github.com/JakeFAU/rki-case-scraper/internal/clock/system"
	"github.com/JakeFAU/rki-case-scraper/internal/config"
	"github.com/JakeFAU/rki-case-scraper/internal/extract"
	collyfetcher "github.com/JakeFAU/rki-case-scraper/internal/fetcher/colly"
	"github.com/JakeFAU/rki-case-scraper/internal/id/uuid"
	"github.com/JakeFAU/rki-case-scraper/internal/metrics"
	"github.com/JakeFAU/rki-case-scraper/internal/normalize"
	"github.com/JakeFAU/rki-case-scraper/internal/pipeline"
	gcppublisher "github.com/JakeFAU/rki-case-scraper/internal/publisher/pubsub"
	"github.com/JakeFAU/rki-case-scraper/internal/rki"
	"github.com/JakeFAU/rki-case-scraper/internal/scheduler"
	"github.com/JakeFAU/rki-case-scraper/internal/storage/memory"
	"github.com/JakeFAU/rki-case-scraper/internal/storage/postgres"
	"github.com/JakeFAU/rki-case-scraper/internal/storage/sqlite"
	"github.com/JakeFAU/rki-case-scraper/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

type runScheduler interface {
	Start(ctx context.Context, task scheduler.Task) error
}

// App contains the application's dependencies.
type App struct {
	cfg            config.Config
	logger         *zap.Logger
	store          rki.Store
	publisher      *gcppublisher.Publisher
	runner         *pipeline.Runner
	apiServer      *api.Server
	scheduler      runScheduler
	tracerShutdown func(context.Context) error
}

// New builds every service from cfg. On error, anything already opened is released.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	metrics.Init()
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Exporter:    cfg.Telemetry.Exporter,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerShutdown = tp.Shutdown

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	a.store, err = openStore(ctx, cfg.DB, logger.Named("store"))
	if err != nil {
		return nil, err
	}

	var pub rki.Publisher
	topic := ""
	if cfg.PubSub.Enabled {
		a.publisher, err = gcppublisher.Dial(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, err
		}
		pub, topic = a.publisher, cfg.PubSub.TopicName
		logger.Info("Pub/Sub publisher initialized",
			zap.String("project", cfg.PubSub.ProjectID),
			zap.String("topic", cfg.PubSub.TopicName),
		)
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		URL:       cfg.Source.URL,
		UserAgent: cfg.Source.UserAgent,
		Timeout:   cfg.SourceTimeout(),
	})
	a.runner = pipeline.New(
		fetcher,
		extract.NewTableParser(),
		extract.NewTimestampParser(loc),
		normalize.New(normalize.Options{StripAllSeparators: cfg.Normalize.StripAllSeparators}),
		a.store,
		pub,
		system.New(loc),
		uuid.New(),
		pipeline.Config{Topic: topic},
		logger.Named("pipeline"),
	)

	a.apiServer = api.NewServer(a.store, api.Config{RecentLogs: cfg.API.RecentLogs}, logger.Named("api"))

	interval, cron := cfg.Schedule()
	a.scheduler, err = scheduler.New(scheduler.Config{
		Interval:   interval,
		Cron:       cron,
		RunOnStart: cfg.Scheduler.RunOnStart,
		Location:   loc,
	}, logger.Named("scheduler"))
	if err != nil {
		return nil, fmt.Errorf("scheduler init failed: %w", err)
	}

	logger.Info("application built",
		zap.String("env", cfg.App.Env),
		zap.String("db_driver", cfg.DB.Driver),
		zap.String("source", cfg.Source.URL),
		zap.Duration("interval", interval),
		zap.String("cron", cron),
	)
	return a, nil
}

func openStore(ctx context.Context, cfg config.DBConfig, logger *zap.Logger) (rki.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		store, err := postgres.NewStore(ctx, postgres.StoreConfig{
			DSN:       cfg.PostgresDSN(),
			LogTable:  cfg.LogTable,
			DataTable: cfg.DataTable,
			MaxConns:  cfg.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		logger.Info("postgres store initialized", zap.String("host", cfg.Host), zap.String("database", cfg.Name))
		return store, nil
	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, sqlite.Config{Path: cfg.Path, LogTable: cfg.LogTable, DataTable: cfg.DataTable})
		if err != nil {
			return nil, fmt.Errorf("sqlite store init failed: %w", err)
		}
		logger.Info("sqlite store initialized", zap.String("path", cfg.Path))
		return store, nil
	case config.DriverMemory, "":
		logger.Warn("using in-memory store; data is lost on restart")
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.Driver)
	}
}

// Store exposes the configured store.
func (a *App) Store() rki.Store {
	return a.store
}

// Handler returns the HTTP handler of the query API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// RunOnce executes a single pipeline run.
func (a *App) RunOnce(ctx context.Context) (pipeline.Outcome, error) {
	out, err := a.runner.Run(ctx)
	if err != nil {
		return pipeline.Outcome{}, fmt.Errorf("run pipeline: %w", err)
	}
	return out, nil
}

// Run serves the API on the configured port and runs the scheduler until ctx is
// done or the scheduler fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", a.cfg.Server.Port, err)
	}
	return a.serve(ctx, ln)
}

func (a *App) serve(ctx context.Context, ln net.Listener) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	schedErr := make(chan error, 1)
	go func() {
		schedErr <- a.scheduler.Start(ctx, func(ctx context.Context) {
			if _, err := a.runner.Run(ctx); err != nil {
				a.logger.Warn("scheduled run skipped", zap.Error(err))
			}
		})
	}()

	var errs []error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown initiated")
		if err := <-schedErr; err != nil {
			errs = append(errs, err)
		}
	case err := <-schedErr:
		// Start only returns nil once ctx is done.
		if err != nil {
			a.logger.Error("scheduler failed, shutting down", zap.Error(err))
			errs = append(errs, err)
			stop()
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case err := <-serveErr:
		errs = append(errs, err)
	default:
	}
	return errors.Join(errs...)
}

// Close waits for an in-flight run, then releases the store, the publisher and the tracer.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.runner != nil {
		if err := a.runner.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown incomplete", zap.Error(err))
		return err
	}
	a.logger.Info("shutdown complete")
	return nil
}
