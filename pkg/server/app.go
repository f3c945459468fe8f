package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"TransitWatch/internal/repository"
	"TransitWatch/internal/usecase"
	"TransitWatch/pkg/config"
	xhttp "TransitWatch/pkg/http"
	pkgkafka "TransitWatch/pkg/kafka"
	applogger "TransitWatch/pkg/logger"
	"TransitWatch/pkg/queue"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	l          *applogger.Logger
	analysis   *usecase.TransitAnalysis
	httpServer *xhttp.Server
	rules      *repository.RulesWatcher
	consumer   *pkgkafka.Consumer
	queue      *queue.RedisQueue
}

// New creates a new App instance. rules, consumer and q are optional.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	analysis *usecase.TransitAnalysis,
	httpServer *xhttp.Server,
	rules *repository.RulesWatcher,
	consumer *pkgkafka.Consumer,
	q *queue.RedisQueue,
) *App {
	if l == nil {
		l = applogger.Nop()
	}
	return &App{
		cfg:        cfg,
		l:          l,
		analysis:   analysis,
		httpServer: httpServer,
		rules:      rules,
		consumer:   consumer,
		queue:      q,
	}
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts every component and blocks until ctx is done, then
// shuts everything down.
func (a *App) RunContext(ctx context.Context) error {
	if err := a.start(ctx); err != nil {
		a.l.Error("startup failed", applogger.Error(err))
		if serr := a.shutdown(context.WithoutCancel(ctx)); serr != nil {
			err = errors.Join(err, serr)
		}
		return err
	}

	<-ctx.Done()
	a.l.Info("shutdown signal received")
	return a.shutdown(context.WithoutCancel(ctx))
}

func (a *App) start(ctx context.Context) error {
	if err := a.analysis.Initialize(ctx); err != nil {
		return fmt.Errorf("transit analysis: %w", err)
	}
	a.l.Info("transit analysis started",
		applogger.String("chart", a.analysis.Chart().ID()),
		applogger.Duration("monitor_interval", a.cfg.Monitor.Interval))

	if a.rules != nil {
		if err := a.rules.Start(ctx); err != nil {
			return fmt.Errorf("rules watcher: %w", err)
		}
		a.l.Info("rules watcher started", applogger.String("path", a.cfg.Alerts.RulesPath))
	}

	if a.queue != nil {
		if err := a.queue.Start(); err != nil {
			return fmt.Errorf("redis queue: %w", err)
		}
	}

	// Start consumer if configured
	if a.consumer != nil {
		if err := a.consumer.Start(); err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
		a.l.Info("kafka consumer started", applogger.String("topic", a.cfg.Kafka.AlertsTopic))
	}

	// Start HTTP server
	if err := a.httpServer.Start(); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// shutdown gracefully stops all services; errors are logged and joined.
func (a *App) shutdown(ctx context.Context) error {
	a.l.Info("shutting down...")
	var errs []error

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.l.Error("http shutdown error", applogger.Error(err))
		errs = append(errs, err)
	}

	if a.rules != nil {
		if err := a.rules.Close(); err != nil {
			a.l.Warn("rules watcher close error", applogger.Error(err))
		}
	}

	// saves the ephemeris cache snapshot
	if err := a.analysis.Shutdown(shutdownCtx); err != nil {
		a.l.Error("transit analysis shutdown error", applogger.Error(err))
		errs = append(errs, err)
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(shutdownCtx); err != nil {
			a.l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	if a.queue != nil {
		if depth, err := a.queue.Depth(shutdownCtx); err == nil && depth.Pending+depth.Retry > 0 {
			a.l.Warn("redis queue not drained",
				applogger.Int64("pending", depth.Pending),
				applogger.Int64("retry", depth.Retry))
		}
		if err := a.queue.Stop(shutdownCtx); err != nil {
			a.l.Warn("redis queue stop error", applogger.Error(err))
		}
	}

	a.l.Info("shutdown complete")
	return errors.Join(errs...)
}
