package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/authgate/internal/config"
	"github.com/example/authgate/internal/health"
	"github.com/example/authgate/internal/observability"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime
	Readiness     *health.ProbeRunner

	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration

	stop func()
}

// newApp is the wire provider; connection cleanup is handled by the
// injector's cleanup function rather than the app itself.
func newApp(cfg *config.Config, logger *slog.Logger, server *http.Server, runtime *observability.Runtime, readiness *health.ProbeRunner) *App {
	return New(cfg, logger, server, runtime, readiness, nil)
}

func New(cfg *config.Config, logger *slog.Logger, server *http.Server, runtime *observability.Runtime, readiness *health.ProbeRunner, stop func()) *App {
	return &App{
		Config:                       cfg,
		Logger:                       logger,
		Server:                       server,
		Observability:                runtime,
		Readiness:                    readiness,
		ShutdownTimeout:              cfg.ShutdownTimeout,
		ShutdownHTTPDrainTimeout:     cfg.ShutdownHTTPDrainTimeout,
		ShutdownObservabilityTimeout: cfg.ShutdownObservabilityTimeout,
		stop:                         stop,
	}
}

// Run serves until ctx is cancelled, then drains in phases: HTTP first, then
// background resources, then observability pipelines.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info("shutdown started")

		// ShutdownTimeout bounds the whole sequence; the per-phase
		// timeouts carve it up so a stuck drain cannot starve the
		// observability flush.
		overall, cancelAll := context.WithTimeout(context.Background(), a.ShutdownTimeout)
		defer cancelAll()

		drainCtx, cancel := context.WithTimeout(overall, a.ShutdownHTTPDrainTimeout)
		defer cancel()
		if err := a.Server.Shutdown(drainCtx); err != nil {
			a.Logger.Warn("http drain incomplete", "error", err.Error())
		}

		a.StopBackgroundTasks()

		if a.Observability != nil {
			obsCtx, cancelObs := context.WithTimeout(overall, a.ShutdownObservabilityTimeout)
			defer cancelObs()
			if err := a.Observability.Shutdown(obsCtx); err != nil {
				a.Logger.Warn("observability shutdown incomplete", "error", err.Error())
			}
		}
		return nil
	})

	return g.Wait()
}

// StopBackgroundTasks releases connections owned by the app (redis, db).
func (a *App) StopBackgroundTasks() {
	if a.stop != nil {
		a.stop()
	}
}
