package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/303webhouse/pandoras-box-sub000/pkg/config"
	"github.com/303webhouse/pandoras-box-sub000/pkg/logger"
)

// EventSource is a long-running frame producer that only returns once its
// context is cancelled.
type EventSource interface {
	Run(ctx context.Context) error
}

// StateLoader restores persisted client state before the first sync.
type StateLoader interface {
	Load(ctx context.Context) error
}

// Reconciler pulls authoritative state on demand and on a schedule.
type Reconciler interface {
	Sync(ctx context.Context) error
	Start(ctx context.Context) error
	Stop()
}

// HTTPServer is the REST surface.
type HTTPServer interface {
	Start() error
	Err() <-chan error
	Stop(ctx context.Context) error
}

// BusConsumer is the optional event bus consumer.
type BusConsumer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Closer releases one resource at shutdown.
type Closer struct {
	Name  string
	Close func() error
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *logger.Logger
	stream     EventSource
	state      StateLoader
	reconciler Reconciler
	httpServer HTTPServer

	// Consumer is nil when the bus is disabled.
	Consumer BusConsumer
	// Closers run in order after every loop has stopped.
	Closers []Closer

	streamDone chan struct{}
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, log *logger.Logger, stream EventSource, state StateLoader, reconciler Reconciler, httpServer HTTPServer) *App {
	if log == nil {
		log = logger.Nop()
	}
	return &App{
		cfg:        cfg,
		log:        log.With(logger.String("component", "app")),
		stream:     stream,
		state:      state,
		reconciler: reconciler,
		httpServer: httpServer,
	}
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts every loop and blocks until ctx is done or the HTTP
// server fails.
func (a *App) RunContext(ctx context.Context) error {
	if err := a.state.Load(ctx); err != nil {
		a.log.Warn("starting with default preferences", logger.Error(err))
	}
	if err := a.reconciler.Sync(ctx); err != nil {
		a.log.Warn("initial sync failed, serving cached state", logger.Error(err))
	}

	// The reconnect loop ends only when streamCtx is cancelled.
	streamCtx, cancelStream := context.WithCancel(context.Background())
	defer cancelStream()

	a.streamDone = make(chan struct{})
	go func() {
		defer close(a.streamDone)
		if err := a.stream.Run(streamCtx); err != nil {
			a.log.Error("stream client error", logger.Error(err))
		}
	}()

	if a.Consumer != nil {
		if err := a.Consumer.Start(streamCtx); err != nil {
			a.log.Error("kafka consumer start failed", logger.Error(err))
			a.Consumer = nil
		}
	}

	if err := a.reconciler.Start(streamCtx); err != nil {
		a.shutdown(cancelStream)
		return fmt.Errorf("reconciler: %w", err)
	}

	if err := a.httpServer.Start(); err != nil {
		a.shutdown(cancelStream)
		return fmt.Errorf("http server: %w", err)
	}
	a.log.Info("dashboard core started", logger.Int("port", a.cfg.Server.Port))

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case err := <-a.httpServer.Err():
		runErr = fmt.Errorf("http server: %w", err)
	}
	a.shutdown(cancelStream)
	return runErr
}

// shutdown stops the loops in reverse start order, then releases resources.
func (a *App) shutdown(cancelStream context.CancelFunc) {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cancelStream()
	a.reconciler.Stop()

	if err := a.httpServer.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", logger.Error(err))
	}
	if a.Consumer != nil {
		if err := a.Consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", logger.Error(err))
		}
	}

	select {
	case <-a.streamDone:
	case <-ctx.Done():
		a.log.Warn("stream client did not stop in time")
	}

	var errs []error
	for _, c := range a.Closers {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.log.Warn("close errors", logger.Error(err))
	}
	a.log.Info("shutdown complete")
}
