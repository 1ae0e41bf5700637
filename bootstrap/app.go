package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"crits/api"
	"crits/config"

	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

// App is the indicator server with all of its components
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	Storage   *StorageComponents
	Services  *ServiceComponents
	APIServer *api.API

	serviceWg sync.WaitGroup
}

// NewApp loads configuration, connects storage and builds the services
func NewApp(ctx context.Context, configPath string) (*App, error) {
	cfg, err := InitConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger, sugar := InitLogger(cfg.LogLevel())
	app := &App{Config: cfg, Logger: logger, Sugar: sugar}

	sugar.Info("CRITs indicator server starting...")
	logConfig(cfg, sugar)

	app.Storage, err = InitStorage(ctx, cfg, sugar)
	if err != nil {
		return nil, err
	}

	app.Services, err = InitServices(ctx, cfg, app.Storage, sugar)
	if err != nil {
		_ = app.Storage.Close(context.Background())
		return nil, err
	}

	app.APIServer = api.NewAPI(app.Services.Indicators, app.Services.Importer, app.Storage.Mongo, cfg, sugar)
	return app, nil
}

// Start starts the triage dispatcher and the API server
func (a *App) Start(ctx context.Context) error {
	if a.Services.Dispatcher != nil {
		a.Services.Dispatcher.Start()
		a.Sugar.Infow("Triage dispatcher started", "workers", a.Config.Triage.Workers)
	}

	errCh := make(chan error, 1)
	a.serviceWg.Add(1)
	go func() {
		defer a.serviceWg.Done()
		if err := a.APIServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Sugar.Errorw("API server error", "error", err)
			errCh <- err
		}
	}()

	// Surface immediate bind failures to the caller
	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start API server: %w", err)
	case <-time.After(200 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}
	a.Sugar.Infow("API server started", "addr", a.Config.ListenAddr(), "tls", a.Config.API.TLS)
	return nil
}

// WaitForShutdown blocks until SIGINT or SIGTERM
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

// Shutdown stops the API first so no new work arrives, then drains triage
// and closes storage.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.Sugar.Info("Phase 1: Stopping API server...")
	if a.APIServer != nil {
		if err := a.APIServer.Stop(ctx); err != nil {
			a.Sugar.Errorw("Failed to stop API server", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		a.serviceWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.Sugar.Warn("API server goroutine shutdown timed out")
	}

	a.Sugar.Info("Phase 2: Draining triage dispatcher...")
	a.Services.Shutdown(ctx, a.Sugar)

	a.Sugar.Info("Phase 3: Closing database connection...")
	if err := a.Storage.Close(ctx); err != nil {
		a.Sugar.Errorw("Failed to close MongoDB connection", "error", err)
	}

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}
