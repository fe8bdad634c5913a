package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/yanqian/clinic-console/internal/infra/config"
)

// SessionRestorer rebuilds the session from storage on startup.
type SessionRestorer interface {
	InitializeAuthState(ctx context.Context) error
}

// Ticker drives periodic work until ctx is done.
type Ticker interface {
	Run(ctx context.Context, interval time.Duration)
}

// App encapsulates the HTTP server lifecycle.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	server    *http.Server
	session   SessionRestorer
	countdown Ticker
}

// NewApp is used by Wire to build the runnable app.
func NewApp(cfg *config.Config, logger *slog.Logger, server *http.Server, session SessionRestorer, countdown Ticker) *App {
	return &App{
		cfg:       cfg,
		logger:    logger.With("component", "bootstrap"),
		server:    server,
		session:   session,
		countdown: countdown,
	}
}

// Run restores the session, starts the countdown and serves HTTP until
// shutdown.
func (a *App) Run(ctx context.Context) error {
	if err := a.session.InitializeAuthState(ctx); err != nil {
		a.logger.Error("session restore failed, starting signed out", "error", err)
	}

	tickCtx, stopTicks := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.countdown.Run(tickCtx, a.cfg.Session.TickInterval)
	}()
	defer func() {
		stopTicks()
		wg.Wait()
	}()

	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("http server starting", "address", a.cfg.HTTP.Address)
		if err := a.server.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.logger.Info("shutdown signal received")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
