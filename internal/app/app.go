// Package app wires the mirror pipeline together and manages its lifecycle.
// It builds the concrete dependencies (ledger store, caches, object storage,
// notifications) from configuration and starts the goroutines for the
// configured operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kordes/polymirror/internal/config"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, hydrates every
// persisted ledger, starts the goroutines for the configured mode, and blocks
// until the context is cancelled. Before returning it writes a final snapshot
// of every resident ledger so a restart resumes exactly where this run left
// off.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.Bool("dry_run", a.effectiveDryRun()),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	if err := deps.Registry.LoadAll(ctx); err != nil {
		return fmt.Errorf("app: load ledgers: %w", err)
	}

	deps.Notifier.Lifecycle(ctx, fmt.Sprintf("polymirror started (mode=%s)", a.cfg.Mode))

	var runErr error
	switch strings.ToLower(a.cfg.Mode) {
	case "copy":
		runErr = a.CopyMode(ctx, deps)
	case "monitor":
		runErr = a.MonitorMode(ctx, deps)
	case "serve":
		runErr = a.ServeMode(ctx, deps)
	case "full":
		runErr = a.FullMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	// The run context is cancelled by now; the final snapshot pass gets its
	// own deadline so shutdown cannot wedge on a slow store.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := deps.Registry.PersistAll(persistCtx); err != nil {
		a.logger.Error("final snapshot persist failed", slog.String("error", err.Error()))
	}
	deps.Notifier.Lifecycle(persistCtx, "polymirror stopped")

	return runErr
}

// effectiveDryRun reports whether this process can submit orders. Monitor
// and serve modes never do, whatever the config says.
func (a *App) effectiveDryRun() bool {
	switch strings.ToLower(a.cfg.Mode) {
	case "monitor", "serve":
		return true
	default:
		return a.cfg.Copy.DryRun
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
