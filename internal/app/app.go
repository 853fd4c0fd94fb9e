package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/vk/relenvgo/internal/cmdrun"
	"github.com/vk/relenvgo/internal/ctxlog"
	"github.com/vk/relenvgo/internal/download"
	"github.com/vk/relenvgo/internal/recipe"
	"github.com/vk/relenvgo/internal/status"
	"github.com/vk/relenvgo/internal/workdirs"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW    io.Writer
	logger  *slog.Logger
	config  *Config
	wd      workdirs.WorkDirs
	runner  cmdrun.Runner
	fetcher *download.Fetcher
	modules []recipe.Module

	mu         sync.Mutex
	board      *status.Board
	httpServer *http.Server
}

// Option customizes an App.
type Option func(*App)

// WithRunner replaces the process runner used by build units and tools.
func WithRunner(r cmdrun.Runner) Option {
	return func(a *App) { a.runner = r }
}

// WithFetcher replaces the downloader.
func WithFetcher(f *download.Fetcher) Option {
	return func(a *App) { a.fetcher = f }
}

// WithModules replaces the built-in build modules.
func WithModules(modules ...recipe.Module) Option {
	return func(a *App) { a.modules = modules }
}

// NewApp is the constructor for the main application. Each App gets its
// own isolated logger.
func NewApp(outW io.Writer, cfg *Config, opts ...Option) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	a := &App{
		outW:    outW,
		logger:  logger,
		config:  cfg,
		wd:      workdirs.New(cfg.DataDir),
		runner:  cmdrun.ExecRunner{},
		fetcher: download.Default,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.modules == nil {
		a.modules = coreModules(cfg.GOOS, a.runner)
	}
	return a
}

// WorkDirs returns the data directory layout of the app.
func (a *App) WorkDirs() workdirs.WorkDirs {
	return a.wd
}

func (a *App) context(ctx context.Context) context.Context {
	return ctxlog.WithLogger(ctx, a.logger)
}

// toolEnv is the environment handed to external tools outside of a unit.
func toolEnv() []string {
	return []string{"PATH=" + os.Getenv("PATH"), "HOME=" + os.Getenv("HOME")}
}
