package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/vk/relenvgo/internal/ctxlog"
	"github.com/vk/relenvgo/internal/recipe"
	"github.com/vk/relenvgo/internal/scheduler"
	"github.com/vk/relenvgo/internal/status"
	"github.com/vk/relenvgo/internal/workdirs"
)

// Build downloads the sources of the selected units and builds them.
func (a *App) Build(ctx context.Context) error {
	ctx = a.context(ctx)
	logger := ctxlog.FromContext(ctx)
	logger.Debug("App.Build method started.")

	reg, err := a.LoadRecipes(ctx)
	if err != nil {
		return err
	}
	selected, err := reg.Select(a.config.Steps)
	if err != nil {
		return err
	}
	dirs, err := a.wd.For(a.config.GOOS, "", a.config.Arch, reg.PythonVersion)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(a.wd.Build, 0o755); err != nil {
		return err
	}
	lock := flock.New(filepath.Join(a.wd.Build, ".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("locking %s: %w", a.wd.Build, err)
	}
	if !locked {
		return fmt.Errorf("another build is running in %s", a.wd.Root)
	}
	defer lock.Unlock()

	if a.config.GOOS == "linux" {
		if _, err := os.Stat(dirs.Toolchain); err != nil {
			return fmt.Errorf("toolchain for %s not found at %s, run 'relenvgo toolchain fetch' first", dirs.Triplet, dirs.Toolchain)
		}
	}

	if a.config.Clean {
		if err := a.clean(ctx, dirs); err != nil {
			return err
		}
	}

	specs := reg.Downloads(selected)
	logger.Info("📦 Downloading sources.", "count", len(specs))
	if _, err := a.fetcher.FetchAll(ctx, specs, a.wd.Downloads, a.config.ForceDownload, a.config.DownloadLimit); err != nil {
		return err
	}

	board := status.NewBoard(selected)
	a.mu.Lock()
	a.board = board
	a.mu.Unlock()
	if a.config.HealthcheckPort > 0 {
		if _, err := a.startHealthcheckServer(a.config.HealthcheckPort); err != nil {
			return err
		}
		defer a.closeHealthcheckServer(ctx)
	}

	sched := scheduler.New(reg, scheduler.Config{
		GOOS:    a.config.GOOS,
		Arch:    a.config.Arch,
		Dirs:    a.wd,
		Env:     a.baseEnv(reg.PythonVersion),
		Out:     a.outW,
		Board:   board,
		Display: status.NewDisplay(a.outW),
		Fetcher: a.fetcher,
	})

	logger.Info("🚀 Starting build...", "units", len(selected), "triplet", dirs.Triplet, "python_version", reg.PythonVersion)
	start := time.Now()
	res, err := sched.Build(ctx, selected)
	if err != nil {
		return err
	}
	logger.Info("🏁 Build finished.", "succeeded", len(res.Succeeded), "took", time.Since(start).Round(time.Second))

	if !a.config.NoCleanup {
		logger.Debug("Removing build prefix.", "path", dirs.Prefix)
		if err := os.RemoveAll(dirs.Prefix); err != nil {
			return err
		}
	}
	return nil
}

// clean removes the output of previous builds.
func (a *App) clean(ctx context.Context, dirs workdirs.Dirs) error {
	logger := ctxlog.FromContext(ctx)
	for _, p := range []string{dirs.Prefix, dirs.Prefix + ".tar.xz", a.wd.Sources, a.wd.Logs} {
		logger.Debug("Cleaning.", "path", p)
		if err := os.RemoveAll(p); err != nil {
			return fmt.Errorf("cleaning %s: %w", p, err)
		}
	}
	return nil
}

// baseEnv is the environment every unit starts from.
func (a *App) baseEnv(pyVersion string) recipe.Env {
	env := recipe.Env{
		"PATH":            os.Getenv("PATH"),
		"RELENV_DEBUG":    "1",
		"RELENV_BUILDENV": "1",
	}
	if host := workdirs.HostArch(); host != a.config.Arch {
		if native, err := a.wd.For(a.config.GOOS, "", host, pyVersion); err == nil {
			env["RELENV_NATIVE_PY"] = filepath.Join(native.Prefix, "bin", "python3")
		}
	}
	return env
}
