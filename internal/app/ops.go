package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/vk/relenvgo/internal/cmdrun"
	"github.com/vk/relenvgo/internal/ctxlog"
	"github.com/vk/relenvgo/internal/distro"
	"github.com/vk/relenvgo/internal/fsutil"
	"github.com/vk/relenvgo/internal/manifest"
	"github.com/vk/relenvgo/internal/relocate"
	"github.com/vk/relenvgo/internal/toolchain"
	"github.com/vk/relenvgo/internal/workdirs"
	"github.com/vk/relenvgo/modules/platform"
)

// Create unpacks an archived build into dest.
func (a *App) Create(ctx context.Context, dest string) error {
	ctx = a.context(ctx)
	triplet, err := a.config.Triplet()
	if err != nil {
		return err
	}
	toolchainDir := ""
	if a.config.GOOS == "linux" {
		toolchainDir = a.wd.ToolchainFor(triplet)
	}
	if err := distro.Create(ctx, a.wd, dest, a.config.PythonVersion, triplet, toolchainDir); err != nil {
		return err
	}
	size, err := fsutil.DirSize(dest)
	if err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Info("✅ Environment created.", "path", dest, "size", humanize.Bytes(uint64(size)))
	return nil
}

// Fetch downloads a prebuilt archive into the data directory.
func (a *App) Fetch(ctx context.Context, baseURL string) (string, error) {
	ctx = a.context(ctx)
	triplet, err := a.config.Triplet()
	if err != nil {
		return "", err
	}
	pyVersion, err := a.pythonVersion(ctx)
	if err != nil {
		return "", err
	}
	if baseURL == "" {
		baseURL = distro.DefaultBaseURL
	}
	return distro.Fetch(ctx, a.fetcher, a.wd, baseURL, distro.FetchVersion(), pyVersion, triplet, a.config.ForceDownload)
}

// ToolchainOptions selects how a toolchain is obtained.
type ToolchainOptions struct {
	Build     bool
	Clean     bool
	BaseURL   string
	ConfigDir string
	// CrosstoolOnly stops a build once crosstool-ng is ready.
	CrosstoolOnly bool
}

// Toolchain fetches or builds the cross toolchain for the configured
// architecture. Toolchains are only used on Linux.
func (a *App) Toolchain(ctx context.Context, opts ToolchainOptions) (string, error) {
	ctx = a.context(ctx)
	if a.config.GOOS != "linux" {
		return "", fmt.Errorf("toolchains are only used on linux, not %s", a.config.GOOS)
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = distro.DefaultBaseURL
	}
	_, ci := os.LookupEnv("CI")
	m := &toolchain.Manager{
		Dirs:    a.wd,
		Fetcher: a.fetcher,
		Runner:  a.runner,
		Env:     toolEnv(),
		Log:     a.outW,
	}
	topts := toolchain.Options{
		Arch:          a.config.Arch,
		Host:          workdirs.HostArch(),
		Clean:         opts.Clean,
		BaseURL:       baseURL,
		Release:       distro.FetchVersion(),
		ConfigDir:     opts.ConfigDir,
		CrosstoolOnly: opts.CrosstoolOnly,
		CI:            ci,
	}
	if opts.Build {
		return m.Build(ctx, topts)
	}
	return m.Fetch(ctx, topts)
}

// Relocate makes the tree at root self-contained. With rpathOnly, outside
// libraries are reported instead of copied.
func (a *App) Relocate(ctx context.Context, root, libDir string, rpathOnly bool) (*relocate.Plan, error) {
	ctx = a.context(ctx)
	if _, ok := a.runner.(cmdrun.ExecRunner); ok {
		if err := cmdrun.Require(relocate.RequiredTools(a.config.GOOS)...); err != nil {
			return nil, err
		}
	}
	opts := relocate.DefaultOptions(root)
	opts.LibDir = libDir
	opts.CopyMode = !rpathOnly
	plan, err := relocate.New(a.runner, toolEnv()).Relocate(ctx, opts)
	if err != nil {
		return plan, err
	}
	fmt.Fprintf(a.outW, "%d binaries, %d libraries copied, %d patched, %d failures\n",
		len(plan.Processed), plan.Copies, plan.Patches, plan.PatchFailures+plan.Failures)
	return plan, nil
}

// Check re-applies relative search paths to an installed tree without
// copying anything into it.
func (a *App) Check(ctx context.Context, root string) error {
	plan, err := a.Relocate(ctx, root, "", true)
	if err != nil {
		return err
	}
	if n := plan.PatchFailures + plan.Failures; n > 0 {
		return fmt.Errorf("%d binaries in %s could not be fixed", n, root)
	}
	return nil
}

// Manifest writes the sha256 of every file below root to w.
func (a *App) Manifest(ctx context.Context, root string, w io.Writer) error {
	ctx = a.context(ctx)
	entries, err := manifest.Build(ctx, root)
	if err != nil {
		return err
	}
	return manifest.Write(w, entries)
}

// BuildEnv writes shell exports for compiling extensions against the
// runtime installed at prefix.
func (a *App) BuildEnv(prefix string, w io.Writer) error {
	if a.config.GOOS != "linux" {
		return fmt.Errorf("buildenv is only supported on linux, not %s", a.config.GOOS)
	}
	triplet, err := a.config.Triplet()
	if err != nil {
		return err
	}
	env := platform.BuildEnv(prefix, a.wd.ToolchainFor(triplet), triplet)
	_, err = io.WriteString(w, platform.Exports(env))
	return err
}
