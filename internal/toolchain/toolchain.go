// Package toolchain provides the cross compilers Linux builds use, either
// by fetching a prebuilt archive or by building one with crosstool-ng.
package toolchain

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/vk/relenvgo/internal/archive"
	"github.com/vk/relenvgo/internal/cmdrun"
	"github.com/vk/relenvgo/internal/ctxlog"
	"github.com/vk/relenvgo/internal/download"
	"github.com/vk/relenvgo/internal/workdirs"
)

const (
	// CrosstoolVersion is the crosstool-ng release used by Build.
	CrosstoolVersion = "1.25.0"
	crosstoolURL     = "http://crosstool-ng.org/download/crosstool-ng/crosstool-ng-%s.tar.bz2"
)

// URL returns the location of a prebuilt toolchain for triplet built on a
// host machine.
func URL(baseURL, release, host, triplet string) string {
	return fmt.Sprintf("%s/%s/toolchain/%s/%s.tar.xz", strings.TrimRight(baseURL, "/"), release, host, triplet)
}

// Options configures Fetch and Build.
type Options struct {
	Arch string
	// Host is the architecture of the build machine.
	Host  string
	Clean bool
	// BaseURL and Release locate prebuilt toolchains.
	BaseURL string
	Release string
	// ConfigDir holds <host>/<triplet>-ct-ng.config files for Build.
	ConfigDir string
	// CrosstoolOnly stops Build after crosstool-ng itself is ready.
	CrosstoolOnly bool
	// CI disables crosstool-ng progress output.
	CI bool
}

// Manager fetches and builds toolchains below a data directory.
type Manager struct {
	Dirs    workdirs.WorkDirs
	Fetcher *download.Fetcher
	Runner  cmdrun.Runner
	// Env is the base environment for crosstool-ng.
	Env []string
	// Log receives crosstool-ng output.
	Log io.Writer
}

func (m *Manager) prepare(ctx context.Context, opts Options) (string, bool, error) {
	triplet, err := workdirs.Triplet("linux", opts.Arch)
	if err != nil {
		return "", false, err
	}
	archDir := m.Dirs.ToolchainFor(triplet)
	if opts.Clean {
		if err := os.RemoveAll(archDir); err != nil {
			return "", false, err
		}
	}
	if err := os.MkdirAll(m.Dirs.Toolchain, 0o755); err != nil {
		return "", false, err
	}
	if _, err := os.Stat(archDir); err == nil {
		ctxlog.FromContext(ctx).Info("Toolchain directory exists, skipping.", "arch", opts.Arch, "path", archDir)
		return archDir, true, nil
	}
	return archDir, false, nil
}

// Fetch downloads and unpacks the prebuilt toolchain for opts.Arch unless
// it is already present.
func (m *Manager) Fetch(ctx context.Context, opts Options) (string, error) {
	archDir, exists, err := m.prepare(ctx, opts)
	if err != nil || exists {
		return archDir, err
	}
	triplet := filepath.Base(archDir)
	spec := download.Spec{
		Name: "toolchain-" + triplet,
		URL:  URL(opts.BaseURL, opts.Release, opts.Host, triplet),
	}
	tarball, err := m.Fetcher.Fetch(ctx, spec, m.Dirs.Toolchain, false)
	if err != nil {
		return "", err
	}
	if err := archive.Extract(tarball, m.Dirs.Toolchain); err != nil {
		return "", fmt.Errorf("extracting %s: %w", tarball, err)
	}
	ctxlog.FromContext(ctx).Info("✅ Toolchain ready.", "path", archDir)
	return archDir, nil
}

// Build compiles crosstool-ng if needed and then uses it to build the
// toolchain for opts.Arch.
func (m *Manager) Build(ctx context.Context, opts Options) (string, error) {
	logger := ctxlog.FromContext(ctx)

	ctngDir, err := m.crosstool(ctx)
	if err != nil {
		return "", err
	}
	if opts.CrosstoolOnly {
		return ctngDir, nil
	}

	archDir, exists, err := m.prepare(ctx, opts)
	if err != nil || exists {
		return archDir, err
	}
	triplet := filepath.Base(archDir)

	config := filepath.Join(opts.ConfigDir, opts.Host, triplet+"-ct-ng.config")
	data, err := os.ReadFile(config)
	if err != nil {
		return "", fmt.Errorf("toolchain config missing: %w", err)
	}
	if err := os.WriteFile(filepath.Join(m.Dirs.Toolchain, ".config"), data, 0o644); err != nil {
		return "", err
	}

	env := append(append([]string(nil), m.Env...),
		"CT_PREFIX="+m.Dirs.Toolchain,
		"CT_ALLOW_BUILD_AS_ROOT=y",
		"CT_ALLOW_BUILD_AS_ROOT_SURE=y",
	)
	if opts.CI {
		env = append(env, "CT_LOG_PROGRESS=n")
	}
	ctng := filepath.Join(ctngDir, "ct-ng")
	for _, step := range []string{"source", "build"} {
		logger.Info("🔧 Running crosstool-ng.", "step", step, "triplet", triplet)
		if err := m.run(ctx, cmdrun.Command{Name: ctng, Args: []string{step}, Dir: m.Dirs.Toolchain, Env: env}); err != nil {
			return "", err
		}
	}
	logger.Info("✅ Toolchain built.", "path", archDir)
	return archDir, nil
}

// crosstool makes sure a locally configured crosstool-ng exists.
func (m *Manager) crosstool(ctx context.Context) (string, error) {
	ctngDir := filepath.Join(m.Dirs.Toolchain, "crosstool-ng-"+CrosstoolVersion)
	if _, err := os.Stat(ctngDir); err != nil {
		spec := download.Spec{Name: "crosstool-ng", URL: fmt.Sprintf(crosstoolURL, CrosstoolVersion), Version: CrosstoolVersion}
		tarball, err := m.Fetcher.Fetch(ctx, spec, m.Dirs.Toolchain, false)
		if err != nil {
			return "", err
		}
		if err := archive.Extract(tarball, m.Dirs.Toolchain); err != nil {
			return "", fmt.Errorf("extracting %s: %w", tarball, err)
		}
	}
	if _, err := os.Stat(filepath.Join(ctngDir, "ct-ng")); err == nil {
		return ctngDir, nil
	}
	for _, c := range []cmdrun.Command{
		{Name: "./configure", Args: []string{"--enable-local"}, Dir: ctngDir, Env: m.Env},
		{Name: "make", Dir: ctngDir, Env: m.Env},
	} {
		if err := m.run(ctx, c); err != nil {
			return "", err
		}
	}
	return ctngDir, nil
}

func (m *Manager) run(ctx context.Context, c cmdrun.Command) error {
	c.Stdout = m.Log
	c.Stderr = m.Log
	_, err := m.Runner.Run(ctx, c)
	return err
}
