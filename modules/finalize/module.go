// Package finalize turns the installed prefix into a relocatable
// distribution: it relocates the binaries, records the interpreter's build
// configuration, installs pip, rewrites script shebangs and archives the
// result.
package finalize

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/vk/relenvgo/internal/archive"
	"github.com/vk/relenvgo/internal/buildstep"
	"github.com/vk/relenvgo/internal/cmdrun"
	"github.com/vk/relenvgo/internal/ctxlog"
	"github.com/vk/relenvgo/internal/recipe"
	"github.com/vk/relenvgo/internal/relocate"
	"github.com/vk/relenvgo/internal/scheduler"
	"github.com/vk/relenvgo/internal/shim"
	"github.com/vk/relenvgo/internal/workdirs"
)

// Module implements the recipe.Module interface for this package.
type Module struct {
	GOOS   string
	Runner cmdrun.Runner
}

// Register registers the build function with the registry.
func (m *Module) Register(r *recipe.Registry) {
	r.RegisterBuildFunc("finalize", m.Build)
}

func (m *Module) goos() string {
	if m.GOOS == "" {
		return runtime.GOOS
	}
	return m.GOOS
}

func (m *Module) runner() cmdrun.Runner {
	if m.Runner == nil {
		return cmdrun.ExecRunner{}
	}
	return m.Runner
}

const (
	// NativePythonEnv names a host interpreter used in place of the built
	// one when the target cannot run on this machine.
	NativePythonEnv = "RELENV_NATIVE_PY"
	// CrossEnv points the native interpreter at the prefix it works on.
	CrossEnv = "RELENV_CROSS"
)

// ArchivePath is where the distribution of dirs is written.
func ArchivePath(dirs workdirs.Dirs) string {
	return dirs.Prefix + ".tar.xz"
}

// Build finalizes the prefix in dirs.
func (m *Module) Build(ctx context.Context, env recipe.Env, dirs workdirs.Dirs, log io.Writer) error {
	logger := ctxlog.FromContext(ctx)

	plan, err := relocate.New(m.runner(), env.Environ()).Relocate(ctx, relocate.DefaultOptions(dirs.Prefix))
	if err != nil {
		return fmt.Errorf("relocating %s: %w", dirs.Prefix, err)
	}
	fmt.Fprintf(log, "relocated %d binaries, %d copies, %d patches, %d failures\n",
		len(plan.Processed), plan.Copies, plan.Patches, plan.PatchFailures+plan.Failures)

	libDir, err := pythonLibDir(dirs.Prefix)
	if err != nil {
		return err
	}
	python := filepath.Join(dirs.Prefix, "bin", "python3")
	native := env[NativePythonEnv]

	if err := m.captureSysconfig(ctx, env, dirs, python, native, libDir); err != nil {
		return err
	}

	pipEnv := env.Clone()
	delete(pipEnv, "RELENV_BUILDENV")
	if native != "" {
		logger.Info("🔧 Installing pip with the native interpreter.", "python", native, "prefix", dirs.Prefix)
		pipEnv[CrossEnv] = dirs.Prefix
		python = native
	}
	if err := buildstep.New(m.runner(), pipEnv, dirs, log).In(dirs.Prefix).Run(ctx, python, "-m", "ensurepip"); err != nil {
		return err
	}

	if err := m.patchShebangs(dirs, log); err != nil {
		return err
	}

	dest := ArchivePath(dirs)
	n, err := archive.CreateXZ(dest, dirs.Prefix, archive.DistributionGlobs)
	if err != nil {
		return err
	}
	var size uint64
	if info, err := os.Stat(dest); err == nil {
		size = uint64(info.Size())
	}
	fmt.Fprintf(log, "archived %d files into %s\n", n, dest)
	logger.Info("📦 Distribution archived.", "path", dest, "files", n, "size", humanize.Bytes(size))
	return nil
}

// captureSysconfig records the prefix's build configuration. A native
// interpreter, when given, reads the target's _sysconfigdata module instead
// of running the built one.
func (m *Module) captureSysconfig(ctx context.Context, env recipe.Env, dirs workdirs.Dirs, python, native, libDir string) error {
	var (
		vars map[string]any
		err  error
	)
	if native != "" {
		vars, err = shim.QueryTargetVars(ctx, m.runner(), native, libDir, env.Environ())
	} else {
		vars, err = shim.QueryVars(ctx, m.runner(), python, env.Environ())
	}
	if err != nil {
		return err
	}
	toolchain := ""
	if m.goos() == "linux" {
		toolchain = dirs.Toolchain
	}
	tmpl := shim.Template{
		PythonVersion: dirs.Version,
		Triplet:       dirs.Triplet,
		Vars:          shim.Capture(vars, dirs.Prefix, toolchain),
	}
	return shim.Save(filepath.Join(libDir, shim.FileName), tmpl)
}

// patchShebangs points scripts in bin at the bundled interpreter. The
// versioned interpreter path goes first so the shorter one cannot match it.
func (m *Module) patchShebangs(dirs workdirs.Dirs, log io.Writer) error {
	bin := filepath.Join(dirs.Prefix, "bin")
	repl := shim.Trampoline(m.goos(), "/python3")
	mm := scheduler.MajorMinor(dirs.Version)
	major, _, _ := strings.Cut(mm, ".")
	for _, v := range []string{mm, major} {
		old := "#!" + filepath.Join(bin, "python"+v)
		n, err := shim.PatchShebangs(bin, old, repl)
		if err != nil {
			return err
		}
		fmt.Fprintf(log, "patched %d scripts starting with %s\n", n, old)
	}
	return nil
}

// pythonLibDir returns the prefix's lib/pythonX.Y directory.
func pythonLibDir(prefix string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(prefix, "lib", "python*"))
	if err != nil {
		return "", err
	}
	sort.Strings(matches)
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.IsDir() {
			return m, nil
		}
	}
	return "", fmt.Errorf("no python library directory below %s", filepath.Join(prefix, "lib"))
}
