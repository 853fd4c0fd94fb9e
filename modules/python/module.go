// Package python builds the CPython interpreter against the libraries
// installed into the prefix by the other units.
package python

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/vk/relenvgo/internal/buildstep"
	"github.com/vk/relenvgo/internal/cmdrun"
	"github.com/vk/relenvgo/internal/recipe"
	"github.com/vk/relenvgo/internal/workdirs"
)

// multiarchPatch stops setup.py from adding the build machine's multiarch
// directories to the library search path.
const multiarchPatch = `--- ./setup.py
+++ ./setup.py
@@ -664,6 +664,7 @@
             self.failed.append(ext.name)

     def add_multiarch_paths(self):
+        return
         # Debian/Ubuntu multiarch support.
         # https://wiki.ubuntu.com/MultiarchSpec
         tmpfile = os.path.join(self.build_temp, 'multiarch')
`

// Module implements the recipe.Module interface for this package.
type Module struct {
	GOOS   string
	Runner cmdrun.Runner
}

// Register registers the build function with the registry.
func (m *Module) Register(r *recipe.Registry) {
	r.RegisterBuildFunc("python", m.Build)
}

// Build configures, compiles and installs the interpreter.
func (m *Module) Build(ctx context.Context, env recipe.Env, dirs workdirs.Dirs, log io.Writer) error {
	goos := m.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	if goos == "darwin" {
		return m.darwin(ctx, env, dirs, log)
	}
	return m.linux(ctx, env, dirs, log)
}

func (m *Module) linux(ctx context.Context, env recipe.Env, dirs workdirs.Dirs, log io.Writer) error {
	env["LDFLAGS"] = "-Wl,--rpath=" + filepath.Join(dirs.Prefix, "lib") + " " + env["LDFLAGS"]
	s := buildstep.New(m.Runner, env, dirs, log)

	// Needed with a toolchain even when build and host match.
	if err := s.Replace("configure", "ac_cv_buggy_getaddrinfo=yes", "ac_cv_buggy_getaddrinfo=no"); err != nil {
		return err
	}
	if err := s.Replace("configure",
		"ac_cv_enable_implicit_function_declaration_error=yes",
		"ac_cv_enable_implicit_function_declaration_error=no"); err != nil {
		return err
	}

	patch := filepath.Join(dirs.Scratch, "setup.patch")
	if err := os.WriteFile(patch, []byte(multiarchPatch), 0o644); err != nil {
		return err
	}
	if err := s.Run(ctx, "patch", "-p0", "-i", patch); err != nil {
		return err
	}

	args := []string{
		"-v",
		"--prefix=" + dirs.Prefix,
		"--with-openssl=" + dirs.Prefix,
		"--enable-optimizations",
		"--with-ensurepip=no",
		"--build=" + env["RELENV_BUILD"],
		"--host=" + env["RELENV_HOST"],
		"--disable-test-modules",
	}
	if env["RELENV_HOST_ARCH"] != env["RELENV_BUILD_ARCH"] {
		args = append(args, "--with-build-python="+env["RELENV_NATIVE_PY"])
	}
	args = append(args, "ac_cv_file__dev_ptmx=yes", "ac_cv_file__dev_ptc=no")
	if err := s.Configure(ctx, args...); err != nil {
		return err
	}
	if err := s.AppendFile(filepath.Join("Modules", "Setup"), "*disabled*\n_tkinter\nnsl\nnis\n"); err != nil {
		return err
	}
	return s.MakeInstall(ctx)
}

func (m *Module) darwin(ctx context.Context, env recipe.Env, dirs workdirs.Dirs, log io.Writer) error {
	env["LDFLAGS"] = "-Wl,-rpath," + filepath.Join(dirs.Prefix, "lib") + " " + env["LDFLAGS"]
	s := buildstep.New(m.Runner, env, dirs, log)
	err := s.Configure(ctx,
		"-v",
		"--prefix="+dirs.Prefix,
		"--with-openssl="+dirs.Prefix,
		"--enable-optimizations",
		"--disable-test-modules",
	)
	if err != nil {
		return err
	}
	if err := s.AppendFile(filepath.Join("Modules", "Setup"), "*disabled*\n_tkinter\nnsl\nncurses\nnis\n"); err != nil {
		return err
	}
	return s.MakeInstall(ctx)
}
