// Package autotools builds the native libraries the runtime links against.
// Most of them follow the configure, make, make install pattern with a few
// library specific flags.
package autotools

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vk/relenvgo/internal/buildstep"
	"github.com/vk/relenvgo/internal/cmdrun"
	"github.com/vk/relenvgo/internal/recipe"
	"github.com/vk/relenvgo/internal/workdirs"
)

// Module implements the recipe.Module interface for this package.
type Module struct {
	// Runner overrides process execution, mainly for tests.
	Runner cmdrun.Runner
}

// Register registers the build functions with the registry.
func (m *Module) Register(r *recipe.Registry) {
	r.RegisterBuildFunc(recipe.DefaultBuild, m.Default)
	r.RegisterBuildFunc("sqlite", m.SQLite)
	r.RegisterBuildFunc("bzip2", m.Bzip2)
	r.RegisterBuildFunc("gdbm", m.Gdbm)
	r.RegisterBuildFunc("ncurses", m.Ncurses)
	r.RegisterBuildFunc("libffi", m.Libffi)
	r.RegisterBuildFunc("zlib", m.Zlib)
	r.RegisterBuildFunc("krb5", m.Krb5)
}

// Default runs configure with the install prefix, then make and make install.
func (m *Module) Default(ctx context.Context, env recipe.Env, dirs workdirs.Dirs, log io.Writer) error {
	s := buildstep.New(m.Runner, env, dirs, log)
	args := append([]string{"--prefix=" + dirs.Prefix}, buildstep.CrossArgs(env)...)
	if err := s.Configure(ctx, args...); err != nil {
		return err
	}
	return s.MakeInstall(ctx)
}

// SQLite builds a shared, thread safe libsqlite3.
func (m *Module) SQLite(ctx context.Context, env recipe.Env, dirs workdirs.Dirs, log io.Writer) error {
	s := buildstep.New(m.Runner, env, dirs, log)
	args := []string{
		"--with-shared",
		"--without-static",
		"--enable-threadsafe",
		"--disable-readline",
		"--disable-dependency-tracking",
		"--prefix=" + dirs.Prefix,
		"--enable-add-ons=nptl,ports",
	}
	args = append(args, buildstep.CrossArgs(env)...)
	if err := s.Configure(ctx, args...); err != nil {
		return err
	}
	return s.MakeInstall(ctx)
}

// Bzip2 has no configure script. The static library and the shared one
// come from separate makefiles.
func (m *Module) Bzip2(ctx context.Context, env recipe.Env, dirs workdirs.Dirs, log io.Writer) error {
	s := buildstep.New(m.Runner, env, dirs, log)
	err := s.Make(ctx,
		buildstep.Jobs,
		"PREFIX="+dirs.Prefix,
		"LDFLAGS="+env["LDFLAGS"],
		"CFLAGS=-fPIC",
		"CC="+env["CC"],
		"BUILD="+env["RELENV_BUILD"],
		"HOST="+env["RELENV_HOST"],
		"install",
	)
	if err != nil {
		return err
	}
	err = s.Make(ctx,
		"-f", "Makefile-libbz2_so",
		"CC="+env["CC"],
		"LDFLAGS="+env["LDFLAGS"],
		"BUILD="+env["RELENV_BUILD"],
		"HOST="+env["RELENV_HOST"],
	)
	if err != nil {
		return err
	}
	libs, err := filepath.Glob(filepath.Join(s.Dir(), "libbz2.so.*.*.*"))
	if err != nil {
		return err
	}
	if len(libs) == 0 {
		return fmt.Errorf("libbz2 shared library not found in %s", s.Dir())
	}
	return copyInto(libs[0], filepath.Join(dirs.Prefix, "lib"))
}

// Gdbm builds gdbm with the ndbm compatibility layer.
func (m *Module) Gdbm(ctx context.Context, env recipe.Env, dirs workdirs.Dirs, log io.Writer) error {
	s := buildstep.New(m.Runner, env, dirs, log)
	args := append([]string{"--prefix=" + dirs.Prefix, "--enable-libgdbm-compat"}, buildstep.CrossArgs(env)...)
	if err := s.Configure(ctx, args...); err != nil {
		return err
	}
	return s.MakeInstall(ctx)
}

// Ncurses installs into the prefix through DESTDIR so the library keeps a
// root-relative terminfo location. Cross builds first compile a native tic
// in the scratch directory.
func (m *Module) Ncurses(ctx context.Context, env recipe.Env, dirs workdirs.Dirs, log io.Writer) error {
	s := buildstep.New(m.Runner, env, dirs, log)
	configure := filepath.Join(dirs.Source, "configure")

	if env["RELENV_BUILD_ARCH"] == "aarch64" || env["RELENV_HOST_ARCH"] == "aarch64" {
		native := s.In(dirs.Scratch)
		if err := native.Run(ctx, configure); err != nil {
			return err
		}
		if err := native.Make(ctx, "-C", "include"); err != nil {
			return err
		}
		if err := native.Make(ctx, "-C", "progs", "tic"); err != nil {
			return err
		}
	}

	args := []string{
		"--prefix=/",
		"--with-shared",
		"--without-cxx-shared",
		"--without-static",
		"--without-cxx",
		"--enable-widec",
		"--without-normal",
		"--disable-stripping",
	}
	args = append(args, buildstep.CrossArgs(env)...)
	if err := s.Run(ctx, configure, args...); err != nil {
		return err
	}
	if err := s.Make(ctx, buildstep.Jobs); err != nil {
		return err
	}
	return s.Make(ctx,
		"DESTDIR="+dirs.Prefix,
		"TIC_PATH="+filepath.Join(dirs.Scratch, "progs", "tic"),
		"install",
	)
}

// Libffi ignores --libdir on some platforms, so the generated Makefile is
// rewritten to install into lib rather than lib64.
func (m *Module) Libffi(ctx context.Context, env recipe.Env, dirs workdirs.Dirs, log io.Writer) error {
	s := buildstep.New(m.Runner, env, dirs, log)
	args := append([]string{"--prefix=" + dirs.Prefix, "--disable-multi-os-directory"}, buildstep.CrossArgs(env)...)
	if err := s.Configure(ctx, args...); err != nil {
		return err
	}
	if err := s.Replace("Makefile", "lib64", "lib"); err != nil {
		return err
	}
	return s.MakeInstall(ctx)
}

// Zlib builds a position independent shared libz.
func (m *Module) Zlib(ctx context.Context, env recipe.Env, dirs workdirs.Dirs, log io.Writer) error {
	env["CFLAGS"] = "-fPIC " + env["CFLAGS"]
	s := buildstep.New(m.Runner, env, dirs, log)
	if err := s.Configure(ctx, "--prefix="+dirs.Prefix, "--libdir="+filepath.Join(dirs.Prefix, "lib"), "--shared"); err != nil {
		return err
	}
	return s.MakeInstall(ctx)
}

// Krb5 builds from the src subdirectory of the release archive.
func (m *Module) Krb5(ctx context.Context, env recipe.Env, dirs workdirs.Dirs, log io.Writer) error {
	if env["RELENV_BUILD_ARCH"] != env["RELENV_HOST_ARCH"] {
		env["krb5_cv_attr_constructor_destructor"] = "yes,yes"
		env["ac_cv_func_regcomp"] = "yes"
		env["ac_cv_printf_positional"] = "yes"
	}
	s := buildstep.New(m.Runner, env, dirs, log).In("src")
	args := append([]string{"--prefix=" + dirs.Prefix, "--without-system-verto", "--without-libedit"}, buildstep.CrossArgs(env)...)
	if err := s.Configure(ctx, args...); err != nil {
		return err
	}
	return s.MakeInstall(ctx)
}

// copyInto copies src into dir keeping its mode.
func copyInto(src, dir string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	dst := filepath.Join(dir, filepath.Base(src))
	if err := os.WriteFile(dst, data, info.Mode().Perm()); err != nil {
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return nil
}
