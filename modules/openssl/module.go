// Package openssl builds OpenSSL with its own Configure script.
package openssl

import (
	"context"
	"fmt"
	"io"
	"runtime"

	"github.com/vk/relenvgo/internal/buildstep"
	"github.com/vk/relenvgo/internal/cmdrun"
	"github.com/vk/relenvgo/internal/recipe"
	"github.com/vk/relenvgo/internal/workdirs"
)

// Module implements the recipe.Module interface for this package.
type Module struct {
	// GOOS is the target platform; empty means the running one.
	GOOS   string
	Runner cmdrun.Runner
}

// Register registers the build function with the registry.
func (m *Module) Register(r *recipe.Registry) {
	r.RegisterBuildFunc("openssl", m.Build)
}

// Target returns the OpenSSL Configure target for a platform and host
// architecture.
func Target(goos, arch string) (string, error) {
	switch {
	case goos == "darwin" && arch == "x86_64":
		return "darwin64-x86_64-cc", nil
	case goos == "darwin" && arch == "arm64":
		return "darwin64-arm64-cc", nil
	case goos == "linux" && (arch == "x86_64" || arch == "aarch64"):
		return "linux-" + arch, nil
	}
	return "", fmt.Errorf("unable to build openssl for %s/%s", goos, arch)
}

// Build configures, compiles and installs the libraries and headers.
func (m *Module) Build(ctx context.Context, env recipe.Env, dirs workdirs.Dirs, log io.Writer) error {
	goos := m.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	target, err := Target(goos, env["RELENV_HOST_ARCH"])
	if err != nil {
		return err
	}

	args := []string{
		target,
		"--prefix=" + dirs.Prefix,
		"--openssldir=/etc/ssl",
		"--libdir=lib",
		"--api=1.1.1",
		"--shared",
		"--with-rand-seed=os,egd",
		"enable-md2",
		"enable-egd",
		"no-idea",
	}
	if goos == "linux" {
		args = append(args, "-Wl,-z,noexecstack")
	}

	s := buildstep.New(m.Runner, env, dirs, log)
	if err := s.Run(ctx, "./Configure", args...); err != nil {
		return err
	}
	if err := s.Make(ctx, buildstep.Jobs); err != nil {
		return err
	}
	return s.Make(ctx, "install_sw")
}
