// Package platform fills in the compiler settings each build unit needs on
// the target platform.
package platform

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/vk/relenvgo/internal/recipe"
	"github.com/vk/relenvgo/internal/workdirs"
)

// DeploymentTarget is the oldest macOS release the runtime supports.
const DeploymentTarget = "10.15"

// Module implements the recipe.Module interface for this package.
type Module struct {
	GOOS string
}

// Register installs the environment hook for the module's platform.
func (m *Module) Register(r *recipe.Registry) {
	goos := m.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	switch goos {
	case "linux":
		r.SetPopulateEnv(Linux)
	case "darwin":
		r.SetPopulateEnv(Darwin)
	}
}

// Linux points the build at the cross toolchain and the prefix.
func Linux(env recipe.Env, dirs workdirs.Dirs) {
	host := env["RELENV_HOST"]
	tc := dirs.Toolchain
	sysroot := filepath.Join(tc, host, "sysroot")
	lib := filepath.Join(dirs.Prefix, "lib")
	include := filepath.Join(dirs.Prefix, "include")

	env["CC"] = fmt.Sprintf("%s -no-pie", filepath.Join(tc, "bin", host+"-gcc"))
	env["CXX"] = fmt.Sprintf("%s -no-pie", filepath.Join(tc, "bin", host+"-g++"))
	env["PATH"] = filepath.Join(tc, "bin") + "/:" + env["PATH"]

	env["LDFLAGS"] = strings.Join([]string{
		"-Wl,--rpath=" + lib,
		"-L" + lib,
		"-L" + filepath.Join(sysroot, "lib"),
		"-static-libstdc++",
	}, " ")
	cflags := strings.Join([]string{
		"-L" + lib,
		"-L" + filepath.Join(sysroot, "lib"),
		"-I" + include,
		"-I" + filepath.Join(include, "readline"),
		"-I" + filepath.Join(include, "ncursesw"),
		"-I" + filepath.Join(sysroot, "usr", "include"),
	}, " ")
	env["CFLAGS"] = cflags
	env["CPPFLAGS"] = cflags
	env["CXXFLAGS"] = cflags
}

// Darwin builds with the system clang against the prefix.
func Darwin(env recipe.Env, dirs workdirs.Dirs) {
	lib := filepath.Join(dirs.Prefix, "lib")
	include := filepath.Join(dirs.Prefix, "include")

	env["CC"] = "clang"
	env["LDFLAGS"] = "-Wl,-rpath," + lib + " -L" + lib
	env["MACOSX_DEPLOYMENT_TARGET"] = DeploymentTarget
	env["CFLAGS"] = strings.Join([]string{
		"-L" + lib,
		"-I" + include,
		"-I" + filepath.Join(include, "readline"),
	}, " ")
}

// BuildEnv returns the variables a shell needs to compile extensions
// against an installed runtime at prefix with the toolchain at tc.
func BuildEnv(prefix, tc, triplet string) recipe.Env {
	lib := filepath.Join(prefix, "lib")
	sysroot := filepath.Join(tc, triplet, "sysroot")
	cflags := strings.Join([]string{
		"-L" + lib,
		"-L" + filepath.Join(sysroot, "lib"),
		"-I" + filepath.Join(prefix, "include"),
		"-I" + filepath.Join(sysroot, "usr", "include"),
	}, " ")
	return recipe.Env{
		"RELENV_BUILDENV": "1",
		"TOOLCHAIN_PATH":  tc,
		"TRIPLET":         triplet,
		"RELENV_PATH":     prefix,
		"CC":              fmt.Sprintf("%s -no-pie", filepath.Join(tc, "bin", triplet+"-gcc")),
		"CXX":             fmt.Sprintf("%s -no-pie", filepath.Join(tc, "bin", triplet+"-g++")),
		"CFLAGS":          cflags,
		"CPPFLAGS":        cflags,
		"CMAKE_CFLAGS":    cflags,
		"LDFLAGS":         "-L" + lib + " -L" + filepath.Join(sysroot, "lib"),
	}
}

// Exports renders env as sorted shell export lines.
func Exports(env recipe.Env) string {
	var b strings.Builder
	for _, kv := range env.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		fmt.Fprintf(&b, "export %s=%q\n", k, v)
	}
	return b.String()
}
