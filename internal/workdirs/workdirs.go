// Package workdirs derives the directory layout used during a build. All
// values are computed from a data directory root, a unit name, an
// architecture and a runtime version; nothing here touches the process-wide
// working directory.
package workdirs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// ErrUnknownPlatform is returned when no triplet exists for a platform.
var ErrUnknownPlatform = errors.New("unknown platform")

// DataDirEnv overrides the default data directory.
const DataDirEnv = "RELENV_DATA"

// DataDir returns the data directory from RELENV_DATA, falling back to
// ~/.local/relenv. The result is always absolute.
func DataDir() (string, error) {
	if dir := os.Getenv(DataDirEnv); dir != "" {
		return filepath.Abs(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "relenv"), nil
}

// Arches lists the architectures each platform can build for.
var Arches = map[string][]string{
	"linux":  {"x86_64", "aarch64"},
	"darwin": {"x86_64", "arm64"},
}

// CheckArch returns an error unless arch is buildable on goos.
func CheckArch(goos, arch string) error {
	arches, ok := Arches[goos]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlatform, goos)
	}
	for _, a := range arches {
		if a == arch {
			return nil
		}
	}
	return fmt.Errorf("unsupported architecture %q for %s, expected one of %v", arch, goos, arches)
}

// Triplet returns the target triplet for an architecture on the given
// platform (a GOOS value).
func Triplet(goos, arch string) (string, error) {
	switch goos {
	case "linux":
		return arch + "-linux-gnu", nil
	case "darwin":
		return arch + "-macos", nil
	case "windows":
		return arch + "-win", nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownPlatform, goos)
}

// HostArch maps the Go architecture name to the name used in triplets.
func HostArch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "arm64":
		if runtime.GOOS == "darwin" {
			return "arm64"
		}
		return "aarch64"
	}
	return runtime.GOARCH
}

// WorkDirs holds the shared working directories below a data directory.
type WorkDirs struct {
	Root      string
	Build     string
	Sources   string
	Logs      string
	Downloads string
	Toolchain string
}

// New returns the working directories rooted at root.
func New(root string) WorkDirs {
	return WorkDirs{
		Root:      root,
		Build:     filepath.Join(root, "build"),
		Sources:   filepath.Join(root, "src"),
		Logs:      filepath.Join(root, "logs"),
		Downloads: filepath.Join(root, "download"),
		Toolchain: filepath.Join(root, "toolchain"),
	}
}

// ToolchainFor returns the toolchain directory for a triplet.
func (w WorkDirs) ToolchainFor(triplet string) string {
	return filepath.Join(w.Toolchain, triplet)
}

// ArchivePath returns the location of the archived build for a version
// and triplet.
func (w WorkDirs) ArchivePath(version, triplet string) string {
	return filepath.Join(w.Build, fmt.Sprintf("%s-%s.tar.xz", version, triplet))
}

// Dirs is the directory set handed to one build unit. It is a value type;
// WithSource returns a modified copy.
type Dirs struct {
	Name    string
	Arch    string
	Version string
	Triplet string

	Root      string
	Build     string
	Prefix    string
	Sources   string
	Source    string
	Downloads string
	Logs      string
	Toolchain string
	// Scratch is a per-unit build directory below Build.
	Scratch string
}

// For derives the directory set of one unit on the given platform.
func (w WorkDirs) For(goos, name, arch, version string) (Dirs, error) {
	triplet, err := Triplet(goos, arch)
	if err != nil {
		return Dirs{}, err
	}
	toolchain := w.Toolchain
	if goos == "linux" {
		toolchain = w.ToolchainFor(triplet)
	}
	return Dirs{
		Name:      name,
		Arch:      arch,
		Version:   version,
		Triplet:   triplet,
		Root:      w.Root,
		Build:     w.Build,
		Prefix:    filepath.Join(w.Build, fmt.Sprintf("%s-%s", version, triplet)),
		Sources:   w.Sources,
		Downloads: w.Downloads,
		Logs:      w.Logs,
		Toolchain: toolchain,
		Scratch:   filepath.Join(w.Build, ".scratch", name),
	}, nil
}

// WithSource returns a copy of d whose Source is set to path.
func (d Dirs) WithSource(path string) Dirs {
	d.Source = path
	return d
}

// LogFile returns the path of the unit's log file.
func (d Dirs) LogFile() string {
	return filepath.Join(d.Logs, d.Name+".log")
}

// Ensure creates the directories a unit writes to.
func (d Dirs) Ensure() error {
	for _, dir := range []string{d.Sources, d.Logs, d.Prefix, d.Scratch} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}
