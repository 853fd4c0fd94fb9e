// Package distro manages archived builds in the data directory: listing
// them, fetching prebuilt ones and unpacking them into new environments.
package distro

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-version"
	"github.com/vk/relenvgo/internal/archive"
	"github.com/vk/relenvgo/internal/ctxlog"
	"github.com/vk/relenvgo/internal/download"
	"github.com/vk/relenvgo/internal/shim"
	"github.com/vk/relenvgo/internal/workdirs"
)

// DefaultFetchVersion is the release of prebuilt archives fetched when
// RELENV_FETCH_VERSION is unset.
const DefaultFetchVersion = "0.12.1"

// FetchVersionEnv overrides DefaultFetchVersion.
const FetchVersionEnv = "RELENV_FETCH_VERSION"

// DefaultBaseURL hosts prebuilt archives and toolchains.
const DefaultBaseURL = "https://woz.io/relenv"

var (
	// ErrExists is returned when the target of Create already exists.
	ErrExists = errors.New("the requested path already exists")
	// ErrNoArchive is returned when no archived build matches.
	ErrNoArchive = errors.New("build archive does not exist")
)

// FetchVersion returns the release to fetch prebuilt artifacts from.
func FetchVersion() string {
	if v := os.Getenv(FetchVersionEnv); v != "" {
		return v
	}
	return DefaultFetchVersion
}

// Archived returns the versions of every archived build for triplet,
// newest first. Names that are not versions are ignored.
func Archived(wd workdirs.WorkDirs, triplet string) ([]string, error) {
	suffix := "-" + triplet + ".tar.xz"
	matches, err := filepath.Glob(filepath.Join(wd.Build, "*"+suffix))
	if err != nil {
		return nil, err
	}

	var versions []*version.Version
	for _, m := range matches {
		v, err := version.NewVersion(strings.TrimSuffix(filepath.Base(m), suffix))
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	sort.Sort(sort.Reverse(version.Collection(versions)))

	out := make([]string, 0, len(versions))
	for _, v := range versions {
		out = append(out, v.Original())
	}
	return out, nil
}

// Latest returns the newest archived version for triplet.
func Latest(wd workdirs.WorkDirs, triplet string) (string, error) {
	versions, err := Archived(wd, triplet)
	if err != nil {
		return "", err
	}
	if len(versions) == 0 {
		return "", fmt.Errorf("%w for %s in %s", ErrNoArchive, triplet, wd.Build)
	}
	return versions[0], nil
}

// Create unpacks the archived build of pyVersion into dest, which must not
// exist, and expands its build configuration for dest and toolchain. An
// empty pyVersion selects the newest archived build.
func Create(ctx context.Context, wd workdirs.WorkDirs, dest, pyVersion, triplet, toolchain string) error {
	logger := ctxlog.FromContext(ctx)

	dest, err := filepath.Abs(dest)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(dest); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, dest)
	}
	if pyVersion == "" {
		latest, err := Latest(wd, triplet)
		if err != nil {
			return err
		}
		pyVersion = latest
	}

	tarball := wd.ArchivePath(pyVersion, triplet)
	if _, err := os.Stat(tarball); err != nil {
		return fmt.Errorf("%w: %s (try fetch first)", ErrNoArchive, tarball)
	}

	logger.Info("📦 Creating environment.", "path", dest, "python_version", pyVersion, "triplet", triplet)
	if err := archive.Extract(tarball, dest); err != nil {
		os.RemoveAll(dest)
		return fmt.Errorf("extracting %s: %w", tarball, err)
	}

	path, err := shim.Install(dest, toolchain)
	switch {
	case errors.Is(err, shim.ErrNoTemplate):
		logger.Warn("Archive carries no build configuration template.", "archive", tarball)
	case err != nil:
		os.RemoveAll(dest)
		return err
	default:
		logger.Debug("Build configuration installed.", "path", path)
	}
	return nil
}

// BuildURL returns the location of a prebuilt archive.
func BuildURL(baseURL, release, pyVersion, triplet string) string {
	return fmt.Sprintf("%s/%s/build/%s-%s.tar.xz", strings.TrimRight(baseURL, "/"), release, pyVersion, triplet)
}

// Fetch downloads a prebuilt archive into the build directory.
func Fetch(ctx context.Context, f *download.Fetcher, wd workdirs.WorkDirs, baseURL, release, pyVersion, triplet string, force bool) (string, error) {
	spec := download.Spec{
		Name:    pyVersion + "-" + triplet,
		URL:     BuildURL(baseURL, release, pyVersion, triplet),
		Version: pyVersion,
	}
	return f.Fetch(ctx, spec, wd.Build, force)
}
