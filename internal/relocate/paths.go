package relocate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/vk/relenvgo/internal/binfmt"
)

// Loader-relative markers.
const (
	OriginToken     = "$ORIGIN"
	LoaderPathToken = "@loader_path"
)

// RelativeToken returns the search path entry that points from the
// directory of binaryPath to libDir: "$ORIGIN/<rel>" for ELF and
// "@loader_path/<rel>" for Mach-O, or the bare marker when the binary
// already lives in libDir.
func RelativeToken(format binfmt.Format, binaryPath, libDir string) (string, error) {
	marker := OriginToken
	if format == binfmt.MachO {
		marker = LoaderPathToken
	}
	rel, err := filepath.Rel(filepath.Dir(binaryPath), libDir)
	if err != nil {
		return "", fmt.Errorf("relative path from %s to %s: %w", binaryPath, libDir, err)
	}
	if rel == "." {
		return marker, nil
	}
	return marker + "/" + filepath.ToSlash(rel), nil
}

// realPath resolves symlinks when the path exists and otherwise returns the
// cleaned absolute path.
func realPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return abs, nil
		}
		return "", err
	}
	return resolved, nil
}

// inDir reports whether p resolves to a location strictly below dir.
func inDir(p, dir string) bool {
	rp, err := realPath(p)
	if err != nil {
		return false
	}
	return strings.HasPrefix(rp, dir+string(filepath.Separator))
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// copyFile copies src to dst atomically and gives dst the permission bits
// of src.
func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := atomic.WriteFile(dst, f); err != nil {
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}
	return os.Chmod(dst, info.Mode().Perm())
}
