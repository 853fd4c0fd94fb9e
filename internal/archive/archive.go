// Package archive reads and writes the compressed tarballs used for source
// downloads and finished distributions.
package archive

import (
	"archive/tar"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/klauspost/compress/gzip"
	"github.com/natefinch/atomic"
	"github.com/ulikunitz/xz"
)

// DistributionGlobs selects the files of a built prefix that go into the
// distribution archive. Patterns are matched against slash-separated paths
// relative to the prefix.
var DistributionGlobs = []string{
	"bin/python*",
	"bin/pip*",
	"bin/relenv",
	"lib/python*/ensurepip/**",
	"lib/python*/site-packages/**",
	"include/**",
	"**/*.so",
	"lib/*.so.*",
	"**/*.a",
	"**/*.py",
	"**/*.dylib",
	"**/*.yaml",
}

// decompressor picks a reader for the archive's extension.
func decompressor(name string, r io.Reader) (io.Reader, error) {
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return gzip.NewReader(r)
	case strings.HasSuffix(name, ".tar.xz"):
		return xz.NewReader(r)
	case strings.HasSuffix(name, ".tar.bz2"):
		return bzip2.NewReader(r), nil
	case strings.HasSuffix(name, ".tar"):
		return r, nil
	}
	return nil, fmt.Errorf("unsupported archive format: %s", filepath.Base(name))
}

// Extract unpacks a .tar, .tar.gz, .tar.xz or .tar.bz2 archive into dest.
// Entries that would land outside dest are rejected.
func Extract(archivePath, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	r, err := decompressor(archivePath, f)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	return untar(tar.NewReader(r), dest)
}

func untar(tr *tar.Reader, dest string) error {
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar: %w", err)
		}

		target := filepath.Join(dest, hdr.Name)
		if target != dest && !strings.HasPrefix(target, filepath.Clean(dest)+string(filepath.Separator)) {
			return fmt.Errorf("archive entry %q escapes destination", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode).Perm()|0o700); err != nil {
				return fmt.Errorf("creating dir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("creating parent dir: %w", err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode).Perm())
			if err != nil {
				return fmt.Errorf("creating file %s: %w", target, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("writing file %s: %w", target, err)
			}
			if err := out.Close(); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("creating parent dir: %w", err)
			}
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("creating symlink %s -> %s: %w", target, hdr.Linkname, err)
			}
		case tar.TypeLink:
			src := filepath.Join(dest, hdr.Linkname)
			_ = os.Remove(target)
			if err := os.Link(src, target); err != nil {
				return fmt.Errorf("creating hard link %s: %w", target, err)
			}
		}
	}
}

// Match reports whether the slash-separated relative path matches any of
// the globs.
func Match(globs []string, rel string) bool {
	for _, g := range globs {
		if ok, _ := doublestar.Match(g, rel); ok {
			return true
		}
	}
	return false
}

// CreateXZ writes an xz-compressed tarball of the files below root that
// match globs. The archive is written atomically. It returns the number of
// files added.
func CreateXZ(archivePath, root string, globs []string) (int, error) {
	pr, pw := io.Pipe()
	done := make(chan int, 1)
	go func() {
		n, err := writeTarXZ(pw, root, globs)
		pw.CloseWithError(err)
		done <- n
	}()
	if err := atomic.WriteFile(archivePath, pr); err != nil {
		pr.CloseWithError(err)
		<-done
		return 0, fmt.Errorf("writing %s: %w", archivePath, err)
	}
	return <-done, nil
}

func writeTarXZ(w io.Writer, root string, globs []string) (int, error) {
	xw, err := xz.NewWriter(w)
	if err != nil {
		return 0, err
	}
	tw := tar.NewWriter(xw)

	count := 0
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !Match(globs, rel) {
			return nil
		}
		if err := addFile(tw, path, rel); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := tw.Close(); err != nil {
		return 0, err
	}
	return count, xw.Close()
}

func addFile(tw *tar.Writer, path, name string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}
	link := ""
	if info.Mode()&os.ModeSymlink != 0 {
		if link, err = os.Readlink(path); err != nil {
			return err
		}
	}
	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Uname, hdr.Gname = "", ""
	hdr.Uid, hdr.Gid = 0, 0
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}
