// Package download fetches source archives and verifies them against a
// recorded checksum. Archives already on disk with a matching checksum are
// reused; failed transfers are retried with exponential backoff and then
// attempted once more from the fallback URL, if one is configured.
package download

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"github.com/natefinch/atomic"
	"github.com/vk/relenvgo/internal/ctxlog"
	"golang.org/x/sync/errgroup"
)

// ErrChecksumMismatch is returned when a file's digest differs from the
// expected checksum.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// Error reports a download that could not be completed.
type Error struct {
	URL string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("downloading %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Spec describes one downloadable archive. URL and FallbackURL are final
// URLs; version templating happens when recipes are loaded.
type Spec struct {
	Name        string
	URL         string
	FallbackURL string
	Version     string
	// Checksum is a hex digest; the algorithm follows from its length.
	Checksum string
}

// FileName is the last path segment of the URL.
func (s Spec) FileName() string {
	return path.Base(s.URL)
}

// Path returns where the archive is stored below dir.
func (s Spec) Path(dir string) string {
	return filepath.Join(dir, s.FileName())
}

var archiveSuffixes = []string{".tar.gz", ".tar.xz", ".tar.bz2", ".tgz", ".tar"}

// SourceDir is the archive file name without its archive extension, which
// by convention is the top-level directory inside it.
func (s Spec) SourceDir() string {
	name := s.FileName()
	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix)
		}
	}
	return name
}

// Fetcher performs downloads.
type Fetcher struct {
	Client *http.Client
	// Retries is the number of retries after the first attempt.
	Retries int
	// InitialInterval is the first backoff delay.
	InitialInterval time.Duration
}

// Default is the Fetcher used when none is configured.
var Default = &Fetcher{
	Client:          &http.Client{Timeout: 10 * time.Minute},
	Retries:         3,
	InitialInterval: time.Second,
}

// Fetch makes sure a verified copy of s exists in dest and returns its path.
// Unless force is set, an existing file with a matching checksum is reused.
func (f *Fetcher) Fetch(ctx context.Context, s Spec, dest string, force bool) (string, error) {
	logger := ctxlog.FromContext(ctx).With("download", s.Name)
	target := s.Path(dest)

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("creating download directory: %w", err)
	}

	if !force && s.Checksum != "" {
		if err := Verify(target, s.Checksum); err == nil {
			logger.Debug("Already downloaded, skipping.", "path", target)
			return target, nil
		}
	}

	err := f.get(ctx, s.URL, target)
	if err != nil && s.FallbackURL != "" {
		logger.Warn("Download failed, trying fallback URL.", "url", s.URL, "fallback", s.FallbackURL, "error", err)
		err = f.get(ctx, s.FallbackURL, target)
	}
	if err != nil {
		return "", err
	}

	if s.Checksum == "" {
		logger.Warn("No checksum configured, archive not verified.", "path", target)
		return target, nil
	}
	if err := Verify(target, s.Checksum); err != nil {
		_ = os.Remove(target)
		return "", fmt.Errorf("%s: %w", s.Name, err)
	}
	return target, nil
}

// get downloads url into target, retrying transient failures.
func (f *Fetcher) get(ctx context.Context, url, target string) error {
	logger := ctxlog.FromContext(ctx)

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = f.InitialInterval
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(f.Retries)), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := f.getOnce(ctx, url, target)
		if err != nil {
			logger.Debug("Download attempt failed.", "url", url, "attempt", attempt, "error", err)
		}
		return err
	}, b)
	if err != nil {
		return &Error{URL: url, Err: err}
	}
	return nil
}

func (f *Fetcher) getOnce(ctx context.Context, url, target string) error {
	logger := ctxlog.FromContext(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %s", resp.Status)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}

	counter := &countingReader{r: resp.Body}
	if err := atomic.WriteFile(target, counter); err != nil {
		return err
	}
	logger.Info("📦 Downloaded.", "url", url, "size", humanize.Bytes(uint64(counter.n)), "took", time.Since(start).Round(time.Millisecond))
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Verify checks the digest of a file. md5, sha1 and sha256 checksums are
// recognised by length.
func Verify(file, checksum string) error {
	var h hash.Hash
	switch len(checksum) {
	case 32:
		h = md5.New()
	case 40:
		h = sha1.New()
	case 64:
		h = sha256.New()
	default:
		return fmt.Errorf("invalid checksum length %d", len(checksum))
	}

	fp, err := os.Open(file)
	if err != nil {
		return err
	}
	defer fp.Close()
	if _, err := io.Copy(h, fp); err != nil {
		return fmt.Errorf("hashing %s: %w", file, err)
	}

	found := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(found, checksum) {
		return fmt.Errorf("%w: expected %s, found %s", ErrChecksumMismatch, checksum, found)
	}
	return nil
}

// FetchAll downloads every spec concurrently, at most limit at a time.
func (f *Fetcher) FetchAll(ctx context.Context, specs []Spec, dest string, force bool, limit int) (map[string]string, error) {
	paths := make([]string, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, s := range specs {
		i, s := i, s
		g.Go(func() error {
			p, err := f.Fetch(gctx, s, dest, force)
			if err != nil {
				return err
			}
			paths[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(specs))
	for i, s := range specs {
		out[s.Name] = paths[i]
	}
	return out, nil
}
