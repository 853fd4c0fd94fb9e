package download

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const payload = "pretend this is a tarball"

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func sha256hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func testFetcher() *Fetcher {
	return &Fetcher{Client: http.DefaultClient, Retries: 2, InitialInterval: time.Millisecond}
}

// countingServer serves payload on every path and counts hits.
func countingServer(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		_, _ = w.Write([]byte(payload))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestSpecNames(t *testing.T) {
	s := Spec{URL: "https://www.openssl.org/source/openssl-1.1.1t.tar.gz"}
	assert.Equal(t, "openssl-1.1.1t.tar.gz", s.FileName())
	assert.Equal(t, "openssl-1.1.1t", s.SourceDir())
	assert.Equal(t, filepath.Join("/d", "openssl-1.1.1t.tar.gz"), s.Path("/d"))

	assert.Equal(t, "sqlite-autoconf-3400100", Spec{URL: "https://sqlite.org/2022/sqlite-autoconf-3400100.tar.gz"}.SourceDir())
	assert.Equal(t, "xz-5.4.1", Spec{URL: "http://tukaani.org/xz/xz-5.4.1.tar.xz"}.SourceDir())
	assert.Equal(t, "bzip2-1.0.8", Spec{URL: "https://sourceware.org/pub/bzip2/bzip2-1.0.8.tar.bz2"}.SourceDir())
}

func TestFetch(t *testing.T) {
	srv, hits := countingServer(t, http.StatusOK)
	dest := t.TempDir()
	s := Spec{Name: "zlib", URL: srv.URL + "/zlib-1.2.13.tar.gz", Checksum: md5hex(payload)}

	p, err := testFetcher().Fetch(context.Background(), s, dest, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "zlib-1.2.13.tar.gz"), p)
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))
	assert.EqualValues(t, 1, hits.Load())

	t.Run("valid existing file is reused", func(t *testing.T) {
		_, err := testFetcher().Fetch(context.Background(), s, dest, false)
		require.NoError(t, err)
		assert.EqualValues(t, 1, hits.Load())
	})

	t.Run("force downloads again", func(t *testing.T) {
		_, err := testFetcher().Fetch(context.Background(), s, dest, true)
		require.NoError(t, err)
		assert.EqualValues(t, 2, hits.Load())
	})
}

func TestFetchChecksumMismatch(t *testing.T) {
	srv, _ := countingServer(t, http.StatusOK)
	dest := t.TempDir()
	s := Spec{Name: "XZ", URL: srv.URL + "/xz-5.4.1.tar.xz", Checksum: sha256hex("something else")}

	_, err := testFetcher().Fetch(context.Background(), s, dest, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
	assert.NoFileExists(t, s.Path(dest))
}

func TestFetchNotFoundIsNotRetried(t *testing.T) {
	srv, hits := countingServer(t, http.StatusNotFound)
	s := Spec{Name: "uuid", URL: srv.URL + "/libuuid-1.0.3.tar.gz"}

	_, err := testFetcher().Fetch(context.Background(), s, t.TempDir(), false)
	var dlErr *Error
	require.True(t, errors.As(err, &dlErr))
	assert.Equal(t, s.URL, dlErr.URL)
	assert.EqualValues(t, 1, hits.Load())
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(payload))
	}))
	t.Cleanup(srv.Close)

	s := Spec{Name: "gdbm", URL: srv.URL + "/gdbm-1.23.tar.gz", Checksum: md5hex(payload)}
	_, err := testFetcher().Fetch(context.Background(), s, t.TempDir(), false)
	require.NoError(t, err)
	assert.EqualValues(t, 3, hits.Load())
}

func TestFetchFallback(t *testing.T) {
	broken, brokenHits := countingServer(t, http.StatusInternalServerError)
	mirror, mirrorHits := countingServer(t, http.StatusOK)

	s := Spec{
		Name:        "readline",
		URL:         broken.URL + "/readline-8.2.tar.gz",
		FallbackURL: mirror.URL + "/readline-8.2.tar.gz",
		Checksum:    md5hex(payload),
	}
	_, err := testFetcher().Fetch(context.Background(), s, t.TempDir(), false)
	require.NoError(t, err)
	assert.EqualValues(t, 3, brokenHits.Load(), "first attempt plus two retries")
	assert.EqualValues(t, 1, mirrorHits.Load())
}

func TestVerify(t *testing.T) {
	p := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(p, []byte(payload), 0o644))

	assert.NoError(t, Verify(p, md5hex(payload)))
	assert.NoError(t, Verify(p, sha256hex(payload)))
	assert.ErrorIs(t, Verify(p, md5hex("x")), ErrChecksumMismatch)
	assert.ErrorContains(t, Verify(p, "abc"), "invalid checksum length")
}

func TestFetchAll(t *testing.T) {
	srv, hits := countingServer(t, http.StatusOK)
	dest := t.TempDir()
	specs := []Spec{
		{Name: "a", URL: srv.URL + "/a.tar.gz", Checksum: md5hex(payload)},
		{Name: "b", URL: srv.URL + "/b.tar.gz", Checksum: md5hex(payload)},
		{Name: "c", URL: srv.URL + "/c.tar.gz", Checksum: md5hex(payload)},
	}

	paths, err := testFetcher().FetchAll(context.Background(), specs, dest, false, 2)
	require.NoError(t, err)
	assert.Len(t, paths, 3)
	assert.Equal(t, filepath.Join(dest, "b.tar.gz"), paths["b"])
	assert.EqualValues(t, 3, hits.Load())
}
