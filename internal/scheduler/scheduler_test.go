package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/relenvgo/internal/archive"
	"github.com/vk/relenvgo/internal/download"
	"github.com/vk/relenvgo/internal/recipe"
	"github.com/vk/relenvgo/internal/testutil"
	"github.com/vk/relenvgo/internal/workdirs"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recorder collects build events from concurrent units.
type recorder struct {
	mu     sync.Mutex
	events []string
	calls  map[string]int
}

func newRecorder() *recorder {
	return &recorder{calls: make(map[string]int)}
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) call(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[name]++
}

func (r *recorder) index(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.events {
		if e == event {
			return i
		}
	}
	return -1
}

type testUnit struct {
	name   string
	waitOn []string
	build  recipe.BuildFunc
}

func succeed(rec *recorder, name string) recipe.BuildFunc {
	return func(ctx context.Context, env recipe.Env, dirs workdirs.Dirs, log io.Writer) error {
		rec.call(name)
		rec.add("start " + name)
		fmt.Fprintf(log, "building %s\n", name)
		rec.add("end " + name)
		return nil
	}
}

func failWith(rec *recorder, name string, err error) recipe.BuildFunc {
	return func(ctx context.Context, env recipe.Env, dirs workdirs.Dirs, log io.Writer) error {
		rec.call(name)
		fmt.Fprintf(log, "compiler exploded in %s\n", name)
		return err
	}
}

func newTestScheduler(t *testing.T, out io.Writer, units ...testUnit) (*Scheduler, workdirs.WorkDirs) {
	t.Helper()
	reg := recipe.New()
	reg.PythonVersion = "3.10.10"
	for _, u := range units {
		reg.RegisterBuildFunc(u.name, u.build)
		require.NoError(t, reg.Add(recipe.Unit{Name: u.name, BuildName: u.name, WaitOn: u.waitOn}))
	}
	require.NoError(t, reg.Validate())

	wd := workdirs.New(t.TempDir())
	s := New(reg, Config{
		GOOS:      "linux",
		Arch:      "x86_64",
		BuildArch: "x86_64",
		Dirs:      wd,
		Env:       recipe.Env{"PATH": "/usr/bin:/bin"},
		Tick:      10 * time.Millisecond,
		Out:       out,
	})
	return s, wd
}

func TestSignal(t *testing.T) {
	s := NewSignal()
	assert.False(t, s.isOpen())
	s.Open()
	s.Open()
	assert.True(t, s.isOpen())
	select {
	case <-s.Done():
	default:
		t.Fatal("signal channel should be closed")
	}
}

func TestBuild_JoinWaitsOnBothPrerequisites(t *testing.T) {
	rec := newRecorder()
	bStarted := make(chan struct{})

	a := func(ctx context.Context, env recipe.Env, dirs workdirs.Dirs, log io.Writer) error {
		rec.call("A")
		rec.add("start A")
		// A and B must be running at the same time.
		select {
		case <-bStarted:
		case <-time.After(5 * time.Second):
			return errors.New("B never started")
		}
		rec.add("end A")
		return nil
	}
	b := func(ctx context.Context, env recipe.Env, dirs workdirs.Dirs, log io.Writer) error {
		rec.call("B")
		rec.add("start B")
		close(bStarted)
		rec.add("end B")
		return nil
	}

	s, _ := newTestScheduler(t, io.Discard,
		testUnit{name: "A", build: a},
		testUnit{name: "B", build: b},
		testUnit{name: "C", waitOn: []string{"A", "B"}, build: succeed(rec, "C")},
	)

	result, err := s.Build(context.Background(), []string{"A", "B", "C"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, result.Succeeded)
	assert.Empty(t, result.Failed)
	assert.Empty(t, result.Cancelled)

	assert.Greater(t, rec.index("start C"), rec.index("end A"))
	assert.Greater(t, rec.index("start C"), rec.index("end B"))
	assert.Equal(t, map[string]int{"A": 1, "B": 1, "C": 1}, rec.calls)
}

func TestBuild_FailureCancelsDependents(t *testing.T) {
	rec := newRecorder()
	out := &testutil.SafeBuffer{}

	s, wd := newTestScheduler(t, out,
		testUnit{name: "A", build: succeed(rec, "A")},
		testUnit{name: "B", build: failWith(rec, "B", errors.New("make: *** [all] Error 2"))},
		testUnit{name: "C", waitOn: []string{"A", "B"}, build: succeed(rec, "C")},
	)

	result, err := s.Build(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBuildFailed)
	assert.Contains(t, err.Error(), "make: *** [all] Error 2")

	assert.Equal(t, []string{"A"}, result.Succeeded)
	assert.Equal(t, []string{"B"}, result.Failed)
	assert.Equal(t, []string{"C"}, result.Cancelled)
	assert.Zero(t, rec.calls["C"])

	assert.Contains(t, out.String(), "Failed units: B")
	assert.Contains(t, out.String(), "compiler exploded in B")

	logData, err := os.ReadFile(filepath.Join(wd.Logs, "B.log"))
	require.NoError(t, err)
	assert.Contains(t, string(logData), "B failed: make: *** [all] Error 2")
}

func TestBuild_CascadeIsTransitive(t *testing.T) {
	rec := newRecorder()
	s, _ := newTestScheduler(t, io.Discard,
		testUnit{name: "OpenSSL", build: failWith(rec, "OpenSSL", errors.New("boom"))},
		testUnit{name: "krb5", waitOn: []string{"OpenSSL"}, build: succeed(rec, "krb5")},
		testUnit{name: "python", waitOn: []string{"krb5"}, build: succeed(rec, "python")},
		testUnit{name: "zlib", build: succeed(rec, "zlib")},
	)

	result, err := s.Build(context.Background(), nil)
	require.ErrorIs(t, err, ErrBuildFailed)
	assert.Equal(t, []string{"zlib"}, result.Succeeded)
	assert.Equal(t, []string{"OpenSSL"}, result.Failed)
	assert.Equal(t, []string{"krb5", "python"}, result.Cancelled)
	assert.Zero(t, rec.calls["krb5"])
	assert.Zero(t, rec.calls["python"])
}

func TestBuild_ExactlyOnceInDependencyOrder(t *testing.T) {
	rec := newRecorder()
	units := []testUnit{
		{name: "readline"},
		{name: "ncurses", waitOn: []string{"readline"}},
		{name: "OpenSSL"},
		{name: "krb5", waitOn: []string{"OpenSSL"}},
		{name: "XZ"},
		{name: "zlib"},
		{name: "python", waitOn: []string{"readline", "ncurses", "OpenSSL", "krb5", "XZ", "zlib"}},
		{name: "relenv-finalize", waitOn: []string{"python"}},
	}
	for i := range units {
		units[i].build = succeed(rec, units[i].name)
	}
	s, _ := newTestScheduler(t, io.Discard, units...)

	result, err := s.Build(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, result.Succeeded, len(units))

	for _, u := range units {
		assert.Equal(t, 1, rec.calls[u.name], u.name)
		for _, dep := range u.waitOn {
			assert.Greater(t, rec.index("start "+u.name), rec.index("end "+dep), "%s must start after %s", u.name, dep)
		}
	}
}

func TestBuild_SubsetIgnoresUnselectedPrerequisites(t *testing.T) {
	rec := newRecorder()
	s, _ := newTestScheduler(t, io.Discard,
		testUnit{name: "A", build: succeed(rec, "A")},
		testUnit{name: "B", build: succeed(rec, "B")},
		testUnit{name: "C", waitOn: []string{"A", "B"}, build: succeed(rec, "C")},
	)

	result, err := s.Build(context.Background(), []string{"C"})
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, result.Succeeded)
	assert.Equal(t, map[string]int{"C": 1}, rec.calls)

	_, err = s.Build(context.Background(), []string{"D"})
	require.Error(t, err)
}

func TestBuild_PanicIsReportedAsFailure(t *testing.T) {
	s, wd := newTestScheduler(t, io.Discard,
		testUnit{name: "A", build: func(context.Context, recipe.Env, workdirs.Dirs, io.Writer) error {
			panic("boom")
		}},
	)

	result, err := s.Build(context.Background(), nil)
	require.ErrorIs(t, err, ErrBuildFailed)
	assert.Equal(t, []string{"A"}, result.Failed)

	logData, err := os.ReadFile(filepath.Join(wd.Logs, "A.log"))
	require.NoError(t, err)
	assert.Contains(t, string(logData), "panic: boom")
	assert.Contains(t, string(logData), "goroutine")
}

func TestBuild_ContextCancellation(t *testing.T) {
	rec := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})

	s, _ := newTestScheduler(t, io.Discard,
		testUnit{name: "A", build: func(ctx context.Context, _ recipe.Env, _ workdirs.Dirs, _ io.Writer) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		}},
		testUnit{name: "B", waitOn: []string{"A"}, build: succeed(rec, "B")},
	)

	go func() {
		<-started
		cancel()
	}()

	result, err := s.Build(ctx, nil)
	require.Error(t, err)
	assert.Equal(t, []string{"A"}, result.Failed)
	assert.Equal(t, []string{"B"}, result.Cancelled)
	assert.Zero(t, rec.calls["B"])
}

func TestBuild_UnitEnvironment(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]recipe.Env)
	capture := func(name string) recipe.BuildFunc {
		return func(_ context.Context, env recipe.Env, dirs workdirs.Dirs, _ io.Writer) error {
			env["SCRATCH"] = name
			mu.Lock()
			defer mu.Unlock()
			seen[name] = env
			return nil
		}
	}

	s, wd := newTestScheduler(t, io.Discard,
		testUnit{name: "A", build: capture("A")},
		testUnit{name: "B", build: capture("B")},
	)
	s.reg.SetPopulateEnv(func(env recipe.Env, dirs workdirs.Dirs) {
		env["CC"] = filepath.Join(dirs.Toolchain, "bin", dirs.Triplet+"-gcc")
	})

	_, err := s.Build(context.Background(), nil)
	require.NoError(t, err)

	env := seen["A"]
	assert.Equal(t, "/usr/bin:/bin", env["PATH"])
	assert.Equal(t, "x86_64-linux-gnu", env["RELENV_HOST"])
	assert.Equal(t, "x86_64", env["RELENV_HOST_ARCH"])
	assert.Equal(t, "x86_64-linux-gnu", env["RELENV_BUILD"])
	assert.Equal(t, "3.10.10", env["RELENV_PY_VERSION"])
	assert.Equal(t, "3.10", env["RELENV_PY_MAJOR_VERSION"])
	assert.Equal(t, wd.Root, env["RELENV_DATA"])
	assert.Equal(t, filepath.Join(wd.Toolchain, "x86_64-linux-gnu", "bin", "x86_64-linux-gnu-gcc"), env["CC"])

	assert.Equal(t, "A", seen["A"]["SCRATCH"])
	assert.Equal(t, "B", seen["B"]["SCRATCH"])
}

func TestBuild_ExtractsDownloadedSources(t *testing.T) {
	var gotSource string
	reg := recipe.New()
	reg.PythonVersion = "3.10.10"
	reg.RegisterBuildFunc("default", func(_ context.Context, _ recipe.Env, dirs workdirs.Dirs, _ io.Writer) error {
		gotSource = dirs.Source
		_, err := os.Stat(filepath.Join(dirs.Source, "configure"))
		return err
	})
	require.NoError(t, reg.Add(recipe.Unit{
		Name:     "zlib",
		Download: &download.Spec{Name: "zlib", URL: "https://example.invalid/zlib-1.2.13.tar.xz", Version: "1.2.13"},
	}))
	require.NoError(t, reg.Validate())

	wd := workdirs.New(t.TempDir())
	stage := t.TempDir()
	testutil.WriteFile(t, stage, "zlib-1.2.13/configure", []byte("#!/bin/sh\n"), 0o755)
	require.NoError(t, os.MkdirAll(wd.Downloads, 0o755))
	_, err := archive.CreateXZ(filepath.Join(wd.Downloads, "zlib-1.2.13.tar.xz"), stage, []string{"**"})
	require.NoError(t, err)

	s := New(reg, Config{GOOS: "linux", Arch: "x86_64", Dirs: wd, Env: recipe.Env{}})
	result, err := s.Build(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"zlib"}, result.Succeeded)
	assert.Equal(t, filepath.Join(wd.Sources, "zlib-1.2.13"), gotSource)
}

func TestBuild_FetchesMissingSourcesWithConfiguredFetcher(t *testing.T) {
	stage := t.TempDir()
	testutil.WriteFile(t, stage, "zlib-1.2.13/configure", []byte("#!/bin/sh\n"), 0o755)
	tarball := filepath.Join(t.TempDir(), "zlib-1.2.13.tar.xz")
	_, err := archive.CreateXZ(tarball, stage, []string{"**"})
	require.NoError(t, err)

	var hits int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		http.ServeFile(w, r, tarball)
	}))
	defer srv.Close()

	reg := recipe.New()
	reg.PythonVersion = "3.10.10"
	reg.RegisterBuildFunc("default", func(_ context.Context, _ recipe.Env, dirs workdirs.Dirs, _ io.Writer) error {
		_, err := os.Stat(filepath.Join(dirs.Source, "configure"))
		return err
	})
	require.NoError(t, reg.Add(recipe.Unit{
		Name:     "zlib",
		Download: &download.Spec{Name: "zlib", URL: srv.URL + "/zlib-1.2.13.tar.xz", Version: "1.2.13"},
	}))
	require.NoError(t, reg.Validate())

	wd := workdirs.New(t.TempDir())
	fetcher := &download.Fetcher{Client: srv.Client(), InitialInterval: time.Millisecond}
	s := New(reg, Config{GOOS: "linux", Arch: "x86_64", Dirs: wd, Env: recipe.Env{}, Fetcher: fetcher})
	result, err := s.Build(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"zlib"}, result.Succeeded)
	mu.Lock()
	assert.Equal(t, 1, hits)
	mu.Unlock()
	assert.FileExists(t, filepath.Join(wd.Downloads, "zlib-1.2.13.tar.xz"))
}

func TestTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unit.log")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	tail, err := Tail(path, 4)
	require.NoError(t, err)
	assert.Equal(t, "6789", string(tail))

	tail, err = Tail(path, 100)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(tail))

	_, err = Tail(filepath.Join(t.TempDir(), "missing.log"), 4)
	assert.Error(t, err)
}

func TestMajorMinor(t *testing.T) {
	assert.Equal(t, "3.10", MajorMinor("3.10.10"))
	assert.Equal(t, "3.11", MajorMinor("3.11"))
	assert.Equal(t, "garbage", MajorMinor("garbage"))
}
