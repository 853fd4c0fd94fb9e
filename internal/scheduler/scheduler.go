package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-version"
	"github.com/vk/relenvgo/internal/archive"
	"github.com/vk/relenvgo/internal/ctxlog"
	"github.com/vk/relenvgo/internal/download"
	"github.com/vk/relenvgo/internal/recipe"
	"github.com/vk/relenvgo/internal/status"
	"github.com/vk/relenvgo/internal/workdirs"
)

// ErrBuildFailed is returned by Build when at least one unit failed.
var ErrBuildFailed = errors.New("build failed")

const (
	// DefaultTick is how often the live display is redrawn.
	DefaultTick = 300 * time.Millisecond
	// LogTailSize is how much of a failed unit's log is reported.
	LogTailSize = 4096
)

// Config configures a Scheduler.
type Config struct {
	// GOOS and Arch select the target platform.
	GOOS string
	Arch string
	// BuildArch is the architecture of the machine running the build.
	BuildArch string
	Dirs      workdirs.WorkDirs
	// Env is the base environment every unit starts from.
	Env recipe.Env
	// Tick overrides DefaultTick.
	Tick time.Duration
	// Out receives the failure report.
	Out     io.Writer
	Board   *status.Board
	Display *status.Display
	// Fetcher downloads archives missing from the downloads directory.
	// Defaults to download.Default.
	Fetcher *download.Fetcher
}

// Result lists the units of a run by outcome, in declaration order.
type Result struct {
	Succeeded []string
	Failed    []string
	Cancelled []string
}

// Scheduler runs units from a Registry. A Scheduler may be reused for
// several runs but not for concurrent ones.
type Scheduler struct {
	reg   *recipe.Registry
	cfg   Config
	board *status.Board
}

// New creates a Scheduler. reg must have been validated.
func New(reg *recipe.Registry, cfg Config) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.Out == nil {
		cfg.Out = io.Discard
	}
	if cfg.BuildArch == "" {
		cfg.BuildArch = workdirs.HostArch()
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = download.Default
	}
	board := cfg.Board
	if board == nil {
		board = status.NewBoard(reg.Names())
	}
	return &Scheduler{reg: reg, cfg: cfg, board: board}
}

// Board returns the live unit states.
func (s *Scheduler) Board() *status.Board {
	return s.board
}

// exit is sent by a worker when its goroutine finishes.
type exit struct {
	name      string
	err       error
	cancelled bool
}

// worker is the scheduler's handle on one unit goroutine.
type worker struct {
	name   string
	signal *Signal
	cancel context.CancelFunc
	state  status.State
	err    error
}

// Build runs the selected units, or all units when selected is empty.
func (s *Scheduler) Build(ctx context.Context, selected []string) (*Result, error) {
	logger := ctxlog.FromContext(ctx)

	names, err := s.reg.Select(selected)
	if err != nil {
		return nil, err
	}
	g, err := s.reg.Graph(names)
	if err != nil {
		return nil, err
	}
	order, err := g.TopoOrder()
	if err != nil {
		return nil, err
	}

	units := make(map[string]recipe.Unit, len(names))
	dirs := make(map[string]workdirs.Dirs, len(names))
	for _, name := range names {
		unit, _ := s.reg.Unit(name)
		if unit.Build == nil {
			return nil, fmt.Errorf("unit %q has no bound build function", name)
		}
		units[name] = unit
		d, err := s.cfg.Dirs.For(s.cfg.GOOS, name, s.cfg.Arch, s.reg.PythonVersion)
		if err != nil {
			return nil, err
		}
		dirs[name] = d
	}

	waiting := make(map[string][]string, len(names))
	for _, name := range names {
		if waiting[name], err = g.Dependencies(name); err != nil {
			return nil, err
		}
	}

	exits := make(chan exit, len(names))
	workers := make(map[string]*worker, len(names))
	for _, name := range names {
		s.board.Set(name, status.Pending)
	}
	for _, name := range order {
		wctx, cancel := context.WithCancel(ctx)
		w := &worker{name: name, signal: NewSignal(), cancel: cancel, state: status.Pending}
		if len(waiting[name]) == 0 {
			w.signal.Open()
		}
		workers[name] = w
		go s.work(ctxlog.With(wctx, "unit", name), units[name], dirs[name], w.signal, exits)
	}
	defer func() {
		for _, w := range workers {
			w.cancel()
		}
	}()
	logger.Info("🔧 Building units.", "count", g.Len(), "python_version", s.reg.PythonVersion)

	cascade := func(name string) {
		descendants, _ := g.Descendants(name)
		for _, dep := range descendants {
			w := workers[dep]
			if w.state.Terminal() {
				continue
			}
			w.state = status.Cancelled
			s.board.Set(dep, status.Cancelled)
			w.cancel()
			logger.Warn("Unit cancelled, a prerequisite failed.", "unit", dep, "prerequisite", name)
		}
	}

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for remaining := len(names); remaining > 0; {
		select {
		case e := <-exits:
			remaining--
			w := workers[e.name]
			if w.state.Terminal() {
				continue
			}
			switch {
			case e.cancelled:
				w.state = status.Cancelled
			case e.err != nil:
				w.state = status.Failed
				w.err = e.err
				logger.Error("Unit failed.", "unit", e.name, "error", e.err, "log", dirs[e.name].LogFile())
				cascade(e.name)
			default:
				w.state = status.Succeeded
				logger.Debug("Unit succeeded.", "unit", e.name)
				dependents, _ := g.Dependents(e.name)
				for _, dep := range dependents {
					waiting[dep] = remove(waiting[dep], e.name)
					if len(waiting[dep]) == 0 && workers[dep].state == status.Pending {
						workers[dep].signal.Open()
					}
				}
			}
			s.board.Set(e.name, w.state)
			s.cfg.Display.Refresh(s.board)
		case <-ticker.C:
			s.cfg.Display.Refresh(s.board)
		}
	}
	s.cfg.Display.Finish(s.board)

	result := &Result{}
	var errs *multierror.Error
	for _, name := range g.Nodes() {
		w := workers[name]
		switch w.state {
		case status.Succeeded:
			result.Succeeded = append(result.Succeeded, name)
		case status.Failed:
			result.Failed = append(result.Failed, name)
			errs = multierror.Append(errs, fmt.Errorf("unit %q: %w", name, w.err))
		default:
			result.Cancelled = append(result.Cancelled, name)
		}
	}

	if len(result.Failed) > 0 {
		s.report(result.Failed, dirs)
		return result, fmt.Errorf("%w: %w", ErrBuildFailed, errs.ErrorOrNil())
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	logger.Info("✅ All units built.", "count", len(result.Succeeded))
	return result, nil
}

// work is the body of one unit goroutine.
func (s *Scheduler) work(ctx context.Context, u recipe.Unit, dirs workdirs.Dirs, sig *Signal, exits chan<- exit) {
	e := exit{name: u.Name}
	defer func() { exits <- e }()

	if err := dirs.Ensure(); err != nil {
		e.err = err
		return
	}

	select {
	case <-sig.Done():
	case <-ctx.Done():
		e.cancelled = true
		return
	}
	if ctx.Err() != nil {
		e.cancelled = true
		return
	}

	s.board.Set(u.Name, status.Running)
	e.err = s.run(ctx, u, dirs)
}

// run builds one unit with its output going to the unit log. Panics are
// converted to errors.
func (s *Scheduler) run(ctx context.Context, u recipe.Unit, dirs workdirs.Dirs) (err error) {
	logger := ctxlog.FromContext(ctx)

	f, err := os.Create(dirs.LogFile())
	if err != nil {
		return fmt.Errorf("opening log: %w", err)
	}
	defer f.Close()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			fmt.Fprintf(f, "%v\n%s", err, debug.Stack())
			return
		}
		if err != nil {
			fmt.Fprintf(f, "\n%s failed: %v\n", u.Name, err)
		}
	}()

	env := s.environ(dirs)
	if u.Download != nil {
		src, err := s.materialize(ctx, u, dirs)
		if err != nil {
			return err
		}
		dirs = dirs.WithSource(src)
	}

	logger.Info("🔧 Building unit.")
	start := time.Now()
	if err := u.Build(ctx, env, dirs, f); err != nil {
		return err
	}
	logger.Info("✅ Unit built.", "duration", time.Since(start).Round(time.Millisecond))
	return nil
}

// materialize makes sure the unit's archive is present and unpacks a fresh
// copy of it into the sources directory.
func (s *Scheduler) materialize(ctx context.Context, u recipe.Unit, dirs workdirs.Dirs) (string, error) {
	archivePath := u.Download.Path(dirs.Downloads)
	if _, err := os.Stat(archivePath); err != nil {
		if archivePath, err = s.cfg.Fetcher.Fetch(ctx, *u.Download, dirs.Downloads, false); err != nil {
			return "", err
		}
	}

	src := filepath.Join(dirs.Sources, u.Download.SourceDir())
	if err := os.RemoveAll(src); err != nil {
		return "", err
	}
	ctxlog.FromContext(ctx).Debug("Extracting sources.", "archive", archivePath, "dest", dirs.Sources)
	if err := archive.Extract(archivePath, dirs.Sources); err != nil {
		return "", fmt.Errorf("extracting %s: %w", archivePath, err)
	}
	return src, nil
}

// environ builds the environment of one unit.
func (s *Scheduler) environ(dirs workdirs.Dirs) recipe.Env {
	env := s.cfg.Env.Clone()
	buildTriplet, err := workdirs.Triplet(s.cfg.GOOS, s.cfg.BuildArch)
	if err != nil {
		buildTriplet = dirs.Triplet
	}
	env["RELENV_HOST"] = dirs.Triplet
	env["RELENV_HOST_ARCH"] = dirs.Arch
	env["RELENV_BUILD"] = buildTriplet
	env["RELENV_BUILD_ARCH"] = s.cfg.BuildArch
	env["RELENV_PY_VERSION"] = dirs.Version
	env["RELENV_PY_MAJOR_VERSION"] = MajorMinor(dirs.Version)
	env["RELENV_DATA"] = dirs.Root
	if populate := s.reg.PopulateEnv(); populate != nil {
		populate(env, dirs)
	}
	return env
}

// report prints the end of each failed unit's log.
func (s *Scheduler) report(failed []string, dirs map[string]workdirs.Dirs) {
	for _, name := range failed {
		path := dirs[name].LogFile()
		fmt.Fprintf(s.cfg.Out, "Build of %s failed; last %d bytes of %s:\n", name, LogTailSize, path)
		tail, err := Tail(path, LogTailSize)
		if err != nil {
			fmt.Fprintf(s.cfg.Out, "  (log unavailable: %v)\n", err)
			continue
		}
		fmt.Fprintf(s.cfg.Out, "%s\n", tail)
	}
	fmt.Fprintf(s.cfg.Out, "Failed units: %s\n", strings.Join(failed, ", "))
}

// Tail returns at most n bytes from the end of the file at path.
func Tail(path string, n int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	offset := info.Size() - n
	if offset < 0 {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(f)
}

// MajorMinor returns "3.10" for "3.10.10". Unparseable input is returned
// unchanged.
func MajorMinor(v string) string {
	parsed, err := version.NewVersion(v)
	if err != nil {
		return v
	}
	seg := parsed.Segments()
	if len(seg) < 2 {
		return v
	}
	return fmt.Sprintf("%d.%d", seg[0], seg[1])
}

func remove(list []string, name string) []string {
	out := list[:0]
	for _, v := range list {
		if v != name {
			out = append(out, v)
		}
	}
	return out
}
