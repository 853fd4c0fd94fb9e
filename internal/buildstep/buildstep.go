// Package buildstep runs the commands of one build function: every command
// gets the unit's environment, an explicit working directory, and writes its
// output to the unit log.
package buildstep

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/vk/relenvgo/internal/cmdrun"
	"github.com/vk/relenvgo/internal/recipe"
	"github.com/vk/relenvgo/internal/workdirs"
)

// Jobs is the parallelism passed to make.
const Jobs = "-j8"

// Step runs commands for a unit.
type Step struct {
	runner cmdrun.Runner
	env    recipe.Env
	dirs   workdirs.Dirs
	dir    string
	log    io.Writer
}

// New creates a Step working in the unit's source directory. A nil runner
// runs real processes.
func New(runner cmdrun.Runner, env recipe.Env, dirs workdirs.Dirs, log io.Writer) *Step {
	if runner == nil {
		runner = cmdrun.ExecRunner{}
	}
	if log == nil {
		log = io.Discard
	}
	return &Step{runner: runner, env: env, dirs: dirs, dir: dirs.Source, log: log}
}

// In returns a copy of s working in dir. Relative paths are taken from the
// source directory.
func (s *Step) In(dir string) *Step {
	c := *s
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(s.dirs.Source, dir)
	}
	c.dir = dir
	return &c
}

// Dir is the working directory of s.
func (s *Step) Dir() string {
	return s.dir
}

// Run runs one command and fails on a non-zero exit.
func (s *Step) Run(ctx context.Context, name string, args ...string) error {
	cmd := cmdrun.Command{
		Name:   name,
		Args:   args,
		Dir:    s.dir,
		Env:    s.env.Environ(),
		Stdout: s.log,
		Stderr: s.log,
	}
	fmt.Fprintf(s.log, "\n$ %s\n", cmd.String())
	_, err := s.runner.Run(ctx, cmd)
	return err
}

// Configure runs ./configure with args.
func (s *Step) Configure(ctx context.Context, args ...string) error {
	return s.Run(ctx, "./configure", args...)
}

// Make runs make with args.
func (s *Step) Make(ctx context.Context, args ...string) error {
	return s.Run(ctx, "make", args...)
}

// MakeInstall runs "make -j8" followed by "make install".
func (s *Step) MakeInstall(ctx context.Context) error {
	if err := s.Make(ctx, Jobs); err != nil {
		return err
	}
	return s.Make(ctx, "install")
}

// CrossArgs returns --build and --host for Linux targets and nothing
// elsewhere.
func CrossArgs(env recipe.Env) []string {
	if !strings.Contains(env["RELENV_HOST"], "linux") {
		return nil
	}
	return []string{"--build=" + env["RELENV_BUILD"], "--host=" + env["RELENV_HOST"]}
}

// AppendFile appends text to the file at rel below the working directory.
func (s *Step) AppendFile(rel, text string) error {
	path := filepath.Join(s.dir, rel)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(f, text); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Replace rewrites every occurrence of old with repl in the file at rel
// below the working directory.
func (s *Step) Replace(rel, old, repl string) error {
	path := filepath.Join(s.dir, rel)
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.log, "\n# replace %q with %q in %s\n", old, repl, rel)
	return os.WriteFile(path, []byte(strings.ReplaceAll(string(data), old, repl)), info.Mode().Perm())
}
