// Package cmdrun runs external programs. Build units and the relocation
// engine go through the Runner interface so tests can substitute canned tool
// output for ldd, otool, patchelf and friends.
package cmdrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/cli/safeexec"
	"github.com/hashicorp/go-multierror"
	"github.com/kballard/go-shellquote"
	"github.com/vk/relenvgo/internal/ctxlog"
)

// Command describes one program invocation. Env and Dir are always explicit;
// a nil Env runs the program with an empty environment.
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  []string

	// Stdout and Stderr receive the program's output as it is produced. When
	// nil, output is captured into the Result instead.
	Stdout io.Writer
	Stderr io.Writer
}

// String renders the command line shell-quoted.
func (c Command) String() string {
	return shellquote.Join(append([]string{c.Name}, c.Args...)...)
}

// Result holds captured output and the exit status.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// CommandError reports a command that could not start or exited non-zero.
type CommandError struct {
	Argv     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q exited with status %d", shellquote.Join(e.Argv...), e.ExitCode)
	if e.Err != nil && e.ExitCode < 0 {
		msg = fmt.Sprintf("command %q failed: %v", shellquote.Join(e.Argv...), e.Err)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExecRunner runs commands as child processes.
type ExecRunner struct{}

// Run starts cmd and waits for it. A non-zero exit yields both the Result
// and a *CommandError.
func (ExecRunner) Run(ctx context.Context, c Command) (*Result, error) {
	logger := ctxlog.FromContext(ctx)
	argv := append([]string{c.Name}, c.Args...)

	path, err := LookPath(c.Name)
	if err != nil {
		return nil, &CommandError{Argv: argv, ExitCode: -1, Err: err}
	}

	cmd := exec.CommandContext(ctx, path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	if cmd.Env == nil {
		cmd.Env = []string{}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	if c.Stdout != nil {
		cmd.Stdout = c.Stdout
	}
	cmd.Stderr = &stderr
	if c.Stderr != nil {
		cmd.Stderr = io.MultiWriter(c.Stderr, &stderr)
	}

	logger.Debug("Running command.", "cmd", c.String(), "dir", c.Dir)
	err = cmd.Run()
	res := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, &CommandError{Argv: argv, ExitCode: res.ExitCode, Stderr: stderr.String(), Err: err}
	}
	res.ExitCode = -1
	return res, &CommandError{Argv: argv, ExitCode: -1, Stderr: stderr.String(), Err: err}
}

// LookPath resolves name against PATH without consulting the current
// directory. Names containing a separator are returned unchanged.
func LookPath(name string) (string, error) {
	if strings.ContainsRune(name, '/') {
		return name, nil
	}
	return safeexec.LookPath(name)
}

// Require reports every tool in names that is missing from PATH.
func Require(names ...string) error {
	var result *multierror.Error
	for _, name := range names {
		if _, err := LookPath(name); err != nil {
			result = multierror.Append(result, fmt.Errorf("required tool %q not found on PATH", name))
		}
	}
	return result.ErrorOrNil()
}
