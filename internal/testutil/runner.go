// Package testutil holds fakes and fixtures shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/vk/relenvgo/internal/cmdrun"
)

// Handler produces the outcome of one faked command.
type Handler func(cmd cmdrun.Command) (*cmdrun.Result, error)

// FakeRunner is a cmdrun.Runner that answers from registered handlers and
// records every invocation. Handlers are matched by program name; a command
// without a handler fails with exit status 127.
type FakeRunner struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    []cmdrun.Command
}

// NewFakeRunner creates an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{handlers: make(map[string]Handler)}
}

// Handle registers h for the program name.
func (f *FakeRunner) Handle(name string, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[name] = h
}

// Run implements cmdrun.Runner.
func (f *FakeRunner) Run(_ context.Context, cmd cmdrun.Command) (*cmdrun.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	h, ok := f.handlers[cmd.Name]
	f.mu.Unlock()

	if !ok {
		argv := append([]string{cmd.Name}, cmd.Args...)
		return &cmdrun.Result{ExitCode: 127}, &cmdrun.CommandError{Argv: argv, ExitCode: 127, Err: fmt.Errorf("no fake for %s", cmd.Name)}
	}
	return h(cmd)
}

// Calls returns the recorded invocations of name, or of every program when
// name is empty.
func (f *FakeRunner) Calls(name string) []cmdrun.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []cmdrun.Command
	for _, c := range f.calls {
		if name == "" || c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets recorded invocations but keeps handlers.
func (f *FakeRunner) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// Output returns a handler that always succeeds with the given stdout.
func Output(stdout string) Handler {
	return func(cmdrun.Command) (*cmdrun.Result, error) {
		return &cmdrun.Result{Stdout: []byte(stdout)}, nil
	}
}

// Fail returns a handler that exits with code and stderr.
func Fail(code int, stderr string) Handler {
	return func(cmd cmdrun.Command) (*cmdrun.Result, error) {
		argv := append([]string{cmd.Name}, cmd.Args...)
		return &cmdrun.Result{Stderr: []byte(stderr), ExitCode: code},
			&cmdrun.CommandError{Argv: argv, ExitCode: code, Stderr: stderr}
	}
}

// ByLastArg dispatches on the last argument, which for every inspection
// and rewrite tool is the file being operated on.
func ByLastArg(byPath map[string]Handler, fallback Handler) Handler {
	return func(cmd cmdrun.Command) (*cmdrun.Result, error) {
		if len(cmd.Args) > 0 {
			if h, ok := byPath[cmd.Args[len(cmd.Args)-1]]; ok {
				return h(cmd)
			}
		}
		if fallback != nil {
			return fallback(cmd)
		}
		return &cmdrun.Result{}, nil
	}
}

// LddLine formats one resolved ldd output line.
func LddLine(name, path string) string {
	if path == "" {
		return fmt.Sprintf("\t%s => not found\n", name)
	}
	return fmt.Sprintf("\t%s => %s (0x00007f0000000000)\n", name, path)
}

// ReadelfRPath formats readelf -d output carrying an RPATH.
func ReadelfRPath(entries ...string) string {
	if len(entries) == 0 {
		return "Dynamic section at offset 0x2d80 contains 26 entries:\n  Tag        Type                         Name/Value\n 0x0000000000000001 (NEEDED)             Shared library: [libc.so.6]\n"
	}
	return "Dynamic section at offset 0x2d80 contains 27 entries:\n" +
		"  Tag        Type                         Name/Value\n" +
		" 0x0000000000000001 (NEEDED)             Shared library: [libc.so.6]\n" +
		" 0x000000000000000f (RPATH)              Library rpath: [" + strings.Join(entries, ":") + "]\n"
}
