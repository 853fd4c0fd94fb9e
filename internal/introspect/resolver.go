package introspect

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/vk/relenvgo/internal/binfmt"
	"github.com/vk/relenvgo/internal/cmdrun"
	"github.com/vk/relenvgo/internal/ctxlog"
)

// ErrNotObjectFile is returned for Mach-O candidates otool refuses to parse.
var ErrNotObjectFile = errors.New("not an object file")

// ToolError reports an introspection or rewrite tool that failed.
type ToolError struct {
	Tool string
	Path string
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Tool, e.Path, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// Info is what the resolver learned about one binary.
type Info struct {
	Format       binfmt.Format
	ID           string
	Dependencies []Dependency
	SearchPath   []string
}

// Resolver runs the inspection tools through a cmdrun.Runner.
type Resolver struct {
	Runner cmdrun.Runner
	// Env is passed to every tool invocation; it normally only carries PATH.
	Env []string
}

// NewResolver returns a Resolver with the given runner and environment.
func NewResolver(runner cmdrun.Runner, env []string) *Resolver {
	return &Resolver{Runner: runner, Env: env}
}

// Resolve lists the dependencies and current search path of a binary.
func (r *Resolver) Resolve(ctx context.Context, p string, format binfmt.Format) (*Info, error) {
	switch format {
	case binfmt.ELF:
		return r.resolveELF(ctx, p)
	case binfmt.MachO:
		return r.resolveMachO(ctx, p)
	}
	return &Info{Format: format}, nil
}

func (r *Resolver) resolveELF(ctx context.Context, p string) (*Info, error) {
	logger := ctxlog.FromContext(ctx)
	info := &Info{Format: binfmt.ELF}

	res, err := r.Runner.Run(ctx, cmdrun.Command{Name: "ldd", Args: []string{p}, Env: r.Env})
	if err != nil {
		if res == nil || !staticBinary(res) {
			return nil, &ToolError{Tool: "ldd", Path: p, Err: err}
		}
		logger.Debug("Binary has no dynamic dependencies.", "path", p)
	} else {
		info.Dependencies = ParseLdd(string(res.Stdout))
	}

	for _, dep := range info.Dependencies {
		if !dep.Found() && !IsSystemLibrary(dep.Name) {
			logger.Warn("Unable to find library.", "library", dep.Name, "linked_from", p)
		}
	}

	rpath, err := r.SearchPath(ctx, p)
	if err != nil {
		return nil, err
	}
	info.SearchPath = rpath
	return info, nil
}

// SearchPath returns the RPATH/RUNPATH entries of an ELF file.
func (r *Resolver) SearchPath(ctx context.Context, p string) ([]string, error) {
	res, err := r.Runner.Run(ctx, cmdrun.Command{Name: "readelf", Args: []string{"-d", p}, Env: r.Env})
	if err != nil {
		return nil, &ToolError{Tool: "readelf", Path: p, Err: err}
	}
	return ParseReadelfRPath(string(res.Stdout)), nil
}

func (r *Resolver) resolveMachO(ctx context.Context, p string) (*Info, error) {
	res, err := r.Runner.Run(ctx, cmdrun.Command{Name: "otool", Args: []string{"-l", p}, Env: r.Env})
	if res != nil && notObjectFile(string(res.Stdout)+string(res.Stderr)) {
		return nil, ErrNotObjectFile
	}
	if err != nil {
		return nil, &ToolError{Tool: "otool", Path: p, Err: err}
	}

	lc := ParseOtool(string(res.Stdout))
	info := &Info{Format: binfmt.MachO, ID: lc.ID, SearchPath: lc.RPaths}
	for _, ref := range lc.Dylibs {
		dep := Dependency{Name: path.Base(ref), Ref: ref}
		if strings.HasPrefix(ref, "/") {
			dep.Path = ref
		}
		info.Dependencies = append(info.Dependencies, dep)
	}
	return info, nil
}

func staticBinary(res *cmdrun.Result) bool {
	out := string(res.Stdout) + string(res.Stderr)
	return strings.Contains(out, "not a dynamic executable") || strings.Contains(out, "statically linked")
}
