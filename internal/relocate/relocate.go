// Package relocate makes a directory tree of binaries self-contained. It
// copies shared libraries that live outside the tree into a library
// directory inside it and rewrites each binary's runtime search path so
// libraries resolve relative to the binary's own location.
//
// Relocation is best effort. Tool failures while inspecting or patching a
// binary are logged as warnings and counted on the Plan. Directories that
// cannot be read are skipped with a warning. Only a missing or invalid root
// is returned as an error. Running Relocate twice on the same tree performs no further copies
// or patches on the second run.
package relocate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/vk/relenvgo/internal/binfmt"
	"github.com/vk/relenvgo/internal/cmdrun"
	"github.com/vk/relenvgo/internal/ctxlog"
	"github.com/vk/relenvgo/internal/introspect"
)

// Options controls one relocation pass.
type Options struct {
	// Root is the tree to relocate.
	Root string
	// LibDir receives copied libraries. Defaults to Root/lib.
	LibDir string
	// CopyMode copies dependencies that live outside Root into LibDir. When
	// false, such dependencies are reported and left for the target system
	// to provide.
	CopyMode bool
	// RelativeOnly drops absolute search path entries when patching.
	RelativeOnly bool
	// StripSystemOnly clears the search path of binaries that only depend
	// on system libraries.
	StripSystemOnly bool
}

// DefaultOptions returns the options used for a freshly built tree.
func DefaultOptions(root string) Options {
	return Options{
		Root:            root,
		CopyMode:        true,
		RelativeOnly:    true,
		StripSystemOnly: true,
	}
}

// Artifact records what was found for one binary.
type Artifact struct {
	Path         string
	Format       binfmt.Format
	Dependencies []introspect.Dependency
	SearchPath   []string
}

// Plan is the outcome of a relocation pass.
type Plan struct {
	Root   string
	LibDir string
	// Processed holds every binary path that was handled.
	Processed map[string]struct{}
	// Copied holds the file names of libraries copied into LibDir.
	Copied    map[string]struct{}
	Artifacts []Artifact

	Copies        int
	Patches       int
	Stripped      int
	PatchFailures int
	// Failures counts binaries that could not be inspected and libraries
	// that could not be copied.
	Failures int
}

func newPlan(root, libDir string) *Plan {
	return &Plan{
		Root:      root,
		LibDir:    libDir,
		Processed: make(map[string]struct{}),
		Copied:    make(map[string]struct{}),
	}
}

// Relocator runs relocation passes with an injectable command runner.
type Relocator struct {
	runner   cmdrun.Runner
	resolver *introspect.Resolver
	env      []string
}

// New creates a Relocator. env is handed to every tool invocation.
func New(runner cmdrun.Runner, env []string) *Relocator {
	return &Relocator{
		runner:   runner,
		resolver: introspect.NewResolver(runner, env),
		env:      env,
	}
}

// Relocate runs a pass over opts.Root using the host's tools.
func Relocate(ctx context.Context, opts Options) (*Plan, error) {
	return New(cmdrun.ExecRunner{}, []string{"PATH=" + os.Getenv("PATH")}).Relocate(ctx, opts)
}

// RequiredTools lists the programs a relocation pass needs on a platform.
func RequiredTools(goos string) []string {
	if goos == "darwin" {
		return []string{"otool", "install_name_tool"}
	}
	return []string{"ldd", "readelf", "patchelf"}
}

// pass is the state of one Relocate call.
type pass struct {
	*Relocator
	opts  Options
	plan  *Plan
	queue []candidate
}

type candidate struct {
	path   string
	format binfmt.Format
}

// Relocate walks opts.Root and relocates every ELF and Mach-O file in it.
// Libraries copied into the library directory are queued and processed in
// turn; a final walk of the tree confirms nothing new appeared.
func (r *Relocator) Relocate(ctx context.Context, opts Options) (*Plan, error) {
	logger := ctxlog.FromContext(ctx)

	root, err := realPath(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("relocation root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("relocation root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("relocation root %s is not a directory", root)
	}

	libDir := opts.LibDir
	if libDir == "" {
		libDir = filepath.Join(root, "lib")
	}
	if opts.CopyMode {
		if err := os.MkdirAll(libDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating library directory: %w", err)
		}
	}
	if libDir, err = realPath(libDir); err != nil {
		return nil, fmt.Errorf("library directory: %w", err)
	}
	opts.Root, opts.LibDir = root, libDir

	p := &pass{Relocator: r, opts: opts, plan: newPlan(root, libDir)}
	logger.Info("🔧 Relocating tree.", "root", root, "libs", libDir, "copy", opts.CopyMode)

	for round := 1; ; round++ {
		found, err := p.discover(ctx)
		if err != nil {
			return p.plan, err
		}
		if len(found) == 0 {
			break
		}
		logger.Debug("Discovered binaries.", "round", round, "count", len(found))
		p.queue = append(p.queue, found...)
		if err := p.drain(ctx); err != nil {
			return p.plan, err
		}
	}

	logger.Info("✅ Relocation finished.",
		"binaries", len(p.plan.Processed),
		"copies", p.plan.Copies,
		"patches", p.plan.Patches,
		"stripped", p.plan.Stripped,
		"patch_failures", p.plan.PatchFailures,
	)
	return p.plan, nil
}

// drain processes the queue until it is empty.
func (p *pass) drain(ctx context.Context) error {
	for len(p.queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		c := p.queue[0]
		p.queue = p.queue[1:]
		if _, done := p.plan.Processed[c.path]; done {
			continue
		}
		p.plan.Processed[c.path] = struct{}{}

		switch c.format {
		case binfmt.ELF:
			p.handleELF(ctx, c.path)
		case binfmt.MachO:
			p.handleMachO(ctx, c.path)
		}
	}
	return nil
}

// enqueue adds a freshly copied library to the worklist.
func (p *pass) enqueue(path string) {
	format, err := binfmt.Classify(path)
	if err != nil || format == binfmt.Other {
		return
	}
	p.queue = append(p.queue, candidate{path: path, format: format})
}

// discover walks the root and returns binaries not yet processed, in
// lexical order.
func (p *pass) discover(ctx context.Context) ([]candidate, error) {
	var found []candidate
	err := filepath.WalkDir(p.opts.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return walkError(ctx, p.opts.Root, path, d, err)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if _, done := p.plan.Processed[path]; done {
			return nil
		}
		format, err := binfmt.Classify(path)
		if err != nil {
			if errors.Is(err, os.ErrPermission) {
				return nil
			}
			return err
		}
		if format != binfmt.Other {
			found = append(found, candidate{path: path, format: format})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", p.opts.Root, err)
	}
	sort.Slice(found, func(i, j int) bool { return found[i].path < found[j].path })
	return found, nil
}

// walkError decides how discovery continues after err at path. Permission
// errors below root skip the entry; everything else stops the walk.
func walkError(ctx context.Context, root, path string, d fs.DirEntry, err error) error {
	if !errors.Is(err, fs.ErrPermission) || path == root {
		return err
	}
	ctxlog.FromContext(ctx).Warn("Skipping unreadable path.", "path", path, "error", err)
	if d != nil && d.IsDir() {
		return fs.SkipDir
	}
	return nil
}
