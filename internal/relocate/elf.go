package relocate

import (
	"context"
	"path/filepath"
	"slices"
	"strings"

	"github.com/vk/relenvgo/internal/binfmt"
	"github.com/vk/relenvgo/internal/cmdrun"
	"github.com/vk/relenvgo/internal/ctxlog"
	"github.com/vk/relenvgo/internal/introspect"
)

func (p *pass) handleELF(ctx context.Context, path string) {
	logger := ctxlog.FromContext(ctx).With("path", path)

	info, err := p.resolver.Resolve(ctx, path, binfmt.ELF)
	if err != nil {
		logger.Warn("Unable to inspect ELF file.", "error", err)
		p.plan.Failures++
		return
	}
	p.record(path, info)

	needsRPath := false
	systemOnly := len(info.Dependencies) > 0
	for _, dep := range info.Dependencies {
		if introspect.IsSystemLibrary(dep.Name) {
			continue
		}
		systemOnly = false
		if !dep.Found() {
			continue
		}
		if inDir(dep.Path, p.opts.Root) {
			logger.Debug("Library already within root.", "library", dep.Path)
			needsRPath = true
			continue
		}
		if p.provide(ctx, dep.Path) {
			needsRPath = true
		}
	}

	switch {
	case needsRPath:
		token, err := RelativeToken(binfmt.ELF, path, p.opts.LibDir)
		if err != nil {
			logger.Warn("Unable to compute relative search path.", "error", err)
			p.plan.Failures++
			return
		}
		p.patchRPath(ctx, path, token, info.SearchPath)
	case systemOnly && p.opts.StripSystemOnly && len(info.SearchPath) > 0:
		p.removeRPath(ctx, path)
	default:
		logger.Debug("Search path left unchanged.")
	}
}

// provide makes sure a library outside the root has a copy in the library
// directory. It reports whether the binary can now find it there.
func (p *pass) provide(ctx context.Context, src string) bool {
	logger := ctxlog.FromContext(ctx)
	name := filepath.Base(src)
	dst := filepath.Join(p.opts.LibDir, name)

	if exists(dst) {
		logger.Debug("Relocated library exists.", "library", dst)
		return true
	}
	if !p.opts.CopyMode {
		logger.Warn("Library is outside the tree and copying is disabled.", "library", src, "libs", p.opts.LibDir)
		return false
	}
	if err := copyFile(src, dst); err != nil {
		logger.Warn("Unable to copy library.", "library", src, "error", err)
		p.plan.Failures++
		return false
	}
	logger.Info("Copied library.", "from", src, "to", dst)
	p.plan.Copied[name] = struct{}{}
	p.plan.Copies++
	p.enqueue(dst)
	return true
}

// MergeRPath prepends token to current, optionally dropping entries that
// are not loader-relative, and removes duplicates.
func MergeRPath(token string, current []string, relativeOnly bool) []string {
	merged := []string{token}
	for _, entry := range current {
		if relativeOnly && !strings.HasPrefix(entry, OriginToken) {
			continue
		}
		if !slices.Contains(merged, entry) {
			merged = append(merged, entry)
		}
	}
	return merged
}

// patchRPath rewrites the search path of an ELF file. It returns false when
// patchelf failed; the failure is logged and counted but not propagated.
func (p *pass) patchRPath(ctx context.Context, path, token string, current []string) bool {
	logger := ctxlog.FromContext(ctx)

	merged := MergeRPath(token, current, p.opts.RelativeOnly)
	if slices.Equal(merged, current) {
		logger.Debug("Search path already correct.", "path", path, "rpath", strings.Join(current, ":"))
		return true
	}

	rpath := strings.Join(merged, ":")
	_, err := p.runner.Run(ctx, cmdrun.Command{
		Name: "patchelf",
		Args: []string{"--force-rpath", "--set-rpath", rpath, path},
		Env:  p.env,
	})
	if err != nil {
		logger.Warn("Unable to patch search path.", "path", path, "rpath", rpath, "error", err)
		p.plan.PatchFailures++
		return false
	}
	logger.Info("Set search path.", "path", path, "rpath", rpath)
	p.plan.Patches++
	return true
}

func (p *pass) removeRPath(ctx context.Context, path string) bool {
	logger := ctxlog.FromContext(ctx)
	_, err := p.runner.Run(ctx, cmdrun.Command{
		Name: "patchelf",
		Args: []string{"--remove-rpath", path},
		Env:  p.env,
	})
	if err != nil {
		logger.Warn("Unable to remove search path.", "path", path, "error", err)
		p.plan.PatchFailures++
		return false
	}
	logger.Info("Removed search path from binary with only system dependencies.", "path", path)
	p.plan.Stripped++
	return true
}

func (p *pass) record(path string, info *introspect.Info) {
	p.plan.Artifacts = append(p.plan.Artifacts, Artifact{
		Path:         path,
		Format:       info.Format,
		Dependencies: info.Dependencies,
		SearchPath:   info.SearchPath,
	})
}
