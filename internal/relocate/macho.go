package relocate

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/vk/relenvgo/internal/binfmt"
	"github.com/vk/relenvgo/internal/cmdrun"
	"github.com/vk/relenvgo/internal/ctxlog"
	"github.com/vk/relenvgo/internal/introspect"
)

func (p *pass) handleMachO(ctx context.Context, path string) {
	logger := ctxlog.FromContext(ctx).With("path", path)

	info, err := p.resolver.Resolve(ctx, path, binfmt.MachO)
	if errors.Is(err, introspect.ErrNotObjectFile) {
		logger.Debug("Skipping file otool does not recognise.")
		return
	}
	if err != nil {
		logger.Warn("Unable to inspect Mach-O file.", "error", err)
		p.plan.Failures++
		return
	}
	p.record(path, info)

	for _, dep := range info.Dependencies {
		if strings.HasPrefix(dep.Ref, "@") {
			logger.Debug("Skipping loader-relative reference.", "ref", dep.Ref)
			continue
		}
		if introspect.IsSystemPath(dep.Ref) || !dep.Found() || !exists(dep.Path) {
			continue
		}
		if !p.provide(ctx, dep.Path) {
			continue
		}

		dir, err := RelativeToken(binfmt.MachO, path, p.opts.LibDir)
		if err != nil {
			logger.Warn("Unable to compute relative reference.", "error", err)
			p.plan.Failures++
			continue
		}
		p.changeRef(ctx, path, dep.Ref, dir+"/"+filepath.Base(dep.Path))
	}
}

// changeRef rewrites one LC_LOAD_DYLIB reference with install_name_tool.
func (p *pass) changeRef(ctx context.Context, path, from, to string) bool {
	logger := ctxlog.FromContext(ctx)
	_, err := p.runner.Run(ctx, cmdrun.Command{
		Name: "install_name_tool",
		Args: []string{"-change", from, to, path},
		Env:  p.env,
	})
	if err != nil {
		logger.Warn("Unable to change library reference.", "path", path, "from", from, "to", to, "error", err)
		p.plan.PatchFailures++
		return false
	}
	logger.Info("Changed library reference.", "path", path, "from", from, "to", to)
	p.plan.Patches++
	return true
}
