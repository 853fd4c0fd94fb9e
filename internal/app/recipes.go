package app

import (
	"context"
	"fmt"

	"github.com/vk/relenvgo/internal/ctxlog"
	"github.com/vk/relenvgo/internal/recipe"
)

// LoadRecipes builds the registry: build modules are registered first,
// then the recipes are loaded and validated against them.
func (a *App) LoadRecipes(ctx context.Context) (*recipe.Registry, error) {
	ctx = a.context(ctx)
	logger := ctxlog.FromContext(ctx)

	reg := recipe.New()
	for _, mod := range a.modules {
		mod.Register(reg)
	}
	logger.Debug("All build modules registered.", "count", len(a.modules))

	loader := recipe.NewLoader().WithPythonVersion(a.config.PythonVersion)
	var err error
	if len(a.config.RecipePaths) > 0 {
		err = loader.LoadPaths(ctx, reg, a.config.RecipePaths...)
	} else {
		err = loader.LoadDefault(ctx, reg, a.config.GOOS)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load recipes: %w", err)
	}
	if err := reg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid recipes: %w", err)
	}
	logger.Debug("Recipe validation passed.", "units", len(reg.Names()), "python_version", reg.PythonVersion)
	return reg, nil
}

// pythonVersion is the configured version, or the one the recipes declare.
func (a *App) pythonVersion(ctx context.Context) (string, error) {
	if a.config.PythonVersion != "" {
		return a.config.PythonVersion, nil
	}
	reg, err := a.LoadRecipes(ctx)
	if err != nil {
		return "", err
	}
	return reg.PythonVersion, nil
}
