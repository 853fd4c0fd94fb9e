package recipe

import (
	"context"
	"embed"
	"fmt"
	"os"
	"path"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/relenvgo/internal/ctxlog"
	"github.com/vk/relenvgo/internal/download"
	"github.com/vk/relenvgo/internal/fsutil"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

//go:embed manifests/*.hcl
var manifests embed.FS

// fileRoot is the top-level structure of a manifest file.
type fileRoot struct {
	PythonVersion *string        `hcl:"python_version,optional"`
	Recipes       []*recipeBlock `hcl:"recipe,block"`
}

type recipeBlock struct {
	Name     string         `hcl:"name,label"`
	Build    *string        `hcl:"build,optional"`
	WaitOn   []string       `hcl:"wait_on,optional"`
	Download *downloadBlock `hcl:"download,block"`
}

type downloadBlock struct {
	URL         hcl.Expression `hcl:"url"`
	FallbackURL hcl.Expression `hcl:"fallback_url,optional"`
	Version     hcl.Expression `hcl:"version"`
	Checksum    *string        `hcl:"checksum,optional"`
}

// Loader parses manifests into a Registry.
type Loader struct {
	parser        *hclparse.Parser
	pythonVersion string
}

// NewLoader creates a new manifest loader.
func NewLoader() *Loader {
	return &Loader{parser: hclparse.NewParser()}
}

// WithPythonVersion makes l use v instead of the python_version declared
// in manifests. Downloads whose version follows python_version lose their
// checksum when v differs from the declared value.
func (l *Loader) WithPythonVersion(v string) *Loader {
	l.pythonVersion = v
	return l
}

// LoadDefault loads the embedded manifest for a platform (a GOOS value).
func (l *Loader) LoadDefault(ctx context.Context, r *Registry, goos string) error {
	name := path.Join("manifests", goos+".hcl")
	src, err := manifests.ReadFile(name)
	if err != nil {
		return fmt.Errorf("no built-in recipes for platform %q", goos)
	}
	return l.LoadSource(ctx, r, src, name)
}

// LoadPaths loads every .hcl file found in paths, in order.
func (l *Loader) LoadPaths(ctx context.Context, r *Registry, paths ...string) error {
	logger := ctxlog.FromContext(ctx)

	files, err := fsutil.CollectFiles(paths, ".hcl")
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no recipe manifests found in %v", paths)
	}
	logger.Debug("Discovered recipe manifests.", "count", len(files))

	for _, file := range files {
		src, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		if err := l.LoadSource(ctx, r, src, file); err != nil {
			return err
		}
	}
	return nil
}

// LoadSource parses one manifest and adds its units to r.
func (l *Loader) LoadSource(ctx context.Context, r *Registry, src []byte, filename string) error {
	logger := ctxlog.FromContext(ctx)

	file, diags := l.parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}

	var root fileRoot
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}

	declared := r.PythonVersion
	if root.PythonVersion != nil {
		declared = *root.PythonVersion
	}
	r.PythonVersion = declared
	if l.pythonVersion != "" {
		r.PythonVersion = l.pythonVersion
	}
	overridden := r.PythonVersion != declared

	for _, block := range root.Recipes {
		unit, err := l.translate(block, r.PythonVersion, overridden)
		if err != nil {
			return fmt.Errorf("%s: recipe %q: %w", filename, block.Name, err)
		}
		if err := r.Add(unit); err != nil {
			return fmt.Errorf("%s: %w", filename, err)
		}
	}

	logger.Debug("Recipe manifest loaded.", "file", filename, "recipes", len(root.Recipes), "python_version", r.PythonVersion)
	return nil
}

func (l *Loader) translate(b *recipeBlock, pythonVersion string, overridden bool) (Unit, error) {
	u := Unit{Name: b.Name, BuildName: DefaultBuild, WaitOn: b.WaitOn}
	if b.Build != nil {
		u.BuildName = *b.Build
	}
	if b.Download == nil {
		return u, nil
	}

	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"python_version": cty.StringVal(pythonVersion),
		},
	}
	version, err := evalString(b.Download.Version, evalCtx)
	if err != nil {
		return u, fmt.Errorf("version: %w", err)
	}
	if version == "" {
		return u, fmt.Errorf("version must not be empty")
	}
	evalCtx.Variables["version"] = cty.StringVal(version)

	url, err := evalString(b.Download.URL, evalCtx)
	if err != nil {
		return u, fmt.Errorf("url: %w", err)
	}
	fallback, err := evalString(b.Download.FallbackURL, evalCtx)
	if err != nil {
		return u, fmt.Errorf("fallback_url: %w", err)
	}

	spec := &download.Spec{
		Name:        b.Name,
		URL:         url,
		FallbackURL: fallback,
		Version:     version,
	}
	if b.Download.Checksum != nil && !(overridden && followsPython(b.Download.Version)) {
		spec.Checksum = *b.Download.Checksum
	}
	u.Download = spec
	return u, nil
}

// followsPython reports whether expr refers to python_version.
func followsPython(expr hcl.Expression) bool {
	for _, tr := range expr.Variables() {
		if tr.RootName() == "python_version" {
			return true
		}
	}
	return false
}

// evalString evaluates expr to a string; a missing optional attribute
// evaluates to null and yields "".
func evalString(expr hcl.Expression, ctx *hcl.EvalContext) (string, error) {
	if expr == nil {
		return "", nil
	}
	val, diags := expr.Value(ctx)
	if diags.HasErrors() {
		return "", diags
	}
	if val.IsNull() {
		return "", nil
	}
	var s string
	if err := gocty.FromCtyValue(val, &s); err != nil {
		return "", err
	}
	return s, nil
}
