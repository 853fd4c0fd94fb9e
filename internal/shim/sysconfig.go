package shim

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/vk/relenvgo/internal/cmdrun"
	"github.com/vk/relenvgo/internal/ctxlog"
	"gopkg.in/yaml.v3"
)

const (
	BuildRootToken = "{BUILDROOT}"
	ToolchainToken = "{TOOLCHAIN}"
	// FileName is the name of the persisted template inside the
	// interpreter's library directory.
	FileName = "relenv-sysconfig.yaml"
	// ModuleName is the expanded configuration Install writes next to the
	// template, importable as _relenv_sysconfigdata.
	ModuleName = "_relenv_sysconfigdata.py"
)

// ErrNoTemplate is returned by Find when a prefix carries no template.
var ErrNoTemplate = errors.New("no sysconfig template")

const (
	// queryScript prints the interpreter's build configuration as JSON.
	queryScript = "import json, sysconfig; print(json.dumps(sysconfig.get_config_vars()))"
	// targetScript prints build_time_vars of the module named by the second
	// argument, found in the directory named by the first.
	targetScript = "import importlib, json, sys; sys.path.insert(0, %s); print(json.dumps(importlib.import_module(%s).build_time_vars))"
)

// Template is a captured build configuration with placeholders in place of
// build-time paths.
type Template struct {
	PythonVersion string         `yaml:"python_version"`
	Triplet       string         `yaml:"triplet"`
	Vars          map[string]any `yaml:"vars"`
}

// Capture replaces buildRoot and toolchain in every string value of vars.
// An empty toolchain is left alone.
func Capture(vars map[string]any, buildRoot, toolchain string) map[string]any {
	out := make(map[string]any, len(vars))
	for k, v := range vars {
		s, ok := v.(string)
		if !ok {
			out[k] = v
			continue
		}
		if buildRoot != "" {
			s = strings.ReplaceAll(s, buildRoot, BuildRootToken)
		}
		if toolchain != "" {
			s = strings.ReplaceAll(s, toolchain, ToolchainToken)
		}
		out[k] = s
	}
	return out
}

// Expand returns the template's variables with placeholders replaced by
// the given locations.
func (t Template) Expand(buildRoot, toolchain string) map[string]any {
	r := strings.NewReplacer(BuildRootToken, buildRoot, ToolchainToken, toolchain)
	out := make(map[string]any, len(t.Vars))
	for k, v := range t.Vars {
		if s, ok := v.(string); ok {
			out[k] = r.Replace(s)
			continue
		}
		out[k] = v
	}
	return out
}

// Keys returns the variable names in sorted order.
func (t Template) Keys() []string {
	keys := make([]string, 0, len(t.Vars))
	for k := range t.Vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Save writes t as YAML to path atomically.
func Save(path string, t Template) error {
	data, err := yaml.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding sysconfig template: %w", err)
	}
	return atomic.WriteFile(path, bytes.NewReader(data))
}

// Load reads a template written by Save.
func Load(path string) (Template, error) {
	var t Template
	data, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("decoding %s: %w", path, err)
	}
	return t, nil
}

// Find returns the template path below a distribution prefix.
func Find(prefix string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(prefix, "lib", "python*", FileName))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w below %s", ErrNoTemplate, prefix)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

// Install expands the template found below prefix for an environment
// living at prefix and writes it as a Python module next to the template.
// It returns the path of the module.
func Install(prefix, toolchain string) (string, error) {
	path, err := Find(prefix)
	if err != nil {
		return "", err
	}
	t, err := Load(path)
	if err != nil {
		return "", err
	}
	vars := t.Expand(prefix, toolchain)

	var b bytes.Buffer
	fmt.Fprintf(&b, "# build configuration of a relocated python %s (%s)\n", t.PythonVersion, t.Triplet)
	b.WriteString("build_time_vars = {\n")
	for _, k := range t.Keys() {
		fmt.Fprintf(&b, "    %s: %s,\n", strconv.Quote(k), pyLiteral(vars[k]))
	}
	b.WriteString("}\n")

	dest := filepath.Join(filepath.Dir(path), ModuleName)
	if err := atomic.WriteFile(dest, &b); err != nil {
		return "", fmt.Errorf("writing %s: %w", dest, err)
	}
	return dest, nil
}

// pyLiteral renders a decoded YAML or JSON value as a Python literal.
func pyLiteral(v any) string {
	switch v := v.(type) {
	case nil:
		return "None"
	case bool:
		if v {
			return "True"
		}
		return "False"
	case string:
		return strconv.Quote(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strconv.Quote(fmt.Sprint(v))
}

// QueryVars runs python and returns its build configuration variables.
func QueryVars(ctx context.Context, runner cmdrun.Runner, python string, env []string) (map[string]any, error) {
	return query(ctx, runner, python, queryScript, env)
}

// QueryTargetVars returns the build configuration of the interpreter
// installed in libDir by loading its _sysconfigdata module with python. The
// installed interpreter does not have to run on this machine.
func QueryTargetVars(ctx context.Context, runner cmdrun.Runner, python, libDir string, env []string) (map[string]any, error) {
	mod, err := sysconfigModule(libDir)
	if err != nil {
		return nil, err
	}
	return query(ctx, runner, python, fmt.Sprintf(targetScript, strconv.Quote(libDir), strconv.Quote(mod)), env)
}

// sysconfigModule returns the name of the _sysconfigdata module in libDir.
func sysconfigModule(libDir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(libDir, "_sysconfigdata_*.py"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no _sysconfigdata module in %s", libDir)
	}
	sort.Strings(matches)
	return strings.TrimSuffix(filepath.Base(matches[0]), ".py"), nil
}

func query(ctx context.Context, runner cmdrun.Runner, python, script string, env []string) (map[string]any, error) {
	res, err := runner.Run(ctx, cmdrun.Command{Name: python, Args: []string{"-c", script}, Env: env})
	if err != nil {
		return nil, err
	}
	var vars map[string]any
	if err := json.Unmarshal(res.Stdout, &vars); err != nil {
		return nil, fmt.Errorf("decoding sysconfig output of %s: %w", python, err)
	}
	ctxlog.FromContext(ctx).Debug("Queried interpreter configuration.", "python", python, "vars", len(vars))
	return vars, nil
}
