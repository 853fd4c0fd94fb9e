package recipe

import (
	"context"
	"io"
	"sort"

	"github.com/vk/relenvgo/internal/download"
	"github.com/vk/relenvgo/internal/workdirs"
)

// DefaultBuild is the build function used when a recipe names none.
const DefaultBuild = "default"

// Env is the environment handed to a build function. Each unit receives
// its own copy.
type Env map[string]string

// Clone returns an independent copy of e.
func (e Env) Clone() Env {
	out := make(Env, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Environ renders e as sorted KEY=VALUE pairs for exec.Cmd.Env.
func (e Env) Environ() []string {
	out := make([]string, 0, len(e))
	for k, v := range e {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// BuildFunc builds one unit. Output from the commands it runs should go to
// log; a returned error marks the unit as failed.
type BuildFunc func(ctx context.Context, env Env, dirs workdirs.Dirs, log io.Writer) error

// PopulateEnvFunc adds platform settings such as compiler paths and flags
// to a unit's environment before its build function runs.
type PopulateEnvFunc func(env Env, dirs workdirs.Dirs)

// Unit is one named build step.
type Unit struct {
	Name string
	// BuildName is the registered build function the unit uses.
	BuildName string
	// Build is bound from BuildName by Registry.Validate.
	Build    BuildFunc
	WaitOn   []string
	Download *download.Spec
}

// Module registers build functions with a Registry.
type Module interface {
	Register(r *Registry)
}
