package recipe

import (
	"fmt"
	"slices"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/vk/relenvgo/internal/dag"
	"github.com/vk/relenvgo/internal/download"
)

// Registry holds the units and build functions of one platform. Units keep
// their declaration order.
type Registry struct {
	mu          sync.RWMutex
	units       map[string]Unit
	order       []string
	funcs       map[string]BuildFunc
	populateEnv PopulateEnvFunc

	// PythonVersion is the runtime version the manifest builds.
	PythonVersion string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		units: make(map[string]Unit),
		funcs: make(map[string]BuildFunc),
	}
}

// RegisterBuildFunc makes fn available to recipes under name.
func (r *Registry) RegisterBuildFunc(name string, fn BuildFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// BuildFunc looks up a registered build function.
func (r *Registry) BuildFunc(name string) (BuildFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// SetPopulateEnv installs the platform environment hook.
func (r *Registry) SetPopulateEnv(fn PopulateEnvFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.populateEnv = fn
}

// PopulateEnv applies the platform environment hook, if any.
func (r *Registry) PopulateEnv() PopulateEnvFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.populateEnv
}

// Add registers a unit. Names must be unique.
func (r *Registry) Add(u Unit) error {
	if u.Name == "" {
		return fmt.Errorf("unit name must not be empty")
	}
	if u.BuildName == "" && u.Build == nil {
		u.BuildName = DefaultBuild
	}
	u.WaitOn = slices.Clone(u.WaitOn)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.units[u.Name]; ok {
		return fmt.Errorf("unit %q is already registered", u.Name)
	}
	r.units[u.Name] = u
	r.order = append(r.order, u.Name)
	return nil
}

// Unit returns the unit called name.
func (r *Registry) Unit(name string) (Unit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.units[name]
	return u, ok
}

// Names returns every unit name in declaration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Validate binds build functions and checks the unit graph. Every problem
// found is reported.
func (r *Registry) Validate() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result *multierror.Error
	for _, name := range r.order {
		u := r.units[name]
		if u.Build == nil {
			fn, ok := r.funcs[u.BuildName]
			if !ok {
				result = multierror.Append(result, fmt.Errorf("unit %q: unknown build function %q", name, u.BuildName))
			} else {
				u.Build = fn
				r.units[name] = u
			}
		}
		for _, dep := range u.WaitOn {
			if _, ok := r.units[dep]; !ok {
				result = multierror.Append(result, fmt.Errorf("unit %q: waits on unknown unit %q", name, dep))
			}
		}
	}
	if result != nil {
		return result.ErrorOrNil()
	}

	if _, err := r.graph(r.order); err != nil {
		return err
	}
	return nil
}

// graph builds the dependency graph restricted to names. Callers must hold
// the lock.
func (r *Registry) graph(names []string) (*dag.Graph, error) {
	g := dag.New()
	for _, name := range names {
		g.AddNode(name)
	}
	for _, name := range names {
		for _, dep := range r.units[name].WaitOn {
			if !slices.Contains(names, dep) {
				continue
			}
			if err := g.AddEdge(dep, name); err != nil {
				return nil, err
			}
		}
	}
	if err := g.DetectCycles(); err != nil {
		return nil, err
	}
	return g, nil
}

// Select validates a subset of unit names and returns it in declaration
// order. An empty subset selects every unit.
func (r *Registry) Select(names []string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(names) == 0 {
		return slices.Clone(r.order), nil
	}
	var result *multierror.Error
	for _, name := range names {
		if _, ok := r.units[name]; !ok {
			result = multierror.Append(result, fmt.Errorf("unknown unit %q", name))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}

	selected := make([]string, 0, len(names))
	for _, name := range r.order {
		if slices.Contains(names, name) {
			selected = append(selected, name)
		}
	}
	return selected, nil
}

// Graph returns the dependency graph restricted to names. Prerequisites
// outside names are left out.
func (r *Registry) Graph(names []string) (*dag.Graph, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.graph(names)
}

// Downloads returns the download specs of the named units that have one.
func (r *Registry) Downloads(names []string) []download.Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []download.Spec
	for _, name := range names {
		if u, ok := r.units[name]; ok && u.Download != nil {
			out = append(out, *u.Download)
		}
	}
	return out
}
