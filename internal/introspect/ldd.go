package introspect

import (
	"path"
	"strings"
)

// Dependency is one shared library referenced by a binary.
type Dependency struct {
	// Name is the library's file name (soname or install name base).
	Name string
	// Ref is the reference exactly as the binary records it.
	Ref string
	// Path is where the reference currently resolves. Empty when the tool
	// reported it as not found.
	Path string
}

// Found reports whether the dependency resolved to a location.
func (d Dependency) Found() bool { return d.Path != "" }

// ParseLdd parses ldd output. Only lines of the form
// "name => path (address)" produce dependencies; "name => not found" yields
// a dependency with an empty Path. Lines without "=>", such as the vDSO or
// the loader itself, are ignored.
func ParseLdd(out string) []Dependency {
	var deps []Dependency
	for _, line := range strings.Split(out, "\n") {
		name, location, ok := strings.Cut(line, "=>")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		location = strings.TrimSpace(location)
		if name == "" {
			continue
		}

		dep := Dependency{Name: path.Base(name), Ref: name}
		if location != "not found" {
			if i := strings.LastIndex(location, " ("); i >= 0 {
				location = location[:i]
			}
			dep.Path = strings.TrimSpace(location)
		}
		deps = append(deps, dep)
	}
	return deps
}
