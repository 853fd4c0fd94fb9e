package recipe

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/relenvgo/internal/download"
	"github.com/vk/relenvgo/internal/workdirs"
)

func noop(context.Context, Env, workdirs.Dirs, io.Writer) error { return nil }

func newTestRegistry(t *testing.T, units ...Unit) *Registry {
	t.Helper()
	r := New()
	r.RegisterBuildFunc(DefaultBuild, noop)
	for _, u := range units {
		require.NoError(t, r.Add(u))
	}
	return r
}

func TestEnv(t *testing.T) {
	env := Env{"PATH": "/bin", "CC": "gcc"}
	clone := env.Clone()
	clone["CC"] = "clang"

	assert.Equal(t, "gcc", env["CC"])
	assert.Equal(t, []string{"CC=gcc", "PATH=/bin"}, env.Environ())
}

func TestRegistry_Add(t *testing.T) {
	t.Run("defaults build name", func(t *testing.T) {
		r := newTestRegistry(t, Unit{Name: "XZ"})
		u, ok := r.Unit("XZ")
		require.True(t, ok)
		assert.Equal(t, DefaultBuild, u.BuildName)
	})

	t.Run("rejects duplicates", func(t *testing.T) {
		r := newTestRegistry(t, Unit{Name: "XZ"})
		err := r.Add(Unit{Name: "XZ"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already registered")
	})

	t.Run("rejects empty name", func(t *testing.T) {
		r := New()
		assert.Error(t, r.Add(Unit{}))
	})

	t.Run("keeps declaration order", func(t *testing.T) {
		r := newTestRegistry(t, Unit{Name: "b"}, Unit{Name: "a"}, Unit{Name: "c"})
		assert.Equal(t, []string{"b", "a", "c"}, r.Names())
	})

	t.Run("copies wait list", func(t *testing.T) {
		waits := []string{"a"}
		r := newTestRegistry(t, Unit{Name: "a"}, Unit{Name: "b", WaitOn: waits})
		waits[0] = "mutated"
		u, _ := r.Unit("b")
		assert.Equal(t, []string{"a"}, u.WaitOn)
	})
}

func TestRegistry_Validate(t *testing.T) {
	t.Run("binds build functions", func(t *testing.T) {
		r := newTestRegistry(t, Unit{Name: "a"}, Unit{Name: "b", WaitOn: []string{"a"}})
		require.NoError(t, r.Validate())
		u, _ := r.Unit("b")
		assert.NotNil(t, u.Build)
	})

	t.Run("reports every problem", func(t *testing.T) {
		r := newTestRegistry(t,
			Unit{Name: "a", BuildName: "missing"},
			Unit{Name: "b", WaitOn: []string{"ghost"}},
		)
		err := r.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown build function "missing"`)
		assert.Contains(t, err.Error(), `waits on unknown unit "ghost"`)
	})

	t.Run("detects cycles", func(t *testing.T) {
		r := newTestRegistry(t,
			Unit{Name: "a", WaitOn: []string{"c"}},
			Unit{Name: "b", WaitOn: []string{"a"}},
			Unit{Name: "c", WaitOn: []string{"b"}},
		)
		err := r.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cycle detected")
	})

	t.Run("self wait is rejected", func(t *testing.T) {
		r := newTestRegistry(t, Unit{Name: "a", WaitOn: []string{"a"}})
		err := r.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "self-referential")
	})
}

func TestRegistry_Select(t *testing.T) {
	r := newTestRegistry(t,
		Unit{Name: "OpenSSL"},
		Unit{Name: "krb5", WaitOn: []string{"OpenSSL"}},
		Unit{Name: "python", WaitOn: []string{"OpenSSL", "krb5"}},
	)

	all, err := r.Select(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"OpenSSL", "krb5", "python"}, all)

	subset, err := r.Select([]string{"python", "OpenSSL"})
	require.NoError(t, err)
	assert.Equal(t, []string{"OpenSSL", "python"}, subset)
	g, err := r.Graph(subset)
	require.NoError(t, err)
	deps, err := g.Dependencies("python")
	require.NoError(t, err)
	assert.Equal(t, []string{"OpenSSL"}, deps)

	_, err = r.Select([]string{"nope", "python"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown unit "nope"`)
}

func TestRegistry_Graph(t *testing.T) {
	r := newTestRegistry(t,
		Unit{Name: "python", WaitOn: []string{"zlib", "OpenSSL"}},
		Unit{Name: "OpenSSL"},
		Unit{Name: "zlib"},
	)
	g, err := r.Graph(r.Names())
	require.NoError(t, err)
	order, err := g.TopoOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"OpenSSL", "zlib", "python"}, order)

	dependents, err := g.Dependents("zlib")
	require.NoError(t, err)
	assert.Equal(t, []string{"python"}, dependents)
}

func TestRegistry_Downloads(t *testing.T) {
	r := newTestRegistry(t,
		Unit{Name: "zlib", Download: &download.Spec{Name: "zlib", URL: "https://example.com/zlib-1.2.13.tar.gz"}},
		Unit{Name: "finalize"},
	)
	specs := r.Downloads(r.Names())
	require.Len(t, specs, 1)
	assert.Equal(t, "zlib", specs[0].Name)
}
