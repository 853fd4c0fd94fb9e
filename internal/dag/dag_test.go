package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	g := New()
	require.NotNil(t, g)
	assert.NotNil(t, g.nodes)
	assert.Empty(t, g.nodes)
	assert.Zero(t, g.Len())
}

func TestAddNode(t *testing.T) {
	g := New()

	g.AddNode("OpenSSL")
	assert.Len(t, g.nodes, 1)
	n, ok := g.nodes["OpenSSL"]
	require.True(t, ok)
	assert.Equal(t, "OpenSSL", n.id)
	assert.NotNil(t, n.deps)
	assert.NotNil(t, n.dependents)

	g.AddNode("OpenSSL") // idempotent
	assert.Len(t, g.nodes, 1)

	g.AddNode("krb5")
	assert.Equal(t, []string{"OpenSSL", "krb5"}, g.Nodes())
}

func TestAddEdge(t *testing.T) {
	t.Run("success case", func(t *testing.T) {
		g := New()
		g.AddNode("OpenSSL")
		g.AddNode("krb5")

		require.NoError(t, g.AddEdge("OpenSSL", "krb5")) // krb5 waits on OpenSSL

		deps, err := g.Dependencies("krb5")
		require.NoError(t, err)
		assert.Equal(t, []string{"OpenSSL"}, deps)

		dependents, err := g.Dependents("OpenSSL")
		require.NoError(t, err)
		assert.Equal(t, []string{"krb5"}, dependents)
	})

	t.Run("error cases", func(t *testing.T) {
		g := New()
		g.AddNode("a")

		assert.ErrorContains(t, g.AddEdge("dne", "a"), "source node not found")
		assert.ErrorContains(t, g.AddEdge("a", "dne"), "destination node not found")
		assert.ErrorContains(t, g.AddEdge("a", "a"), "self-referential edge")

		_, err := g.Dependencies("dne")
		assert.ErrorContains(t, err, "node not found")
		_, err = g.Dependents("dne")
		assert.ErrorContains(t, err, "node not found")
	})
}

func TestDependenciesFollowInsertionOrder(t *testing.T) {
	g := New()
	for _, id := range []string{"zlib", "XZ", "bzip2", "python"} {
		g.AddNode(id)
	}
	require.NoError(t, g.AddEdge("bzip2", "python"))
	require.NoError(t, g.AddEdge("zlib", "python"))
	require.NoError(t, g.AddEdge("XZ", "python"))

	deps, err := g.Dependencies("python")
	require.NoError(t, err)
	assert.Equal(t, []string{"zlib", "XZ", "bzip2"}, deps)
}

func TestDescendants(t *testing.T) {
	g := New()
	for _, id := range []string{"OpenSSL", "krb5", "python", "finalize", "XZ"} {
		g.AddNode(id)
	}
	require.NoError(t, g.AddEdge("OpenSSL", "krb5"))
	require.NoError(t, g.AddEdge("krb5", "python"))
	require.NoError(t, g.AddEdge("OpenSSL", "python"))
	require.NoError(t, g.AddEdge("python", "finalize"))
	require.NoError(t, g.AddEdge("XZ", "python"))

	desc, err := g.Descendants("OpenSSL")
	require.NoError(t, err)
	assert.Equal(t, []string{"krb5", "python", "finalize"}, desc)

	desc, err = g.Descendants("finalize")
	require.NoError(t, err)
	assert.Empty(t, desc)

	_, err = g.Descendants("dne")
	assert.Error(t, err)
}

func TestDetectCycles(t *testing.T) {
	t.Run("empty graph has no cycles", func(t *testing.T) {
		assert.NoError(t, New().DetectCycles())
	})

	t.Run("valid dag has no cycles", func(t *testing.T) {
		g := New()
		for _, id := range []string{"a", "b", "c", "d"} {
			g.AddNode(id)
		}
		require.NoError(t, g.AddEdge("a", "b"))
		require.NoError(t, g.AddEdge("b", "c"))
		require.NoError(t, g.AddEdge("a", "c"))
		require.NoError(t, g.AddEdge("c", "d"))
		assert.NoError(t, g.DetectCycles())
	})

	t.Run("longer cycle is reported with its path", func(t *testing.T) {
		g := New()
		for _, id := range []string{"a", "b", "c"} {
			g.AddNode(id)
		}
		require.NoError(t, g.AddEdge("a", "b"))
		require.NoError(t, g.AddEdge("b", "c"))
		require.NoError(t, g.AddEdge("c", "a"))
		err := g.DetectCycles()
		require.Error(t, err)
		assert.EqualError(t, err, "cycle detected: a -> b -> c -> a")
	})

	t.Run("cycle in a disjoint component is detected", func(t *testing.T) {
		g := New()
		for _, id := range []string{"a", "b", "x", "y"} {
			g.AddNode(id)
		}
		require.NoError(t, g.AddEdge("a", "b"))
		require.NoError(t, g.AddEdge("x", "y"))
		require.NoError(t, g.AddEdge("y", "x"))
		assert.ErrorContains(t, g.DetectCycles(), "cycle detected")
	})
}

func TestTopoOrder(t *testing.T) {
	t.Run("dependencies come first, ties by insertion", func(t *testing.T) {
		g := New()
		for _, id := range []string{"python", "ncurses", "readline", "OpenSSL", "krb5"} {
			g.AddNode(id)
		}
		require.NoError(t, g.AddEdge("readline", "ncurses"))
		require.NoError(t, g.AddEdge("OpenSSL", "krb5"))
		for _, dep := range []string{"ncurses", "readline", "OpenSSL", "krb5"} {
			require.NoError(t, g.AddEdge(dep, "python"))
		}

		order, err := g.TopoOrder()
		require.NoError(t, err)
		assert.Equal(t, []string{"readline", "OpenSSL", "krb5", "ncurses", "python"}, order)
	})

	t.Run("cycle is an error", func(t *testing.T) {
		g := New()
		g.AddNode("a")
		g.AddNode("b")
		require.NoError(t, g.AddEdge("a", "b"))
		require.NoError(t, g.AddEdge("b", "a"))
		_, err := g.TopoOrder()
		assert.ErrorContains(t, err, "not acyclic")
	})
}
