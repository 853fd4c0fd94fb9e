package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/relenvgo/internal/workdirs"
)

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand(&bytes.Buffer{})
	for _, path := range [][]string{
		{"build"}, {"create"}, {"fetch"}, {"toolchain", "fetch"}, {"toolchain", "build"},
		{"relocate"}, {"check"}, {"manifest"}, {"buildenv"},
	} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}
}

func TestBuildFlags(t *testing.T) {
	cmd := NewRootCommand(&bytes.Buffer{})
	build, _, err := cmd.Find([]string{"build"})
	require.NoError(t, err)
	for _, name := range []string{"step", "recipes", "clean", "no-cleanup", "force-download", "healthcheck-port"} {
		assert.NotNil(t, build.Flags().Lookup(name), name)
	}
	for _, name := range []string{"arch", "python", "log-level", "log-format"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestExecute_UsageErrors(t *testing.T) {
	t.Setenv(workdirs.DataDirEnv, t.TempDir())
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown flag", []string{"build", "--nope"}, "unknown flag: --nope"},
		{"missing arg", []string{"relocate"}, "accepts 1 arg(s), received 0"},
		{"too many args", []string{"manifest", "a", "b"}, "accepts at most 1 arg(s)"},
		{"bad log level", []string{"manifest", ".", "--log-level", "loud"}, "invalid log-level"},
		{"bad arch", []string{"buildenv", "/opt/py", "--arch", "sparc"}, "unsupported architecture"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Execute(context.Background(), tt.args, &bytes.Buffer{})
			require.Error(t, err)
			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, 2, exitErr.Code)
			assert.Contains(t, exitErr.Message, tt.want)
		})
	}
}

func TestExecute_Manifest(t *testing.T) {
	t.Setenv(workdirs.DataDirEnv, t.TempDir())
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))

	var out bytes.Buffer
	require.NoError(t, Execute(context.Background(), []string{"manifest", dir}, &out))
	assert.Contains(t, out.String(), filepath.Join(dir, "a.txt")+" => ca978112ca1bbdcafac231b39a23dc4da786eff8147c4e72b9807785afee48bb")
}

func TestExecute_Help(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, Execute(context.Background(), []string{"--help"}, &out))
	assert.Contains(t, out.String(), "Usage:")
	assert.Contains(t, out.String(), "relocate")
}

func TestSteps(t *testing.T) {
	t.Setenv(StepsEnv, "zlib, python,,")
	assert.Equal(t, []string{"zlib", "python"}, steps(nil))
	assert.Equal(t, []string{"XZ"}, steps([]string{"XZ"}))
}
