package openssl

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/relenvgo/internal/recipe"
	"github.com/vk/relenvgo/internal/testutil"
	"github.com/vk/relenvgo/internal/workdirs"
)

func TestTarget(t *testing.T) {
	tests := []struct {
		goos, arch, want string
	}{
		{"linux", "x86_64", "linux-x86_64"},
		{"linux", "aarch64", "linux-aarch64"},
		{"darwin", "x86_64", "darwin64-x86_64-cc"},
		{"darwin", "arm64", "darwin64-arm64-cc"},
	}
	for _, tc := range tests {
		got, err := Target(tc.goos, tc.arch)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}

	_, err := Target("linux", "riscv64")
	assert.Error(t, err)
}

func TestBuild(t *testing.T) {
	runner := testutil.NewFakeRunner()
	runner.Handle("./Configure", testutil.Output(""))
	runner.Handle("make", testutil.Output(""))

	m := &Module{GOOS: "linux", Runner: runner}
	r := recipe.New()
	m.Register(r)
	fn, ok := r.BuildFunc("openssl")
	require.True(t, ok)

	dirs := workdirs.Dirs{Prefix: "/data/build/3.10.10-aarch64-linux-gnu", Source: "/data/src/openssl-1.1.1t"}
	require.NoError(t, fn(context.Background(), recipe.Env{"RELENV_HOST_ARCH": "aarch64"}, dirs, io.Discard))

	configure := runner.Calls("./Configure")
	require.Len(t, configure, 1)
	assert.Equal(t, "linux-aarch64", configure[0].Args[0])
	assert.Contains(t, configure[0].Args, "--prefix=/data/build/3.10.10-aarch64-linux-gnu")
	assert.Contains(t, configure[0].Args, "-Wl,-z,noexecstack")

	makes := runner.Calls("make")
	require.Len(t, makes, 2)
	assert.Equal(t, []string{"install_sw"}, makes[1].Args)
}

func TestBuild_Darwin(t *testing.T) {
	runner := testutil.NewFakeRunner()
	runner.Handle("./Configure", testutil.Output(""))
	runner.Handle("make", testutil.Output(""))

	m := &Module{GOOS: "darwin", Runner: runner}
	require.NoError(t, m.Build(context.Background(), recipe.Env{"RELENV_HOST_ARCH": "arm64"}, workdirs.Dirs{}, io.Discard))
	args := runner.Calls("./Configure")[0].Args
	assert.Equal(t, "darwin64-arm64-cc", args[0])
	assert.NotContains(t, args, "-Wl,-z,noexecstack")
}
