package cmdrun

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hostEnv() []string {
	return []string{"PATH=" + os.Getenv("PATH")}
}

func TestExecRunnerCapturesOutput(t *testing.T) {
	res, err := ExecRunner{}.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo out; echo err >&2"},
		Env:  hostEnv(),
	})
	require.NoError(t, err)
	assert.Equal(t, "out\n", string(res.Stdout))
	assert.Equal(t, "err\n", string(res.Stderr))
	assert.Zero(t, res.ExitCode)
}

func TestExecRunnerStreams(t *testing.T) {
	var out bytes.Buffer
	_, err := ExecRunner{}.Run(context.Background(), Command{
		Name:   "sh",
		Args:   []string{"-c", "echo $GREETING"},
		Env:    append(hostEnv(), "GREETING=hello"),
		Stdout: &out,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out.String())
}

func TestExecRunnerUsesDir(t *testing.T) {
	dir := t.TempDir()
	res, err := ExecRunner{}.Run(context.Background(), Command{Name: "pwd", Dir: dir, Env: hostEnv()})
	require.NoError(t, err)
	assert.Contains(t, string(res.Stdout), dir)
}

func TestExecRunnerNonZeroExit(t *testing.T) {
	res, err := ExecRunner{}.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo boom >&2; exit 3"},
		Env:  hostEnv(),
	})
	require.Error(t, err)

	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 3, cmdErr.ExitCode)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, []string{"sh", "-c", "echo boom >&2; exit 3"}, cmdErr.Argv)
	assert.Contains(t, err.Error(), "status 3")
	assert.Contains(t, err.Error(), "boom")
}

func TestExecRunnerMissingTool(t *testing.T) {
	_, err := ExecRunner{}.Run(context.Background(), Command{Name: "definitely-not-a-real-tool-xyz"})
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, -1, cmdErr.ExitCode)
}

func TestCommandString(t *testing.T) {
	c := Command{Name: "patchelf", Args: []string{"--set-rpath", "lib", "a b"}}
	assert.Equal(t, `patchelf --set-rpath lib 'a b'`, c.String())
}

func TestRequire(t *testing.T) {
	assert.NoError(t, Require("sh"))

	err := Require("sh", "missing-tool-one", "missing-tool-two")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing-tool-one")
	assert.Contains(t, err.Error(), "missing-tool-two")
}
