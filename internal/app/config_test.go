package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	cfg, err := NewConfig(Config{DataDir: "/data", GOOS: "linux", Arch: "aarch64"})
	require.NoError(t, err)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
	triplet, err := cfg.Triplet()
	require.NoError(t, err)
	assert.Equal(t, "aarch64-linux-gnu", triplet)

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"missing data dir", Config{}, "DataDir"},
		{"bad arch", Config{DataDir: "/d", GOOS: "linux", Arch: "arm64"}, "unsupported architecture"},
		{"bad platform", Config{DataDir: "/d", GOOS: "plan9", Arch: "x86_64"}, "unknown platform"},
		{"bad version", Config{DataDir: "/d", GOOS: "linux", Arch: "x86_64", PythonVersion: "three"}, "invalid python version"},
		{"bad format", Config{DataDir: "/d", GOOS: "linux", Arch: "x86_64", LogFormat: "xml"}, "log-format"},
		{"bad level", Config{DataDir: "/d", GOOS: "linux", Arch: "x86_64", LogLevel: "trace"}, "log-level"},
		{"bad port", Config{DataDir: "/d", GOOS: "linux", Arch: "x86_64", HealthcheckPort: 70000}, "healthcheck port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConfig(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
