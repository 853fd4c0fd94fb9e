package app

import (
	"os"
	"testing"

	"github.com/vk/relenvgo/internal/testutil"
)

// SetupAppTest creates a new app instance over a temporary data directory
// for system testing. Log output is printed when RELENV_TEST_LOGS=true.
func SetupAppTest(t *testing.T, cfg Config, opts ...Option) (*App, *testutil.SafeBuffer) {
	t.Helper()

	if cfg.DataDir == "" {
		cfg.DataDir = t.TempDir()
	}
	cfg.LogLevel = "debug"
	config, err := NewConfig(cfg)
	if err != nil {
		t.Fatalf("invalid test config: %v", err)
	}

	logBuffer := &testutil.SafeBuffer{}
	testApp := NewApp(logBuffer, config, opts...)

	t.Cleanup(func() {
		if os.Getenv("RELENV_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
		}
	})

	return testApp, logBuffer
}
