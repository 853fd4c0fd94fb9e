package app

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/hashicorp/go-version"
	"github.com/vk/relenvgo/internal/workdirs"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	DataDir string
	GOOS    string
	Arch    string
	// PythonVersion overrides the version declared by the recipes.
	PythonVersion string
	// Steps selects a subset of units; empty builds everything.
	Steps []string
	// RecipePaths replaces the built-in recipes with .hcl files.
	RecipePaths []string

	LogFormat       string
	LogLevel        string
	HealthcheckPort int

	Clean         bool
	NoCleanup     bool
	ForceDownload bool
	// DownloadLimit caps concurrent downloads; 0 means no limit.
	DownloadLimit int
}

// NewConfig fills in defaults and validates cfg.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.DataDir == "" {
		return nil, errors.New("DataDir is a required configuration field and cannot be empty")
	}
	if cfg.GOOS == "" {
		cfg.GOOS = runtime.GOOS
	}
	if cfg.Arch == "" {
		cfg.Arch = workdirs.HostArch()
	}
	if err := workdirs.CheckArch(cfg.GOOS, cfg.Arch); err != nil {
		return nil, err
	}
	if cfg.PythonVersion != "" {
		if _, err := version.NewVersion(cfg.PythonVersion); err != nil {
			return nil, fmt.Errorf("invalid python version %q: %w", cfg.PythonVersion, err)
		}
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, errors.New("invalid log-format: must be 'text' or 'json'")
	}
	switch cfg.LogLevel {
	case "":
		cfg.LogLevel = "info"
	case "debug", "info", "warn", "error":
	default:
		return nil, errors.New("invalid log-level: must be 'debug', 'info', 'warn', or 'error'")
	}
	if cfg.HealthcheckPort < 0 || cfg.HealthcheckPort > 65535 {
		return nil, fmt.Errorf("invalid healthcheck port %d", cfg.HealthcheckPort)
	}
	if cfg.DownloadLimit < 0 {
		return nil, fmt.Errorf("invalid download limit %d", cfg.DownloadLimit)
	}
	return &cfg, nil
}

// Triplet is the target triplet of cfg.
func (c *Config) Triplet() (string, error) {
	return workdirs.Triplet(c.GOOS, c.Arch)
}
