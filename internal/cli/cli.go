package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vk/relenvgo/internal/app"
	"github.com/vk/relenvgo/internal/workdirs"
)

// StepsEnv selects build units when --step is not given.
const StepsEnv = "RELENV_STEPS"

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	return &ExitError{Code: 2, Message: err.Error()}
}

// RootOptions holds the flags shared by every command.
type RootOptions struct {
	Arch          string
	PythonVersion string
	LogLevel      string
	LogFormat     string

	out io.Writer
}

// config validates the shared flags merged into cfg.
func (o *RootOptions) config(cfg app.Config) (*app.Config, error) {
	dataDir, err := workdirs.DataDir()
	if err != nil {
		return nil, err
	}
	cfg.DataDir = dataDir
	cfg.Arch = o.Arch
	cfg.PythonVersion = o.PythonVersion
	cfg.LogLevel = strings.ToLower(o.LogLevel)
	cfg.LogFormat = strings.ToLower(o.LogFormat)
	config, err := app.NewConfig(cfg)
	if err != nil {
		return nil, usageError(err)
	}
	return config, nil
}

// newApp builds an App from the shared flags and cfg.
func (o *RootOptions) newApp(cfg app.Config) (*app.App, error) {
	config, err := o.config(cfg)
	if err != nil {
		return nil, err
	}
	return app.NewApp(o.out, config), nil
}

// NewRootCommand creates the relenvgo command tree writing to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	opts := &RootOptions{out: out}

	cmd := &cobra.Command{
		Use:   "relenvgo",
		Short: "Build and manage relocatable Python runtimes",
		Long: `relenvgo builds a self-contained Python runtime from source, relocates
its binaries so they run from any directory, and packages the result.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	cmd.PersistentFlags().StringVar(&opts.Arch, "arch", workdirs.HostArch(), "Target architecture.")
	cmd.PersistentFlags().StringVar(&opts.PythonVersion, "python", "", "Python version; defaults to the version the recipes declare.")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "text", "Log output format. Options: 'text' or 'json'.")

	cmd.AddCommand(newBuildCommand(opts))
	cmd.AddCommand(newCreateCommand(opts))
	cmd.AddCommand(newFetchCommand(opts))
	cmd.AddCommand(newToolchainCommand(opts))
	cmd.AddCommand(newRelocateCommand(opts))
	cmd.AddCommand(newCheckCommand(opts))
	cmd.AddCommand(newManifestCommand(opts))
	cmd.AddCommand(newBuildEnvCommand(opts))

	return cmd
}

// Execute runs the command line in args. Usage problems are returned as an
// *ExitError with code 2.
func Execute(ctx context.Context, args []string, out io.Writer) error {
	cmd := NewRootCommand(out)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// exactArgs is cobra.ExactArgs reporting a usage error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return &ExitError{Code: 2, Message: fmt.Sprintf("%s: accepts %d arg(s), received %d", cmd.CommandPath(), n, len(args))}
		}
		return nil
	}
}

// maxArgs is cobra.MaximumNArgs reporting a usage error.
func maxArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) > n {
			return &ExitError{Code: 2, Message: fmt.Sprintf("%s: accepts at most %d arg(s), received %d", cmd.CommandPath(), n, len(args))}
		}
		return nil
	}
}

// steps returns the --step values, falling back to RELENV_STEPS.
func steps(flagValues []string) []string {
	if len(flagValues) > 0 {
		return flagValues
	}
	var out []string
	for _, s := range strings.Split(os.Getenv(StepsEnv), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
