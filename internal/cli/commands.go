package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vk/relenvgo/internal/app"
)

type buildOptions struct {
	steps           []string
	recipes         []string
	clean           bool
	noCleanup       bool
	forceDownload   bool
	healthcheckPort int
	downloadLimit   int
}

func newBuildCommand(root *RootOptions) *cobra.Command {
	opts := &buildOptions{}
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a relocatable Python runtime",
		Long: `Download the sources of every recipe, build them in dependency order and
archive the finished runtime in the data directory ($RELENV_DATA).`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.newApp(app.Config{
				Steps:           steps(opts.steps),
				RecipePaths:     opts.recipes,
				Clean:           opts.clean,
				NoCleanup:       opts.noCleanup,
				ForceDownload:   opts.forceDownload,
				HealthcheckPort: opts.healthcheckPort,
				DownloadLimit:   opts.downloadLimit,
			})
			if err != nil {
				return err
			}
			return a.Build(cmd.Context())
		},
	}
	cmd.Flags().StringArrayVar(&opts.steps, "step", nil, "Build only this unit; repeatable. Defaults to $"+StepsEnv+".")
	cmd.Flags().StringSliceVar(&opts.recipes, "recipes", nil, "Load recipes from these .hcl files or directories instead of the built-in ones.")
	cmd.Flags().BoolVar(&opts.clean, "clean", false, "Remove previous build output first.")
	cmd.Flags().BoolVar(&opts.noCleanup, "no-cleanup", false, "Keep the build prefix after archiving.")
	cmd.Flags().BoolVar(&opts.forceDownload, "force-download", false, "Download sources even when a verified copy exists.")
	cmd.Flags().IntVar(&opts.healthcheckPort, "healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")
	cmd.Flags().IntVar(&opts.downloadLimit, "download-limit", 4, "Maximum concurrent downloads. 0 is unlimited.")
	return cmd
}

func newCreateCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new environment from an archived build",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.newApp(app.Config{})
			if err != nil {
				return err
			}
			return a.Create(cmd.Context(), args[0])
		},
	}
}

func newFetchCommand(root *RootOptions) *cobra.Command {
	var baseURL string
	var force bool
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download a prebuilt runtime archive",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.newApp(app.Config{ForceDownload: force})
			if err != nil {
				return err
			}
			path, err := a.Fetch(cmd.Context(), baseURL)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Location of prebuilt archives.")
	cmd.Flags().BoolVar(&force, "force-download", false, "Download even when the archive exists.")
	return cmd
}

func newToolchainCommand(root *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "toolchain",
		Short: "Fetch or build the cross toolchain (Linux only)",
	}

	var fetchOpts app.ToolchainOptions
	fetch := &cobra.Command{
		Use:   "fetch",
		Short: "Download a prebuilt toolchain",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolchain(cmd, root, fetchOpts)
		},
	}
	fetch.Flags().BoolVar(&fetchOpts.Clean, "clean", false, "Remove an existing toolchain first.")
	fetch.Flags().StringVar(&fetchOpts.BaseURL, "base-url", "", "Location of prebuilt toolchains.")

	buildOpts := app.ToolchainOptions{Build: true}
	build := &cobra.Command{
		Use:   "build",
		Short: "Build a toolchain with crosstool-ng",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolchain(cmd, root, buildOpts)
		},
	}
	build.Flags().BoolVar(&buildOpts.Clean, "clean", false, "Remove an existing toolchain first.")
	build.Flags().StringVar(&buildOpts.ConfigDir, "config-dir", "", "Directory holding <host>/<triplet>-ct-ng.config files.")
	build.Flags().BoolVar(&buildOpts.CrosstoolOnly, "crosstool-only", false, "Stop once crosstool-ng itself is built.")

	cmd.AddCommand(fetch, build)
	return cmd
}

func runToolchain(cmd *cobra.Command, root *RootOptions, opts app.ToolchainOptions) error {
	a, err := root.newApp(app.Config{})
	if err != nil {
		return err
	}
	path, err := a.Toolchain(cmd.Context(), opts)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func newRelocateCommand(root *RootOptions) *cobra.Command {
	var libs string
	var rpathOnly bool
	cmd := &cobra.Command{
		Use:   "relocate <root>",
		Short: "Make the binaries below a directory relocatable",
		Long: `Copy shared libraries that live outside ROOT into its library directory and
rewrite every binary's search path relative to its own location.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.newApp(app.Config{})
			if err != nil {
				return err
			}
			_, err = a.Relocate(cmd.Context(), args[0], libs, rpathOnly)
			return err
		},
	}
	cmd.Flags().StringVar(&libs, "libs", "", "Directory that receives copied libraries. Defaults to ROOT/lib.")
	cmd.Flags().BoolVar(&rpathOnly, "rpath-only", false, "Only rewrite search paths; do not copy libraries.")
	return cmd
}

func newCheckCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check <root>",
		Short: "Re-apply relative search paths to an installed runtime",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.newApp(app.Config{})
			if err != nil {
				return err
			}
			return a.Check(cmd.Context(), args[0])
		},
	}
}

func newManifestCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "manifest [root]",
		Short: "Print the sha256 of every file below a directory",
		Args:  maxArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			if _, err := os.Stat(dir); err != nil {
				return err
			}
			a, err := root.newApp(app.Config{})
			if err != nil {
				return err
			}
			return a.Manifest(cmd.Context(), dir, cmd.OutOrStdout())
		},
	}
}

func newBuildEnvCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "buildenv <prefix>",
		Short: "Print shell exports for building extensions against a runtime",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.newApp(app.Config{})
			if err != nil {
				return err
			}
			return a.BuildEnv(args[0], cmd.OutOrStdout())
		},
	}
}
