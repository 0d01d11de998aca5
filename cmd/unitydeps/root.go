// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the unitydeps command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/melonloader/unitydeps/internal/issue"
	"github.com/melonloader/unitydeps/pkg/types"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// rootParams holds the flag values of one invocation.
type rootParams struct {
	configFile   string
	verbose      bool
	families     []int
	workDir      string
	metricsFile  string
	reportFile   string
	lockRedisURL string
	dryRun       bool
}

// NewRootCommand builds the unitydeps command.
func NewRootCommand() *cobra.Command {
	p := &rootParams{}
	cmd := &cobra.Command{
		Use:   "unitydeps <owner> <repo> <branch>",
		Short: "Publish Unity Android support assemblies as GitHub releases",
		Long: TitleStyle.Render("unitydeps") + SubtitleStyle.Render(" - Unity dependency release generator") + `

unitydeps walks the Unity release catalog, downloads the Android support
installer of every stable version that has no release yet, and publishes its
managed assemblies (Managed.zip) and native libunity.so libraries as a release
tagged with the version name on <owner>/<repo>, anchored at <branch>.

` + SubtitleStyle.Render("Environment:") + `
  GH_TOKEN              GitHub token allowed to push tags and create releases
  UNITYDEPS_*           override any config key, e.g. UNITYDEPS_CATALOG_ENDPOINT

` + SubtitleStyle.Render("Examples:") + `
  unitydeps LavaGang MelonLoader.UnityDependencies master
  unitydeps LavaGang MelonLoader.UnityDependencies master --dry-run --family 2022
  unitydeps LavaGang MelonLoader.UnityDependencies master --report-file run.yaml`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd.Context(), cmd, p, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&p.configFile, "config", "", "config file (default ./unitydeps.cue or $XDG_CONFIG_HOME/unitydeps/config.cue)")
	flags.BoolVarP(&p.verbose, "verbose", "v", false, "enable debug logging")
	flags.IntSliceVar(&p.families, "family", nil, "catalog family to query, repeatable (default: all known families)")
	flags.StringVar(&p.workDir, "work-dir", "", "directory for per-version scratch space (default: system temp dir)")
	flags.StringVar(&p.metricsFile, "metrics-file", "", "write Prometheus metrics in textfile format to this path")
	flags.StringVar(&p.reportFile, "report-file", "", "write a YAML run report to this path")
	flags.StringVar(&p.lockRedisURL, "lock-redis-url", "", "Redis URL used to lock versions across concurrent runs")
	flags.BoolVar(&p.dryRun, "dry-run", false, "list unpublished versions without downloading or publishing")

	return cmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the root command and exits the process on failure.
func Execute() {
	if code := run(context.Background(), os.Args[1:]); !code.IsSuccess() {
		os.Exit(int(code))
	}
}

func run(ctx context.Context, args []string) types.ExitCode {
	root := NewRootCommand()
	root.SetArgs(args)

	err := fang.Execute(
		ctx,
		root,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
		fang.WithErrorHandler(handleError),
	)
	if err == nil {
		return types.ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return types.ExitUsage
}

// handleError prints actionable errors with their suggestions and defers
// everything else to fang's styled output.
func handleError(w io.Writer, styles fang.Styles, err error) {
	if ae, ok := issue.As(err); ok {
		_, _ = fmt.Fprintln(w, ErrorStyle.Render("Error: ")+ae.Format(false))
		return
	}
	fang.DefaultErrorHandler(w, styles, err)
}
