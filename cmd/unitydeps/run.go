// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/melonloader/unitydeps/internal/archive"
	"github.com/melonloader/unitydeps/internal/artifact"
	"github.com/melonloader/unitydeps/internal/catalog"
	"github.com/melonloader/unitydeps/internal/config"
	"github.com/melonloader/unitydeps/internal/generator"
	"github.com/melonloader/unitydeps/internal/github"
	"github.com/melonloader/unitydeps/internal/issue"
	"github.com/melonloader/unitydeps/internal/lock"
	"github.com/melonloader/unitydeps/internal/metrics"
	"github.com/melonloader/unitydeps/internal/publish"
	"github.com/melonloader/unitydeps/internal/report"
)

// TokenEnv names the environment variable holding the GitHub token.
const TokenEnv = "GH_TOKEN"

// apiTimeout bounds a single catalog or GitHub API call. Downloads use the
// configured download timeout instead, and asset uploads only bound the wait
// for response headers.
const apiTimeout = 2 * time.Minute

var errMissingToken = errors.New(TokenEnv + " is not set")

func runGenerate(ctx context.Context, cmd *cobra.Command, p *rootParams, args []string) error {
	owner, repo, branch := strings.TrimSpace(args[0]), strings.TrimSpace(args[1]), strings.TrimSpace(args[2])
	if owner == "" || repo == "" || branch == "" {
		return usageError(fmt.Errorf("owner, repo and branch must not be empty"))
	}

	token := strings.TrimSpace(os.Getenv(TokenEnv))
	if token == "" {
		return usageError(issue.NewErrorContext().
			WithOperation("read GitHub token").
			WithResource(TokenEnv).
			WithSuggestion("Export " + TokenEnv + " with a token that can push tags and create releases").
			Wrap(errMissingToken).
			BuildError())
	}

	cfg, cfgPath, err := config.Load(ctx, config.LoadOptions{ConfigFilePath: p.configFile})
	if err != nil {
		return usageError(err)
	}
	applyFlags(cmd, p, cfg)
	if err := config.Validate(cfg, cfgPath); err != nil {
		return usageError(err)
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg.Verbose)
	if cfgPath != "" {
		logger.Debug("Loaded configuration", "path", cfgPath)
	}

	locker, closeLocker, err := newLocker(ctx, cfg, logger)
	if err != nil {
		return usageError(err)
	}
	defer closeLocker()

	recorder := metrics.NewProm()
	gen := newGenerator(cfg, owner, repo, branch, token, locker, recorder, logger)

	rep, runErr := gen.Run(ctx)
	if err := writeOutputs(cfg, recorder, rep, logger); err != nil && runErr == nil {
		runErr = err
	}
	printSummary(cmd.OutOrStdout(), rep)

	if runErr != nil {
		return fatalError(runErr)
	}
	return nil
}

// applyFlags lets explicitly set flags win over file and environment values.
func applyFlags(cmd *cobra.Command, p *rootParams, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("verbose") {
		cfg.Verbose = p.verbose
	}
	if flags.Changed("family") && len(p.families) > 0 {
		cfg.Catalog.Families = p.families
	}
	if flags.Changed("work-dir") {
		cfg.WorkDir = p.workDir
	}
	if flags.Changed("metrics-file") {
		cfg.MetricsFile = p.metricsFile
	}
	if flags.Changed("report-file") {
		cfg.ReportFile = p.reportFile
	}
	if flags.Changed("lock-redis-url") {
		cfg.Lock.RedisURL = p.lockRedisURL
	}
	if flags.Changed("dry-run") {
		cfg.DryRun = p.dryRun
	}
}

func newLogger(w io.Writer, verbose bool) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{
		Prefix:          "unitydeps",
		ReportTimestamp: true,
	})
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}

func newLocker(ctx context.Context, cfg *config.Config, logger *log.Logger) (lock.Locker, func(), error) {
	if cfg.Lock.RedisURL == "" || cfg.DryRun {
		return lock.Noop{}, func() {}, nil
	}
	l, err := lock.NewRedisLocker(ctx, cfg.Lock.RedisURL, lock.WithTTL(cfg.Lock.TTL))
	if err != nil {
		return nil, nil, issue.NewErrorContext().
			WithOperation("connect to the lock store").
			WithSuggestion("Check that Redis is reachable at the configured lock.redis_url").
			WithSuggestion("Drop --lock-redis-url to run without cross-run locking").
			Wrap(err).
			BuildError()
	}
	logger.Debug("Using Redis run lock", "owner", l.Owner())
	return l, func() { _ = l.Close() }, nil
}

func newGenerator(cfg *config.Config, owner, repo, branch, token string, locker lock.Locker,
	recorder metrics.Recorder, logger *log.Logger,
) *generator.Generator {
	apiHTTP := &http.Client{Timeout: apiTimeout}

	cat := catalog.New(
		catalog.WithHTTPClient(apiHTTP),
		catalog.WithEndpoint(cfg.Catalog.Endpoint),
		catalog.WithUserAgent(cfg.Catalog.UserAgent),
		catalog.WithPageSize(cfg.Catalog.PageSize),
		catalog.WithStableOnly(cfg.Catalog.StableOnly),
		catalog.WithLatestOnly(cfg.Catalog.LatestOnly),
		catalog.WithLogger(logger),
	)

	gh := github.NewClient(
		github.WithHTTPClient(apiHTTP),
		github.WithUploadHTTPClient(newUploadHTTPClient()),
		github.WithBaseURL(cfg.GitHub.APIURL),
		github.WithUploadURL(cfg.GitHub.UploadURL),
		github.WithUserAgent(cfg.GitHub.UserAgent),
		github.WithToken(token),
		github.WithRepo(owner, repo),
	)

	pipeline := artifact.New(
		artifact.WithHTTPClient(&http.Client{Timeout: cfg.Download.Timeout}),
		artifact.WithExtractor(archive.New(
			archive.WithLogger(logger),
			archive.WithMaxMemberBytes(cfg.Download.MaxMemberBytes),
		)),
		artifact.WithURLTemplate(cfg.Download.URLTemplate),
		artifact.WithUserAgent(cfg.Download.UserAgent),
		artifact.WithRetry(uint64(cfg.Download.MaxRetries), cfg.Download.RetryInterval), //nolint:gosec // validated non-negative
		artifact.WithLogger(logger),
	)

	coordinator := publish.NewCoordinator(gh, branch, publish.WithLogger(logger))

	return generator.New(cat, gh, pipeline, coordinator,
		generator.WithRepository(gh.Repo()),
		generator.WithFamilies(cfg.Catalog.Families),
		generator.WithWorkRoot(cfg.WorkDir),
		generator.WithDryRun(cfg.DryRun),
		generator.WithLocker(locker),
		generator.WithRecorder(recorder),
		generator.WithLogger(logger),
	)
}

// newUploadHTTPClient returns a client without an overall deadline, so a slow
// asset body is never cut off. Only the wait for GitHub's response after the
// body is sent is bounded.
func newUploadHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert // stdlib default
	transport.ResponseHeaderTimeout = apiTimeout
	return &http.Client{Transport: transport}
}

// writeOutputs writes the metrics textfile and the report. Both are written
// even when the run failed.
func writeOutputs(cfg *config.Config, recorder *metrics.Prom, rep *report.Report, logger *log.Logger) error {
	var errs []error
	if cfg.MetricsFile != "" {
		if err := recorder.WriteTextfile(cfg.MetricsFile); err != nil {
			errs = append(errs, err)
		} else {
			logger.Debug("Wrote metrics", "path", cfg.MetricsFile)
		}
	}
	if cfg.ReportFile != "" && rep != nil {
		if err := rep.WriteFile(cfg.ReportFile); err != nil {
			errs = append(errs, err)
		} else {
			logger.Info("Wrote run report", "path", cfg.ReportFile)
		}
	}
	return errors.Join(errs...)
}

func printSummary(w io.Writer, rep *report.Report) {
	if rep == nil {
		return
	}
	for _, e := range rep.Entries {
		switch e.Outcome {
		case report.OutcomePublished:
			_, _ = fmt.Fprintln(w, SuccessStyle.Render("✓ ")+e.Version)
		case report.OutcomePending:
			_, _ = fmt.Fprintln(w, WarningStyle.Render("• ")+e.Version+SubtitleStyle.Render(" (not published, dry run)"))
		case report.OutcomeFailed:
			_, _ = fmt.Fprintln(w, ErrorStyle.Render("✗ ")+e.Version+SubtitleStyle.Render(" "+e.Reason))
		case report.OutcomeSkipped:
			// Skips are the common case and stay in the log.
		}
	}
	_, _ = fmt.Fprintf(w, "%s published %d, skipped %d, pending %d of %d catalog versions\n",
		TitleStyle.Render("unitydeps:"),
		rep.Count(report.OutcomePublished),
		rep.Count(report.OutcomeSkipped),
		rep.Count(report.OutcomePending),
		rep.CatalogSize)
}
