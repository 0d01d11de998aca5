// SPDX-License-Identifier: MPL-2.0

package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/melonloader/unitydeps/internal/artifact"
	"github.com/melonloader/unitydeps/internal/catalog"
	"github.com/melonloader/unitydeps/internal/lock"
	"github.com/melonloader/unitydeps/internal/metrics"
	"github.com/melonloader/unitydeps/internal/publish"
	"github.com/melonloader/unitydeps/internal/report"
)

type (
	// Catalog lists the Unity versions to consider.
	Catalog interface {
		Fetch(ctx context.Context, families []int) ([]catalog.Version, error)
	}

	// TagLister reports the tags already present in the target repository.
	TagLister interface {
		ListReleaseTags(ctx context.Context) ([]string, error)
		ListTags(ctx context.Context) ([]string, error)
	}

	// Processor turns a version into release artifacts inside workDir.
	Processor interface {
		Process(ctx context.Context, v catalog.Version, workDir string) (*artifact.Artifacts, error)
	}

	// Publisher creates the tagged release for a version.
	Publisher interface {
		Publish(ctx context.Context, v catalog.Version, a *artifact.Artifacts) (*publish.Progress, error)
	}

	// Generator publishes one release per missing Unity version.
	Generator struct {
		catalog    Catalog
		tags       TagLister
		pipeline   Processor
		publisher  Publisher
		repository string
		families   []int
		workRoot   string
		dryRun     bool
		locker     lock.Locker
		recorder   metrics.Recorder
		logger     *log.Logger
		now        func() time.Time
	}

	// Option configures a Generator during construction.
	Option func(*Generator)
)

// WithRepository sets the "owner/repo" name used for lock keys and the report.
func WithRepository(repo string) Option {
	return func(g *Generator) {
		g.repository = repo
	}
}

// WithFamilies overrides the catalog families to walk.
func WithFamilies(families []int) Option {
	return func(g *Generator) {
		if len(families) > 0 {
			g.families = families
		}
	}
}

// WithWorkRoot sets the directory under which per-version work dirs are
// created. Empty uses the system temp dir.
func WithWorkRoot(dir string) Option {
	return func(g *Generator) {
		g.workRoot = dir
	}
}

// WithDryRun only reports the versions that would be published.
func WithDryRun(dryRun bool) Option {
	return func(g *Generator) {
		g.dryRun = dryRun
	}
}

// WithLocker sets the lock used to keep concurrent runs off the same version.
func WithLocker(l lock.Locker) Option {
	return func(g *Generator) {
		if l != nil {
			g.locker = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(g *Generator) {
		if r != nil {
			g.recorder = r
		}
	}
}

// WithLogger sets the logger used for progress messages.
func WithLogger(l *log.Logger) Option {
	return func(g *Generator) {
		g.logger = l
	}
}

// WithClock overrides the time source of the report.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

// New creates a Generator over the given collaborators.
func New(cat Catalog, tags TagLister, pipeline Processor, publisher Publisher, opts ...Option) *Generator {
	g := &Generator{
		catalog:   cat,
		tags:      tags,
		pipeline:  pipeline,
		publisher: publisher,
		families:  catalog.DefaultFamilies,
		locker:    lock.Noop{},
		recorder:  metrics.Noop{},
		logger:    log.New(io.Discard),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run walks the catalog and publishes every version that has no tag yet.
//
// Skipped versions are recorded and the run continues. The first fatal
// outcome stops the run; the returned report is always non-nil and holds the
// entries handled so far.
func (g *Generator) Run(ctx context.Context) (*report.Report, error) {
	rep := report.New(g.repository, g.now())
	rep.DryRun = g.dryRun
	defer func() { rep.Finish(g.now()) }()

	if g.workRoot != "" {
		if err := os.MkdirAll(g.workRoot, 0o755); err != nil {
			return rep, fmt.Errorf("creating work root: %w", err)
		}
	}

	versions, err := g.catalog.Fetch(ctx, g.families)
	if err != nil {
		return rep, fmt.Errorf("fetching catalog: %w", err)
	}
	rep.CatalogSize = len(versions)
	g.logger.Info("Fetched Unity release catalog", "versions", len(versions), "families", len(g.families))

	published, err := g.publishedTags(ctx)
	if err != nil {
		return rep, err
	}

	for _, v := range versions {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		g.recorder.VersionDiscovered()

		entry, err := g.handle(ctx, v, published)
		rep.Add(entry)
		if err != nil {
			return rep, fmt.Errorf("%s: %w", v.ShortName(), err)
		}
		if entry.Outcome == report.OutcomePublished {
			published[v.ShortName()] = struct{}{}
		}
	}

	g.logger.Info("Run finished",
		"published", rep.Count(report.OutcomePublished),
		"skipped", rep.Count(report.OutcomeSkipped),
		"pending", rep.Count(report.OutcomePending))
	return rep, nil
}

// publishedTags returns the union of release tags (drafts included) and git
// tags.
func (g *Generator) publishedTags(ctx context.Context) (map[string]struct{}, error) {
	releases, err := g.tags.ListReleaseTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing published releases: %w", err)
	}
	tags, err := g.tags.ListTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing published tags: %w", err)
	}

	set := make(map[string]struct{}, len(releases)+len(tags))
	for _, t := range releases {
		set[t] = struct{}{}
	}
	for _, t := range tags {
		set[t] = struct{}{}
	}
	return set, nil
}

// handle runs one version. A non-nil error is fatal for the whole run.
func (g *Generator) handle(ctx context.Context, v catalog.Version, published map[string]struct{}) (report.Entry, error) {
	name := v.ShortName()
	entry := report.Entry{Version: name}

	if _, ok := published[name]; ok {
		g.logger.Debug("Already published", "version", name)
		return g.skipped(entry, metrics.ReasonPublished, "already published"), nil
	}
	if !artifact.Supported(v) {
		g.logger.Debug("Version predates the Android bundle", "version", name)
		return g.skipped(entry, metrics.ReasonBelow, artifact.ErrBelowThreshold.Error()), nil
	}

	if g.dryRun {
		g.logger.Info("Would publish", "version", name)
		g.recorder.VersionSkipped(metrics.ReasonDryRun)
		entry.Outcome = report.OutcomePending
		entry.Reason = "dry run"
		return entry, nil
	}

	release, ok, err := g.locker.Acquire(ctx, lock.Key(g.repository, name))
	if err != nil {
		return g.failed(entry, fmt.Errorf("acquiring lock: %w", err))
	}
	if !ok {
		g.logger.Info("Another run holds this version. Skipping...", "version", name)
		return g.skipped(entry, metrics.ReasonLocked, "locked by another run"), nil
	}
	defer release()

	workDir, err := os.MkdirTemp(g.workRoot, "unitydeps-"+name+"-")
	if err != nil {
		return g.failed(entry, fmt.Errorf("creating work dir: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			g.logger.Warn("Failed to remove work dir", "dir", workDir, "error", err)
		}
	}()

	g.logger.Info("Processing", "version", name)
	a, err := g.pipeline.Process(ctx, v, workDir)
	if err != nil {
		if artifact.IsSkip(err) {
			reason := metrics.ReasonBelow
			if errors.Is(err, artifact.ErrNotAvailable) {
				reason = metrics.ReasonNotFound
				g.logger.Info("No bundle found. Skipping...", "version", name)
			}
			return g.skipped(entry, reason, err.Error()), nil
		}
		return g.failed(entry, err)
	}
	g.recorder.DownloadBytes(a.Installer.Size)

	progress, err := g.publisher.Publish(ctx, v, a)
	if progress != nil {
		for range progress.Uploaded {
			g.recorder.AssetUploaded()
		}
	}
	if err != nil {
		if errors.Is(err, publish.ErrReferenceExists) {
			g.logger.Warn("Tag was created concurrently. Skipping...", "version", name)
			return g.skipped(entry, metrics.ReasonTagConflict, "tag already exists"), nil
		}
		return g.failed(entry, err)
	}

	g.recorder.ReleasePublished()
	entry.Outcome = report.OutcomePublished
	if progress != nil && progress.Release != nil {
		entry.URL = progress.Release.HTMLURL
	}
	for _, d := range a.Assets {
		entry.Assets = append(entry.Assets, report.Asset{Name: d.Name, SHA256: d.SHA256, Size: d.Size})
	}
	return entry, nil
}

func (g *Generator) skipped(e report.Entry, metric, reason string) report.Entry {
	g.recorder.VersionSkipped(metric)
	e.Outcome = report.OutcomeSkipped
	e.Reason = reason
	return e
}

func (g *Generator) failed(e report.Entry, err error) (report.Entry, error) {
	g.logger.Error("Version failed", "version", e.Version, "error", err)
	e.Outcome = report.OutcomeFailed
	e.Reason = err.Error()
	return e, err
}
