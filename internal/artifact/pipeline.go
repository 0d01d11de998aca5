// SPDX-License-Identifier: MPL-2.0

package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/melonloader/unitydeps/internal/archive"
	"github.com/melonloader/unitydeps/internal/catalog"
)

const (
	// DefaultURLTemplate is the Android support installer location. {id} is the
	// catalog build id and {version} the version short name.
	DefaultURLTemplate = "https://download.unity3d.com/download_unity/{id}/MacEditorTargetInstaller/UnitySetup-Android-Support-for-Editor-{version}.pkg"

	// DefaultUserAgent is the User-Agent the Unity CDN expects.
	DefaultUserAgent = "Unity web player"

	// DefaultMaxRetries bounds download retries after the first attempt.
	DefaultMaxRetries = 3

	// InstallerFile is the name of the downloaded installer inside the work dir.
	InstallerFile = "mono.pkg"

	// ManagedDir holds the managed assemblies after extraction.
	ManagedDir = "Variations/il2cpp/Managed"

	// LibsDir holds one directory per architecture after extraction.
	LibsDir = "Variations/il2cpp/Release/Libs"

	// NativeLibName is the native engine library looked up per architecture.
	NativeLibName = "libunity.so"

	// BundleName is the release asset holding the managed assemblies.
	BundleName = "Managed.zip"

	defaultRetryInterval = 2 * time.Second
)

type (
	// Step is one layer of the extraction chain.
	Step struct {
		// Name identifies the step in logs and errors.
		Name string
		// Source is relative to the work dir. Empty means the single file
		// produced by the previous step.
		Source string
		// Filters restrict the members extracted; empty extracts everything.
		Filters []string
		// RecursiveDelete lets the extractor remove the source tree. Otherwise
		// the consumed source file is removed by the pipeline.
		RecursiveDelete bool
		// RequireOutput makes an empty extraction fatal.
		RequireOutput bool
	}

	// Artifacts are the files recovered for one version.
	Artifacts struct {
		// Managed lists the bundled assembly paths.
		Managed []string
		// Bundle is the in-memory Managed.zip.
		Bundle *bytes.Buffer
		// NativeLibs are sorted by architecture.
		NativeLibs []NativeLib
		// Installer is the digest of the downloaded installer.
		Installer Digest
		// Assets holds one digest per release asset, in upload order.
		Assets []Digest
	}

	// Pipeline downloads and unwraps the Android support installer of a version.
	Pipeline struct {
		httpClient    *http.Client
		extractor     *archive.Extractor
		urlTemplate   string
		userAgent     string
		steps         []Step
		maxRetries    uint64
		retryInterval time.Duration
		logger        *log.Logger
	}

	// Option configures a Pipeline during construction.
	Option func(*Pipeline)
)

// DefaultSteps returns the installer chain: the xar package down to its
// Payload member, the gzip payload down to its cpio archive, then the cpio
// archive filtered to managed assemblies and native libraries.
func DefaultSteps() []Step {
	return []Step{
		{
			Name:          "installer",
			Source:        InstallerFile,
			Filters:       []string{"TargetSupport.pkg.tmp/Payload"},
			RequireOutput: true,
		},
		{
			Name:          "payload",
			RequireOutput: true,
		},
		{
			Name:            "payload-contents",
			Filters:         []string{"./" + ManagedDir + "/*", "./" + LibsDir + "/*"},
			RecursiveDelete: true,
		},
	}
}

// WithHTTPClient sets the HTTP client used for downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Pipeline) {
		p.httpClient = c
	}
}

// WithExtractor sets the archive extractor.
func WithExtractor(e *archive.Extractor) Option {
	return func(p *Pipeline) {
		p.extractor = e
	}
}

// WithURLTemplate overrides the installer URL template.
func WithURLTemplate(tmpl string) Option {
	return func(p *Pipeline) {
		p.urlTemplate = tmpl
	}
}

// WithUserAgent sets the User-Agent header sent with downloads.
func WithUserAgent(ua string) Option {
	return func(p *Pipeline) {
		p.userAgent = ua
	}
}

// WithSteps replaces the extraction chain.
func WithSteps(steps []Step) Option {
	return func(p *Pipeline) {
		p.steps = steps
	}
}

// WithRetry sets how many times a failed download is retried and the first
// backoff interval.
func WithRetry(maxRetries uint64, initial time.Duration) Option {
	return func(p *Pipeline) {
		p.maxRetries = maxRetries
		if initial > 0 {
			p.retryInterval = initial
		}
	}
}

// WithLogger sets the logger used for progress messages.
func WithLogger(l *log.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// New creates a Pipeline with the default URL template, User-Agent and steps.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		httpClient:    http.DefaultClient,
		urlTemplate:   DefaultURLTemplate,
		userAgent:     DefaultUserAgent,
		steps:         DefaultSteps(),
		maxRetries:    DefaultMaxRetries,
		retryInterval: defaultRetryInterval,
		logger:        log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.extractor == nil {
		p.extractor = archive.New(archive.WithLogger(p.logger))
	}
	return p
}

// Supported reports whether v is new enough to ship the Android support
// bundle (5.3 and later).
func Supported(v catalog.Version) bool {
	return v.Major > 5 || (v.Major == 5 && v.Minor >= 3)
}

// DownloadURL expands the URL template for v.
func (p *Pipeline) DownloadURL(v catalog.Version) string {
	return strings.NewReplacer("{id}", v.ID, "{version}", v.ShortName()).Replace(p.urlTemplate)
}

// Process downloads the installer for v into workDir, unwraps it and returns
// the bundled assemblies and native libraries.
//
// Errors are *StageError values. Unsupported versions and missing downloads
// are KindSkip; transport failures, extraction failures and unexpected
// layouts are KindFatal.
func (p *Pipeline) Process(ctx context.Context, v catalog.Version, workDir string) (*Artifacts, error) {
	if !Supported(v) {
		return nil, skip("threshold", fmt.Errorf("%w: %s", ErrBelowThreshold, v))
	}

	u := p.DownloadURL(v)
	p.logger.Info("Downloading the Android bundle", "version", v, "url", redactURL(u))

	installer, err := p.download(ctx, u, filepath.Join(workDir, InstallerFile))
	if err != nil {
		if statusErr, ok := asStatusError(err); ok {
			return nil, skip("download", fmt.Errorf("%w: %w", ErrNotAvailable, statusErr))
		}
		return nil, fatal("download", err)
	}

	if err := p.runSteps(ctx, workDir); err != nil {
		return nil, err
	}

	p.logger.Info("Bundling "+BundleName, "version", v)
	bundle, managed, err := bundleManaged(filepath.Join(workDir, filepath.FromSlash(ManagedDir)))
	if err != nil {
		return nil, fatal("bundle", fmt.Errorf("%w: %w", ErrLayoutChanged, err))
	}
	if len(managed) == 0 {
		return nil, fatal("bundle", fmt.Errorf("%w: no managed assemblies in %s", ErrLayoutChanged, ManagedDir))
	}

	libs, err := collectNativeLibs(filepath.Join(workDir, filepath.FromSlash(LibsDir)))
	if err != nil {
		return nil, fatal("native-libs", err)
	}

	a := &Artifacts{
		Managed:    managed,
		Bundle:     bundle,
		NativeLibs: libs,
		Installer:  installer,
		Assets:     []Digest{BytesDigest(BundleName, bundle.Bytes())},
	}
	for _, lib := range libs {
		d, err := FileDigest(lib.AssetName(), lib.Path)
		if err != nil {
			return nil, fatal("native-libs", err)
		}
		a.Assets = append(a.Assets, d)
	}
	return a, nil
}

// runSteps drives the extraction chain inside workDir. Every consumed
// container is removed right after its step.
func (p *Pipeline) runSteps(ctx context.Context, workDir string) error {
	var produced []string
	for _, step := range p.steps {
		source := filepath.Join(workDir, filepath.FromSlash(step.Source))
		if step.Source == "" {
			if len(produced) != 1 {
				return fatal(step.Name, fmt.Errorf("%w: expected a single input, previous step produced %d files",
					ErrLayoutChanged, len(produced)))
			}
			source = produced[0]
		}

		p.logger.Info("Extracting", "step", step.Name, "source", filepath.Base(source))
		paths, err := p.extractor.Extract(ctx, archive.Request{
			Source:          source,
			Destination:     workDir,
			RecursiveDelete: step.RecursiveDelete,
			Filters:         step.Filters,
		})
		if err != nil {
			return fatal(step.Name, err)
		}

		if !step.RecursiveDelete {
			if err := os.Remove(source); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fatal(step.Name, fmt.Errorf("removing consumed container: %w", err))
			}
		}

		if step.RequireOutput && len(paths) == 0 {
			return fatal(step.Name, fmt.Errorf("%w: nothing extracted from %s", ErrLayoutChanged, filepath.Base(source)))
		}
		produced = paths
	}
	return nil
}
