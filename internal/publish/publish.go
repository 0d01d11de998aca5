// SPDX-License-Identifier: MPL-2.0

package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"

	"github.com/melonloader/unitydeps/internal/artifact"
	"github.com/melonloader/unitydeps/internal/catalog"
)

// ReleaseBody is the fixed description of every generated release.
const ReleaseBody = "Automatically generated and uploaded by the MelonLoader.UnityDependencies Generator"

const (
	// ContentTypeZip is the media type of Managed.zip.
	ContentTypeZip = "application/zip"
	// ContentTypeNativeLib is the media type of libunity.so assets.
	ContentTypeNativeLib = "application/x-msdownload"
)

// Publish states, in the only order they can be reached.
const (
	StateNotStarted State = iota
	StateTagCreated
	StateDraftCreated
	StateAssetsUploading
	StatePublished
)

// ErrReferenceExists is returned by ReleaseService.CreateTag when the tag
// already exists, which means another run got there first.
var ErrReferenceExists = errors.New("reference already exists")

type (
	// State is how far a publish got. It only moves forward.
	State int

	// Draft describes a release to create.
	Draft struct {
		Tag    string
		Name   string
		Body   string
		Draft  bool
		Assets []Asset
	}

	// Asset is one file attached to a release. Size must be the exact body length.
	Asset struct {
		Name        string
		ContentType string
		Size        int64
		Body        io.Reader
	}

	// Release is a created release as reported by the hosting service.
	Release struct {
		ID      int64
		Tag     string
		HTMLURL string
		Draft   bool
	}

	// ReleaseService is the subset of the hosting API the coordinator needs.
	ReleaseService interface {
		BranchHead(ctx context.Context, branch string) (string, error)
		CreateTag(ctx context.Context, tag, sha string) error
		CreateRelease(ctx context.Context, d Draft) (*Release, error)
		UploadAsset(ctx context.Context, r *Release, a Asset) error
		PublishRelease(ctx context.Context, r *Release) error
	}

	// Progress records the state a publish reached. It is returned even when
	// Publish fails so callers can report orphaned drafts.
	Progress struct {
		State    State
		Release  *Release
		Uploaded []string
	}

	// Coordinator publishes one version at a time.
	Coordinator struct {
		service ReleaseService
		branch  string
		logger  *log.Logger
	}

	// Option configures a Coordinator during construction.
	Option func(*Coordinator)

	// Error wraps a failed publish step.
	Error struct {
		Tag   string
		State State
		Err   error
	}
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateTagCreated:
		return "tag-created"
	case StateDraftCreated:
		return "draft-created"
	case StateAssetsUploading:
		return "assets-uploading"
	case StatePublished:
		return "published"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Error names the tag and the last state reached.
func (e *Error) Error() string {
	return fmt.Sprintf("publishing %s (reached %s): %v", e.Tag, e.State, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// WithLogger sets the logger used for progress messages.
func WithLogger(l *log.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// NewCoordinator creates a Coordinator that tags the tip of branch.
func NewCoordinator(service ReleaseService, branch string, opts ...Option) *Coordinator {
	c := &Coordinator{
		service: service,
		branch:  branch,
		logger:  log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewDraft builds the release draft for v: Managed.zip first, then one
// libunity.so.{arch} per architecture in a.NativeLibs order. Native library
// bodies are opened lazily by Publish.
func NewDraft(v catalog.Version, a *artifact.Artifacts) Draft {
	d := Draft{
		Tag:   v.ShortName(),
		Name:  v.ShortName(),
		Body:  ReleaseBody,
		Draft: true,
		Assets: []Asset{{
			Name:        artifact.BundleName,
			ContentType: ContentTypeZip,
			Size:        int64(a.Bundle.Len()),
			Body:        bytes.NewReader(a.Bundle.Bytes()),
		}},
	}
	for _, lib := range a.NativeLibs {
		d.Assets = append(d.Assets, Asset{
			Name:        lib.AssetName(),
			ContentType: ContentTypeNativeLib,
			Body:        &lazyFile{path: lib.Path},
		})
	}
	return d
}

// Publish runs tag, draft, uploads and undraft for v. There are no retries
// and nothing is rolled back: a failure after the draft exists leaves the
// draft (with whatever assets were uploaded) in place.
//
// A tag that already exists is reported as an *Error wrapping
// ErrReferenceExists with State StateNotStarted.
func (c *Coordinator) Publish(ctx context.Context, v catalog.Version, a *artifact.Artifacts) (*Progress, error) {
	d := NewDraft(v, a)
	p := &Progress{State: StateNotStarted}
	defer closeAssets(d.Assets)

	fail := func(err error) (*Progress, error) {
		return p, &Error{Tag: d.Tag, State: p.State, Err: err}
	}

	c.logger.Info("Creating a new repo tag", "tag", d.Tag, "branch", c.branch)
	sha, err := c.service.BranchHead(ctx, c.branch)
	if err != nil {
		return fail(fmt.Errorf("resolving branch %s: %w", c.branch, err))
	}
	if err := c.service.CreateTag(ctx, d.Tag, sha); err != nil {
		return fail(fmt.Errorf("creating tag: %w", err))
	}
	p.State = StateTagCreated

	c.logger.Info("Creating a new repo draft release", "tag", d.Tag)
	rel, err := c.service.CreateRelease(ctx, d)
	if err != nil {
		return fail(fmt.Errorf("creating draft release: %w", err))
	}
	p.Release = rel
	p.State = StateDraftCreated

	for _, asset := range d.Assets {
		p.State = StateAssetsUploading
		c.logger.Info("Uploading "+asset.Name, "tag", d.Tag)
		if lf, ok := asset.Body.(*lazyFile); ok {
			size, err := lf.open()
			if err != nil {
				return fail(fmt.Errorf("opening %s: %w", asset.Name, err))
			}
			asset.Size = size
		}
		if err := c.service.UploadAsset(ctx, rel, asset); err != nil {
			return fail(fmt.Errorf("uploading %s: %w", asset.Name, err))
		}
		p.Uploaded = append(p.Uploaded, asset.Name)
	}

	if err := c.service.PublishRelease(ctx, rel); err != nil {
		return fail(fmt.Errorf("publishing release: %w", err))
	}
	p.State = StatePublished
	c.logger.Info("Done.", "tag", d.Tag)
	return p, nil
}

// lazyFile defers opening a native library until its upload starts.
type lazyFile struct {
	path string
	f    *os.File
}

func (l *lazyFile) open() (int64, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return 0, err
	}
	l.f = f
	return info.Size(), nil
}

func (l *lazyFile) Read(p []byte) (int, error) {
	if l.f == nil {
		return 0, os.ErrClosed
	}
	return l.f.Read(p)
}

func (l *lazyFile) close() {
	if l.f != nil {
		_ = l.f.Close() // read-only file handle
		l.f = nil
	}
}

func closeAssets(assets []Asset) {
	for _, a := range assets {
		if lf, ok := a.Body.(*lazyFile); ok {
			lf.close()
		}
	}
}
