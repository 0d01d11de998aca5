// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
)

// DefaultMaxMemberBytes bounds a single extracted member (4 GiB). The Android
// support payload is well below 1 GiB; anything larger is a decompression bomb
// or a format change.
const DefaultMaxMemberBytes = 4 << 30

const (
	formatUnknown format = iota
	formatXar
	formatGzip
	formatCPIOOdc
	formatCPIONewc
)

var (
	// ErrUnsupportedFormat is returned when the source magic bytes match none of
	// the known container formats.
	ErrUnsupportedFormat = errors.New("unsupported archive format")

	// ErrMemberTooLarge is returned when a member exceeds the configured size bound.
	ErrMemberTooLarge = errors.New("archive member exceeds size limit")
)

type (
	format int

	// Request describes a single unwrap of one archive layer.
	Request struct {
		// Source is the archive file to read.
		Source string
		// Destination is the directory members are written into. It is created
		// when missing.
		Destination string
		// RecursiveDelete removes Source (file or directory tree) after a
		// successful extraction.
		RecursiveDelete bool
		// Filters are doublestar globs matched against member names with any
		// leading "./" removed. An empty set extracts every member.
		Filters []string
	}

	// Extractor unwraps archive layers. It holds no per-request state and can be
	// reused across requests.
	Extractor struct {
		logger         *log.Logger
		maxMemberBytes int64
	}

	// Option configures an Extractor during construction.
	Option func(*Extractor)
)

// String returns the human-readable format name.
func (f format) String() string {
	switch f {
	case formatXar:
		return "xar"
	case formatGzip:
		return "gzip"
	case formatCPIOOdc:
		return "cpio-odc"
	case formatCPIONewc:
		return "cpio-newc"
	case formatUnknown:
		return "unknown"
	}
	return "unknown"
}

// WithLogger sets the logger used for per-layer progress messages.
func WithLogger(l *log.Logger) Option {
	return func(e *Extractor) {
		e.logger = l
	}
}

// WithMaxMemberBytes overrides the upper bound on a single extracted member.
func WithMaxMemberBytes(n int64) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxMemberBytes = n
		}
	}
}

// New creates an Extractor.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		logger:         log.New(io.Discard),
		maxMemberBytes: DefaultMaxMemberBytes,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract unwraps req.Source into req.Destination and returns the paths of the
// regular files written, in archive order.
//
// A missing source is not an error: Extract returns no paths and the caller
// sees an empty destination. Corrupt or unrecognized containers are errors.
func (e *Extractor) Extract(ctx context.Context, req Request) ([]string, error) {
	m, err := newMatcher(req.Filters)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(req.Source)
	if errors.Is(err, fs.ErrNotExist) {
		e.logger.Debug("archive source missing", "source", req.Source)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}

	paths, err := e.extractFile(ctx, f, req, m)
	// Read-only handle; must be closed before the source can be removed.
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("extracting %s: %w", filepath.Base(req.Source), err)
	}

	if req.RecursiveDelete {
		if err := os.RemoveAll(req.Source); err != nil {
			return nil, fmt.Errorf("removing %s: %w", req.Source, err)
		}
	}

	return paths, nil
}

func (e *Extractor) extractFile(ctx context.Context, f *os.File, req Request, m *matcher) ([]string, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrUnsupportedFormat, req.Source)
	}

	kind, err := sniff(f)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(req.Destination, 0o755); err != nil {
		return nil, fmt.Errorf("creating destination: %w", err)
	}

	e.logger.Debug("extracting archive", "source", req.Source, "format", kind, "filters", len(m.patterns))

	w := &memberWriter{dest: req.Destination, limit: e.maxMemberBytes}
	switch kind {
	case formatXar:
		return extractXar(ctx, f, info.Size(), m, w)
	case formatGzip:
		return extractGzip(ctx, f, filepath.Base(req.Source), m, w)
	case formatCPIOOdc, formatCPIONewc:
		return extractCPIO(ctx, f, kind, m, w)
	case formatUnknown:
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Source)
}

// sniff identifies the container format from the first bytes of r.
func sniff(r io.ReaderAt) (format, error) {
	var magic [6]byte
	n, err := r.ReadAt(magic[:], 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return formatUnknown, fmt.Errorf("reading magic: %w", err)
	}
	head := magic[:n]

	switch {
	case bytes.HasPrefix(head, []byte("xar!")):
		return formatXar, nil
	case bytes.HasPrefix(head, []byte{0x1f, 0x8b}):
		return formatGzip, nil
	case bytes.Equal(head, []byte("070707")):
		return formatCPIOOdc, nil
	case bytes.Equal(head, []byte("070701")), bytes.Equal(head, []byte("070702")):
		return formatCPIONewc, nil
	}
	return formatUnknown, ErrUnsupportedFormat
}

// memberWriter materializes archive members below dest.
type memberWriter struct {
	dest  string
	limit int64
}

// target resolves a normalized member name to a path inside dest.
func (w *memberWriter) target(name string) (string, error) {
	p := filepath.Join(w.dest, filepath.FromSlash(name))
	rel, err := filepath.Rel(w.dest, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return p, nil
}

func (w *memberWriter) mkdir(name string) error {
	p, err := w.target(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(p, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", name, err)
	}
	return nil
}

// file writes r to the member path and returns it.
func (w *memberWriter) file(name string, r io.Reader, perm fs.FileMode) (_ string, err error) {
	p, err := w.target(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("creating parent of %s: %w", name, err)
	}

	perm = perm.Perm() | 0o600
	out, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", name, err)
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	n, err := io.Copy(out, io.LimitReader(r, w.limit+1))
	if err != nil {
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	if n > w.limit {
		return "", fmt.Errorf("%w: %s", ErrMemberTooLarge, name)
	}
	return p, nil
}
