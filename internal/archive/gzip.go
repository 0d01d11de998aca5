// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/klauspost/compress/gzip"
)

// extractGzip decompresses a gzip stream into a single member. The member is
// named after the gzip header when it carries a name, otherwise after the
// source with a "~" suffix (Payload becomes Payload~). The suffix is also used
// when the header name equals the source name so the source is never clobbered.
func extractGzip(ctx context.Context, r io.Reader, sourceName string, m *matcher, w *memberWriter) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening gzip stream: %w", err)
	}
	defer func() { _ = zr.Close() }() // read-only decompressor

	name := sourceName + "~"
	if base := path.Base(zr.Name); zr.Name != "" && base != sourceName {
		name = base
	}
	name, err = normalizeName(name)
	if err != nil {
		return nil, err
	}
	if name == "" || !m.match(name) {
		return nil, nil
	}

	p, err := w.file(name, zr, 0o644)
	if err != nil {
		return nil, err
	}
	return []string{p}, nil
}
