// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"bytes"
	"compress/bzip2"
	"context"
	"encoding/binary"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/klauspost/compress/zlib"
)

const (
	xarMagic = 0x78617221 // "xar!"

	// xarHeaderMinSize is the size of the fixed part of a xar header.
	xarHeaderMinSize = 28

	// maxXarTOCBytes bounds the decompressed table of contents (64 MiB).
	maxXarTOCBytes = 64 << 20
)

// ErrCorruptXar is returned when the xar header or table of contents is malformed.
var ErrCorruptXar = errors.New("corrupt xar archive")

type (
	xarHeader struct {
		Magic            uint32
		HeaderSize       uint16
		Version          uint16
		TOCCompressed    uint64
		TOCUncompressed  uint64
		ChecksumAlgoCode uint32
	}

	xarTOC struct {
		Files []xarFile `xml:"toc>file"`
	}

	xarFile struct {
		Name  string    `xml:"name"`
		Type  string    `xml:"type"`
		Data  *xarData  `xml:"data"`
		Files []xarFile `xml:"file"`
	}

	xarData struct {
		Length   int64       `xml:"length"`
		Offset   int64       `xml:"offset"`
		Size     int64       `xml:"size"`
		Encoding xarEncoding `xml:"encoding"`
	}

	xarEncoding struct {
		Style string `xml:"style,attr"`
	}
)

// extractXar reads the xar table of contents and streams every selected file
// out of the heap.
func extractXar(ctx context.Context, r io.ReaderAt, size int64, m *matcher, w *memberWriter) ([]string, error) {
	var hdr xarHeader
	if err := binary.Read(io.NewSectionReader(r, 0, xarHeaderMinSize), binary.BigEndian, &hdr); err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrCorruptXar, err)
	}
	if hdr.Magic != xarMagic || hdr.HeaderSize < xarHeaderMinSize {
		return nil, fmt.Errorf("%w: bad header", ErrCorruptXar)
	}

	tocStart := int64(hdr.HeaderSize)
	heapStart := tocStart + int64(hdr.TOCCompressed)
	if hdr.TOCCompressed == 0 || heapStart > size || hdr.TOCUncompressed > maxXarTOCBytes {
		return nil, fmt.Errorf("%w: table of contents out of range", ErrCorruptXar)
	}

	zr, err := zlib.NewReader(io.NewSectionReader(r, tocStart, int64(hdr.TOCCompressed)))
	if err != nil {
		return nil, fmt.Errorf("%w: table of contents: %v", ErrCorruptXar, err)
	}
	defer func() { _ = zr.Close() }() // read-only decompressor

	var toc xarTOC
	if err := xml.NewDecoder(io.LimitReader(zr, maxXarTOCBytes)).Decode(&toc); err != nil {
		return nil, fmt.Errorf("%w: decoding table of contents: %v", ErrCorruptXar, err)
	}

	var paths []string
	var walk func(parent string, files []xarFile) error
	walk = func(parent string, files []xarFile) error {
		for i := range files {
			if err := ctx.Err(); err != nil {
				return err
			}
			f := &files[i]
			name, nameErr := normalizeName(path.Join(parent, f.Name))
			if nameErr != nil {
				return nameErr
			}
			if name == "" {
				continue
			}

			switch f.Type {
			case "directory":
				if m.match(name) {
					if err := w.mkdir(name); err != nil {
						return err
					}
				}
				if err := walk(name, f.Files); err != nil {
					return err
				}
			case "file":
				if !m.match(name) {
					continue
				}
				p, fileErr := writeXarFile(r, heapStart, size, name, f.Data, w)
				if fileErr != nil {
					return fileErr
				}
				paths = append(paths, p)
			default:
				// Symlinks, hardlinks and device nodes are not needed downstream.
				continue
			}
		}
		return nil
	}

	if err := walk("", toc.Files); err != nil {
		return nil, err
	}
	return paths, nil
}

func writeXarFile(r io.ReaderAt, heapStart, size int64, name string, d *xarData, w *memberWriter) (string, error) {
	if d == nil {
		// Empty files carry no data element.
		return w.file(name, bytes.NewReader(nil), 0o644)
	}
	start := heapStart + d.Offset
	if d.Offset < 0 || d.Length < 0 || start+d.Length > size {
		return "", fmt.Errorf("%w: %s data out of range", ErrCorruptXar, name)
	}
	raw := io.NewSectionReader(r, start, d.Length)

	var body io.Reader
	switch d.Encoding.Style {
	case "", "application/octet-stream":
		body = raw
	case "application/x-gzip":
		// xar labels zlib streams as gzip.
		zr, err := zlib.NewReader(raw)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrCorruptXar, name, err)
		}
		defer func() { _ = zr.Close() }() // read-only decompressor
		body = zr
	case "application/x-bzip2":
		body = bzip2.NewReader(raw)
	default:
		return "", fmt.Errorf("%w: %s uses encoding %q", ErrUnsupportedFormat, name, d.Encoding.Style)
	}

	return w.file(name, body, 0o644)
}
