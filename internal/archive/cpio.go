// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"

	"github.com/cavaliergopher/cpio"
)

const (
	// odcHeaderSize is the fixed size of a portable ASCII (odc) cpio header.
	odcHeaderSize = 76

	// maxCPIONameSize bounds member names so a corrupt header cannot force a
	// huge allocation.
	maxCPIONameSize = 4096

	cpioTrailer = "TRAILER!!!"

	modeTypeMask = 0o170000
	modeDir      = 0o040000
	modeRegular  = 0o100000
)

// ErrCorruptCPIO is returned when a cpio header cannot be parsed.
var ErrCorruptCPIO = errors.New("corrupt cpio archive")

type (
	cpioEntry struct {
		name string
		mode uint32
		size int64
	}

	// cpioStream iterates cpio members; Read returns the body of the current one.
	cpioStream interface {
		io.Reader
		next() (*cpioEntry, error)
	}

	// odcReader reads the portable ASCII format written by pax and mkbom, which
	// is what macOS installer payloads use.
	odcReader struct {
		r         *bufio.Reader
		remaining int64
	}

	// newcReader adapts the SVR4 reader from github.com/cavaliergopher/cpio.
	newcReader struct {
		r *cpio.Reader
	}
)

// extractCPIO streams every selected regular file of a cpio archive.
// Symlinks and device nodes are skipped.
func extractCPIO(ctx context.Context, r io.Reader, kind format, m *matcher, w *memberWriter) ([]string, error) {
	var stream cpioStream
	if kind == formatCPIONewc {
		stream = &newcReader{r: cpio.NewReader(r)}
	} else {
		stream = &odcReader{r: bufio.NewReaderSize(r, 64<<10)}
	}

	var paths []string
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entry, err := stream.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		name, err := normalizeName(entry.name)
		if err != nil {
			return nil, err
		}
		if name == "" || !m.match(name) {
			continue
		}

		switch entry.mode & modeTypeMask {
		case modeDir:
			if err := w.mkdir(name); err != nil {
				return nil, err
			}
		case modeRegular:
			p, err := w.file(name, io.LimitReader(stream, entry.size), fs.FileMode(entry.mode&0o777))
			if err != nil {
				return nil, err
			}
			paths = append(paths, p)
		}
	}
	return paths, nil
}

func (o *odcReader) next() (*cpioEntry, error) {
	if o.remaining > 0 {
		if _, err := io.CopyN(io.Discard, o.r, o.remaining); err != nil {
			return nil, fmt.Errorf("%w: skipping member body: %v", ErrCorruptCPIO, err)
		}
		o.remaining = 0
	}

	var hdr [odcHeaderSize]byte
	if _, err := io.ReadFull(o.r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			// Archives without a trailer end cleanly at a header boundary.
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: reading header: %v", ErrCorruptCPIO, err)
	}
	if string(hdr[0:6]) != "070707" {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorruptCPIO, hdr[0:6])
	}

	mode, err := parseOctal(hdr[18:24])
	if err != nil {
		return nil, err
	}
	nameSize, err := parseOctal(hdr[59:65])
	if err != nil {
		return nil, err
	}
	size, err := parseOctal(hdr[65:76])
	if err != nil {
		return nil, err
	}
	if nameSize == 0 || nameSize > maxCPIONameSize {
		return nil, fmt.Errorf("%w: name size %d", ErrCorruptCPIO, nameSize)
	}

	nameBuf := make([]byte, nameSize)
	if _, err := io.ReadFull(o.r, nameBuf); err != nil {
		return nil, fmt.Errorf("%w: reading name: %v", ErrCorruptCPIO, err)
	}
	name := strings.TrimRight(string(nameBuf), "\x00")
	if name == cpioTrailer {
		return nil, io.EOF
	}

	o.remaining = size
	return &cpioEntry{name: name, mode: uint32(mode), size: size}, nil
}

func (o *odcReader) Read(p []byte) (int, error) {
	if o.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > o.remaining {
		p = p[:o.remaining]
	}
	n, err := o.r.Read(p)
	o.remaining -= int64(n)
	if errors.Is(err, io.EOF) && o.remaining > 0 {
		return n, fmt.Errorf("%w: truncated member body", ErrCorruptCPIO)
	}
	return n, err
}

func (n *newcReader) next() (*cpioEntry, error) {
	hdr, err := n.r.Next()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCPIO, err)
	}
	return &cpioEntry{name: hdr.Name, mode: uint32(hdr.Mode), size: hdr.Size}, nil
}

func (n *newcReader) Read(p []byte) (int, error) {
	return n.r.Read(p)
}

func parseOctal(field []byte) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(string(field)), 8, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: bad octal field %q", ErrCorruptCPIO, field)
	}
	return v, nil
}
