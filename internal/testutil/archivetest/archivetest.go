// SPDX-License-Identifier: MPL-2.0

package archivetest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/cavaliergopher/cpio"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// PayloadMember is the xar member holding the gzip payload in the Android
// support installer.
const PayloadMember = "TargetSupport.pkg.tmp/Payload"

type (
	// Entry is a single archive member. Names use forward slashes; a trailing
	// slash marks a directory.
	Entry struct {
		Name string
		Data []byte
		// Compress stores the member zlib-encoded (xar only).
		Compress bool
	}

	xarNode struct {
		name     string
		entry    *Entry
		children map[string]*xarNode
	}
)

// ODC builds a portable ASCII (070707) cpio archive.
func ODC(t testing.TB, entries []Entry) []byte {
	t.Helper()

	var buf bytes.Buffer
	for i, e := range entries {
		mode := 0o100644
		name := e.Name
		if strings.HasSuffix(name, "/") {
			mode = 0o040755
			name = strings.TrimSuffix(name, "/")
		}
		writeODCHeader(&buf, i+1, mode, name, len(e.Data))
		buf.Write(e.Data)
	}
	writeODCHeader(&buf, 0, 0, "TRAILER!!!", 0)
	return buf.Bytes()
}

func writeODCHeader(buf *bytes.Buffer, ino, mode int, name string, size int) {
	fmt.Fprintf(buf, "070707%06o%06o%06o%06o%06o%06o%06o%011o%06o%011o",
		0, ino, mode, 0, 0, 1, 0, 0, len(name)+1, size)
	buf.WriteString(name)
	buf.WriteByte(0)
}

// Newc builds an SVR4 (070701) cpio archive.
func Newc(t testing.TB, entries []Entry) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := cpio.NewWriter(&buf)
	for _, e := range entries {
		hdr := &cpio.Header{Name: e.Name, Mode: cpio.FileMode(0o100644), Size: int64(len(e.Data))}
		if strings.HasSuffix(e.Name, "/") {
			hdr.Name = strings.TrimSuffix(e.Name, "/")
			hdr.Mode = cpio.FileMode(0o040755)
			hdr.Size = 0
		}
		if err := w.WriteHeader(hdr); err != nil {
			t.Fatalf("writing cpio header: %v", err)
		}
		if hdr.Size > 0 {
			if _, err := w.Write(e.Data); err != nil {
				t.Fatalf("writing cpio body: %v", err)
			}
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing cpio writer: %v", err)
	}
	return buf.Bytes()
}

// Gzip compresses data. A non-empty name is stored in the gzip header.
func Gzip(t testing.TB, name string, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Name = name
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("writing gzip: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing gzip: %v", err)
	}
	return buf.Bytes()
}

// Xar builds a xar archive with a zlib-compressed table of contents.
func Xar(t testing.TB, entries []Entry) []byte {
	t.Helper()

	root := &xarNode{children: map[string]*xarNode{}}
	for i := range entries {
		parts := strings.Split(strings.Trim(entries[i].Name, "/"), "/")
		node := root
		for _, part := range parts {
			child, ok := node.children[part]
			if !ok {
				child = &xarNode{name: part, children: map[string]*xarNode{}}
				node.children[part] = child
			}
			node = child
		}
		if !strings.HasSuffix(entries[i].Name, "/") {
			node.entry = &entries[i]
		}
	}

	var heap bytes.Buffer
	var toc strings.Builder
	toc.WriteString(`<?xml version="1.0" encoding="UTF-8"?><xar><toc>`)
	id := 0
	var emit func(n *xarNode)
	emit = func(n *xarNode) {
		id++
		fmt.Fprintf(&toc, `<file id="%d"><name>%s</name>`, id, n.name)
		if n.entry == nil {
			toc.WriteString(`<type>directory</type>`)
			for _, c := range sortedChildren(n) {
				emit(c)
			}
			toc.WriteString(`</file>`)
			return
		}

		stored := n.entry.Data
		style := "application/octet-stream"
		if n.entry.Compress {
			stored = zlibBytes(t, n.entry.Data)
			style = "application/x-gzip"
		}
		fmt.Fprintf(&toc, `<type>file</type><data><length>%d</length><offset>%d</offset><size>%d</size><encoding style="%s"/></data></file>`,
			len(stored), heap.Len(), len(n.entry.Data), style)
		heap.Write(stored)
	}
	for _, c := range sortedChildren(root) {
		emit(c)
	}
	toc.WriteString(`</toc></xar>`)

	compressedTOC := zlibBytes(t, []byte(toc.String()))

	var out bytes.Buffer
	hdr := struct {
		Magic            uint32
		HeaderSize       uint16
		Version          uint16
		TOCCompressed    uint64
		TOCUncompressed  uint64
		ChecksumAlgoCode uint32
	}{0x78617221, 28, 1, uint64(len(compressedTOC)), uint64(toc.Len()), 0}
	if err := binary.Write(&out, binary.BigEndian, hdr); err != nil {
		t.Fatalf("writing xar header: %v", err)
	}
	out.Write(compressedTOC)
	out.Write(heap.Bytes())
	return out.Bytes()
}

// Installer builds the full Android support installer chain: a xar package
// whose Payload member is a gzip-compressed odc cpio archive of entries.
func Installer(t testing.TB, entries []Entry) []byte {
	t.Helper()

	payload := Gzip(t, "", ODC(t, entries))
	return Xar(t, []Entry{
		{Name: "Distribution", Data: []byte("<installer-gui-script/>")},
		{Name: "TargetSupport.pkg.tmp/Bom", Data: []byte("bom")},
		{Name: "TargetSupport.pkg.tmp/PackageInfo", Data: []byte("<pkg-info/>"), Compress: true},
		{Name: PayloadMember, Data: payload},
	})
}

// WriteFile writes data to name inside dir and returns the full path.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()

	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("creating fixture dir: %v", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return p
}

func sortedChildren(n *xarNode) []*xarNode {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*xarNode, 0, len(names))
	for _, name := range names {
		out = append(out, n.children[name])
	}
	return out
}

func zlibBytes(t testing.TB, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("writing zlib: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zlib: %v", err)
	}
	return buf.Bytes()
}
