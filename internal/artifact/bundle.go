// SPDX-License-Identifier: MPL-2.0

package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"
)

// NativeLib is one per-architecture native engine library.
type NativeLib struct {
	Arch string
	Path string
}

// AssetName returns the release asset name, e.g. libunity.so.arm64-v8a.
func (n NativeLib) AssetName() string {
	return NativeLibName + "." + n.Arch
}

// bundleManaged zips every *.dll directly inside dir. Entries are named by
// base filename only, in directory order.
func bundleManaged(dir string) (*bytes.Buffer, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("reading managed directory: %w", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	var files []string

	for _, entry := range entries {
		if !entry.Type().IsRegular() || filepath.Ext(entry.Name()) != ".dll" {
			continue
		}
		p := filepath.Join(dir, entry.Name())
		if err := addZipEntry(zw, p, entry.Name()); err != nil {
			return nil, nil, err
		}
		files = append(files, p)
	}

	if err := zw.Close(); err != nil {
		return nil, nil, fmt.Errorf("finalizing %s: %w", BundleName, err)
	}
	return &buf, files, nil
}

func addZipEntry(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", name, err)
	}
	defer func() { _ = f.Close() }() // read-only file handle

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", name, err)
	}

	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("zip header for %s: %w", name, err)
	}
	hdr.Name = name
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("adding %s: %w", name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("compressing %s: %w", name, err)
	}
	return nil
}

// collectNativeLibs returns the architectures below dir that contain the
// native library, sorted by architecture name. A missing dir yields none.
func collectNativeLibs(dir string) ([]NativeLib, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading native library directory: %w", err)
	}

	var libs []NativeLib
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		p := filepath.Join(dir, entry.Name(), NativeLibName)
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		libs = append(libs, NativeLib{Arch: entry.Name(), Path: p})
	}
	return libs, nil
}
