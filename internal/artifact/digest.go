// SPDX-License-Identifier: MPL-2.0

package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Digest records the SHA-256 and size of one produced file.
type Digest struct {
	Name   string
	SHA256 string
	Size   int64
}

// FileDigest streams the file at path through SHA-256.
func FileDigest(name, path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, err
	}
	defer func() { _ = f.Close() }() // read-only file handle

	return readerDigest(name, f)
}

// BytesDigest hashes an in-memory asset.
func BytesDigest(name string, b []byte) Digest {
	sum := sha256.Sum256(b)
	return Digest{Name: name, SHA256: hex.EncodeToString(sum[:]), Size: int64(len(b))}
}

func readerDigest(name string, r io.Reader) (Digest, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return Digest{}, fmt.Errorf("hashing %s: %w", name, err)
	}
	return Digest{Name: name, SHA256: hex.EncodeToString(h.Sum(nil)), Size: n}, nil
}
