// SPDX-License-Identifier: MPL-2.0

// Package archive unwraps one layer of the nested container chain used by the
// Unity Android support installer.
//
// Supported layers are detected from their magic bytes:
//   - xar.go: macOS flat package (xar) with a zlib-compressed XML table of contents
//   - gzip.go: single-member gzip stream (the installer "Payload")
//   - cpio.go: cpio archives in the odc (070707) and newc (070701/070702) formats
//
// Each Extract call is driven by a Request value that selects members with
// doublestar glob filters (filter.go). Members are streamed to disk; no layer
// is ever held in memory as a whole.
package archive
