// SPDX-License-Identifier: MPL-2.0

// Package archivetest builds synthetic installer fixtures (xar, gzip, cpio)
// for tests of the extraction chain. Every builder takes a testing.TB and fails
// the test on encoder errors, so callers can use the returned bytes directly.
package archivetest
