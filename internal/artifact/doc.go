// SPDX-License-Identifier: MPL-2.0

// Package artifact turns one catalog version into release assets.
//
// A Pipeline downloads the macOS Android support installer for the version,
// unwraps it through a declarative chain of extraction Steps (xar package,
// gzip payload, cpio archive), zips the managed assemblies into Managed.zip
// and collects libunity.so per architecture.
//
// Failures are reported as *StageError with a Kind. KindSkip covers versions
// that have no installer (too old, or a 4xx from the CDN); KindFatal covers
// everything that indicates the installer layout changed or the network is
// unusable.
package artifact
