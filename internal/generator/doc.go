// SPDX-License-Identifier: MPL-2.0

// Package generator drives one run: it fetches the Unity release catalog,
// drops versions whose tag already exists, and for each remaining version
// downloads the Android support bundle into a scoped work dir and publishes
// the recovered assemblies and native libraries as a GitHub release.
//
// Versions without a bundle are skipped. Any other failure ends the run so a
// changed bundle layout is noticed instead of producing broken releases.
package generator
