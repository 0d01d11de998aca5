// SPDX-License-Identifier: MPL-2.0

// Package publish turns extracted artifacts into a public release through a
// ReleaseService: tag the branch tip, create a draft release, upload
// Managed.zip and the native libraries, then clear the draft flag.
//
// The sequence only moves forward and is never retried or rolled back. A
// process that dies between the first upload and the final undraft leaves a
// draft release behind; the tag created in the first step keeps later runs
// from trying the same version again.
package publish
