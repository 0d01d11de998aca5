// SPDX-License-Identifier: MPL-2.0

// Package github is a small GitHub REST client for the release side of the
// generator: listing existing release and git tags, resolving a branch head,
// creating tags and releases, uploading assets and clearing the draft flag.
//
// The Client implements publish.ReleaseService. The token is only sent to the
// configured API and upload hosts; JSON responses are capped at 10 MB.
package github
