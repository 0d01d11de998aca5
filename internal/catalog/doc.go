// SPDX-License-Identifier: MPL-2.0

// Package catalog queries the Unity release catalog (a GraphQL endpoint) for
// editor versions, one major-version family at a time, and reduces the result
// to stable builds with the highest build number per release line.
package catalog
