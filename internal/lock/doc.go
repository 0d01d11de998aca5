// SPDX-License-Identifier: MPL-2.0

// Package lock coordinates concurrent generator runs so that two runs never
// build and publish the same version at once.
package lock
