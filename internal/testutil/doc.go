// SPDX-License-Identifier: MPL-2.0

// Package testutil holds helpers shared by package tests. Archive fixtures
// live in the archivetest subpackage.
package testutil
