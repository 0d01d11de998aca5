// SPDX-License-Identifier: MPL-2.0

// Package issue provides errors that tell the operator what to change.
//
// The CLI renders an ActionableError as the failed operation, the resource
// involved and a list of suggestions, instead of a bare wrapped error chain.
package issue
