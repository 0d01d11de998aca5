// SPDX-License-Identifier: MPL-2.0

// Package config loads the generator configuration with Viper, using CUE as
// the file format.
//
// Values are layered: built-in defaults, then an optional CUE file validated
// against the embedded config_schema.cue, then UNITYDEPS_* environment
// variables (dots in keys become underscores, so catalog.endpoint is
// UNITYDEPS_CATALOG_ENDPOINT).
package config
