// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for chatcore.
//
// Configuration is loaded from a single file specified by either the
// CHATCORE_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no automatic file search. Files ending
// in .json or .jsonc are accepted too; comments and trailing commas
// are stripped before decoding.
//
// The file is decoded over [Default], so it only needs the options it
// changes. Environment-specific sections (development, staging,
// production) have the same shape as the base document and are
// decoded over it when [Config].Environment matches.
//
// After loading, ${VAR} and ${VAR:-default} patterns are expanded from
// the process environment in fields that name endpoints, paths, and
// credentials. Nothing else reads the environment.
//
// Key exports:
//
//   - [Config] -- master struct, one section per component
//   - [Default] -- returns a Config with development defaults
//   - [Load], [LoadFile], and [Parse] -- entry points for loading
//   - [Config.Validate] -- reports every problem at once
package config
