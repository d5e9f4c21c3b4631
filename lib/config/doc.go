// Copyright 2026 The OpenPresenter Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads configuration for the tunnel binaries.
//
// Configuration comes from a single file named by the --config flag or
// the TUNNEL_CONFIG environment variable. There is no discovery and no
// search path: a binary started without either runs on [Default] plus
// its flags.
//
// Files ending in .json or .jsonc are JSON with comments and trailing
// commas (normalized through github.com/tidwall/jsonc); anything else
// is YAML. Both forms use the same snake_case keys.
//
// Path fields support ${VAR} and ${VAR:-default} expansion against the
// process environment.
package config
