// Copyright 2026 The OpenPresenter Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for the tunnel
// binaries: fatal error reporting to stderr before or after the
// structured logger exists.
package process
