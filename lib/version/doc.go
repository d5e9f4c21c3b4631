// Copyright 2026 The OpenPresenter Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for the tunnel
// binaries.
//
// [GitCommit], [BuildTime] and [Version] are injected at build time
// via -ldflags -X, for example:
//
//	go build -ldflags "-X github.com/theopenpresenter/tunnel/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// Without ldflags the commit falls back to the VCS stamp recorded by
// the go tool, when present.
package version
