// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

// Package process defines the reprocheck exit-code contract and
// entrypoint helpers. The exit codes distinguish the four outcomes a
// caller cares about: reproducible, not reproducible, usage error, and
// build/backend failure. ExitCode translates exec.Cmd errors into
// shell-convention exit statuses, including 128+signal for signal
// deaths.
package process
