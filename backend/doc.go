// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend defines the sandbox lifecycle every build
// environment implements: start a session, stage a source tree into
// it, run commands, collect artifacts out, and stop. The orchestrator
// drives backends exclusively through this interface, so a build plan
// never depends on which backend executes it.
//
// Implementations register themselves by name in an init function;
// [Open] looks them up. A backend that cannot run on this host reports
// [ErrUnavailable] from Start rather than failing mid-build.
package backend
