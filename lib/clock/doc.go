// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// The build orchestrator measures build durations and enforces per-build
// timeouts. Production code injects Real(); tests inject Fake() and
// advance time deterministically, so timeout paths are testable without
// real waiting.
package clock
