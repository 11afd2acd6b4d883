// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

// Package plan composes the plan fragments of all enabled variations
// into one concrete, ordered execution plan for a single build role.
//
// [Build] walks the variation registry in registration order, invoking
// each variation's plan function with the role's context. Fragments
// merge into a [Plan]: a final environment-mutation map (conflicting
// mutations of the same variable are a fatal configuration error
// naming both variations), an outermost-first wrapper-command chain, a
// setup/cleanup command sequence, and init hooks. The build tree path
// threads through the walk so a fragment that relocates the tree is
// visible to every later variation.
//
// [Plan.Script] renders the whole thing as one POSIX shell script:
// setup commands and the wrapped build command run in a subshell
// connected by &&, and cleanup commands run afterwards on both success
// and failure paths, each individually allowed to fail.
package plan
