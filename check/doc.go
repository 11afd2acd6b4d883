// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

// Package check orchestrates one reproducibility verification: it
// builds the source once as the control (role 0, baseline variation
// choices) and one or more times as experiments (perturbed choices),
// collects each role's artifacts, and asks the oracle whether every
// experiment matches the control bit for bit.
//
// Each role gets its own backend session with a strict lifecycle:
// stage, optional init hooks, the planned build script, artifact
// collection, and exactly one Stop — preserved for inspection when a
// role fails and the caller asked for no cleanup on error. A probe
// constructor adapts the same machinery to the bisection search.
package check
