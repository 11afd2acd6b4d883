// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

// Package variation models build-environment perturbations as
// composable, parameterized units.
//
// A [Variation] is a registry entry: a unique name, a default parameter
// set, and a plan function that yields a [Fragment] — environment
// mutations, a wrapper-command entry, filesystem setup and cleanup
// steps, and init hooks — for one build role. The built-in catalog
// ([Builtin]) covers file ordering, user/group identity, clock, locale,
// umask, hostname/domainname, CPU count, build path, timezone,
// environment variables, ASLR, and kernel version reporting.
//
// Variations are selected and tuned through a compact directive
// language:
//
//	+name       enable
//	-name       disable
//	@name       enable and reset parameters to registry defaults
//	name.p=v    set parameter (";"-separated elements for set params)
//	name.p+=v   add elements to a set parameter
//	name.p-=v   remove elements from a set parameter
//	name.p++    increment an integer parameter
//	name.p--    decrement an integer parameter
//
// Tokens are separated by whitespace or commas, and "all" is an alias
// for every registered variation in the +, -, and @ forms. [Parse]
// turns directive text into an ordered []Directive; [Resolve] folds
// directive lists — config file first, then each --variations list
// (resetting to registry defaults), then --vary appends — into a final
// [Set]. Resolution is a pure fold over immutable directive records,
// so it is replayable and testable in isolation from execution.
package variation
