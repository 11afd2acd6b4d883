// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

package plan

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/reprotools/reprocheck/variation"
)

// BuildPathEnv carries the build tree path into the wrapped build
// command. The generated script cds there and unsets the variable so
// the build itself never sees it.
const BuildPathEnv = "REPROCHECK_BUILD_PATH"

// Inputs are the role-independent facts needed to build a plan.
type Inputs struct {
	// Tree is the staged build tree inside the backend.
	Tree string

	// ScratchDir is the backend scratch root containing Tree.
	ScratchDir string

	// ConstDir is the invocation-constant auxiliary directory: the
	// same string for every role, used by baseline fragments that must
	// be identical across roles.
	ConstDir string

	// ArtifactPattern is the glob that will be collected after the
	// build.
	ArtifactPattern string

	// Backend is the selected backend name.
	Backend string

	// Executable is the path of the reprocheck binary for variations
	// that re-invoke it, or empty when unknown.
	Executable string

	// RoleCount is the total number of builds in the invocation.
	RoleCount int

	// NumCPUs is the CPU count visible to the backend.
	NumCPUs int

	// Now anchors time-dependent choices.
	Now time.Time

	// Seed makes randomized variation choices reproducible across a
	// rerun of the same invocation. Each role derives its own stream.
	Seed int64

	// LookPath resolves tool names; nil means exec.LookPath.
	LookPath func(name string) (string, error)
}

// Plan is the merged execution plan for one build role.
type Plan struct {
	// Role is the build index this plan was built for.
	Role int

	// Tree is the final build tree path after any relocations.
	Tree string

	// Env is the merged environment-mutation map, including the
	// builder-owned BuildPathEnv entry.
	Env map[string]variation.EnvMutation

	// Wrappers is the wrapper-command chain, outermost first.
	Wrappers [][]string

	// Setup commands run before the build in registry order.
	Setup []variation.Command

	// Cleanup commands run after the build in reverse registry
	// order, on both success and failure.
	Cleanup []variation.Command

	// InitScripts are shell snippets to run inside the backend
	// before any setup command.
	InitScripts []string

	// Exercised lists the variations actually perturbed in this
	// role, in registry order. Empty for the control role.
	Exercised []string

	// Skipped maps variation name to the reason its perturbation
	// could not be applied (missing tool, unusable parameters).
	Skipped map[string]string
}

// Build merges the plan fragments of every variation in set for one
// role. The control role (0) receives every variation's baseline form;
// experiment roles receive the perturbed form of each enabled
// variation and the baseline form of the rest. Fragment walk order is
// the registry's registration order, and the build tree path threads
// through the walk so a relocating fragment is visible downstream.
func Build(registry *variation.Registry, set *variation.Set, role int, inputs Inputs) (*Plan, error) {
	ctx := &variation.Context{
		Role:            role,
		RoleCount:       inputs.RoleCount,
		Tree:            inputs.Tree,
		ScratchDir:      inputs.ScratchDir,
		ConstDir:        inputs.ConstDir,
		ArtifactPattern: inputs.ArtifactPattern,
		Backend:         inputs.Backend,
		Executable:      inputs.Executable,
		NumCPUs:         inputs.NumCPUs,
		Now:             inputs.Now,
		Rand:            rand.New(rand.NewSource(roleSeed(inputs.Seed, role))),
		LookPath:        inputs.LookPath,
	}

	p := &Plan{
		Role:    role,
		Env:     make(map[string]variation.EnvMutation),
		Skipped: make(map[string]string),
	}
	envOwner := make(map[string]string)

	for _, name := range registry.Names() {
		setting, ok := set.Setting(name)
		if !ok {
			continue
		}
		v, _ := registry.Lookup(name)
		vary := setting.Enabled && role > 0

		fragment, err := v.Plan(setting.Params, vary, ctx)
		if err != nil {
			return nil, fmt.Errorf("planning variation %s for role %d: %w", name, role, err)
		}
		if fragment.SkipReason != "" {
			// A baseline that cannot be applied degrades silently;
			// an unapplicable perturbation is reported so the run
			// summary can warn about reduced coverage.
			if vary {
				p.Skipped[name] = fragment.SkipReason
			}
			continue
		}

		for _, envName := range sortedKeys(fragment.Env) {
			if owner, claimed := envOwner[envName]; claimed {
				return nil, &variation.ConfigError{Msg: fmt.Sprintf(
					"variations %s and %s both mutate $%s", owner, name, envName)}
			}
			envOwner[envName] = name
			p.Env[envName] = fragment.Env[envName]
		}
		if len(fragment.Wrapper) > 0 {
			p.Wrappers = append(p.Wrappers, fragment.Wrapper)
		}
		p.Setup = append(p.Setup, fragment.Setup...)
		if len(fragment.Cleanup) > 0 {
			p.Cleanup = append(append([]variation.Command{}, fragment.Cleanup...), p.Cleanup...)
		}
		if fragment.Init != "" {
			p.InitScripts = append(p.InitScripts, fragment.Init)
		}
		if fragment.Tree != "" {
			ctx.Tree = fragment.Tree
		}
		if vary {
			p.Exercised = append(p.Exercised, name)
		}
	}

	p.Tree = ctx.Tree
	p.Env[BuildPathEnv] = variation.EnvMutation{Value: p.Tree}
	return p, nil
}

// roleSeed derives a per-role stream from the invocation seed so that
// two roles with the same seed still make independent random choices.
// The mixing runs in uint64: the multiplier does not fit in int64.
func roleSeed(seed int64, role int) int64 {
	return int64((uint64(role)+1)*0x9e3779b97f4a7c15) ^ seed
}

// Environ applies the plan's environment mutations over a base
// environment, returning the final KEY=VALUE list. Base order is
// preserved; variables the plan introduces are appended in sorted
// order so the result is deterministic.
func (p *Plan) Environ(base []string) []string {
	result := make([]string, 0, len(base)+len(p.Env))
	seen := make(map[string]bool, len(p.Env))

	for _, entry := range base {
		name, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		mutation, mutated := p.Env[name]
		if !mutated {
			result = append(result, entry)
			continue
		}
		seen[name] = true
		switch {
		case mutation.Unset:
		case mutation.Append:
			result = append(result, name+"="+value+":"+mutation.Value)
		default:
			result = append(result, name+"="+mutation.Value)
		}
	}

	for _, name := range sortedKeys(p.Env) {
		if seen[name] {
			continue
		}
		mutation := p.Env[name]
		if mutation.Unset {
			continue
		}
		result = append(result, name+"="+mutation.Value)
	}
	return result
}

func sortedKeys(m map[string]variation.EnvMutation) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
