// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

package check

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/reprotools/reprocheck/backend"
	"github.com/reprotools/reprocheck/plan"
	"github.com/reprotools/reprocheck/variation"
)

// roleOutcome is one completed build role.
type roleOutcome struct {
	role        int
	plan        *plan.Plan
	artifactDir string
}

// runRole drives one backend session through its full lifecycle. The
// session is stopped exactly once on every path; the scratch directory
// is preserved only when the role failed and the caller asked for no
// cleanup on error.
func (r *runner) runRole(ctx context.Context, role, roleCount int, set *variation.Set) (outcome *roleOutcome, err error) {
	r.options.Logger.Info("starting build", "role", role, "backend", r.options.Backend.Name())

	session, err := r.options.Backend.Start(ctx, r.options.BackendArgs)
	if err != nil {
		return nil, fmt.Errorf("starting %s backend: %w", r.options.Backend.Name(), err)
	}
	defer func() {
		preserve := err != nil && r.options.NoCleanOnError
		if stopErr := session.Stop(context.WithoutCancel(ctx), preserve); stopErr != nil && err == nil {
			err = fmt.Errorf("stopping session for role %d: %w", role, stopErr)
		}
	}()

	tree, err := session.Stage(ctx, r.source, fmt.Sprintf("build-%d", role))
	if err != nil {
		return nil, fmt.Errorf("staging source for role %d: %w", role, err)
	}

	rolePlan, err := plan.Build(r.options.Registry, set, role, plan.Inputs{
		Tree:            tree,
		ScratchDir:      session.ScratchDir(),
		ConstDir:        r.constDir,
		ArtifactPattern: r.options.ArtifactPattern,
		Backend:         r.options.Backend.Name(),
		Executable:      r.options.Executable,
		RoleCount:       roleCount,
		NumCPUs:         r.options.NumCPUs,
		Now:             r.options.Clock.Now(),
		Seed:            r.options.Seed,
		LookPath:        r.options.LookPath,
	})
	if err != nil {
		return nil, err
	}
	if role > 0 {
		for name, mutation := range r.options.ExtraEnv {
			rolePlan.Env[name] = mutation
		}
	}

	env := rolePlan.Environ(session.Environ())
	if err := r.runInitHooks(ctx, session, rolePlan, env); err != nil {
		return nil, err
	}

	result, err := r.runBuild(ctx, session, rolePlan.Argv(r.options.BuildCommand), env)
	if err != nil {
		return nil, fmt.Errorf("role %d: %w", role, err)
	}
	if result.ExitCode != 0 {
		output := strings.TrimSpace(string(result.Stderr))
		r.options.Logger.Error("build failed",
			"role", role, "exit_code", result.ExitCode, "stderr", output)
		return nil, &BuildFailedError{Role: role, ExitCode: result.ExitCode, Output: output}
	}

	dest := filepath.Join(r.outDir, fmt.Sprintf("role-%d", role))
	// The plan's cleanup has already moved a relocated tree back to its
	// staged path, so collection always walks the staged tree.
	collectDir, pattern := collectRoot(tree, session.ScratchDir(), r.options.ArtifactPattern)
	artifacts, err := session.Collect(ctx, collectDir, pattern, dest)
	if err != nil {
		return nil, fmt.Errorf("collecting artifacts for role %d: %w", role, err)
	}
	r.options.Logger.Info("build finished",
		"role", role, "artifacts", len(artifacts))

	return &roleOutcome{role: role, plan: rolePlan, artifactDir: dest}, nil
}

func (r *runner) runInitHooks(ctx context.Context, session backend.Session, rolePlan *plan.Plan, env []string) error {
	hooks := append([]string(nil), rolePlan.InitScripts...)
	if r.options.TestbedInit != "" {
		hooks = append(hooks, r.options.TestbedInit)
	}
	for _, hook := range hooks {
		result, err := session.Run(ctx, []string{"sh", "-ec", hook}, env)
		if err != nil {
			return fmt.Errorf("init hook: %w", err)
		}
		if result.ExitCode != 0 {
			return fmt.Errorf("init hook exited %d: %s", result.ExitCode,
				strings.TrimSpace(string(result.Stderr)))
		}
	}
	return nil
}

// runBuild executes the build with the configured timeout, driven by
// the injected clock so tests can advance time synthetically.
func (r *runner) runBuild(ctx context.Context, session backend.Session, argv, env []string) (*backend.RunResult, error) {
	if r.options.BuildTimeout <= 0 {
		return session.Run(ctx, argv, env)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var timedOut atomic.Bool
	go func() {
		select {
		case <-r.options.Clock.After(r.options.BuildTimeout):
			timedOut.Store(true)
			cancel()
		case <-runCtx.Done():
		}
	}()

	result, err := session.Run(runCtx, argv, env)
	if timedOut.Load() {
		return nil, fmt.Errorf("build exceeded timeout of %v", r.options.BuildTimeout)
	}
	return result, err
}

// collectRoot resolves the artifact pattern against the build tree. A
// leading "../" means the artifacts land beside the tree (dpkg-style),
// so collection walks the scratch directory instead.
func collectRoot(tree, scratch, pattern string) (string, string) {
	if rest, ok := strings.CutPrefix(pattern, "../"); ok {
		return scratch, rest
	}
	return tree, pattern
}

func runHostCommand(ctx context.Context, dir, command string) error {
	cmd := exec.CommandContext(ctx, "sh", "-ec", command)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w\n%s", err, output)
	}
	return nil
}

func detectCPUs() int {
	return runtime.NumCPU()
}

func validateStoreDir(path string) error {
	entries, err := os.ReadDir(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store directory: %w", err)
	}
	if len(entries) > 0 {
		return &variation.ConfigError{Msg: fmt.Sprintf("store directory %s is not empty", path)}
	}
	return nil
}
