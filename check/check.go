// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

package check

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/reprotools/reprocheck/backend"
	"github.com/reprotools/reprocheck/lib/clock"
	"github.com/reprotools/reprocheck/oracle"
	"github.com/reprotools/reprocheck/variation"
)

// BuildFailedError reports a build command that did not exit zero, or
// a backend that failed mid-build. It is distinct from a
// reproducibility mismatch: the artifacts were never comparable.
type BuildFailedError struct {
	Role     int
	ExitCode int
	Output   string
}

func (e *BuildFailedError) Error() string {
	return fmt.Sprintf("build for role %d failed with exit code %d", e.Role, e.ExitCode)
}

// Options configures one verification run.
type Options struct {
	// Registry and Set are the resolved variation configuration.
	Registry *variation.Registry
	Set      *variation.Set

	// Backend executes the builds; BackendArgs go to Start.
	Backend     backend.Backend
	BackendArgs []string

	// Source is the host path of the source tree.
	Source string

	// BuildCommand is the shell command that builds it.
	BuildCommand string

	// ArtifactPattern selects the outputs to compare, relative to
	// the build tree. A leading "../" collects from the scratch
	// directory above the tree instead.
	ArtifactPattern string

	// ExtraBuilds is the number of experiment builds beyond the
	// first; every experiment must match the control.
	ExtraBuilds int

	// Concurrent runs experiment builds in parallel when the
	// backend supports it.
	Concurrent bool

	// BuildTimeout bounds each build command; zero means no limit.
	BuildTimeout time.Duration

	// TestbedPre is a host-side shell command run in a copy of the
	// source tree before any backend starts. The prepared copy
	// becomes the tree that is staged.
	TestbedPre string

	// TestbedInit is a shell command run inside every session before
	// the build.
	TestbedInit string

	// ExtraEnv is applied on top of each experiment plan's
	// environment (the control never sees it). Used by the
	// environment-sweep mode.
	ExtraEnv map[string]variation.EnvMutation

	// StoreDir, when set, receives the collected artifacts and
	// checksum manifests of every role. It must be empty or absent.
	StoreDir string

	// StoreArchive stores zstd tar archives instead of directory
	// copies.
	StoreArchive bool

	// NoCleanOnError preserves a failing role's scratch directory.
	NoCleanOnError bool

	// Oracle judges artifact equality. Nil means a default oracle.
	Oracle *oracle.Oracle

	// Clock drives the build timeout; nil means the real clock.
	Clock clock.Clock

	// Seed makes the variation plans' random choices reproducible.
	Seed int64

	// Executable is the reprocheck binary path for variations that
	// re-invoke it.
	Executable string

	// NumCPUs overrides the host CPU count; zero means detect.
	NumCPUs int

	// LookPath resolves external tools; nil means exec.LookPath.
	LookPath func(name string) (string, error)

	// Logger receives progress and warnings; nil means the default.
	Logger *slog.Logger
}

// Result is the outcome of a verification run.
type Result struct {
	// Reproducible is true when every experiment matched the
	// control.
	Reproducible bool

	// Report explains the first mismatch; empty when Reproducible.
	Report string

	// MismatchedRole is the experiment role of the first mismatch,
	// zero when Reproducible.
	MismatchedRole int

	// Exercised lists the variations actually perturbed, in
	// registry order.
	Exercised []string

	// Skipped maps variations that could not be perturbed to the
	// reason.
	Skipped map[string]string
}

// Run performs the verification. Build failures and backend failures
// return errors (wrapping *BuildFailedError where a build exited
// non-zero); a clean run returns a Result whether or not it was
// reproducible.
func Run(ctx context.Context, options Options) (*Result, error) {
	runner, err := newRunner(options)
	if err != nil {
		return nil, err
	}
	defer runner.close()
	return runner.run(ctx)
}

type runner struct {
	options  Options
	outDir   string
	source   string // effective source tree after testbed-pre
	preDir   string // host copy used by testbed-pre, if any
	constDir string // invocation-constant path shared by all role plans
}

func newRunner(options Options) (*runner, error) {
	if options.Registry == nil || options.Set == nil {
		return nil, fmt.Errorf("check: variation registry and set are required")
	}
	if options.Backend == nil {
		return nil, fmt.Errorf("check: backend is required")
	}
	if options.BuildCommand == "" {
		return nil, &variation.ConfigError{Msg: "no build command given"}
	}
	if options.ArtifactPattern == "" {
		return nil, &variation.ConfigError{Msg: "no artifact pattern given"}
	}
	info, err := os.Stat(options.Source)
	if err != nil || !info.IsDir() {
		return nil, &variation.ConfigError{Msg: fmt.Sprintf("source tree %s is not a directory", options.Source)}
	}
	if options.StoreDir != "" {
		if err := validateStoreDir(options.StoreDir); err != nil {
			return nil, err
		}
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.Oracle == nil {
		options.Oracle = oracle.New(oracle.Options{LookPath: options.LookPath, Logger: options.Logger})
	}
	if options.NumCPUs == 0 {
		options.NumCPUs = detectCPUs()
	}

	outDir, err := os.MkdirTemp("", "reprocheck-out-")
	if err != nil {
		return nil, fmt.Errorf("creating artifact staging directory: %w", err)
	}
	return &runner{
		options: options,
		outDir:  outDir,
		source:  options.Source,
		// Role plans relocate into this path inside their backend, so
		// it must be the same string for every role and valid in any
		// backend's filesystem view; /tmp is the one safe bet.
		constDir: fmt.Sprintf("/tmp/reprocheck-const-%016x", uint64(options.Seed)*0x9e3779b97f4a7c15),
	}, nil
}

func (r *runner) close() {
	os.RemoveAll(r.outDir)
	if r.preDir != "" {
		os.RemoveAll(r.preDir)
	}
}

func (r *runner) run(ctx context.Context) (*Result, error) {
	if err := r.prepareSource(ctx); err != nil {
		return nil, err
	}

	set, err := variation.ApplyDynamicDefaults(r.options.Registry, r.options.Set, r.source)
	if err != nil {
		return nil, err
	}

	roleCount := 2 + r.options.ExtraBuilds
	roles := make([]*roleOutcome, roleCount)

	// The control always runs first and alone: its plan defines the
	// baseline the experiments are compared against.
	roles[0], err = r.runRole(ctx, 0, roleCount, set)
	if err != nil {
		return nil, err
	}

	concurrent := r.options.Concurrent && r.options.Backend.SupportsConcurrent()
	if concurrent && !set.IsEnabled("build_path") {
		// A disabled build_path pins every role to the same constant
		// directory; parallel roles would collide in it.
		r.options.Logger.Warn("running builds sequentially: build_path is disabled, so all roles share one pinned build directory")
		concurrent = false
	}
	if concurrent && roleCount > 2 {
		if err := r.runExperimentsConcurrently(ctx, roles, roleCount, set); err != nil {
			return nil, err
		}
	} else {
		for role := 1; role < roleCount; role++ {
			roles[role], err = r.runRole(ctx, role, roleCount, set)
			if err != nil {
				return nil, err
			}
		}
	}

	result := r.summarize(roles)
	if err := r.compare(ctx, roles, result); err != nil {
		return nil, err
	}
	if r.options.StoreDir != "" {
		if err := r.store(roles); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (r *runner) runExperimentsConcurrently(ctx context.Context, roles []*roleOutcome, roleCount int, set *variation.Set) error {
	var wg sync.WaitGroup
	errs := make([]error, roleCount)
	for role := 1; role < roleCount; role++ {
		wg.Add(1)
		go func(role int) {
			defer wg.Done()
			roles[role], errs[role] = r.runRole(ctx, role, roleCount, set)
		}(role)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// prepareSource runs the testbed-pre hook against a host-side copy so
// the original tree is never modified.
func (r *runner) prepareSource(ctx context.Context) error {
	if r.options.TestbedPre == "" {
		return nil
	}
	preDir, err := os.MkdirTemp("", "reprocheck-pre-")
	if err != nil {
		return err
	}
	r.preDir = preDir
	prepared := preDir + "/source"
	if err := backend.CopyTree(r.options.Source, prepared); err != nil {
		return fmt.Errorf("copying source for testbed-pre: %w", err)
	}
	if err := runHostCommand(ctx, prepared, r.options.TestbedPre); err != nil {
		return fmt.Errorf("testbed-pre: %w", err)
	}
	r.source = prepared
	return nil
}

// summarize merges the experiment roles' coverage and warns when some
// enabled variations were not exercised.
func (r *runner) summarize(roles []*roleOutcome) *Result {
	result := &Result{Reproducible: true, Skipped: make(map[string]string)}
	seen := make(map[string]bool)
	for _, outcome := range roles[1:] {
		for _, name := range outcome.plan.Exercised {
			if !seen[name] {
				seen[name] = true
				result.Exercised = append(result.Exercised, name)
			}
		}
		for name, reason := range outcome.plan.Skipped {
			result.Skipped[name] = reason
		}
	}
	sort.Strings(result.Exercised)

	r.options.Logger.Info("variation coverage",
		"exercised", formatVariationList(result.Exercised))
	if len(result.Skipped) > 0 {
		total := len(result.Exercised) + len(result.Skipped)
		r.options.Logger.Warn(fmt.Sprintf("only %d of %d enabled variations were exercised",
			len(result.Exercised), total))
		for name, reason := range result.Skipped {
			r.options.Logger.Warn("variation skipped", "variation", name, "reason", reason)
		}
	}
	return result
}

func (r *runner) compare(ctx context.Context, roles []*roleOutcome, result *Result) error {
	control := roles[0]
	for _, experiment := range roles[1:] {
		verdict, err := r.options.Oracle.Compare(ctx, control.artifactDir, experiment.artifactDir)
		if err != nil {
			return fmt.Errorf("comparing role %d against control: %w", experiment.role, err)
		}
		if !verdict.Equal {
			result.Reproducible = false
			result.Report = verdict.Report
			result.MismatchedRole = experiment.role
			return nil
		}
	}
	return nil
}

func formatVariationList(names []string) string {
	return strings.Join(names, ", ")
}
