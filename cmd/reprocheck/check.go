// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/shlex"
	"github.com/spf13/pflag"

	"github.com/reprotools/reprocheck/backend"
	_ "github.com/reprotools/reprocheck/backend/chroot"
	_ "github.com/reprotools/reprocheck/backend/local"
	"github.com/reprotools/reprocheck/bisect"
	"github.com/reprotools/reprocheck/check"
	"github.com/reprotools/reprocheck/config"
	"github.com/reprotools/reprocheck/lib/process"
	"github.com/reprotools/reprocheck/oracle"
	"github.com/reprotools/reprocheck/preset"
	"github.com/reprotools/reprocheck/variation"
)

func checkCmd(args []string, logger *slog.Logger) error {
	cli, backendExtra := splitBackendArgs(args)

	flags := pflag.NewFlagSet("check", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to the YAML config file (default $"+config.EnvVar+")")
	sourceRoot := flags.StringP("source-root", "s", ".", "source tree when a build command is given")
	backendSpec := flags.String("backend", "", `backend name with arguments, e.g. "chroot /srv/chroot/sid"`)
	storeDir := flags.String("store-dir", "", "directory to store artifacts and checksums in (must be empty)")
	storeArchive := flags.Bool("store-archive", false, "store zstd tar archives instead of directory copies")
	variationLists := flags.StringArray("variations", nil, "variation directives; each occurrence resets to defaults first")
	varyLists := flags.StringArray("vary", nil, "variation directives applied cumulatively")
	extraBuilds := flags.Int("extra-builds", 0, "additional experiment builds beyond the first")
	concurrent := flags.Bool("concurrent", false, "run experiment builds in parallel when the backend allows")
	autoBuild := flags.Bool("auto-build", false, "on mismatch, bisect for the minimal culprit variation set")
	envBuild := flags.StringSlice("env-build", nil, "on mismatch, sweep these environment variables for culprits")
	minCPUs := flags.Int("min-cpus", 0, "minimum CPU count for the capped baseline builds")
	buildTimeout := flags.Duration("build-timeout", 0, "per-build time limit (0 = none)")
	noClean := flags.Bool("no-clean-on-error", false, "preserve the scratch directory of a failing build")
	noDiffoscope := flags.Bool("no-diffoscope", false, "skip the diffoscope report on mismatch")
	diffoscopeArgs := flags.StringArray("diffoscope-arg", nil, "extra argument passed to diffoscope (repeatable)")
	testbedPre := flags.String("testbed-pre", "", "host-side shell command run in a copy of the source tree first")
	testbedInit := flags.String("testbed-init", "", "shell command run inside each session before the build")
	seed := flags.Int64("seed", 0, "seed for randomized variation choices (0 = time-based)")
	verbose := flags.BoolP("verbose", "v", false, "debug logging")
	if err := flags.Parse(cli); err != nil {
		return &variation.ConfigError{Msg: err.Error()}
	}
	if *verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
		slog.SetDefault(logger)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return &variation.ConfigError{Msg: err.Error()}
	}

	backendImpl, backendArgs, err := resolveBackend(cfg, *backendSpec, backendExtra)
	if err != nil {
		return err
	}

	source, buildCommand, artifactPattern, detected, err := resolveBuild(flags.Args(), *sourceRoot, backendImpl.Name())
	if err != nil {
		return err
	}

	registry := variation.Builtin()
	set, err := resolveVariations(registry, cfg, *variationLists, *varyLists)
	if err != nil {
		return err
	}
	if *minCPUs > 0 {
		if err := set.SetParam(registry, "num_cpus", "min", variation.IntValue(*minCPUs)); err != nil {
			return err
		}
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	executable, _ := os.Executable()

	// Precedence for values a preset can supply: flag, config file,
	// preset.
	presetInit := ""
	if detected != nil {
		presetInit = detected.TestbedInit
	}

	options := check.Options{
		Registry:        registry,
		Set:             set,
		Backend:         backendImpl,
		BackendArgs:     backendArgs,
		Source:          source,
		BuildCommand:    buildCommand,
		ArtifactPattern: artifactPattern,
		ExtraBuilds:     firstNonZero(*extraBuilds, cfg.ExtraBuilds),
		Concurrent:      *concurrent,
		BuildTimeout:    firstNonZeroDuration(*buildTimeout, time.Duration(cfg.BuildTimeout)),
		TestbedPre:      firstNonEmpty(*testbedPre, cfg.TestbedPre),
		TestbedInit:     firstNonEmpty(*testbedInit, cfg.TestbedInit, presetInit),
		StoreDir:        firstNonEmpty(*storeDir, cfg.StoreDir),
		StoreArchive:    *storeArchive || cfg.StoreArchive,
		NoCleanOnError:  *noClean,
		Seed:            *seed,
		Executable:      executable,
		Logger:          logger,
	}
	diffArgs := append([]string(nil), cfg.DiffoscopeArgs...)
	diffArgs = append(diffArgs, *diffoscopeArgs...)
	options.Oracle = oracle.New(oracle.Options{
		NoDiffoscope:   *noDiffoscope || cfg.NoDiffoscope,
		DiffoscopeArgs: diffArgs,
		Logger:         logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := check.Run(ctx, options)
	if err != nil {
		return err
	}
	if result.Reproducible {
		fmt.Printf("=> reproducible: %d variation(s) exercised, all builds matched\n", len(result.Exercised))
		return nil
	}

	fmt.Printf("=> NOT reproducible: build %d differs from the control\n", result.MismatchedRole)
	fmt.Print(result.Report)

	if *autoBuild {
		if err := bisectVariations(ctx, options, result.Exercised); err != nil {
			return err
		}
	}
	if len(*envBuild) > 0 {
		if err := sweepEnvironment(ctx, options, *envBuild); err != nil {
			return err
		}
	}
	return exitError{code: process.ExitNotReproducible}
}

// bisectVariations reruns the check over shrinking variation subsets
// until the minimal failing set is isolated.
func bisectVariations(ctx context.Context, options check.Options, exercised []string) error {
	bisectOptions := bisect.Options{Logger: options.Logger}
	if options.StoreDir != "" {
		cache, err := bisect.LoadCache(filepath.Join(options.StoreDir, "probe-cache.cbor"))
		if err != nil {
			return err
		}
		defer func() {
			if err := cache.Save(); err != nil {
				options.Logger.Warn("saving probe cache", "error", err)
			}
		}()
		bisectOptions.Cache = cache
	}

	result, err := bisect.Search(ctx, exercised, check.Prober(options), bisectOptions)
	if err != nil {
		return err
	}
	if result.Inconclusive {
		fmt.Printf("=> bisection inconclusive after %d probes; smallest failing set: %v\n",
			result.Probes, result.Culprits)
		return nil
	}
	fmt.Printf("=> minimal culprit variation set (%d probes): %v\n", result.Probes, result.Culprits)
	return nil
}

// sweepEnvironment bisects individual environment variables with all
// variations disabled.
func sweepEnvironment(ctx context.Context, options check.Options, vars []string) error {
	result, err := bisect.Search(ctx, vars, check.EnvProber(options), bisect.Options{Logger: options.Logger})
	if err != nil {
		return err
	}
	if result.Inconclusive {
		fmt.Printf("=> environment sweep inconclusive after %d probes; smallest failing set: %v\n",
			result.Probes, result.Culprits)
		return nil
	}
	fmt.Printf("=> environment variables breaking reproducibility: %v\n", result.Culprits)
	return nil
}

// resolveBuild interprets the positional arguments: a source directory
// (build recipe inferred from its layout) or an explicit build command
// with an artifact pattern.
func resolveBuild(positionals []string, sourceRoot, backendName string) (source, buildCommand, artifactPattern string, detected *preset.Preset, err error) {
	if len(positionals) == 0 {
		return "", "", "", nil, &variation.ConfigError{Msg: "missing source directory or build command"}
	}
	if len(positionals) > 2 {
		return "", "", "", nil, &variation.ConfigError{Msg: fmt.Sprintf("unexpected arguments: %v", positionals[2:])}
	}

	if info, statErr := os.Stat(positionals[0]); statErr == nil && info.IsDir() {
		source = positionals[0]
		detected, err = preset.Detect(source, backendName)
		if err != nil {
			return "", "", "", nil, &variation.ConfigError{Msg: err.Error()}
		}
		buildCommand = detected.BuildCommand
		artifactPattern = detected.ArtifactPattern
		if len(positionals) == 2 {
			artifactPattern = positionals[1]
		}
		return source, buildCommand, artifactPattern, detected, nil
	}

	if len(positionals) != 2 {
		return "", "", "", nil, &variation.ConfigError{
			Msg: "an explicit build command needs an artifact pattern as the second argument"}
	}
	return sourceRoot, positionals[0], positionals[1], nil, nil
}

// resolveVariations folds the config directives and command-line
// directive lists into the final variation set.
func resolveVariations(registry *variation.Registry, cfg *config.Config, variationLists, varyLists []string) (*variation.Set, error) {
	configDirectives, err := variation.Parse(cfg.Variations)
	if err != nil {
		return nil, err
	}
	parseAll := func(lists []string) ([][]variation.Directive, error) {
		var parsed [][]variation.Directive
		for _, list := range lists {
			directives, err := variation.Parse(list)
			if err != nil {
				return nil, err
			}
			parsed = append(parsed, directives)
		}
		return parsed, nil
	}
	variations, err := parseAll(variationLists)
	if err != nil {
		return nil, err
	}
	vary, err := parseAll(varyLists)
	if err != nil {
		return nil, err
	}
	return variation.Resolve(registry, configDirectives, variations, vary)
}

// resolveBackend picks the backend: the --backend spec ("name args...")
// wins over the config file; arguments after "--" are appended.
func resolveBackend(cfg *config.Config, spec string, extra []string) (backend.Backend, []string, error) {
	name := cfg.Backend
	args := append([]string(nil), cfg.BackendArgs...)
	if spec != "" {
		words, err := shlex.Split(spec)
		if err != nil || len(words) == 0 {
			return nil, nil, &variation.ConfigError{Msg: fmt.Sprintf("invalid backend spec %q", spec)}
		}
		name = words[0]
		args = words[1:]
	}
	if name == "" {
		name = "local"
	}
	args = append(args, extra...)

	impl, err := backend.Open(name)
	if err != nil {
		return nil, nil, &variation.ConfigError{Msg: err.Error()}
	}
	return impl, args, nil
}

// splitBackendArgs separates the flags and positionals from the
// backend arguments after the first "--".
func splitBackendArgs(args []string) ([]string, []string) {
	for i, arg := range args {
		if arg == "--" {
			return args[:i], args[i+1:]
		}
	}
	return args, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

func firstNonZero(values ...int) int {
	for _, value := range values {
		if value != 0 {
			return value
		}
	}
	return 0
}

func firstNonZeroDuration(values ...time.Duration) time.Duration {
	for _, value := range values {
		if value != 0 {
			return value
		}
	}
	return 0
}
