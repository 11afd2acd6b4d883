// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

package check

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/reprotools/reprocheck/backend"
	"github.com/reprotools/reprocheck/backend/fake"
	"github.com/reprotools/reprocheck/bisect"
	"github.com/reprotools/reprocheck/lib/clock"
	"github.com/reprotools/reprocheck/variation"
)

func noTools(name string) (string, error) { return "", errors.New("not found") }

func sourceTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.c"), []byte("int main(){}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

// envValue extracts one variable from a KEY=VALUE list.
func envValue(env []string, name string) string {
	for _, entry := range env {
		if value, ok := strings.CutPrefix(entry, name+"="); ok {
			return value
		}
	}
	return ""
}

// buildTree returns the session's staged tree. The fake backend
// records the plan's relocation commands instead of executing them,
// and a real plan's cleanup moves a relocated tree back to its staged
// path before collection, so writing into the staged tree reproduces a
// real build's net effect.
func buildTree(t *testing.T, s *fake.Session) (string, error) {
	staged := s.StagedTrees()
	if len(staged) == 0 {
		t.Error("build invoked before staging")
		return "", errors.New("no staged tree")
	}
	return staged[0], nil
}

// writeArtifact is a BuildFunc body: it drops content into the build
// tree the way a real build command would.
func writeArtifact(t *testing.T, s *fake.Session, content string) error {
	tree, err := buildTree(t, s)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(tree, "out.bin"), []byte(content), 0o644)
}

func testOptions(t *testing.T, b backend.Backend) Options {
	t.Helper()
	registry := variation.Builtin()
	return Options{
		Registry:        registry,
		Set:             registry.Defaults(),
		Backend:         b,
		Source:          sourceTree(t),
		BuildCommand:    "true",
		ArtifactPattern: "*.bin",
		Seed:            7,
		NumCPUs:         4,
		LookPath:        noTools,
	}
}

func TestRunReproducible(t *testing.T) {
	fakeBackend := &fake.Backend{
		BuildFunc: func(ctx context.Context, s *fake.Session, argv, env []string) (*backend.RunResult, error) {
			return &backend.RunResult{}, writeArtifact(t, s, "stable output")
		},
	}

	result, err := Run(context.Background(), testOptions(t, fakeBackend))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Reproducible {
		t.Errorf("identical outputs judged not reproducible:\n%s", result.Report)
	}

	sessions := fakeBackend.Sessions()
	if len(sessions) != 2 {
		t.Fatalf("started %d sessions, want 2 (control + experiment)", len(sessions))
	}
	for _, session := range sessions {
		if session.StopCount() != 1 {
			t.Errorf("session %d stopped %d times, want exactly once", session.Index(), session.StopCount())
		}
		if session.Preserved() {
			t.Errorf("session %d preserved on a clean run", session.Index())
		}
	}
}

func TestRunDetectsMismatch(t *testing.T) {
	// The build output depends on TZ, which the timezone variation
	// perturbs between roles.
	fakeBackend := &fake.Backend{
		BuildFunc: func(ctx context.Context, s *fake.Session, argv, env []string) (*backend.RunResult, error) {
			return &backend.RunResult{}, writeArtifact(t, s, envValue(env, "TZ"))
		},
	}

	result, err := Run(context.Background(), testOptions(t, fakeBackend))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Reproducible {
		t.Fatal("TZ-dependent output judged reproducible")
	}
	if result.MismatchedRole != 1 {
		t.Errorf("MismatchedRole = %d, want 1", result.MismatchedRole)
	}
	if !strings.Contains(result.Report, "out.bin") {
		t.Errorf("report does not name the differing artifact:\n%s", result.Report)
	}
}

func TestRunBuildFailure(t *testing.T) {
	fakeBackend := &fake.Backend{
		BuildFunc: func(ctx context.Context, s *fake.Session, argv, env []string) (*backend.RunResult, error) {
			return &backend.RunResult{ExitCode: 2, Stderr: []byte("cc: no input files")}, nil
		},
	}
	options := testOptions(t, fakeBackend)
	options.NoCleanOnError = true

	_, err := Run(context.Background(), options)
	var buildErr *BuildFailedError
	if !errors.As(err, &buildErr) {
		t.Fatalf("error = %v, want *BuildFailedError", err)
	}
	if buildErr.Role != 0 || buildErr.ExitCode != 2 {
		t.Errorf("BuildFailedError = %+v", buildErr)
	}

	sessions := fakeBackend.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("started %d sessions, want 1 (experiments skipped after control fails)", len(sessions))
	}
	if sessions[0].StopCount() != 1 || !sessions[0].Preserved() {
		t.Error("failing session should be stopped once and preserved under NoCleanOnError")
	}
	os.RemoveAll(sessions[0].ScratchDir())
}

func TestRunZeroArtifactsIsError(t *testing.T) {
	// The build succeeds but writes nothing matching the pattern.
	fakeBackend := &fake.Backend{
		BuildFunc: func(ctx context.Context, s *fake.Session, argv, env []string) (*backend.RunResult, error) {
			tree, err := buildTree(t, s)
			if err != nil {
				return nil, err
			}
			return &backend.RunResult{}, os.WriteFile(filepath.Join(tree, "build.log"), []byte("noise"), 0o644)
		},
	}
	_, err := Run(context.Background(), testOptions(t, fakeBackend))
	var stagingErr *backend.StagingError
	if !errors.As(err, &stagingErr) {
		t.Fatalf("error = %v, want *backend.StagingError", err)
	}
	if !strings.Contains(stagingErr.Msg, "no artifacts") {
		t.Errorf("error = %v, want a zero-artifact collection failure", err)
	}
}

func TestRunBuildTimeout(t *testing.T) {
	fakeClock := clock.Fake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	fakeBackend := &fake.Backend{
		BuildFunc: func(ctx context.Context, s *fake.Session, argv, env []string) (*backend.RunResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	options := testOptions(t, fakeBackend)
	options.Clock = fakeClock
	options.BuildTimeout = 10 * time.Minute

	done := make(chan error, 1)
	go func() {
		_, err := Run(context.Background(), options)
		done <- err
	}()

	for {
		select {
		case err := <-done:
			if err == nil || !strings.Contains(err.Error(), "timeout") {
				t.Fatalf("error = %v, want a timeout", err)
			}
			return
		default:
			fakeClock.Advance(time.Hour)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestRunSummarizesCoverage(t *testing.T) {
	fakeBackend := &fake.Backend{
		BuildFunc: func(ctx context.Context, s *fake.Session, argv, env []string) (*backend.RunResult, error) {
			return &backend.RunResult{}, writeArtifact(t, s, "stable")
		},
	}

	result, err := Run(context.Background(), testOptions(t, fakeBackend))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	exercised := make(map[string]bool)
	for _, name := range result.Exercised {
		exercised[name] = true
	}
	// Tool-free variations perturb even with no tools installed.
	for _, want := range []string{"timezone", "umask", "home", "environment"} {
		if !exercised[want] {
			t.Errorf("%s missing from exercised set %v", want, result.Exercised)
		}
	}
	// Tool-dependent variations are reported as skipped with noTools.
	for _, want := range []string{"fileordering", "kernel", "time", "num_cpus"} {
		if result.Skipped[want] == "" {
			t.Errorf("%s missing from skipped map %v", want, result.Skipped)
		}
	}
}

func TestRunStoresArtifacts(t *testing.T) {
	fakeBackend := &fake.Backend{
		BuildFunc: func(ctx context.Context, s *fake.Session, argv, env []string) (*backend.RunResult, error) {
			return &backend.RunResult{}, writeArtifact(t, s, "stored")
		},
	}
	options := testOptions(t, fakeBackend)
	options.StoreDir = filepath.Join(t.TempDir(), "store")

	if _, err := Run(context.Background(), options); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, path := range []string{
		filepath.Join("role-0", "out.bin"),
		filepath.Join("role-1", "out.bin"),
		"role-0.b3sums",
		"role-1.b3sums",
	} {
		if _, err := os.Stat(filepath.Join(options.StoreDir, path)); err != nil {
			t.Errorf("stored artifact missing: %v", err)
		}
	}
}

func TestRunRejectsDirtyStoreDir(t *testing.T) {
	storeDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(storeDir, "stale"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	options := testOptions(t, &fake.Backend{})
	options.StoreDir = storeDir

	_, err := Run(context.Background(), options)
	var configErr *variation.ConfigError
	if !errors.As(err, &configErr) {
		t.Errorf("error = %v, want *variation.ConfigError for a dirty store dir", err)
	}
}

func TestRunExtraBuilds(t *testing.T) {
	fakeBackend := &fake.Backend{
		BuildFunc: func(ctx context.Context, s *fake.Session, argv, env []string) (*backend.RunResult, error) {
			return &backend.RunResult{}, writeArtifact(t, s, "stable")
		},
	}
	options := testOptions(t, fakeBackend)
	options.ExtraBuilds = 2

	result, err := Run(context.Background(), options)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Reproducible {
		t.Error("stable output judged not reproducible")
	}
	if got := len(fakeBackend.Sessions()); got != 4 {
		t.Errorf("started %d sessions, want 4 (control + 3 experiments)", got)
	}
}

func TestRunDisabledVariationsAreReproducible(t *testing.T) {
	// With every variation disabled the baselines apply to all roles.
	// A build whose output records HOME and the build tree path must
	// still match between control and experiment: both values are
	// pinned to role-invariant strings, even though each role runs in
	// its own session with its own scratch directory.
	fakeBackend := &fake.Backend{
		BuildFunc: func(ctx context.Context, s *fake.Session, argv, env []string) (*backend.RunResult, error) {
			content := envValue(env, "HOME") + "\n" + envValue(env, "REPROCHECK_BUILD_PATH") + "\n"
			return &backend.RunResult{}, writeArtifact(t, s, content)
		},
	}
	options := testOptions(t, fakeBackend)
	options.Set = options.Set.WithOnly(nil)

	result, err := Run(context.Background(), options)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Reproducible {
		t.Errorf("baseline-only build judged not reproducible:\n%s", result.Report)
	}
}

func TestEnvProberIsolatesVariable(t *testing.T) {
	// The build output depends on HOME only; the sweep must clear
	// PATH and convict HOME.
	fakeBackend := &fake.Backend{
		BuildFunc: func(ctx context.Context, s *fake.Session, argv, env []string) (*backend.RunResult, error) {
			return &backend.RunResult{}, writeArtifact(t, s, envValue(env, "HOME"))
		},
	}
	options := testOptions(t, fakeBackend)

	result, err := bisect.Search(context.Background(),
		[]string{"PATH", "HOME"}, EnvProber(options), bisect.Options{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !reflect.DeepEqual(result.Culprits, []string{"HOME"}) {
		t.Errorf("culprits = %v, want [HOME]", result.Culprits)
	}
}

func TestProberIsolatesCulprit(t *testing.T) {
	fakeBackend := &fake.Backend{
		BuildFunc: func(ctx context.Context, s *fake.Session, argv, env []string) (*backend.RunResult, error) {
			return &backend.RunResult{}, writeArtifact(t, s, envValue(env, "TZ"))
		},
	}
	options := testOptions(t, fakeBackend)

	result, err := bisect.Search(context.Background(),
		[]string{"timezone", "home", "umask", "environment"},
		Prober(options), bisect.Options{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if result.Inconclusive {
		t.Fatal("search inconclusive")
	}
	if !reflect.DeepEqual(result.Culprits, []string{"timezone"}) {
		t.Errorf("culprits = %v, want [timezone]", result.Culprits)
	}
}
