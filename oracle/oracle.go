// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

// Package oracle decides whether two collected artifact directories
// are bit-identical and, when they are not, produces a diff report.
// The verdict always comes from the manifest comparison; external
// tools (diffoscope, falling back to diff) only enrich the report.
package oracle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/reprotools/reprocheck/artifact"
)

// Result is one comparison outcome.
type Result struct {
	// Equal is true when both directories fingerprint identically.
	Equal bool

	// Report is empty when Equal, otherwise a human-readable
	// explanation of the difference.
	Report string
}

// Options configures an Oracle.
type Options struct {
	// NoDiffoscope disables the external diffoscope report even when
	// the tool is installed.
	NoDiffoscope bool

	// DiffoscopeArgs are extra arguments passed through to
	// diffoscope.
	DiffoscopeArgs []string

	// LookPath resolves tool names; nil means exec.LookPath.
	LookPath func(name string) (string, error)

	// Logger receives diagnostics; nil means the default logger.
	Logger *slog.Logger
}

// Oracle compares artifact directories. Safe for concurrent use.
type Oracle struct {
	options Options
}

// New returns an oracle with the given options.
func New(options Options) *Oracle {
	if options.LookPath == nil {
		options.LookPath = exec.LookPath
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Oracle{options: options}
}

// Compare fingerprints both directories and reports whether they are
// identical. On a mismatch the report is diffoscope output when
// available, diff -ru output otherwise, and the manifest-level
// summary when neither tool exists.
func (o *Oracle) Compare(ctx context.Context, control, experiment string) (*Result, error) {
	controlManifest, err := artifact.Scan(control)
	if err != nil {
		return nil, fmt.Errorf("scanning control artifacts: %w", err)
	}
	experimentManifest, err := artifact.Scan(experiment)
	if err != nil {
		return nil, fmt.Errorf("scanning experiment artifacts: %w", err)
	}

	diff := controlManifest.Diff(experimentManifest)
	if diff.Empty() {
		return &Result{Equal: true}, nil
	}

	report, err := o.externalReport(ctx, control, experiment)
	if err != nil {
		return nil, err
	}
	if report == "" {
		report = diff.String()
	}
	return &Result{Report: report}, nil
}

func (o *Oracle) externalReport(ctx context.Context, control, experiment string) (string, error) {
	if !o.options.NoDiffoscope {
		if path, err := o.options.LookPath("diffoscope"); err == nil {
			args := []string{"--exclude-directory-metadata", "recursive"}
			args = append(args, o.options.DiffoscopeArgs...)
			args = append(args, control, experiment)
			return o.run(ctx, path, args)
		}
		o.options.Logger.Debug("diffoscope not found, falling back to diff")
	}
	if path, err := o.options.LookPath("diff"); err == nil {
		return o.run(ctx, path, []string{"-ru", control, experiment})
	}
	return "", nil
}

// run executes a diff tool. Exit 0 and 1 are the tool's same/differ
// verdicts and both yield the captured output; anything else is a
// tool failure.
func (o *Oracle) run(ctx context.Context, tool string, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, tool, args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) || exitErr.ExitCode() > 1 {
			return "", fmt.Errorf("%s %s: %w\n%s", tool, strings.Join(args, " "), err, output.String())
		}
	}
	return output.String(), nil
}
