// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/reprotools/reprocheck/backend"
	"github.com/reprotools/reprocheck/lib/process"
	"github.com/reprotools/reprocheck/variation"
)

// processExit mimics *exec.ExitError: any error carrying a child's
// exit status. Such errors ride inside failure reports and must never
// be mistaken for a verdict.
type processExit struct {
	code int
}

func (e *processExit) Error() string { return fmt.Sprintf("exit status %d", e.code) }
func (e *processExit) ExitCode() int { return e.code }

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "verdict not reproducible",
			err:  exitError{code: process.ExitNotReproducible},
			want: process.ExitNotReproducible,
		},
		{
			name: "wrapped verdict",
			err:  fmt.Errorf("check: %w", exitError{code: process.ExitNotReproducible}),
			want: process.ExitNotReproducible,
		},
		{
			// A failed testbed-pre hook wraps the child's exit status;
			// the child exiting 1 does not mean "not reproducible".
			name: "hook failure with child exit 1",
			err:  fmt.Errorf("testbed-pre: %w", &processExit{code: 1}),
			want: process.ExitFailure,
		},
		{
			// A crashed diff tool exits 2; that is not a usage error.
			name: "diff tool crash with exit 2",
			err:  fmt.Errorf("comparing artifacts: %w", &processExit{code: 2}),
			want: process.ExitFailure,
		},
		{
			name: "config error",
			err:  &variation.ConfigError{Msg: "no build command given"},
			want: process.ExitUsage,
		},
		{
			name: "backend unavailable",
			err:  fmt.Errorf("starting backend: %w", backend.ErrUnavailable),
			want: process.ExitUsage,
		},
		{
			name: "zero artifact matches",
			err:  fmt.Errorf("collecting artifacts: %w", &backend.StagingError{Msg: "no artifacts matching \"*.deb\""}),
			want: process.ExitUsage,
		},
		{
			name: "unexpected error",
			err:  errors.New("disk full"),
			want: process.ExitFailure,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := exitCode(test.err); got != test.want {
				t.Errorf("exitCode(%v) = %d, want %d", test.err, got, test.want)
			}
		})
	}
}
