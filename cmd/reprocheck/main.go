// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

// reprocheck verifies that building a source tree twice, under
// deliberately perturbed environments, produces bit-identical
// artifacts.
//
// Usage:
//
//	reprocheck check [flags] <source-dir|build-command> [artifact-pattern] [-- backend args...]
//	reprocheck print-sudoers [flags]
//	reprocheck orderfs --seed=N <source> <mountpoint>
//
// A bare invocation without a subcommand is treated as "check".
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/reprotools/reprocheck/backend"
	"github.com/reprotools/reprocheck/lib/process"
	"github.com/reprotools/reprocheck/variation"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("REPROCHECK_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(process.ExitUsage)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "check":
		err = checkCmd(args, logger)
	case "orderfs":
		err = orderfsCmd(args, logger)
	case "print-sudoers":
		err = sudoersCmd(args)
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		// No subcommand: the whole command line is a check.
		err = checkCmd(os.Args[1:], logger)
	}

	if err != nil {
		os.Exit(exitCode(err))
	}
}

// exitError carries a specific exit code without an error message
// (the command already printed its own output).
type exitError struct {
	code int
}

func (e exitError) Error() string { return fmt.Sprintf("exit %d", e.code) }
func (e exitError) ExitCode() int { return e.code }

func exitCode(err error) int {
	// Only our own exitError is a verdict. Matching any ExitCode()
	// carrier would also catch *exec.ExitError wrapped inside failure
	// reports, turning a crashed helper's exit status into a verdict.
	var coded exitError
	if errors.As(err, &coded) {
		return coded.code
	}

	fmt.Fprintf(os.Stderr, "error: %v\n", err)

	var configErr *variation.ConfigError
	var stagingErr *backend.StagingError
	if errors.As(err, &configErr) || errors.As(err, &stagingErr) ||
		errors.Is(err, backend.ErrUnavailable) {
		return process.ExitUsage
	}
	// Build failures, backend failures, and everything unexpected.
	return process.ExitFailure
}

func printUsage() {
	fmt.Fprint(os.Stderr, `reprocheck - verify that builds are reproducible

Usage:
  reprocheck check [flags] <source-dir|build-command> [artifact-pattern] [-- backend args...]
  reprocheck print-sudoers [--user USER[:GROUP]]...
  reprocheck orderfs --seed=N <source> <mountpoint>

Run "reprocheck check --help" for the check flags.

Exit codes:
  0  artifacts are reproducible
  1  artifacts are not reproducible
  2  usage or configuration error
  3  build or backend failure
`)
}
