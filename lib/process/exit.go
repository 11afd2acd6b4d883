// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// Process exit codes for the reprocheck binary. These are part of the
// CLI contract: scripts branch on them, so the values never change.
const (
	// ExitReproducible means every experiment build matched the
	// control build byte for byte.
	ExitReproducible = 0

	// ExitNotReproducible means at least one experiment build
	// differed from the control build. This is the expected
	// positive-detection outcome, not an error.
	ExitNotReproducible = 1

	// ExitUsage means a command-line or configuration error: bad
	// variation spec syntax, unknown variation, conflicting plan
	// fragments, invalid flags.
	ExitUsage = 2

	// ExitFailure means the build command or the backend itself
	// failed, so reproducibility could not be evaluated at all.
	ExitFailure = 3
)

// Fatal writes "error: err" to stderr and exits with the given code.
// This is the standard reprocheck entrypoint error handler; use it in
// main() for errors from run() where the structured logger may not be
// initialized.
func Fatal(err error, code int) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(code)
}

// ExitCode extracts the exit status from an error returned by
// exec.Cmd.Wait. Signal deaths map to 128+signal, matching shell
// convention. Errors that are not exit errors map to -1 so callers can
// distinguish "ran and failed" from "never ran".
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
		return exitErr.ExitCode()
	}
	return -1
}
