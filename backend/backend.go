// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnavailable is returned by Start when the backend cannot run on
// this host (missing tool, insufficient privilege). The caller reports
// it as a configuration problem, not a build failure.
var ErrUnavailable = errors.New("backend unavailable on this host")

// StagingError reports a staging or collection problem that points at
// the invocation rather than the build: most commonly an artifact
// pattern that matched nothing after a successful build. Callers treat
// it as a configuration error.
type StagingError struct {
	Msg string
}

func (e *StagingError) Error() string { return e.Msg }

// RunResult captures one command execution inside a session.
type RunResult struct {
	// ExitCode is the command's exit status; 128+signal when the
	// command died to a signal.
	ExitCode int

	// Stdout and Stderr are the captured output streams.
	Stdout []byte
	Stderr []byte
}

// Session is one started build environment. Sessions are single-use:
// after Stop the session is gone and every other method errors.
// Methods on one session are not safe for concurrent use; run
// concurrent builds in separate sessions.
type Session interface {
	// ScratchDir is the session-private writable directory, in the
	// path view the build commands will see.
	ScratchDir() string

	// Environ returns the base environment builds start from, before
	// plan mutations are applied.
	Environ() []string

	// Stage copies sourceTree into the scratch directory under name
	// and returns the staged tree's path in the build's view.
	Stage(ctx context.Context, sourceTree, name string) (string, error)

	// Run executes argv inside the session with the given
	// environment. A non-zero exit is reported in the result, not as
	// an error; the error covers failures to execute at all.
	Run(ctx context.Context, argv []string, env []string) (*RunResult, error)

	// Collect copies artifacts matching pattern (a path/filepath glob
	// relative to dir) out of the session into the host directory
	// dest. Zero matches is an error: a build that produced nothing
	// to compare is a failed build.
	Collect(ctx context.Context, dir, pattern, dest string) ([]string, error)

	// Stop tears the session down. With preserve set, the scratch
	// directory is left in place for inspection and its path is
	// logged. Callers stop a session exactly once.
	Stop(ctx context.Context, preserve bool) error
}

// Backend creates sessions. Implementations must be safe for
// concurrent Start calls.
type Backend interface {
	// Name is the registry key, as given on the command line.
	Name() string

	// SupportsConcurrent reports whether multiple sessions may run
	// builds at the same time without interfering.
	SupportsConcurrent() bool

	// Start launches a new session. args are the backend-specific
	// arguments from the command line (after "--").
	Start(ctx context.Context, args []string) (Session, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Backend)
)

// Register makes a backend available to Open. Called from init
// functions; duplicate names are a programming error.
func Register(b Backend) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[b.Name()]; exists {
		panic("backend: duplicate registration of " + b.Name())
	}
	registry[b.Name()] = b
}

// Open returns the backend registered under name.
func Open(name string) (Backend, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	b, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q (available: %v)", name, names())
	}
	return b, nil
}

// Names returns all registered backend names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return names()
}

func names() []string {
	all := make([]string, 0, len(registry))
	for name := range registry {
		all = append(all, name)
	}
	sort.Strings(all)
	return all
}
