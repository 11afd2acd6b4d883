// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

// Package local implements the default backend: builds run directly on
// the host, each session confined to a private temporary scratch
// directory. It provides no isolation beyond the scratch directory;
// variations are the only perturbation applied.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/reprotools/reprocheck/backend"
)

func init() {
	backend.Register(&localBackend{})
}

type localBackend struct{}

func (*localBackend) Name() string { return "local" }

// Sessions share the host, but each scratch directory is private, so
// concurrent builds only contend for CPU.
func (*localBackend) SupportsConcurrent() bool { return true }

func (*localBackend) Start(ctx context.Context, args []string) (backend.Session, error) {
	if len(args) > 0 {
		return nil, fmt.Errorf("local backend takes no arguments, got %v", args)
	}
	scratch, err := os.MkdirTemp("", "reprocheck-")
	if err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}
	return &localSession{scratch: scratch}, nil
}

type localSession struct {
	scratch string

	stopOnce sync.Once
	stopped  bool
}

func (s *localSession) ScratchDir() string { return s.scratch }

func (s *localSession) Environ() []string { return os.Environ() }

func (s *localSession) Stage(ctx context.Context, sourceTree, name string) (string, error) {
	if s.stopped {
		return "", errors.New("session stopped")
	}
	staged := filepath.Join(s.scratch, name)
	if err := backend.CopyTree(sourceTree, staged); err != nil {
		return "", fmt.Errorf("staging %s: %w", sourceTree, err)
	}
	return staged, nil
}

func (s *localSession) Run(ctx context.Context, argv []string, env []string) (*backend.RunResult, error) {
	if s.stopped {
		return nil, errors.New("session stopped")
	}
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = s.scratch
	cmd.Env = env
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// A fresh process group so cancellation kills the whole build
	// tree, not just the shell.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", argv[0], err)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
		case <-done:
		}
	}()
	err := cmd.Wait()
	close(done)

	if ctx.Err() != nil {
		return nil, fmt.Errorf("command %s: %w", argv[0], ctx.Err())
	}
	result := &backend.RunResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		status := exitErr.Sys().(syscall.WaitStatus)
		if status.Signaled() {
			result.ExitCode = 128 + int(status.Signal())
		} else {
			result.ExitCode = status.ExitStatus()
		}
	default:
		return nil, fmt.Errorf("running %s: %w", argv[0], err)
	}
	return result, nil
}

func (s *localSession) Collect(ctx context.Context, dir, pattern, dest string) ([]string, error) {
	if s.stopped {
		return nil, errors.New("session stopped")
	}
	return backend.CollectArtifacts(dir, pattern, dest)
}

func (s *localSession) Stop(ctx context.Context, preserve bool) error {
	var err error
	s.stopOnce.Do(func() {
		s.stopped = true
		if preserve {
			slog.Info("preserving scratch directory", "path", s.scratch)
			return
		}
		err = os.RemoveAll(s.scratch)
	})
	return err
}
