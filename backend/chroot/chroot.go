// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

// Package chroot implements a backend that runs builds inside an
// existing chroot tree, given as the single backend argument. It needs
// root privilege and a chroot populated with a working toolchain; it
// offers filesystem isolation but shares the host kernel and network.
package chroot

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
	backend.Register(&chrootBackend{})
}

type chrootBackend struct{}

func (*chrootBackend) Name() string { return "chroot" }

// A single chroot tree has shared paths (/tmp, dpkg state), so
// concurrent builds inside it would trample each other.
func (*chrootBackend) SupportsConcurrent() bool { return false }

func (*chrootBackend) Start(ctx context.Context, args []string) (backend.Session, error) {
	if len(args) != 1 {
		return nil, errors.New("chroot backend requires exactly one argument: the chroot path")
	}
	root := args[0]
	if unix.Geteuid() != 0 {
		return nil, fmt.Errorf("%w: chroot requires root", backend.ErrUnavailable)
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a chroot directory", backend.ErrUnavailable, root)
	}
	if _, err := exec.LookPath("chroot"); err != nil {
		return nil, fmt.Errorf("%w: chroot tool not found", backend.ErrUnavailable)
	}

	hostScratch, err := os.MkdirTemp(filepath.Join(root, "tmp"), "reprocheck-")
	if err != nil {
		return nil, fmt.Errorf("creating scratch directory in chroot: %w", err)
	}
	inside, err := filepath.Rel(root, hostScratch)
	if err != nil {
		return nil, err
	}
	return &chrootSession{root: root, scratch: "/" + inside}, nil
}

type chrootSession struct {
	root    string // host path of the chroot
	scratch string // scratch dir as seen inside the chroot

	stopOnce sync.Once
	stopped  bool
}

// hostPath translates an inside-chroot path to the host view.
func (s *chrootSession) hostPath(inside string) string {
	return filepath.Join(s.root, inside)
}

func (s *chrootSession) ScratchDir() string { return s.scratch }

// Environ returns a minimal root environment; the host environment
// does not apply inside the chroot.
func (s *chrootSession) Environ() []string {
	return []string{
		"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
		"USER=root",
		"LOGNAME=root",
	}
}

func (s *chrootSession) Stage(ctx context.Context, sourceTree, name string) (string, error) {
	if s.stopped {
		return "", errors.New("session stopped")
	}
	staged := filepath.Join(s.scratch, name)
	if err := backend.CopyTree(sourceTree, s.hostPath(staged)); err != nil {
		return "", fmt.Errorf("staging %s into chroot: %w", sourceTree, err)
	}
	return staged, nil
}

func (s *chrootSession) Run(ctx context.Context, argv []string, env []string) (*backend.RunResult, error) {
	if s.stopped {
		return nil, errors.New("session stopped")
	}
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}

	full := append([]string{"chroot", s.root}, argv...)
	cmd := exec.Command(full[0], full[1:]...)
	cmd.Env = env
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting chroot command: %w", err)
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
		return nil, fmt.Errorf("chroot command: %w", ctx.Err())
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
		return nil, fmt.Errorf("running chroot command: %w", err)
	}
	return result, nil
}

func (s *chrootSession) Collect(ctx context.Context, dir, pattern, dest string) ([]string, error) {
	if s.stopped {
		return nil, errors.New("session stopped")
	}
	return backend.CollectArtifacts(s.hostPath(dir), pattern, dest)
}

func (s *chrootSession) Stop(ctx context.Context, preserve bool) error {
	var err error
	s.stopOnce.Do(func() {
		s.stopped = true
		if preserve {
			slog.Info("preserving chroot scratch directory", "path", s.hostPath(s.scratch))
			return
		}
		err = os.RemoveAll(s.hostPath(s.scratch))
	})
	return err
}
