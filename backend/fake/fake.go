// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

// Package fake provides an in-memory backend for orchestrator tests.
// Sessions stage into real temporary directories so artifact
// collection exercises the production code paths, but Run delegates to
// a test-supplied function instead of executing anything.
package fake

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/reprotools/reprocheck/backend"
)

// Backend is a configurable fake. The zero value is usable: every run
// succeeds and produces no output.
type Backend struct {
	// Concurrent is returned by SupportsConcurrent.
	Concurrent bool

	// StartErr, when set, is returned by Start.
	StartErr error

	// BuildFunc simulates a build command. It may write artifact
	// files into the session's scratch directory. Nil means exit 0
	// with no output.
	BuildFunc func(ctx context.Context, s *Session, argv, env []string) (*backend.RunResult, error)

	mu       sync.Mutex
	sessions []*Session
}

func (b *Backend) Name() string             { return "fake" }
func (b *Backend) SupportsConcurrent() bool { return b.Concurrent }

func (b *Backend) Start(ctx context.Context, args []string) (backend.Session, error) {
	if b.StartErr != nil {
		return nil, b.StartErr
	}
	scratch, err := os.MkdirTemp("", "reprocheck-fake-")
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &Session{backend: b, index: len(b.sessions), scratch: scratch}
	b.sessions = append(b.sessions, s)
	return s, nil
}

// Sessions returns every session started so far, in start order.
func (b *Backend) Sessions() []*Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Session(nil), b.sessions...)
}

// Session records everything the orchestrator did with it.
type Session struct {
	backend *Backend
	index   int
	scratch string

	mu        sync.Mutex
	runs      [][]string
	envs      [][]string
	staged    []string
	stopCount int
	preserved bool
}

// Index is the session's start order, 0-based.
func (s *Session) Index() int { return s.index }

// Runs returns the argv of every Run call.
func (s *Session) Runs() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.runs...)
}

// RunEnvs returns the environment of every Run call.
func (s *Session) RunEnvs() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.envs...)
}

// StopCount returns how many times Stop was called.
func (s *Session) StopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCount
}

// Preserved reports whether the last Stop asked to keep the scratch
// directory.
func (s *Session) Preserved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preserved
}

func (s *Session) ScratchDir() string { return s.scratch }

func (s *Session) Environ() []string {
	return []string{"PATH=/usr/bin:/bin", "HOME=/root"}
}

// StagedTrees returns the path of every tree staged into this session,
// in staging order. Build functions that simulate a relocating plan
// write their outputs here: the plan's cleanup restores a moved tree to
// its staged path before collection.
func (s *Session) StagedTrees() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.staged...)
}

func (s *Session) Stage(ctx context.Context, sourceTree, name string) (string, error) {
	staged := filepath.Join(s.scratch, name)
	if err := backend.CopyTree(sourceTree, staged); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.staged = append(s.staged, staged)
	s.mu.Unlock()
	return staged, nil
}

func (s *Session) Run(ctx context.Context, argv []string, env []string) (*backend.RunResult, error) {
	s.mu.Lock()
	if s.stopCount > 0 {
		s.mu.Unlock()
		return nil, errors.New("run after stop")
	}
	s.runs = append(s.runs, append([]string(nil), argv...))
	s.envs = append(s.envs, append([]string(nil), env...))
	s.mu.Unlock()

	if s.backend.BuildFunc == nil {
		return &backend.RunResult{}, nil
	}
	return s.backend.BuildFunc(ctx, s, argv, env)
}

func (s *Session) Collect(ctx context.Context, dir, pattern, dest string) ([]string, error) {
	return backend.CollectArtifacts(dir, pattern, dest)
}

func (s *Session) Stop(ctx context.Context, preserve bool) error {
	s.mu.Lock()
	s.stopCount++
	first := s.stopCount == 1
	s.preserved = preserve
	s.mu.Unlock()
	if !first {
		return fmt.Errorf("session %d stopped twice", s.index)
	}
	if preserve {
		return nil
	}
	return os.RemoveAll(s.scratch)
}
