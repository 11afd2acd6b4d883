// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

// Package bisect searches for the minimal subset of labels whose
// presence breaks reproducibility. The caller supplies a [Prober]
// that rebuilds with only the given subset enabled; the search
// memoizes probe outcomes, shrinks by halving while a half still
// fails, and falls back to a remove-one fixpoint pass that also finds
// multi-label interactions. A probe budget bounds the total cost.
package bisect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// DefaultMaxProbes bounds the number of real (non-memoized) probes a
// search may spend before giving up as inconclusive.
const DefaultMaxProbes = 64

// Prober rebuilds with exactly the given labels enabled and reports
// whether the result was reproducible.
type Prober interface {
	Probe(ctx context.Context, subset []string) (reproduced bool, err error)
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, subset []string) (bool, error)

func (f ProberFunc) Probe(ctx context.Context, subset []string) (bool, error) {
	return f(ctx, subset)
}

// Options tunes a search.
type Options struct {
	// MaxProbes is the real-probe budget. Zero means
	// DefaultMaxProbes.
	MaxProbes int

	// Cache, when non-nil, persists probe outcomes across
	// invocations.
	Cache *Cache

	// Logger receives per-probe progress. Nil means the default
	// logger.
	Logger *slog.Logger
}

// Result is a search outcome.
type Result struct {
	// Culprits is the minimal failing subset found: probing it is
	// not reproducible, and removing any single label from it is.
	// When Inconclusive, it is the smallest failing subset reached
	// before the budget ran out.
	Culprits []string

	// Probes is the number of real probes spent.
	Probes int

	// Inconclusive is set when the probe budget ran out before the
	// minimal subset was isolated.
	Inconclusive bool
}

var errBudget = errors.New("probe budget exhausted")

// Search isolates the minimal failing subset of labels. The full label
// set is verified first: if it probes as reproducible the mismatch is
// flaky and the search errors rather than chasing noise.
func Search(ctx context.Context, labels []string, prober Prober, options Options) (*Result, error) {
	if len(labels) == 0 {
		return nil, errors.New("bisect: no labels to search")
	}
	if options.MaxProbes == 0 {
		options.MaxProbes = DefaultMaxProbes
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	s := &searcher{prober: prober, options: options, memo: make(map[string]bool)}

	reproduced, err := s.probe(ctx, labels)
	if err != nil {
		return nil, err
	}
	if reproduced {
		return nil, errors.New("bisect: the full variation set probed as reproducible; " +
			"the original mismatch is not stable enough to bisect")
	}

	current := append([]string(nil), labels...)
	for {
		next, err := s.shrink(ctx, current)
		switch {
		case errors.Is(err, errBudget):
			return &Result{Culprits: current, Probes: s.probes, Inconclusive: true}, nil
		case err != nil:
			return nil, err
		case next == nil:
			return &Result{Culprits: current, Probes: s.probes}, nil
		}
		current = next
	}
}

type searcher struct {
	prober  Prober
	options Options
	memo    map[string]bool
	probes  int
}

// shrink returns a strictly smaller failing subset, or nil when
// current is already minimal.
func (s *searcher) shrink(ctx context.Context, current []string) ([]string, error) {
	// Halving first: when a single half still fails this discards
	// half the candidates for one probe.
	if len(current) > 1 {
		middle := len(current) / 2
		for _, half := range [][]string{current[:middle], current[middle:]} {
			reproduced, err := s.probe(ctx, half)
			if err != nil {
				return nil, err
			}
			if !reproduced {
				return half, nil
			}
		}
	}
	// Neither half fails alone, so the failure needs labels from
	// both: drop one label at a time until a fixpoint.
	for i := range current {
		if len(current) == 1 {
			break
		}
		candidate := without(current, i)
		reproduced, err := s.probe(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if !reproduced {
			return candidate, nil
		}
	}
	return nil, nil
}

func (s *searcher) probe(ctx context.Context, subset []string) (bool, error) {
	key := subsetKey(subset)
	if reproduced, ok := s.memo[key]; ok {
		return reproduced, nil
	}
	if s.options.Cache != nil {
		if reproduced, ok := s.options.Cache.get(key); ok {
			s.memo[key] = reproduced
			return reproduced, nil
		}
	}

	if s.probes >= s.options.MaxProbes {
		return false, errBudget
	}
	s.probes++
	s.options.Logger.Info("probing variation subset",
		"probe", s.probes, "budget", s.options.MaxProbes, "subset", key)

	reproduced, err := s.prober.Probe(ctx, subset)
	if err != nil {
		return false, fmt.Errorf("probing subset %s: %w", key, err)
	}
	s.memo[key] = reproduced
	if s.options.Cache != nil {
		s.options.Cache.put(key, reproduced)
	}
	return reproduced, nil
}

// subsetKey is the canonical memoization key: sorted labels joined
// with commas, so probe order never defeats the cache.
func subsetKey(subset []string) string {
	sorted := append([]string(nil), subset...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func without(labels []string, index int) []string {
	result := make([]string, 0, len(labels)-1)
	result = append(result, labels[:index]...)
	return append(result, labels[index+1:]...)
}
