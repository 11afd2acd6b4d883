// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

package bisect

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sort"
	"testing"
)

// culpritProber fails reproduction whenever every culprit is present
// in the probed subset, and counts real probe calls.
type culpritProber struct {
	culprits []string
	calls    int
	seen     map[string]int
}

func (p *culpritProber) Probe(ctx context.Context, subset []string) (bool, error) {
	p.calls++
	if p.seen == nil {
		p.seen = make(map[string]int)
	}
	p.seen[subsetKey(subset)]++

	present := make(map[string]bool, len(subset))
	for _, label := range subset {
		present[label] = true
	}
	for _, culprit := range p.culprits {
		if !present[culprit] {
			return true, nil
		}
	}
	return false, nil
}

func sorted(labels []string) []string {
	out := append([]string(nil), labels...)
	sort.Strings(out)
	return out
}

func TestSearchSingleCulprit(t *testing.T) {
	prober := &culpritProber{culprits: []string{"fileordering"}}
	labels := []string{"time", "umask", "fileordering", "locales", "home"}

	result, err := Search(context.Background(), labels, prober, Options{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if result.Inconclusive {
		t.Fatal("search was inconclusive")
	}
	if !reflect.DeepEqual(result.Culprits, []string{"fileordering"}) {
		t.Errorf("culprits = %v, want [fileordering]", result.Culprits)
	}
	// Halving should keep this well under an exhaustive scan.
	if result.Probes > 8 {
		t.Errorf("used %d probes for 5 labels, expected halving efficiency", result.Probes)
	}
}

func TestSearchInteractingPair(t *testing.T) {
	// Neither half contains both culprits, so pure halving stalls
	// and the remove-one fixpoint must take over.
	prober := &culpritProber{culprits: []string{"time", "umask"}}
	labels := []string{"time", "locales", "home", "umask", "kernel"}

	result, err := Search(context.Background(), labels, prober, Options{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if result.Inconclusive {
		t.Fatal("search was inconclusive")
	}
	if !reflect.DeepEqual(sorted(result.Culprits), []string{"time", "umask"}) {
		t.Errorf("culprits = %v, want time and umask", result.Culprits)
	}
}

func TestSearchMemoizesProbes(t *testing.T) {
	prober := &culpritProber{culprits: []string{"x"}}
	_, err := Search(context.Background(), []string{"a", "b", "x", "c"}, prober, Options{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for key, count := range prober.seen {
		if count > 1 {
			t.Errorf("subset %q probed %d times, memoization failed", key, count)
		}
	}
}

func TestSearchBudgetExhaustion(t *testing.T) {
	prober := &culpritProber{culprits: []string{"x"}}
	labels := []string{"a", "b", "x", "c", "d", "e"}

	result, err := Search(context.Background(), labels, prober, Options{MaxProbes: 2})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !result.Inconclusive {
		t.Fatal("expected an inconclusive result under a tiny budget")
	}
	if result.Probes > 2 {
		t.Errorf("spent %d probes, budget was 2", result.Probes)
	}
	// The partial result must still be a failing subset containing
	// the culprit.
	found := false
	for _, label := range result.Culprits {
		if label == "x" {
			found = true
		}
	}
	if !found {
		t.Errorf("partial subset %v lost the culprit", result.Culprits)
	}
}

func TestSearchRejectsFlakyMismatch(t *testing.T) {
	alwaysReproduced := ProberFunc(func(ctx context.Context, subset []string) (bool, error) {
		return true, nil
	})
	if _, err := Search(context.Background(), []string{"a", "b"}, alwaysReproduced, Options{}); err == nil {
		t.Error("a full set that reproduces should be an error, not a result")
	}
}

func TestSearchPropagatesProbeError(t *testing.T) {
	boom := errors.New("backend fell over")
	failing := ProberFunc(func(ctx context.Context, subset []string) (bool, error) {
		return false, boom
	})
	_, err := Search(context.Background(), []string{"a", "b"}, failing, Options{})
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want wrapped probe error", err)
	}
}

func TestCachePersistsAcrossSearches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "probes.cbor")
	cache, err := LoadCache(path)
	if err != nil {
		t.Fatalf("LoadCache: %v", err)
	}

	labels := []string{"a", "b", "x", "c"}
	first := &culpritProber{culprits: []string{"x"}}
	if _, err := Search(context.Background(), labels, first, Options{Cache: cache}); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if err := cache.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := LoadCache(path)
	if err != nil {
		t.Fatalf("LoadCache reloaded: %v", err)
	}
	if reloaded.Len() != cache.Len() {
		t.Fatalf("reloaded %d entries, saved %d", reloaded.Len(), cache.Len())
	}

	// With a warm cache the rerun must not probe at all.
	cold := ProberFunc(func(ctx context.Context, subset []string) (bool, error) {
		return false, errors.New("probe called despite warm cache")
	})
	result, err := Search(context.Background(), labels, cold, Options{Cache: reloaded})
	if err != nil {
		t.Fatalf("Search with warm cache: %v", err)
	}
	if result.Probes != 0 {
		t.Errorf("warm-cache search spent %d probes, want 0", result.Probes)
	}
	if !reflect.DeepEqual(result.Culprits, []string{"x"}) {
		t.Errorf("culprits = %v, want [x]", result.Culprits)
	}
}
