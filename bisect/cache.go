// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

package bisect

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Cache persists probe outcomes so a rerun of the same bisection
// (after a crash, or with a widened budget) does not repeat builds.
// Entries are keyed by canonical subset and stored as CBOR.
type Cache struct {
	path string

	mu      sync.Mutex
	entries map[string]bool
	dirty   bool
}

// LoadCache reads the cache at path, or returns an empty cache bound
// to that path when the file does not exist yet.
func LoadCache(path string) (*Cache, error) {
	cache := &Cache{path: path, entries: make(map[string]bool)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cache, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading probe cache: %w", err)
	}
	if err := cbor.Unmarshal(data, &cache.entries); err != nil {
		return nil, fmt.Errorf("decoding probe cache %s: %w", path, err)
	}
	return cache, nil
}

// Save writes the cache back atomically. A no-op when nothing changed
// since load.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}
	data, err := cbor.Marshal(c.entries)
	if err != nil {
		return fmt.Errorf("encoding probe cache: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".probe-cache-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	c.dirty = false
	return nil
}

// Len returns the number of cached outcomes.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) get(key string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	reproduced, ok := c.entries[key]
	return reproduced, ok
}

func (c *Cache) put(key string, reproduced bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = reproduced
	c.dirty = true
}
