// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

package check

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/reprotools/reprocheck/artifact"
	"github.com/reprotools/reprocheck/backend"
)

// store persists every role's collected artifacts and a BLAKE3
// checksum manifest into the store directory, either as plain
// directory copies or as zstd tar archives.
func (r *runner) store(roles []*roleOutcome) error {
	if err := os.MkdirAll(r.options.StoreDir, 0o755); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}
	for _, outcome := range roles {
		name := fmt.Sprintf("role-%d", outcome.role)

		if r.options.StoreArchive {
			dest := filepath.Join(r.options.StoreDir, name+".tar.zst")
			if err := artifact.Archive(outcome.artifactDir, dest); err != nil {
				return fmt.Errorf("archiving %s artifacts: %w", name, err)
			}
		} else {
			if err := backend.CopyTree(outcome.artifactDir, filepath.Join(r.options.StoreDir, name)); err != nil {
				return fmt.Errorf("storing %s artifacts: %w", name, err)
			}
		}

		manifest, err := artifact.Scan(outcome.artifactDir)
		if err != nil {
			return fmt.Errorf("fingerprinting %s artifacts: %w", name, err)
		}
		sums, err := os.Create(filepath.Join(r.options.StoreDir, name+".b3sums"))
		if err != nil {
			return err
		}
		if err := manifest.WriteSums(sums); err != nil {
			sums.Close()
			return err
		}
		if err := sums.Close(); err != nil {
			return err
		}
	}
	r.options.Logger.Info("artifacts stored", "dir", r.options.StoreDir, "roles", len(roles))
	return nil
}
