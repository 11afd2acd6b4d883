// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

// Package artifact fingerprints collected build outputs. A [Manifest]
// records every file under a directory with its BLAKE3 content hash,
// size, and mode; two manifests compare structurally, yielding the
// added/removed/modified sets that drive the reproducibility verdict
// and the diff report. The package also writes checksum files and
// zstd-compressed tar archives for the artifact store.
package artifact
