// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest of one artifact's content.
type Hash [32]byte

// String returns the lowercase hex encoding.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// fileDomainKey is the BLAKE3 keyed-hashing key for artifact file
// content. The bytes are the ASCII domain name zero-padded to 32
// bytes, so the key is recognizable in a debugger while still giving
// domain separation from any other keyed BLAKE3 use.
var fileDomainKey = [32]byte{
	'r', 'e', 'p', 'r', 'o', 'c', 'h', 'e', 'c', 'k', '.',
	'a', 'r', 't', 'i', 'f', 'a', 'c', 't', '.', 'f', 'i', 'l', 'e',
}

// Entry is one file in a manifest. Path is slash-separated and
// relative to the manifest root; Link is the target for symlinks, in
// which case Hash covers the target string rather than file content.
type Entry struct {
	Path string
	Size int64
	Mode fs.FileMode
	Hash Hash
	Link string
}

// Manifest is the fingerprint of one collected artifact directory.
// Entries are sorted by path.
type Manifest struct {
	Root    string
	Entries []Entry
}

// Scan walks root and fingerprints every regular file and symlink.
// Directories themselves are not entries: an empty directory does not
// distinguish two builds.
func Scan(root string) (*Manifest, error) {
	manifest := &Manifest{Root: root}
	err := filepath.WalkDir(root, func(path string, dirEntry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if dirEntry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := dirEntry.Info()
		if err != nil {
			return err
		}
		entry := Entry{
			Path: filepath.ToSlash(rel),
			Size: info.Size(),
			Mode: info.Mode(),
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			entry.Link = target
			entry.Size = int64(len(target))
			hasher := newFileHasher()
			hasher.Write([]byte(target))
			hasher.Sum(entry.Hash[:0])
		} else if info.Mode().IsRegular() {
			hash, err := hashFile(path)
			if err != nil {
				return err
			}
			entry.Hash = hash
		} else {
			return fmt.Errorf("artifact %s: unsupported file type %v", rel, info.Mode().Type())
		}
		manifest.Entries = append(manifest.Entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(manifest.Entries, func(i, j int) bool {
		return manifest.Entries[i].Path < manifest.Entries[j].Path
	})
	return manifest, nil
}

func newFileHasher() *blake3.Hasher {
	hasher, err := blake3.NewKeyed(fileDomainKey[:])
	if err != nil {
		// The key is a compile-time constant of the right length.
		panic(err)
	}
	return hasher
}

func hashFile(path string) (Hash, error) {
	var hash Hash
	file, err := os.Open(path)
	if err != nil {
		return hash, err
	}
	defer file.Close()
	hasher := newFileHasher()
	if _, err := io.Copy(hasher, file); err != nil {
		return hash, err
	}
	hasher.Sum(hash[:0])
	return hash, nil
}

// Diff is the structural difference between two manifests, from the
// receiver's point of view: Added paths exist only in the other
// manifest, Removed only in the receiver, Modified in both but with
// differing content, size, mode, or link target.
type Diff struct {
	Added    []string
	Removed  []string
	Modified []string
}

// Empty reports whether the manifests were identical.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

// String renders a short human-readable report, one path per line.
func (d Diff) String() string {
	var b strings.Builder
	for _, path := range d.Removed {
		fmt.Fprintf(&b, "only in first build:  %s\n", path)
	}
	for _, path := range d.Added {
		fmt.Fprintf(&b, "only in second build: %s\n", path)
	}
	for _, path := range d.Modified {
		fmt.Fprintf(&b, "differs:              %s\n", path)
	}
	return b.String()
}

// Diff compares the receiver against other.
func (m *Manifest) Diff(other *Manifest) Diff {
	var diff Diff
	mine := make(map[string]Entry, len(m.Entries))
	for _, entry := range m.Entries {
		mine[entry.Path] = entry
	}
	theirs := make(map[string]Entry, len(other.Entries))
	for _, entry := range other.Entries {
		theirs[entry.Path] = entry
	}

	for _, entry := range m.Entries {
		otherEntry, ok := theirs[entry.Path]
		switch {
		case !ok:
			diff.Removed = append(diff.Removed, entry.Path)
		case entry.Hash != otherEntry.Hash ||
			entry.Size != otherEntry.Size ||
			entry.Mode != otherEntry.Mode ||
			entry.Link != otherEntry.Link:
			diff.Modified = append(diff.Modified, entry.Path)
		}
	}
	for _, entry := range other.Entries {
		if _, ok := mine[entry.Path]; !ok {
			diff.Added = append(diff.Added, entry.Path)
		}
	}
	return diff
}

// Equal reports whether both manifests fingerprint identical trees.
func (m *Manifest) Equal(other *Manifest) bool {
	return m.Diff(other).Empty()
}

// WriteSums writes the manifest in the sha256sum-style two-column
// format: hex digest, two spaces, path.
func (m *Manifest) WriteSums(w io.Writer) error {
	for _, entry := range m.Entries {
		if _, err := fmt.Fprintf(w, "%s  %s\n", entry.Hash, entry.Path); err != nil {
			return err
		}
	}
	return nil
}
