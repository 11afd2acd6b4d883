// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// CopyTree recursively copies the directory src to dst, preserving
// file modes, modification times, and symlinks. dst must not exist.
// Shared by backends whose staging is a host-side copy.
func CopyTree(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("copy tree %s: not a directory", src)
	}
	return filepath.WalkDir(src, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		info, err := entry.Info()
		if err != nil {
			return err
		}
		switch {
		case entry.IsDir():
			if err := os.MkdirAll(target, info.Mode().Perm()); err != nil {
				return err
			}
		case info.Mode()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case info.Mode().IsRegular():
			if err := copyFile(path, target, info.Mode().Perm()); err != nil {
				return err
			}
		default:
			// Sockets, devices and the like do not belong in a
			// source tree; skip rather than fail.
			return nil
		}
		return os.Chtimes(target, info.ModTime(), info.ModTime())
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// CollectArtifacts copies every file under root whose path relative to
// root matches pattern into dest, preserving the relative layout. It
// returns the sorted relative paths. Zero matches is an error: the
// build claimed success but produced nothing matching the artifact
// pattern.
func CollectArtifacts(root, pattern, dest string) ([]string, error) {
	var matches []string
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		ok, err := filepath.Match(pattern, rel)
		if err != nil {
			return fmt.Errorf("artifact pattern %q: %w", pattern, err)
		}
		if !ok {
			// Also accept a match on the basename so "*.deb" finds
			// artifacts in subdirectories.
			if ok, _ = filepath.Match(pattern, entry.Name()); !ok {
				return nil
			}
		}
		matches = append(matches, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, &StagingError{Msg: fmt.Sprintf("no artifacts matching %q under %s", pattern, root)}
	}
	sort.Strings(matches)

	for _, rel := range matches {
		target := filepath.Join(dest, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, err
		}
		info, err := os.Lstat(filepath.Join(root, rel))
		if err != nil {
			return nil, err
		}
		if err := copyFile(filepath.Join(root, rel), target, info.Mode().Perm()); err != nil {
			return nil, err
		}
		if err := os.Chtimes(target, info.ModTime(), info.ModTime()); err != nil {
			return nil, err
		}
	}
	return matches, nil
}
