// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

package orderfs

import (
	"context"
	"fmt"
	"hash/fnv"
	"io/fs"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"syscall"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// Options configures the mount.
type Options struct {
	// Source is the directory whose contents are served.
	Source string

	// Mountpoint is where the shuffled view appears. It must exist.
	Mountpoint string

	// Seed determines the listing order. The same seed over the same
	// tree yields the same order on every mount.
	Seed int64

	// Logger receives diagnostics. Nil means errors-only to stderr.
	Logger *slog.Logger
}

// Mount serves Source at Mountpoint with shuffled directory listings.
// The caller owns the returned server: Wait blocks until unmount.
func Mount(options Options) (*fuse.Server, error) {
	if options.Source == "" || options.Mountpoint == "" {
		return nil, fmt.Errorf("orderfs: source and mountpoint are required")
	}
	info, err := os.Stat(options.Source)
	if err != nil {
		return nil, fmt.Errorf("orderfs source: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("orderfs source %s: not a directory", options.Source)
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}

	rootData := &gofuse.LoopbackRoot{Path: options.Source}
	rootData.NewNode = func(root *gofuse.LoopbackRoot, parent *gofuse.Inode, name string, st *syscall.Stat_t) gofuse.InodeEmbedder {
		return &orderNode{
			LoopbackNode: gofuse.LoopbackNode{RootData: root},
			seed:         options.Seed,
			sourceRoot:   options.Source,
		}
	}
	root := rootData.NewNode(rootData, nil, "", nil)

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		MountOptions: fuse.MountOptions{
			FsName: options.Source,
			Name:   "reprocheck-orderfs",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting orderfs at %s: %w", options.Mountpoint, err)
	}
	options.Logger.Info("orderfs mounted",
		"source", options.Source, "mountpoint", options.Mountpoint, "seed", options.Seed)
	return server, nil
}

// orderNode is a loopback node whose Readdir shuffles entries.
type orderNode struct {
	gofuse.LoopbackNode
	seed       int64
	sourceRoot string
}

var _ gofuse.NodeReaddirer = (*orderNode)(nil)

func (n *orderNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	relative := n.Path(n.Root())
	full := filepath.Join(n.sourceRoot, relative)

	listing, err := os.ReadDir(full)
	if err != nil {
		return nil, gofuse.ToErrno(err)
	}
	entries := make([]fuse.DirEntry, len(listing))
	for i, entry := range listing {
		entries[i] = fuse.DirEntry{Name: entry.Name(), Mode: modeBits(entry.Type())}
	}
	shuffleEntries(n.seed, relative, entries)
	return gofuse.NewListDirStream(entries), 0
}

// shuffleEntries permutes entries deterministically: the same seed and
// directory path always produce the same order, while sibling
// directories get independent permutations.
func shuffleEntries(seed int64, dir string, entries []fuse.DirEntry) {
	hash := fnv.New64a()
	hash.Write([]byte(dir))
	rng := rand.New(rand.NewSource(seed ^ int64(hash.Sum64())))
	rng.Shuffle(len(entries), func(i, j int) {
		entries[i], entries[j] = entries[j], entries[i]
	})
}

func modeBits(t fs.FileMode) uint32 {
	switch {
	case t.IsDir():
		return syscall.S_IFDIR
	case t&fs.ModeSymlink != 0:
		return syscall.S_IFLNK
	case t&fs.ModeNamedPipe != 0:
		return syscall.S_IFIFO
	case t&fs.ModeSocket != 0:
		return syscall.S_IFSOCK
	case t&fs.ModeCharDevice != 0:
		return syscall.S_IFCHR
	case t&fs.ModeDevice != 0:
		return syscall.S_IFBLK
	default:
		return syscall.S_IFREG
	}
}
