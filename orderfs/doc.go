// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

// Package orderfs implements a FUSE loopback filesystem that serves an
// underlying directory unchanged except for directory-listing order,
// which is shuffled deterministically from a seed. It is the built-in
// substitute for disorderfs in the fileordering variation: builds that
// depend on readdir order produce different artifacts under a
// different seed.
//
// The mount is driven through the hidden "reprocheck orderfs"
// subcommand, which daemonizes so the plan's setup phase can treat it
// like any other mount command: the foreground process exits once the
// filesystem is serving.
package orderfs
