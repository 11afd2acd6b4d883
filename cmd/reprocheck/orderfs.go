// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/reprotools/reprocheck/orderfs"
	"github.com/reprotools/reprocheck/variation"
)

// orderfsCmd mounts the directory-order-shuffling filesystem. It is
// invoked by the fileordering variation's setup commands, not usually
// by hand.
func orderfsCmd(args []string, logger *slog.Logger) error {
	flags := pflag.NewFlagSet("orderfs", pflag.ContinueOnError)
	seed := flags.Int64("seed", 0, "seed for the per-directory shuffle")
	if err := flags.Parse(args); err != nil {
		return &variation.ConfigError{Msg: err.Error()}
	}
	positionals := flags.Args()
	if len(positionals) != 2 {
		return &variation.ConfigError{Msg: "orderfs needs exactly two arguments: <source> <mountpoint>"}
	}

	return orderfs.Run(orderfs.Options{
		Source:     positionals[0],
		Mountpoint: positionals[1],
		Seed:       *seed,
		Logger:     logger,
	})
}
