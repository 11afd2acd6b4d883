// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

package check

import (
	"context"

	"github.com/reprotools/reprocheck/bisect"
)

// Prober adapts a check configuration to the bisection search: each
// probe reruns the verification with only the given variations
// enabled. Probes never store artifacts and run a single experiment,
// whatever the original invocation asked for.
func Prober(options Options) bisect.Prober {
	return bisect.ProberFunc(func(ctx context.Context, subset []string) (bool, error) {
		probeOptions := options
		probeOptions.Set = options.Set.WithOnly(subset)
		probeOptions.StoreDir = ""
		probeOptions.ExtraBuilds = 0

		result, err := Run(ctx, probeOptions)
		if err != nil {
			return false, err
		}
		return result.Reproducible, nil
	})
}
