// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

package check

import (
	"context"

	"github.com/reprotools/reprocheck/bisect"
	"github.com/reprotools/reprocheck/variation"
)

// envPerturbSuffix is appended to a swept variable's value in the
// experiment build. Appending rather than replacing keeps variables
// like PATH functional while still differing between roles.
const envPerturbSuffix = "-i-capture-the-environment"

// EnvProber adapts a check configuration to an environment-variable
// sweep: each probe reruns the verification with every named variable
// perturbed in the experiment role and all variations disabled, so a
// mismatch is attributable to the swept variables alone.
func EnvProber(options Options) bisect.Prober {
	return bisect.ProberFunc(func(ctx context.Context, subset []string) (bool, error) {
		probeOptions := options
		probeOptions.Set = options.Set.WithOnly(nil)
		probeOptions.StoreDir = ""
		probeOptions.ExtraBuilds = 0
		probeOptions.ExtraEnv = make(map[string]variation.EnvMutation, len(subset))
		for _, name := range subset {
			probeOptions.ExtraEnv[name] = variation.EnvMutation{
				Value:  envPerturbSuffix,
				Append: true,
			}
		}

		result, err := Run(ctx, probeOptions)
		if err != nil {
			return false, err
		}
		return result.Reproducible, nil
	})
}
