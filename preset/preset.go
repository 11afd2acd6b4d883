// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

// Package preset infers a build command and artifact pattern from the
// layout of a source tree, so `reprocheck check ./pkg` works without
// spelling out how to build. Detection is ordered: a Debianized tree
// wins over a Go module, which wins over a plain Makefile.
package preset

import (
	"fmt"
	"os"
	"path/filepath"
)

// Preset is one inferred build recipe. ArtifactPattern is relative to
// the build tree; a leading "../" collects from the staging directory
// above it (where dpkg-buildpackage leaves packages).
type Preset struct {
	Name            string
	BuildCommand    string
	ArtifactPattern string

	// TestbedInit runs inside each session before the build. Only set
	// for isolated backends, where the perturbation tools must be
	// installed first.
	TestbedInit string
}

// debianTestbedInit installs the tools the variations shell out to and
// ensures the FUSE device exists, inside backends that start from a
// bare root.
const debianTestbedInit = `apt-get -y --no-install-recommends install faketime locales-all sudo util-linux 2>/dev/null; ` +
	`test -c /dev/fuse || mknod -m 666 /dev/fuse c 10 229`

var presets = []struct {
	name   string
	marker string
	isDir  bool
	preset Preset
}{
	{
		name:   "debian",
		marker: "debian",
		isDir:  true,
		preset: Preset{
			Name:            "debian",
			BuildCommand:    "dpkg-buildpackage -b --no-sign",
			ArtifactPattern: "../*.deb",
		},
	},
	{
		name:   "go",
		marker: "go.mod",
		preset: Preset{
			Name:            "go",
			BuildCommand:    "go build -trimpath -o obj/ ./...",
			ArtifactPattern: "obj/*",
		},
	},
	{
		name:   "make",
		marker: "Makefile",
		preset: Preset{
			Name:         "make",
			BuildCommand: "make",
			// No way to know what make produced; compare the whole
			// tree.
			ArtifactPattern: "*",
		},
	},
}

// Detect inspects sourceDir and returns the first matching preset,
// adjusted for the backend: isolated backends (anything but local) get
// a testbed-init that installs the variation tools, and the debian
// build gains a build-dep step since the backend root starts bare.
func Detect(sourceDir, backendName string) (*Preset, error) {
	for _, candidate := range presets {
		info, err := os.Stat(filepath.Join(sourceDir, candidate.marker))
		if err != nil {
			continue
		}
		if candidate.isDir != info.IsDir() {
			continue
		}
		preset := candidate.preset
		if preset.Name == "debian" && backendName != "local" && backendName != "" {
			preset.BuildCommand = "PATH=/sbin:/usr/sbin:$PATH apt-get -y --no-install-recommends build-dep ./; " +
				preset.BuildCommand
			preset.TestbedInit = debianTestbedInit
		}
		return &preset, nil
	}
	return nil, fmt.Errorf("no build preset matches %s: pass an explicit build command", sourceDir)
}
