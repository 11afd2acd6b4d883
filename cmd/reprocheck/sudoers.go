// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os/user"
	"strings"

	"github.com/spf13/pflag"

	"github.com/reprotools/reprocheck/variation"
)

// sudoersCmd prints the sudoers rules the user_group variation needs:
// running the build as an alternate user and handing the staged tree
// back and forth with chown. The output is meant for a file under
// /etc/sudoers.d/.
func sudoersCmd(args []string) error {
	flags := pflag.NewFlagSet("print-sudoers", pflag.ContinueOnError)
	users := flags.StringArray("user", nil, "alternate build user as USER[:GROUP] (repeatable)")
	if err := flags.Parse(args); err != nil {
		return &variation.ConfigError{Msg: err.Error()}
	}
	if len(flags.Args()) > 0 {
		return &variation.ConfigError{Msg: fmt.Sprintf("unexpected arguments: %v", flags.Args())}
	}
	if len(*users) == 0 {
		return &variation.ConfigError{Msg: "print-sudoers needs at least one --user USER[:GROUP]"}
	}

	invoker, err := user.Current()
	if err != nil {
		return fmt.Errorf("determining invoking user: %w", err)
	}

	fmt.Printf("# Rules allowing %s to run reprocheck builds as alternate users.\n", invoker.Username)
	fmt.Println("# Install as /etc/sudoers.d/reprocheck (mode 0440).")
	for _, spec := range *users {
		name, group, hasGroup := strings.Cut(spec, ":")
		if name == "" {
			return &variation.ConfigError{Msg: fmt.Sprintf("invalid user spec %q", spec)}
		}
		runAs := name
		if hasGroup && group != "" {
			runAs = name + ":" + group
		}
		fmt.Println()
		// Matches the sudo -E -u USER [-g GROUP] wrapper around the
		// build command.
		fmt.Printf("%s ALL = (%s) NOPASSWD: SETENV: ALL\n", invoker.Username, runAs)
		// Matches the chown handoff of the staged tree before the
		// build and back before artifact collection.
		fmt.Printf("%s ALL = NOPASSWD: /usr/bin/chown -h -R --from=%s %s /tmp/reprocheck-*\n",
			invoker.Username, invoker.Username, name)
		fmt.Printf("%s ALL = NOPASSWD: /usr/bin/chown -h -R --from=%s %s /tmp/reprocheck-*\n",
			invoker.Username, name, invoker.Username)
	}
	fmt.Println()
	// Matches the domain_host variation's sudo -E unshare --uts wrapper.
	fmt.Printf("%s ALL = NOPASSWD: SETENV: /usr/bin/unshare --uts *\n", invoker.Username)
	return nil
}
