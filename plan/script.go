// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

package plan

import (
	"fmt"
	"strings"

	"github.com/reprotools/reprocheck/variation"
)

// WrappedBuild renders the build command nested inside the plan's
// wrapper chain, quoted for POSIX sh. The innermost layer cds into the
// build tree via BuildPathEnv and unsets the variable so the build
// never observes it.
func (p *Plan) WrappedBuild(buildCommand string) string {
	inner := fmt.Sprintf(`cd "$%s"; unset %s; %s`, BuildPathEnv, BuildPathEnv, buildCommand)
	var argv []string
	for _, wrapper := range p.Wrappers {
		argv = append(argv, wrapper...)
	}
	argv = append(argv, "sh", "-ec", inner)
	return renderCommand(variation.Exec(argv...))
}

// Script renders the whole plan as one POSIX shell script: setup
// commands and the wrapped build run in a subshell joined by && so any
// setup failure aborts the build, and cleanup commands run afterwards
// on both paths. Cleanup commands are each allowed to fail; on the
// success path a cleanup failure fails the script, on the failure path
// the build's exit code wins.
func (p *Plan) Script(buildCommand string) string {
	steps := make([]string, 0, len(p.Setup)+1)
	for _, cmd := range p.Setup {
		steps = append(steps, renderCommand(cmd))
	}
	steps = append(steps, p.WrappedBuild(buildCommand))
	body := "( " + strings.Join(steps, " &&\n  ") + " )"

	if len(p.Cleanup) == 0 {
		return body
	}

	var cleanup strings.Builder
	cleanup.WriteString("( __c=0; ")
	for _, cmd := range p.Cleanup {
		cleanup.WriteString(renderCommand(cmd))
		cleanup.WriteString(" || __c=$?; ")
	}
	cleanup.WriteString("exit $__c )")

	return fmt.Sprintf(`if %s; then
  %s
else
  __x=$?
  if %s; then
    exit $__x
  else
    echo "cleanup failed with exit code $?" >&2
    exit $__x
  fi
fi`, body, cleanup.String(), cleanup.String())
}

// Argv returns the command the backend should execute: sh running the
// rendered script.
func (p *Plan) Argv(buildCommand string) []string {
	return []string{"sh", "-ec", p.Script(buildCommand)}
}

func renderCommand(cmd variation.Command) string {
	if cmd.Raw != "" {
		return cmd.Raw
	}
	words := make([]string, len(cmd.Argv))
	for i, word := range cmd.Argv {
		words[i] = shQuote(word)
	}
	return strings.Join(words, " ")
}

// shQuote single-quotes text for POSIX sh unless it consists solely of
// characters that need no quoting.
func shQuote(text string) string {
	if text == "" {
		return "''"
	}
	if isShellSafe(text) {
		return text
	}
	return "'" + strings.ReplaceAll(text, "'", `'\''`) + "'"
}

func isShellSafe(text string) bool {
	for _, r := range text {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("@%+=:,./-_", r):
		default:
			return false
		}
	}
	return true
}
