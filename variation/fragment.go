// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

package variation

// EnvMutation is one environment-variable change. Exactly one of the
// three interpretations applies: set Value, append Value to the
// existing value with ":", or unset the variable.
type EnvMutation struct {
	Value  string
	Append bool
	Unset  bool
}

// Command is one shell step in a plan's setup or cleanup phase. Argv
// commands are quoted word by word when rendered; Raw commands are
// emitted verbatim (for shell builtins like umask and export).
type Command struct {
	Argv []string
	Raw  string
}

// Exec returns an argv Command.
func Exec(args ...string) Command { return Command{Argv: args} }

// Raw returns a verbatim shell Command.
func Raw(text string) Command { return Command{Raw: text} }

// Fragment is the execution-plan contribution of one variation for one
// build role. Its four parts are independent: environment mutations, a
// wrapper-command entry, filesystem setup/cleanup steps, and an init
// hook run inside the backend before the build. Fragments from all
// variations for one role are merged by the plan builder.
type Fragment struct {
	// Variation is the contributing variation's name, used in
	// conflict diagnostics.
	Variation string

	// Env maps variable name to mutation. Two fragments mutating
	// the same variable within one role is a fatal configuration
	// error; the same variable differing between roles is the
	// point.
	Env map[string]EnvMutation

	// Wrapper is an argv prefix composed around the build command.
	// Registry order determines nesting: earlier variations wrap
	// outside later ones, so a privilege-dropping wrapper
	// registered first runs outermost.
	Wrapper []string

	// Setup runs before the build, in registry order, connected
	// with && so any failure aborts the build.
	Setup []Command

	// Cleanup runs after the build (success or failure). The plan
	// builder prepends each variation's cleanup, so cleanup runs in
	// reverse registry order (unmount before removing the
	// mountpoint's parent, for example).
	Cleanup []Command

	// Tree, when non-empty, relocates the build tree: subsequent
	// variations and the build itself use this path.
	Tree string

	// Init is a shell snippet executed inside the backend before
	// any setup, as a separate command (hook material such as
	// device-node creation).
	Init string

	// SkipReason, when non-empty, marks the variation as not
	// exercised for this role (missing tool, unusable parameters).
	// The orchestrator warns rather than fails.
	SkipReason string
}

func newFragment(name string) *Fragment {
	return &Fragment{Variation: name, Env: make(map[string]EnvMutation)}
}

func (f *Fragment) setEnv(name, value string) *Fragment {
	f.Env[name] = EnvMutation{Value: value}
	return f
}

func (f *Fragment) appendEnv(name, value string) *Fragment {
	f.Env[name] = EnvMutation{Value: value, Append: true}
	return f
}

func (f *Fragment) skip(reason string) *Fragment {
	f.SkipReason = reason
	return f
}
