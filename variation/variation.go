// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

package variation

import (
	"fmt"
	"math/rand"
	"os/exec"
	"strings"
	"time"
)

// ParamKind declares the type of a variation parameter.
type ParamKind int

const (
	// KindString is a scalar string parameter.
	KindString ParamKind = iota

	// KindStringSet is an ordered set of strings. Elements are
	// separated by ";" in directive text. The += and -= operators
	// apply only to this kind.
	KindStringSet

	// KindInt is an integer parameter. The ++ and -- operators
	// apply only to this kind.
	KindInt
)

// Value holds one parameter value. The field matching Kind is the
// meaningful one.
type Value struct {
	Kind ParamKind
	Str  string
	Set  []string
	Int  int
}

// StringValue returns a scalar string Value.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// SetValue returns an ordered-set Value.
func SetValue(elements ...string) Value {
	return Value{Kind: KindStringSet, Set: elements}
}

// IntValue returns an integer Value.
func IntValue(n int) Value { return Value{Kind: KindInt, Int: n} }

// Clone returns a deep copy of the value.
func (v Value) Clone() Value {
	if v.Kind == KindStringSet && v.Set != nil {
		set := make([]string, len(v.Set))
		copy(set, v.Set)
		v.Set = set
	}
	return v
}

// Equal reports whether two values are identical in kind and content.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.Str == other.Str
	case KindInt:
		return v.Int == other.Int
	case KindStringSet:
		if len(v.Set) != len(other.Set) {
			return false
		}
		for i := range v.Set {
			if v.Set[i] != other.Set[i] {
				return false
			}
		}
		return true
	}
	return false
}

// String renders the value in directive syntax. Set elements are
// joined with ";".
func (v Value) String() string {
	switch v.Kind {
	case KindStringSet:
		return strings.Join(v.Set, ";")
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	default:
		return v.Str
	}
}

// Params maps parameter name to current value for one variation.
type Params map[string]Value

// Clone returns a deep copy of the parameter map.
func (p Params) Clone() Params {
	clone := make(Params, len(p))
	for name, value := range p {
		clone[name] = value.Clone()
	}
	return clone
}

// ParamSpec declares one parameter of a variation.
type ParamSpec struct {
	Name    string
	Default Value
}

// Context carries the shared planning inputs for one build role. The
// plan builder threads it through every variation in registry order;
// Tree is updated when a fragment relocates the build tree.
type Context struct {
	// Role is the build index. Role 0 is the control build.
	Role int

	// RoleCount is the total number of builds in this invocation.
	RoleCount int

	// Tree is the path of the build tree inside the backend's
	// filesystem view.
	Tree string

	// ScratchDir is the backend scratch root. Auxiliary paths
	// (moved trees, mount points) are created under it.
	ScratchDir string

	// ConstDir is an invocation-constant directory path: the same
	// string for every role, even though each role runs in its own
	// session with its own scratch. Baseline fragments that must be
	// identical across roles (the pinned build path) relocate into it;
	// anything created under it must be removed or handed back to the
	// scratch by the fragment's cleanup.
	ConstDir string

	// ArtifactPattern is the glob the orchestrator will collect.
	ArtifactPattern string

	// Backend is the selected backend name. Informational only:
	// plan functions must not branch on backend identity.
	Backend string

	// Executable is the path to the reprocheck binary, used by
	// variations that shell out to its helper subcommands. Empty
	// when unknown.
	Executable string

	// NumCPUs is the host CPU count visible to the backend.
	NumCPUs int

	// Now is the wall-clock time at planning, injected so that
	// time-dependent choices are deterministic in tests.
	Now time.Time

	// Rand is the deterministic choice source for this role.
	Rand *rand.Rand

	// LookPath resolves an external tool name to a path. Defaults
	// to exec.LookPath; tests substitute their own.
	LookPath func(name string) (string, error)
}

// ToolPath resolves a tool via the context's LookPath.
func (c *Context) ToolPath(name string) (string, error) {
	if c.LookPath != nil {
		return c.LookPath(name)
	}
	return exec.LookPath(name)
}

// MissingTools returns the subset of tools that cannot be resolved.
func (c *Context) MissingTools(tools []string) []string {
	var missing []string
	for _, tool := range tools {
		if _, err := c.ToolPath(tool); err != nil {
			missing = append(missing, tool)
		}
	}
	return missing
}

// PlanFunc produces a variation's plan fragment. vary is false for the
// baseline choice (control build, or a disabled variation applied
// identically to all roles) and true for the perturbed choice.
type PlanFunc func(params Params, vary bool, ctx *Context) (*Fragment, error)

// Variation is one registry entry. Immutable after registration.
type Variation struct {
	// Name is the unique registry key.
	Name string

	// EnabledByDefault controls the registry-default Set.
	EnabledByDefault bool

	// AffectsControl marks variations whose baseline form actively
	// constrains the control build (CPU-count capping) instead of
	// being a neutral pinned value.
	AffectsControl bool

	// Params declares the parameter set and defaults.
	Params []ParamSpec

	// Tools lists external programs the perturbed form needs. When
	// any is missing the variation is skipped with a warning rather
	// than failing the run.
	Tools []string

	// Plan yields the fragment for one role.
	Plan PlanFunc
}

func (v *Variation) defaultParams() Params {
	params := make(Params, len(v.Params))
	for _, spec := range v.Params {
		params[spec.Name] = spec.Default.Clone()
	}
	return params
}

func (v *Variation) paramSpec(name string) (ParamSpec, bool) {
	for _, spec := range v.Params {
		if spec.Name == name {
			return spec, true
		}
	}
	return ParamSpec{}, false
}

// Registry is the catalog of available variations. The registration
// order is significant: it is both the fold order for plan fragments
// and the wrapper nesting order (earlier registrations wrap outside
// later ones).
type Registry struct {
	order  []string
	byName map[string]*Variation
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Variation)}
}

// Register adds a variation. Duplicate names are a programming error.
func (r *Registry) Register(v *Variation) {
	if _, exists := r.byName[v.Name]; exists {
		panic("variation: duplicate registration of " + v.Name)
	}
	r.order = append(r.order, v.Name)
	r.byName[v.Name] = v
}

// Names returns all variation names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Lookup returns the variation registered under name.
func (r *Registry) Lookup(name string) (*Variation, bool) {
	v, ok := r.byName[name]
	return v, ok
}

// ConfigError reports an invalid variation spec, unknown name, bad
// operator usage, or a conflict between plan fragments. It is always
// fatal and is reported before any backend starts.
type ConfigError struct {
	// Token is the offending directive token, when one exists.
	Token string

	// Msg describes the problem.
	Msg string
}

func (e *ConfigError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("%s: %q", e.Msg, e.Token)
	}
	return e.Msg
}

func configErrorf(token, format string, args ...any) *ConfigError {
	return &ConfigError{Token: token, Msg: fmt.Sprintf(format, args...)}
}
