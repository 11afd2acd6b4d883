// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

package variation

import (
	"strconv"
	"strings"
)

// Setting is the resolved state of one variation: whether it varies
// between control and experiment builds, and its parameter values.
type Setting struct {
	Enabled bool
	Params  Params
}

// Set is a resolved variation set: an ordered mapping from variation
// name to Setting. A Set is immutable once resolution finishes and may
// be read concurrently by any number of plan-building calls.
type Set struct {
	order    []string
	settings map[string]*Setting
}

// Defaults returns the registry-default Set: every variation present,
// enabled per EnabledByDefault, parameters at their declared defaults.
func (r *Registry) Defaults() *Set {
	set := &Set{
		order:    r.Names(),
		settings: make(map[string]*Setting, len(r.order)),
	}
	for _, name := range r.order {
		v := r.byName[name]
		set.settings[name] = &Setting{
			Enabled: v.EnabledByDefault,
			Params:  v.defaultParams(),
		}
	}
	return set
}

// Clone returns a deep copy.
func (s *Set) Clone() *Set {
	clone := &Set{
		order:    append([]string(nil), s.order...),
		settings: make(map[string]*Setting, len(s.settings)),
	}
	for name, setting := range s.settings {
		clone.settings[name] = &Setting{
			Enabled: setting.Enabled,
			Params:  setting.Params.Clone(),
		}
	}
	return clone
}

// Names returns all variation names in registry order.
func (s *Set) Names() []string {
	return append([]string(nil), s.order...)
}

// Enabled returns the names of enabled variations in registry order.
func (s *Set) Enabled() []string {
	var enabled []string
	for _, name := range s.order {
		if s.settings[name].Enabled {
			enabled = append(enabled, name)
		}
	}
	return enabled
}

// Setting returns the resolved state for name.
func (s *Set) Setting(name string) (Setting, bool) {
	setting, ok := s.settings[name]
	if !ok {
		return Setting{}, false
	}
	return Setting{Enabled: setting.Enabled, Params: setting.Params.Clone()}, true
}

// IsEnabled reports whether name is present and enabled.
func (s *Set) IsEnabled(name string) bool {
	setting, ok := s.settings[name]
	return ok && setting.Enabled
}

// WithOnly returns a copy in which exactly the named variations are
// enabled and every other variation is disabled. Parameters are
// preserved. Used by the bisection search to probe subsets.
func (s *Set) WithOnly(names []string) *Set {
	keep := make(map[string]bool, len(names))
	for _, name := range names {
		keep[name] = true
	}
	clone := s.Clone()
	for name, setting := range clone.settings {
		setting.Enabled = keep[name]
	}
	return clone
}

// SetParam replaces one parameter value. The variation and parameter
// must exist. Used by CLI glue (e.g. --min-cpus) after resolution.
func (s *Set) SetParam(registry *Registry, variation, param string, value Value) error {
	setting, ok := s.settings[variation]
	if !ok {
		return configErrorf(variation, "unknown variation")
	}
	v := registry.byName[variation]
	if _, ok := v.paramSpec(param); !ok {
		return configErrorf(variation+"."+param, "unknown parameter")
	}
	setting.Params[param] = value.Clone()
	return nil
}

// Equal reports whether two sets resolve identically.
func (s *Set) Equal(other *Set) bool {
	if len(s.order) != len(other.order) {
		return false
	}
	for i := range s.order {
		if s.order[i] != other.order[i] {
			return false
		}
	}
	for name, setting := range s.settings {
		otherSetting, ok := other.settings[name]
		if !ok || setting.Enabled != otherSetting.Enabled {
			return false
		}
		if len(setting.Params) != len(otherSetting.Params) {
			return false
		}
		for param, value := range setting.Params {
			if !value.Equal(otherSetting.Params[param]) {
				return false
			}
		}
	}
	return true
}

// Apply folds one directive list into the set. Within a list, later
// directives for the same variation and parameter override or
// accumulate over earlier ones: enable/disable/reset and = are
// idempotent, += / -= / ++ / -- are cumulative.
func (s *Set) Apply(registry *Registry, directives []Directive) error {
	for _, directive := range directives {
		if err := s.applyOne(registry, directive); err != nil {
			return err
		}
	}
	return nil
}

func (s *Set) applyOne(registry *Registry, directive Directive) error {
	names := []string{directive.Variation}
	if directive.Variation == AllAlias && directive.Param == "" {
		names = s.order
	}

	for _, name := range names {
		v, ok := registry.Lookup(name)
		if !ok {
			return configErrorf(directive.Token, "unknown variation")
		}
		setting := s.settings[name]

		switch directive.Op {
		case OpEnable:
			setting.Enabled = true
			continue
		case OpDisable:
			setting.Enabled = false
			continue
		case OpReset:
			setting.Enabled = true
			setting.Params = v.defaultParams()
			continue
		}

		spec, ok := v.paramSpec(directive.Param)
		if !ok {
			return configErrorf(directive.Token, "unknown parameter of variation %q", name)
		}
		value := setting.Params[directive.Param]

		switch directive.Op {
		case OpSet:
			parsed, err := parseValue(spec.Default.Kind, directive.Value, directive.Token)
			if err != nil {
				return err
			}
			setting.Params[directive.Param] = parsed

		case OpAdd, OpRemove:
			if spec.Default.Kind != KindStringSet {
				return configErrorf(directive.Token, "+= and -= require a set-valued parameter")
			}
			elements := splitSet(directive.Value)
			if directive.Op == OpAdd {
				value.Set = addElements(value.Set, elements)
			} else {
				value.Set = removeElements(value.Set, elements)
			}
			setting.Params[directive.Param] = value

		case OpIncrement, OpDecrement:
			if spec.Default.Kind != KindInt {
				return configErrorf(directive.Token, "++ and -- require an integer parameter")
			}
			if directive.Op == OpIncrement {
				value.Int++
			} else {
				value.Int--
			}
			setting.Params[directive.Param] = value
		}
	}
	return nil
}

func parseValue(kind ParamKind, text, token string) (Value, error) {
	switch kind {
	case KindInt:
		n, err := strconv.Atoi(text)
		if err != nil {
			return Value{}, configErrorf(token, "parameter requires an integer value")
		}
		return IntValue(n), nil
	case KindStringSet:
		return SetValue(splitSet(text)...), nil
	default:
		return StringValue(text), nil
	}
}

func splitSet(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(text, ";")
}

func addElements(set, elements []string) []string {
	for _, element := range elements {
		found := false
		for _, existing := range set {
			if existing == element {
				found = true
				break
			}
		}
		if !found {
			set = append(set, element)
		}
	}
	return set
}

func removeElements(set, elements []string) []string {
	result := set[:0]
	for _, existing := range set {
		remove := false
		for _, element := range elements {
			if existing == element {
				remove = true
				break
			}
		}
		if !remove {
			result = append(result, existing)
		}
	}
	return result
}

// Resolve folds directive lists in precedence order into a final Set:
// registry defaults, then config-file directives, then each
// --variations list (each occurrence resets to registry defaults first,
// so the last occurrence is the base), then --vary lists, which append
// without resetting.
func Resolve(registry *Registry, config []Directive, variations [][]Directive, vary [][]Directive) (*Set, error) {
	set := registry.Defaults()
	if err := set.Apply(registry, config); err != nil {
		return nil, err
	}
	for _, list := range variations {
		set = registry.Defaults()
		if err := set.Apply(registry, list); err != nil {
			return nil, err
		}
	}
	for _, list := range vary {
		if err := set.Apply(registry, list); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// Directives serializes the set to directive text that resolves back to
// an equal Set: an explicit +/- token per variation, followed by =
// tokens for every parameter that differs from its registry default.
func (s *Set) Directives(registry *Registry) string {
	var tokens []string
	for _, name := range s.order {
		setting := s.settings[name]
		if setting.Enabled {
			tokens = append(tokens, "+"+name)
		} else {
			tokens = append(tokens, "-"+name)
		}
		v := registry.byName[name]
		for _, spec := range v.Params {
			value := setting.Params[spec.Name]
			if !value.Equal(spec.Default) {
				tokens = append(tokens, name+"."+spec.Name+"="+value.String())
			}
		}
	}
	return strings.Join(tokens, ", ")
}
