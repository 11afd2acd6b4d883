// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

package variation

import (
	"errors"
	"testing"
)

func mustParse(t *testing.T, text string) []Directive {
	t.Helper()
	directives, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse(%q): %v", text, err)
	}
	return directives
}

func TestResolveDefaults(t *testing.T) {
	registry := Builtin()
	set, err := Resolve(registry, nil, nil, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !set.IsEnabled("umask") {
		t.Error("umask should be enabled by default")
	}
	if set.IsEnabled("domain_host") {
		t.Error("domain_host should be disabled by default")
	}
}

func TestResolveUnknownVariation(t *testing.T) {
	registry := Builtin()
	_, err := Resolve(registry, mustParse(t, "+frobnicate"), nil, nil)
	var configErr *ConfigError
	if !errors.As(err, &configErr) {
		t.Fatalf("error type %T, want *ConfigError", err)
	}
	if configErr.Token != "+frobnicate" {
		t.Errorf("error token %q, want +frobnicate", configErr.Token)
	}
}

func TestResolveUnknownParameter(t *testing.T) {
	registry := Builtin()
	_, err := Resolve(registry, mustParse(t, "umask.strength=9"), nil, nil)
	var configErr *ConfigError
	if !errors.As(err, &configErr) {
		t.Fatalf("error type %T, want *ConfigError", err)
	}
}

func TestResolveSetOperatorsOnWrongKind(t *testing.T) {
	registry := Builtin()
	if _, err := Resolve(registry, mustParse(t, "num_cpus.min+=2"), nil, nil); err == nil {
		t.Error("+= on an integer parameter should fail")
	}
	if _, err := Resolve(registry, mustParse(t, "time.faketimes++"), nil, nil); err == nil {
		t.Error("++ on a set parameter should fail")
	}
}

// Sequential application must equal folding list by list (§ testable
// properties: associativity of sequential application).
func TestApplySequentialEqualsFold(t *testing.T) {
	registry := Builtin()
	list1 := mustParse(t, "-time, locales.available+=de_DE")
	list2 := mustParse(t, "+time, locales.available-=zh_CN, num_cpus.min++")

	combined := registry.Defaults()
	if err := combined.Apply(registry, append(append([]Directive{}, list1...), list2...)); err != nil {
		t.Fatalf("Apply combined: %v", err)
	}

	stepwise := registry.Defaults()
	if err := stepwise.Apply(registry, list1); err != nil {
		t.Fatalf("Apply list1: %v", err)
	}
	if err := stepwise.Apply(registry, list2); err != nil {
		t.Fatalf("Apply list2: %v", err)
	}

	if !combined.Equal(stepwise) {
		t.Error("sequential application differs from folded application")
	}
}

// @name must restore registry defaults regardless of prior
// accumulation.
func TestResetRestoresDefaults(t *testing.T) {
	registry := Builtin()
	set := registry.Defaults()
	if err := set.Apply(registry, mustParse(t, "locales.available+=de_DE;pt_BR locales.available-=es_ES")); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := set.Apply(registry, mustParse(t, "@locales")); err != nil {
		t.Fatalf("Apply reset: %v", err)
	}

	setting, _ := set.Setting("locales")
	defaults := registry.Defaults()
	defaultSetting, _ := defaults.Setting("locales")
	if !setting.Params["available"].Equal(defaultSetting.Params["available"]) {
		t.Errorf("after @locales, available = %v, want registry default %v",
			setting.Params["available"].Set, defaultSetting.Params["available"].Set)
	}
	if !set.IsEnabled("locales") {
		t.Error("@locales should enable the variation")
	}
}

func TestApplyIdempotency(t *testing.T) {
	registry := Builtin()

	// set / enable / disable are idempotent.
	once := registry.Defaults()
	if err := once.Apply(registry, mustParse(t, "-time, num_cpus.min=3")); err != nil {
		t.Fatal(err)
	}
	twice := once.Clone()
	if err := twice.Apply(registry, mustParse(t, "-time, num_cpus.min=3")); err != nil {
		t.Fatal(err)
	}
	if !once.Equal(twice) {
		t.Error("set/disable should be idempotent")
	}

	// ++ and += are cumulative.
	if err := twice.Apply(registry, mustParse(t, "num_cpus.min++ locales.available+=xx_XX")); err != nil {
		t.Fatal(err)
	}
	setting, _ := twice.Setting("num_cpus")
	if setting.Params["min"].Int != 4 {
		t.Errorf("min = %d, want 4", setting.Params["min"].Int)
	}
	if err := twice.Apply(registry, mustParse(t, "num_cpus.min++")); err != nil {
		t.Fatal(err)
	}
	setting, _ = twice.Setting("num_cpus")
	if setting.Params["min"].Int != 5 {
		t.Errorf("min after second ++ = %d, want 5", setting.Params["min"].Int)
	}
}

func TestAllAlias(t *testing.T) {
	registry := Builtin()
	set := registry.Defaults()
	if err := set.Apply(registry, mustParse(t, "-all +umask")); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	enabled := set.Enabled()
	if len(enabled) != 1 || enabled[0] != "umask" {
		t.Errorf("enabled = %v, want [umask]", enabled)
	}
}

// Each --variations occurrence resets to registry defaults; the last
// one is the base for --vary appends.
func TestResolvePrecedence(t *testing.T) {
	registry := Builtin()
	config := mustParse(t, "num_cpus.min=7")
	variations := [][]Directive{
		mustParse(t, "-all"),
		mustParse(t, "-all +time"),
	}
	vary := [][]Directive{mustParse(t, "+umask")}

	set, err := Resolve(registry, config, variations, vary)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	enabled := set.Enabled()
	want := map[string]bool{"time": true, "umask": true}
	if len(enabled) != len(want) {
		t.Fatalf("enabled = %v, want time and umask only", enabled)
	}
	for _, name := range enabled {
		if !want[name] {
			t.Errorf("unexpected enabled variation %q", name)
		}
	}

	// The --variations reset must have discarded the config-file
	// parameter override.
	setting, _ := set.Setting("num_cpus")
	if setting.Params["min"].Int != 1 {
		t.Errorf("min = %d, want registry default 1 after --variations reset", setting.Params["min"].Int)
	}
}

// A Set serialized to directive text and re-resolved must be equal
// (round-trip property).
func TestDirectivesRoundTrip(t *testing.T) {
	registry := Builtin()
	original, err := Resolve(registry, nil,
		[][]Directive{mustParse(t, "-all +time +locales locales.available=fr_CH.UTF-8;zh_CN")},
		[][]Directive{mustParse(t, "num_cpus.min=2 time.faketimes+=@1234567")})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	text := original.Directives(registry)
	reparsed, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse(%q): %v", text, err)
	}
	roundTripped, err := Resolve(registry, nil, [][]Directive{reparsed}, nil)
	if err != nil {
		t.Fatalf("Resolve round-trip: %v", err)
	}

	if !original.Equal(roundTripped) {
		t.Errorf("round trip through %q lost information", text)
	}
}

func TestWithOnly(t *testing.T) {
	registry := Builtin()
	set := registry.Defaults()
	subset := set.WithOnly([]string{"time", "umask"})

	enabled := subset.Enabled()
	if len(enabled) != 2 {
		t.Fatalf("enabled = %v, want exactly time and umask", enabled)
	}

	// Parameters survive subsetting.
	setting, _ := subset.Setting("locales")
	if len(setting.Params["available"].Set) == 0 {
		t.Error("WithOnly should preserve parameters of disabled variations")
	}
}
