// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

package variation

import (
	"errors"
	"testing"
)

func TestParseForms(t *testing.T) {
	cases := []struct {
		text string
		want Directive
	}{
		{"+fileordering", Directive{Op: OpEnable, Variation: "fileordering"}},
		{"fileordering", Directive{Op: OpEnable, Variation: "fileordering"}},
		{"-time", Directive{Op: OpDisable, Variation: "time"}},
		{"@locales", Directive{Op: OpReset, Variation: "locales"}},
		{"time.faketimes=@123;@456", Directive{Op: OpSet, Variation: "time", Param: "faketimes", Value: "@123;@456"}},
		{"time.faketimes+=@789", Directive{Op: OpAdd, Variation: "time", Param: "faketimes", Value: "@789"}},
		{"locales.available-=zh_CN", Directive{Op: OpRemove, Variation: "locales", Param: "available", Value: "zh_CN"}},
		{"num_cpus.min++", Directive{Op: OpIncrement, Variation: "num_cpus", Param: "min"}},
		{"num_cpus.min--", Directive{Op: OpDecrement, Variation: "num_cpus", Param: "min"}},
	}

	for _, tc := range cases {
		directives, err := Parse(tc.text)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tc.text, err)
		}
		if len(directives) != 1 {
			t.Fatalf("Parse(%q) returned %d directives", tc.text, len(directives))
		}
		got := directives[0]
		got.Token = ""
		if got != tc.want {
			t.Errorf("Parse(%q) = %+v, want %+v", tc.text, got, tc.want)
		}
	}
}

func TestParseSeparators(t *testing.T) {
	directives, err := Parse("+environment, -time\n@locales  umask")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(directives) != 4 {
		t.Fatalf("got %d directives, want 4", len(directives))
	}
	wantOps := []Op{OpEnable, OpDisable, OpReset, OpEnable}
	for i, directive := range directives {
		if directive.Op != wantOps[i] {
			t.Errorf("directive %d op = %v, want %v", i, directive.Op, wantOps[i])
		}
	}
}

func TestParseSyntaxErrors(t *testing.T) {
	for _, text := range []string{
		"+",
		"+name.param=1",
		"name.",
		".param=1",
		"name.param",
		"name.++",
		"name.=value",
	} {
		_, err := Parse(text)
		if err == nil {
			t.Errorf("Parse(%q) succeeded, want error", text)
			continue
		}
		var configErr *ConfigError
		if !errors.As(err, &configErr) {
			t.Errorf("Parse(%q) error type %T, want *ConfigError", text, err)
		}
	}
}

func TestParseErrorNamesToken(t *testing.T) {
	_, err := Parse("+umask bogus.=1")
	var configErr *ConfigError
	if !errors.As(err, &configErr) {
		t.Fatalf("error type %T, want *ConfigError", err)
	}
	if configErr.Token != "bogus.=1" {
		t.Errorf("error token %q, want the offending token", configErr.Token)
	}
}
