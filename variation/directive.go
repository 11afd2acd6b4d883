// Copyright 2026 The Reprocheck Authors
// SPDX-License-Identifier: Apache-2.0

package variation

import "strings"

// Op is one directive operation from the spec language.
type Op int

const (
	// OpEnable turns a variation on ("+name" or bare "name").
	OpEnable Op = iota

	// OpDisable turns a variation off ("-name").
	OpDisable

	// OpReset turns a variation on and restores its parameters to
	// registry defaults ("@name"), undoing prior accumulation.
	OpReset

	// OpSet replaces a parameter value ("name.p=v").
	OpSet

	// OpAdd appends elements to a set parameter ("name.p+=v").
	OpAdd

	// OpRemove removes elements from a set parameter ("name.p-=v").
	OpRemove

	// OpIncrement adds one to an integer parameter ("name.p++").
	OpIncrement

	// OpDecrement subtracts one from an integer parameter
	// ("name.p--").
	OpDecrement
)

// Directive is one parsed unit of the spec language. Directives are
// pure data; ordering within and across lists is significant.
type Directive struct {
	Op        Op
	Variation string
	Param     string
	Value     string

	// Token is the original source text, kept for error messages.
	Token string
}

// AllAlias expands to every registered variation when used with the
// +, -, and @ operators.
const AllAlias = "all"

func isSeparator(r rune) bool {
	return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// Parse splits directive text into an ordered directive list. Tokens
// are separated by whitespace or commas. Parse checks syntax only;
// variation and parameter names are validated against the registry
// during resolution, where the fold order is known.
func Parse(text string) ([]Directive, error) {
	var directives []Directive
	for _, token := range strings.FieldsFunc(text, isSeparator) {
		directive, err := parseToken(token)
		if err != nil {
			return nil, err
		}
		directives = append(directives, directive)
	}
	return directives, nil
}

func parseToken(token string) (Directive, error) {
	switch token[0] {
	case '+', '-', '@':
		name := token[1:]
		if name == "" || strings.ContainsAny(name, ".=") {
			return Directive{}, configErrorf(token, "malformed variation directive")
		}
		op := map[byte]Op{'+': OpEnable, '-': OpDisable, '@': OpReset}[token[0]]
		return Directive{Op: op, Variation: name, Token: token}, nil
	}

	dot := strings.IndexByte(token, '.')
	if dot < 0 {
		if strings.ContainsAny(token, "=+") {
			return Directive{}, configErrorf(token, "malformed variation directive")
		}
		return Directive{Op: OpEnable, Variation: token, Token: token}, nil
	}

	name, rest := token[:dot], token[dot+1:]
	if name == "" || rest == "" {
		return Directive{}, configErrorf(token, "malformed parameter directive")
	}

	switch {
	case strings.HasSuffix(rest, "++"), strings.HasSuffix(rest, "--"):
		param := rest[:len(rest)-2]
		if param == "" || strings.ContainsAny(param, "=+-") {
			return Directive{}, configErrorf(token, "malformed parameter directive")
		}
		op := OpIncrement
		if strings.HasSuffix(rest, "--") {
			op = OpDecrement
		}
		return Directive{Op: op, Variation: name, Param: param, Token: token}, nil
	}

	for _, form := range []struct {
		sep string
		op  Op
	}{
		{"+=", OpAdd},
		{"-=", OpRemove},
		{"=", OpSet},
	} {
		if idx := strings.Index(rest, form.sep); idx >= 0 {
			param := rest[:idx]
			value := rest[idx+len(form.sep):]
			if param == "" {
				return Directive{}, configErrorf(token, "missing parameter name")
			}
			return Directive{Op: form.op, Variation: name, Param: param, Value: value, Token: token}, nil
		}
	}

	return Directive{}, configErrorf(token, "parameter directive needs an operator (=, +=, -=, ++, --)")
}
